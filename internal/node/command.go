package node

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Command runs an external program once per frame. Its argument vector is an
// HCL expression evaluated against the task context, so templates such as
// "${frame}" or "${context.shot}" are resolved per frame.
type Command struct {
	Base
	args hcl.Expression
}

// NewCommand adds a command node to g.
func NewCommand(g *Graph, name string, args hcl.Expression) (*Command, error) {
	base, err := g.newBase(name)
	if err != nil {
		return nil, err
	}
	if args == nil {
		return nil, fmt.Errorf("command %q has no args", name)
	}
	n := &Command{Base: base, args: args}
	g.add(n)
	return n, nil
}

// Args evaluates the argument vector under c.
func (n *Command) Args(c taskctx.Context) ([]string, error) {
	v, diags := n.args.Value(c.EvalContext())
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to evaluate args of %q: %w", n.name, diags)
	}
	list, err := convert.Convert(v, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("args of %q must be a list of strings: %w", n.name, err)
	}
	if list.IsNull() || !list.IsWhollyKnown() || list.LengthInt() == 0 {
		return nil, fmt.Errorf("args of %q must be a non-empty list of known strings", n.name)
	}

	out := make([]string, 0, list.LengthInt())
	for _, elem := range list.AsValueSlice() {
		if elem.IsNull() {
			return nil, fmt.Errorf("args of %q contain a null element", n.name)
		}
		out = append(out, elem.AsString())
	}
	return out, nil
}

// Execute implements TaskNode.
func (n *Command) Execute(ctx context.Context, c taskctx.Context) error {
	argv, err := n.Args(c)
	if err != nil {
		return err
	}
	frame, _ := c.Frame()
	logger := ctxlog.FromContext(ctx).With("node", n.name, "frame", frame)
	logger.Debug("Running command.", "argv", argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, runErr := cmd.CombinedOutput()

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		logger.Info(scanner.Text())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("command %q exited with code %d on frame %d: %w", n.name, exitErr.ExitCode(), frame, runErr)
		}
		return fmt.Errorf("command %q failed on frame %d: %w", n.name, frame, runErr)
	}
	return nil
}
