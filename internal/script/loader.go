package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/node"
	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/zclconf/go-cty/cty"
)

// Context entries every loaded graph starts with.
const (
	FrameStartKey = "frameRange:start"
	FrameEndKey   = "frameRange:end"
	NameKey       = "script:name"
)

// Options tune how strictly a script is loaded.
type Options struct {
	// IgnoreErrors skips blocks that fail to decode and pre_tasks that name
	// unknown nodes, logging each problem instead of failing the load.
	IgnoreErrors bool
}

// Load reads and parses the script at path.
func Load(ctx context.Context, path string, opts Options) (*node.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return Parse(ctx, src, path, opts)
}

// pendingNode remembers a node and the names of its preTasks until every
// block has been declared.
type pendingNode struct {
	node     upstreamSetter
	preTasks []string
	rng      hcl.Range
}

type upstreamSetter interface {
	node.TaskNode
	SetUpstream(nodes ...node.TaskNode)
	SetFrames(fs []int)
	SetBatchSize(n int)
	SetImmediate(v bool)
	SetRequiresSequenceExecution(v bool)
}

// Parse builds a graph from script source. filename is used for
// diagnostics, the graph's file name and the script:name context entry.
func Parse(ctx context.Context, src []byte, filename string, opts Options) (*node.Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Script loader started.", "file", filename)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse script %s: %w", filename, diags)
	}

	var content *hcl.BodyContent
	if opts.IgnoreErrors {
		content, _, diags = file.Body.PartialContent(fileSchema)
	} else {
		content, diags = file.Body.Content(fileSchema)
	}
	if diags.HasErrors() {
		if !opts.IgnoreErrors {
			return nil, fmt.Errorf("failed to decode script %s: %w", filename, diags)
		}
		logger.Warn("Ignoring script errors.", "file", filename, "error", diags.Error())
	}

	base, err := decodeScriptBlock(ctx, content.Blocks, filename, opts)
	if err != nil {
		return nil, err
	}

	g := node.NewGraph(filename, base)
	g.SetSource(src)

	var pending []pendingNode
	for _, block := range content.Blocks {
		if block.Type == "script" {
			continue
		}
		p, err := decodeNodeBlock(g, block)
		if err != nil {
			if !opts.IgnoreErrors {
				return nil, err
			}
			logger.Warn("Skipping node block that failed to load.", "file", filename, "type", block.Type, "error", err)
			continue
		}
		pending = append(pending, p)
	}

	for _, p := range pending {
		upstream := make([]node.TaskNode, 0, len(p.preTasks))
		for _, name := range p.preTasks {
			up, ok := g.Node(name)
			if !ok {
				err := fmt.Errorf("%s: node %q lists unknown pre_task %q", p.rng, p.node.Name(), name)
				if !opts.IgnoreErrors {
					return nil, err
				}
				logger.Warn("Ignoring unknown pre_task.", "error", err)
				continue
			}
			upstream = append(upstream, up)
		}
		p.node.SetUpstream(upstream...)
	}

	logger.Debug("Script loading complete.", "file", filename, "nodes", len(g.Nodes()))
	return g, nil
}

// decodeScriptBlock builds the base context from the optional script block.
func decodeScriptBlock(ctx context.Context, blocks hcl.Blocks, filename string, opts Options) (taskctx.Context, error) {
	settings := scriptBlock{}
	block, diags := findUniqueBlock(blocks, "script")
	if block != nil {
		diags = append(diags, gohcl.DecodeBody(block.Body, nil, &settings)...)
	}
	if diags.HasErrors() {
		if !opts.IgnoreErrors {
			return taskctx.Context{}, fmt.Errorf("invalid script block in %s: %w", filename, diags)
		}
		ctxlog.FromContext(ctx).Warn("Ignoring invalid script block.", "file", filename, "error", diags.Error())
		settings = scriptBlock{}
	}

	values := map[string]cty.Value{}
	if settings.Variables != nil {
		v, diags := settings.Variables.Value(nil)
		if diags.HasErrors() {
			return taskctx.Context{}, fmt.Errorf("invalid script variables in %s: %w", filename, diags)
		}
		vars, err := valueMap(v)
		if err != nil {
			return taskctx.Context{}, fmt.Errorf("invalid script variables in %s: %w", filename, err)
		}
		for k, val := range vars {
			values[k] = val
		}
	}

	start, end := defaultFrameStart, defaultFrameEnd
	if settings.FrameStart != nil {
		start = *settings.FrameStart
	}
	if settings.FrameEnd != nil {
		end = *settings.FrameEnd
	}
	frame := start
	if settings.Frame != nil {
		frame = *settings.Frame
	}

	values[FrameStartKey] = cty.NumberIntVal(int64(start))
	values[FrameEndKey] = cty.NumberIntVal(int64(end))
	values[NameKey] = cty.StringVal(scriptName(filename))
	values[taskctx.FrameKey] = cty.NumberIntVal(int64(frame))

	return taskctx.New(values), nil
}

func decodeNodeBlock(g *node.Graph, block *hcl.Block) (pendingNode, error) {
	name := block.Labels[0]
	var (
		n    upstreamSetter
		opts nodeOptions
		err  error
	)

	switch block.Type {
	case "command":
		var b commandBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return pendingNode{}, fmt.Errorf("invalid command %q: %w", name, diags)
		}
		n, err = node.NewCommand(g, name, b.Args)
		opts = b.options()

	case "task_list":
		if diags := gohcl.DecodeBody(block.Body, nil, &opts); diags.HasErrors() {
			return pendingNode{}, fmt.Errorf("invalid task_list %q: %w", name, diags)
		}
		n, err = node.NewTaskList(g, name)

	case "context_variables":
		var b contextVariablesBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return pendingNode{}, fmt.Errorf("invalid context_variables %q: %w", name, diags)
		}
		v, diags := b.Variables.Value(nil)
		if diags.HasErrors() {
			return pendingNode{}, fmt.Errorf("invalid variables of %q: %w", name, diags)
		}
		vars, verr := valueMap(v)
		if verr != nil {
			return pendingNode{}, fmt.Errorf("invalid variables of %q: %w", name, verr)
		}
		n, err = node.NewContextVariables(g, name, vars)
		opts = b.options()

	case "wedge":
		var b wedgeBlock
		if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
			return pendingNode{}, fmt.Errorf("invalid wedge %q: %w", name, diags)
		}
		v, diags := b.Values.Value(nil)
		if diags.HasErrors() {
			return pendingNode{}, fmt.Errorf("invalid values of %q: %w", name, diags)
		}
		if v.IsNull() || !v.IsWhollyKnown() || !v.CanIterateElements() {
			return pendingNode{}, fmt.Errorf("values of %q must be a list", name)
		}
		n, err = node.NewWedge(g, name, b.Variable, v.AsValueSlice())
		opts = b.options()

	default:
		return pendingNode{}, fmt.Errorf("unsupported block type %q", block.Type)
	}
	if err != nil {
		return pendingNode{}, fmt.Errorf("%s: %w", block.DefRange, err)
	}

	if err := applyOptions(n, opts); err != nil {
		return pendingNode{}, fmt.Errorf("%s: node %q: %w", block.DefRange, name, err)
	}
	return pendingNode{node: n, preTasks: opts.PreTasks, rng: block.DefRange}, nil
}

func applyOptions(n upstreamSetter, opts nodeOptions) error {
	if opts.Frames != nil {
		fs, err := frames.Parse(*opts.Frames)
		if err != nil {
			return err
		}
		n.SetFrames(fs)
	}
	if opts.BatchSize != nil {
		if *opts.BatchSize < 0 {
			return fmt.Errorf("batch_size cannot be negative, got %d", *opts.BatchSize)
		}
		n.SetBatchSize(*opts.BatchSize)
	}
	if opts.Immediate != nil {
		n.SetImmediate(*opts.Immediate)
	}
	if opts.Sequence != nil {
		n.SetRequiresSequenceExecution(*opts.Sequence)
	}
	return nil
}

// valueMap flattens an object or map value into its entries. A null value
// yields no entries.
func valueMap(v cty.Value) (map[string]cty.Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value must be known at load time")
	}
	return v.AsValueMap(), nil
}

// scriptName is the file name without directory or extension.
func scriptName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
