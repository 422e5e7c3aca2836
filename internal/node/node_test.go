package node

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/zclconf/go-cty/cty"
)

func parseExpr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

func TestGraph_AddAndLookup(t *testing.T) {
	t.Parallel()

	g := NewGraph("test.hcl", taskctx.Context{})
	a, err := NewFunc(g, "a", nil)
	require.NoError(t, err)
	b, err := NewTaskList(g, "b")
	require.NoError(t, err)

	_, err = NewTaskList(g, "a")
	require.Error(t, err, "duplicate names must be rejected")

	assert.Equal(t, []TaskNode{a, b}, g.Nodes())
	assert.Same(t, g, a.Graph())

	found, err := g.Lookup("b", "a")
	require.NoError(t, err)
	assert.Equal(t, []TaskNode{b, a}, found)

	_, err = g.Lookup("missing")
	require.Error(t, err)
}

func TestBase_FramesOverride(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	n, err := NewFunc(g, "n", func(context.Context, taskctx.Context) error { return nil })
	require.NoError(t, err)

	_, ok := n.Frames(taskctx.Context{})
	assert.False(t, ok)

	n.SetFrames([]int{5, 1, 5, 3})
	fs, ok := n.Frames(taskctx.Context{})
	require.True(t, ok)
	assert.Equal(t, []int{1, 3, 5}, fs)

	n.SetFrames(nil)
	_, ok = n.Frames(taskctx.Context{})
	assert.False(t, ok)

	n.SetBatchSize(-4)
	assert.Equal(t, 0, n.BatchSize())
}

func TestContextVariables_PreTasks(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	up, err := NewFunc(g, "up", func(context.Context, taskctx.Context) error { return nil })
	require.NoError(t, err)
	vars, err := NewContextVariables(g, "vars", map[string]cty.Value{"version": cty.NumberIntVal(2)})
	require.NoError(t, err)
	vars.SetUpstream(up)

	base := taskctx.New(map[string]cty.Value{"version": cty.NumberIntVal(1)}).WithFrame(3)
	tasks := vars.PreTasks(base)

	require.Len(t, tasks, 1)
	assert.Same(t, up, tasks[0].Node)
	assert.Equal(t, 2, tasks[0].Context.Int("version", 0))
	assert.True(t, vars.NoOp(base))
	assert.Equal(t, "up@3", tasks[0].String())
}

func TestWedge_PreTasksFanOut(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	a, _ := NewFunc(g, "a", func(context.Context, taskctx.Context) error { return nil })
	b, _ := NewFunc(g, "b", func(context.Context, taskctx.Context) error { return nil })
	w, err := NewWedge(g, "w", "v", []cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2)})
	require.NoError(t, err)
	w.SetUpstream(a, b)

	tasks := w.PreTasks(taskctx.Context{})
	require.Len(t, tasks, 4)

	var got []string
	for _, task := range tasks {
		got = append(got, task.Node.Name()+"="+taskctx.FormatValue(mustGet(t, task.Context, "v")))
	}
	assert.Equal(t, []string{"a=1", "b=1", "a=2", "b=2"}, got)

	_, err = NewWedge(g, "bad", "", nil)
	require.Error(t, err)
}

func mustGet(t *testing.T, c taskctx.Context, name string) cty.Value {
	t.Helper()
	v, ok := c.Get(name)
	require.True(t, ok, "missing %s", name)
	return v
}

func TestCommand_ArgsEvaluatedPerFrame(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	cmd, err := NewCommand(g, "render", parseExpr(t, `["echo", "${context.shot}-${frame}"]`))
	require.NoError(t, err)

	c := taskctx.New(map[string]cty.Value{"shot": cty.StringVal("sh010")}).WithFrame(4)
	args, err := cmd.Args(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "sh010-4"}, args)

	bad, err := NewCommand(g, "bad", parseExpr(t, `"not a list"`))
	require.NoError(t, err)
	_, err = bad.Args(c)
	require.Error(t, err)

	empty, err := NewCommand(g, "empty", parseExpr(t, `[]`))
	require.NoError(t, err)
	_, err = empty.Args(c)
	require.Error(t, err)
}

func TestCommand_Execute(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	ok, err := NewCommand(g, "ok", parseExpr(t, `["sh", "-c", "exit 0"]`))
	require.NoError(t, err)
	fail, err := NewCommand(g, "fail", parseExpr(t, `["sh", "-c", "exit 3"]`))
	require.NoError(t, err)

	c := taskctx.Context{}.WithFrame(1)
	require.NoError(t, ok.Execute(context.Background(), c))

	err = fail.Execute(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
}

func TestFunc_Execute(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	boom := errors.New("boom")
	var seen []int
	n, err := NewFunc(g, "f", func(_ context.Context, c taskctx.Context) error {
		f, _ := c.Frame()
		seen = append(seen, f)
		if f == 2 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, n.Execute(context.Background(), taskctx.Context{}.WithFrame(1)))
	require.ErrorIs(t, n.Execute(context.Background(), taskctx.Context{}.WithFrame(2)), boom)
	assert.Equal(t, []int{1, 2}, seen)
	assert.False(t, n.NoOp(taskctx.Context{}))

	n.SetNoOp(func(c taskctx.Context) bool { return c.Len() == 0 })
	assert.True(t, n.NoOp(taskctx.Context{}))
}

func TestFunc_ExecuteSequence(t *testing.T) {
	t.Parallel()

	g := NewGraph("", taskctx.Context{})
	var perFrame []int
	n, err := NewFunc(g, "f", func(_ context.Context, c taskctx.Context) error {
		f, _ := c.Frame()
		perFrame = append(perFrame, f)
		return nil
	})
	require.NoError(t, err)

	_, ok := AsSequence(n)
	assert.False(t, ok, "plain nodes execute frame by frame")

	n.SetRequiresSequenceExecution(true)
	seq, ok := AsSequence(n)
	require.True(t, ok)
	require.NoError(t, seq.ExecuteSequence(context.Background(), taskctx.Context{}, []int{3, 4}))
	assert.Equal(t, []int{3, 4}, perFrame, "falls back to Execute per frame")

	var got []int
	n.SetSequence(func(_ context.Context, c taskctx.Context, fs []int) error {
		_, hasFrame := c.Frame()
		assert.False(t, hasFrame)
		got = append(got, fs...)
		return nil
	})
	require.NoError(t, seq.ExecuteSequence(context.Background(), taskctx.Context{}, []int{1, 2, 3}))
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, []int{3, 4}, perFrame)

	n.SetSequence(nil)
	assert.False(t, n.RequiresSequenceExecution())
}
