package batch

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/node"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// batchKey identifies a unit of work within one build.
type batchKey struct {
	node    node.TaskNode
	context string
	frames  string
}

// Builder accumulates requested tasks into a batch graph. A Builder is not
// safe for concurrent use and should be discarded after one dispatch.
type Builder struct {
	root       *TaskBatch
	memo       map[batchKey]*TaskBatch
	inProgress map[batchKey]bool
	stack      []string
}

// NewBuilder returns a builder with an empty root batch.
func NewBuilder() *Builder {
	return &Builder{
		root:       &TaskBatch{},
		memo:       make(map[batchKey]*TaskBatch),
		inProgress: make(map[batchKey]bool),
	}
}

// Root returns the synthetic root batch.
func (b *Builder) Root() *TaskBatch { return b.root }

// Len returns the number of batches created so far, root excluded.
func (b *Builder) Len() int { return len(b.memo) }

// Add requests n under c for the given frames. The resulting top-level
// batches become preTasks of the root. Adding the same work twice is a
// no-op.
func (b *Builder) Add(n node.TaskNode, c taskctx.Context, fs []int) error {
	batches, err := b.visit(n, c, frames.Normalize(fs))
	if err != nil {
		return err
	}
	for _, batch := range batches {
		b.root.addPreTask(batch)
	}
	return nil
}

// visit returns the batches executing n for the given inherited frames,
// creating them and their upstream batches on first use.
func (b *Builder) visit(n node.TaskNode, c taskctx.Context, inherited []int) ([]*TaskBatch, error) {
	fs := inherited
	if override, ok := n.Frames(c); ok {
		fs = frames.Normalize(override)
	}

	if n.NoOp(c) {
		batch, err := b.acquire(n, c, fs, nil)
		if err != nil {
			return nil, err
		}
		return []*TaskBatch{batch}, nil
	}

	size := n.BatchSize()
	if n.RequiresSequenceExecution() {
		size = 0
	}
	chunks := chunk(fs, size)
	out := make([]*TaskBatch, 0, len(chunks))
	for _, chunkFrames := range chunks {
		batch, err := b.acquire(n, c, chunkFrames, chunkFrames)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

// acquire returns the memoized batch for the key, or builds a new one.
// keyFrames identify the batch and execFrames are what it executes.
func (b *Builder) acquire(n node.TaskNode, c taskctx.Context, keyFrames, execFrames []int) (*TaskBatch, error) {
	batchCtx := c.Without(taskctx.FrameKey)
	key := batchKey{node: n, context: batchCtx.Key(), frames: framesKey(keyFrames)}

	if existing, ok := b.memo[key]; ok {
		return existing, nil
	}
	if b.inProgress[key] {
		path := append(slices.Clone(b.stack), n.Name())
		return nil, &CycleError{Node: n.Name(), Path: path}
	}

	b.inProgress[key] = true
	b.stack = append(b.stack, n.Name())
	defer func() {
		delete(b.inProgress, key)
		b.stack = b.stack[:len(b.stack)-1]
	}()

	batch := &TaskBatch{
		node:      n,
		context:   batchCtx,
		frames:    slices.Clone(execFrames),
		immediate: n.Immediate(),
	}

	for _, task := range n.PreTasks(c) {
		if task.Node == nil {
			return nil, fmt.Errorf("node %q declares a nil preTask", n.Name())
		}
		upstream, err := b.visit(task.Node, task.Context, keyFrames)
		if err != nil {
			return nil, err
		}
		for _, up := range upstream {
			batch.addPreTask(up)
		}
	}

	b.memo[key] = batch
	return batch, nil
}

// chunk splits fs into consecutive slices of at most size frames. A size of
// zero or less keeps all frames in one chunk.
func chunk(fs []int, size int) [][]int {
	if size <= 0 || len(fs) <= size {
		return [][]int{fs}
	}
	out := make([][]int, 0, (len(fs)+size-1)/size)
	for start := 0; start < len(fs); start += size {
		out = append(out, fs[start:min(start+size, len(fs))])
	}
	return out
}

func framesKey(fs []int) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}
