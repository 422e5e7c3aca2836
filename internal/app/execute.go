package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/dispatch"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/localdispatch"
	"github.com/vk/taskdispatch/internal/node"
	"github.com/vk/taskdispatch/internal/script"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// Execute runs one background batch in the current process: every node in
// cfg.Nodes for every frame in cfg.Frames, in that order. Nodes that
// require sequence execution then run once over all frames. It is the entry
// point the local backend launches for each batch. The level in the
// localdispatch.LogLevelEnv environment variable wins over cfg.LogLevel.
func Execute(ctx context.Context, outW io.Writer, cfg *ExecuteConfig) error {
	level := cfg.LogLevel
	if env := os.Getenv(localdispatch.LogLevelEnv); env != "" {
		level = env
	}
	logger := newLogger(level, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)

	graph, err := script.Load(ctx, cfg.ScriptPath, script.Options{IgnoreErrors: cfg.IgnoreScriptLoadErrors})
	if err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	nodes, err := graph.Lookup(cfg.Nodes...)
	if err != nil {
		return err
	}

	base := graph.Context().Merge(cfg.Context)
	logger.Debug("Executing batch.", "nodes", cfg.Nodes, "frames", frames.Format(cfg.Frames))
	for _, f := range cfg.Frames {
		c := base.WithFrame(f)
		for _, n := range nodes {
			if n.NoOp(c) || n.RequiresSequenceExecution() {
				continue
			}
			nodeCtx := dispatch.WithTaskContext(ctxlog.With(ctx, "node", n.Name()), c)
			if err := n.Execute(nodeCtx, c); err != nil {
				return fmt.Errorf("node %s failed on frame %d: %w", n.Name(), f, err)
			}
		}
	}
	for _, n := range nodes {
		if !n.RequiresSequenceExecution() {
			continue
		}
		if err := executeSequence(ctx, n, base, cfg.Frames); err != nil {
			return err
		}
	}
	logger.Debug("Batch complete.")
	return nil
}

// executeSequence runs a node that needs all its frames in one ordered pass.
// Frames where the node is a no-op are dropped first.
func executeSequence(ctx context.Context, n node.TaskNode, base taskctx.Context, fs []int) error {
	active := make([]int, 0, len(fs))
	for _, f := range fs {
		if !n.NoOp(base.WithFrame(f)) {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}
	nodeCtx := dispatch.WithTaskContext(ctxlog.With(ctx, "node", n.Name()), base)
	if seq, ok := node.AsSequence(n); ok {
		if err := seq.ExecuteSequence(nodeCtx, base, active); err != nil {
			return fmt.Errorf("node %s failed on frames %s: %w", n.Name(), frames.Format(active), err)
		}
		return nil
	}
	for _, f := range active {
		c := base.WithFrame(f)
		if err := n.Execute(dispatch.WithTaskContext(ctxlog.With(ctx, "node", n.Name()), c), c); err != nil {
			return fmt.Errorf("node %s failed on frame %d: %w", n.Name(), f, err)
		}
	}
	return nil
}
