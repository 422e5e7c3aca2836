package script

import (
	"github.com/hashicorp/hcl/v2"
)

const (
	defaultFrameStart = 1
	defaultFrameEnd   = 100
)

// fileSchema lists every top-level block a script may contain.
var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "script"},
		{Type: "command", LabelNames: []string{"name"}},
		{Type: "task_list", LabelNames: []string{"name"}},
		{Type: "context_variables", LabelNames: []string{"name"}},
		{Type: "wedge", LabelNames: []string{"name"}},
	},
}

// scriptBlock holds the graph-wide settings.
type scriptBlock struct {
	FrameStart *int           `hcl:"frame_start,optional"`
	FrameEnd   *int           `hcl:"frame_end,optional"`
	Frame      *int           `hcl:"frame,optional"`
	Variables  hcl.Expression `hcl:"variables,optional"`
}

// nodeOptions are the attributes every node block accepts.
type nodeOptions struct {
	PreTasks  []string `hcl:"pre_tasks,optional"`
	Frames    *string  `hcl:"frames,optional"`
	BatchSize *int     `hcl:"batch_size,optional"`
	Immediate *bool    `hcl:"immediate,optional"`
	Sequence  *bool    `hcl:"sequence,optional"`
}

type commandBlock struct {
	Args      hcl.Expression `hcl:"args"`
	PreTasks  []string       `hcl:"pre_tasks,optional"`
	Frames    *string        `hcl:"frames,optional"`
	BatchSize *int           `hcl:"batch_size,optional"`
	Immediate *bool          `hcl:"immediate,optional"`
	Sequence  *bool          `hcl:"sequence,optional"`
}

func (b *commandBlock) options() nodeOptions {
	return nodeOptions{PreTasks: b.PreTasks, Frames: b.Frames, BatchSize: b.BatchSize, Immediate: b.Immediate, Sequence: b.Sequence}
}

type contextVariablesBlock struct {
	Variables hcl.Expression `hcl:"variables"`
	PreTasks  []string       `hcl:"pre_tasks,optional"`
	Frames    *string        `hcl:"frames,optional"`
	BatchSize *int           `hcl:"batch_size,optional"`
	Immediate *bool          `hcl:"immediate,optional"`
	Sequence  *bool          `hcl:"sequence,optional"`
}

func (b *contextVariablesBlock) options() nodeOptions {
	return nodeOptions{PreTasks: b.PreTasks, Frames: b.Frames, BatchSize: b.BatchSize, Immediate: b.Immediate, Sequence: b.Sequence}
}

type wedgeBlock struct {
	Variable  string         `hcl:"variable"`
	Values    hcl.Expression `hcl:"values"`
	PreTasks  []string       `hcl:"pre_tasks,optional"`
	Frames    *string        `hcl:"frames,optional"`
	BatchSize *int           `hcl:"batch_size,optional"`
	Immediate *bool          `hcl:"immediate,optional"`
	Sequence  *bool          `hcl:"sequence,optional"`
}

func (b *wedgeBlock) options() nodeOptions {
	return nodeOptions{PreTasks: b.PreTasks, Frames: b.Frames, BatchSize: b.BatchSize, Immediate: b.Immediate, Sequence: b.Sequence}
}

// findUniqueBlock returns the only block of the given type, or nil. More
// than one such block is reported as an error diagnostic.
func findUniqueBlock(blocks hcl.Blocks, blockType string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics

	for _, block := range blocks {
		if block.Type != blockType {
			continue
		}
		if found != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate \"" + blockType + "\" block",
				Detail:   "Only one \"" + blockType + "\" block is allowed.",
				Subject:  &block.DefRange,
			})
			continue
		}
		found = block
	}

	return found, diags
}
