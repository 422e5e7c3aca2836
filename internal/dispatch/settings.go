package dispatch

import (
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/script"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// Context entries injected into every dispatched task.
const (
	JobDirectoryKey   = "dispatcher:jobDirectory"
	ScriptFileNameKey = "dispatcher:scriptFileName"
)

const (
	defaultFrameStart = 1
	defaultFrameEnd   = 100
)

// Settings are the user facing options every backend shares.
type Settings struct {
	// JobName names the job directory. Empty uses the script name.
	JobName string
	// JobsDirectory is where job directories are created. Empty uses a
	// directory below os.TempDir.
	JobsDirectory string
	// FramesMode selects how the dispatched frames are derived.
	FramesMode frames.Mode
	// FrameRange is the frame-list expression used by frames.CustomRange.
	FrameRange string
}

// Frames resolves the frames to dispatch under c.
func (s *Settings) Frames(c taskctx.Context) ([]int, error) {
	current, _ := c.Frame()
	start := c.Int(script.FrameStartKey, defaultFrameStart)
	end := c.Int(script.FrameEndKey, defaultFrameEnd)
	return frames.Resolve(s.FramesMode, current, start, end, s.FrameRange)
}
