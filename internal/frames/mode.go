package frames

import (
	"fmt"
	"strings"
)

// Mode selects how the default frame list of a dispatch is derived.
type Mode int

const (
	// CurrentFrame dispatches only the current frame of the context.
	CurrentFrame Mode = iota
	// ScriptRange dispatches the full start-end range declared by the script.
	ScriptRange
	// CustomRange dispatches the frames of a user supplied frame-list expression.
	CustomRange
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case CurrentFrame:
		return "current"
	case ScriptRange:
		return "script"
	case CustomRange:
		return "custom"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a user facing mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "current", "currentframe":
		return CurrentFrame, nil
	case "script", "scriptrange", "full", "fullrange":
		return ScriptRange, nil
	case "custom", "customrange":
		return CustomRange, nil
	default:
		return CurrentFrame, fmt.Errorf("unknown frames mode %q: must be 'current', 'script' or 'custom'", s)
	}
}

// Resolve converts a frame-mode selection into a concrete frame sequence.
// The start/end pair is only consulted for ScriptRange and expr only for
// CustomRange.
func Resolve(mode Mode, current, start, end int, expr string) ([]int, error) {
	switch mode {
	case CurrentFrame:
		return []int{current}, nil
	case ScriptRange:
		if start > end {
			return nil, fmt.Errorf("script frame range is empty: start %d is after end %d", start, end)
		}
		if _, ok := RangeLen(start, end, 1); !ok {
			return nil, fmt.Errorf("script frame range %d-%d has more than %d frames", start, end, MaxFrames)
		}
		return Range(start, end, 1), nil
	case CustomRange:
		return Parse(expr)
	default:
		return nil, fmt.Errorf("unsupported frames mode: %v", mode)
	}
}

// MaxFrames bounds the number of frames a single range may expand to.
const MaxFrames = 1 << 20

// Range returns every step-th frame from start to end inclusive. The result
// is capped at MaxFrames; callers that accept user input check RangeLen first.
func Range(start, end, step int) []int {
	n, ok := RangeLen(start, end, step)
	if !ok || n == 0 {
		return nil
	}
	out := make([]int, n)
	f := start
	for i := range out {
		out[i] = f
		if i < n-1 {
			f += step
		}
	}
	return out
}

// RangeLen reports how many frames Range(start, end, step) holds. ok is
// false when that number exceeds MaxFrames.
func RangeLen(start, end, step int) (n int, ok bool) {
	if step <= 0 || start > end {
		return 0, true
	}
	// Unsigned arithmetic keeps the span exact across the whole int range.
	steps := (uint64(end) - uint64(start)) / uint64(step)
	if steps >= MaxFrames {
		return MaxFrames, false
	}
	return int(steps) + 1, true
}
