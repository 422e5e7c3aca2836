package frames

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrParse is the sentinel wrapped by every frame-list parse failure.
var ErrParse = errors.New("invalid frame list")

// ParseError reports a malformed frame-list expression.
type ParseError struct {
	Expr   string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid frame list %q: %s", e.Expr, e.Reason)
}

// Unwrap lets errors.Is match ErrParse.
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// itemRegex matches a single item: `N`, `A-B` or `A-BxS`. Frames may be negative.
var itemRegex = regexp.MustCompile(`^(-?\d+)(?:-(-?\d+)(?:x(\d+))?)?$`)

// Parse converts a frame-list expression into an ascending, deduplicated
// frame sequence.
func Parse(expr string) ([]int, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, &ParseError{Expr: expr, Reason: "expression is empty"}
	}

	var out []int
	total := 0
	for _, raw := range strings.Split(trimmed, ",") {
		item := strings.TrimSpace(raw)
		if item == "" {
			return nil, &ParseError{Expr: expr, Reason: "empty item"}
		}

		matches := itemRegex.FindStringSubmatch(item)
		if matches == nil {
			return nil, &ParseError{Expr: expr, Reason: fmt.Sprintf("malformed item %q", item)}
		}

		// Atoi cannot fail on regex-validated digits other than by overflow.
		start, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, &ParseError{Expr: expr, Reason: err.Error()}
		}
		if matches[2] == "" {
			if total++; total > MaxFrames {
				return nil, &ParseError{Expr: expr, Reason: fmt.Sprintf("more than %d frames", MaxFrames)}
			}
			out = append(out, start)
			continue
		}

		end, err := strconv.Atoi(matches[2])
		if err != nil {
			return nil, &ParseError{Expr: expr, Reason: err.Error()}
		}
		step := 1
		if matches[3] != "" {
			step, err = strconv.Atoi(matches[3])
			if err != nil {
				return nil, &ParseError{Expr: expr, Reason: err.Error()}
			}
		}

		if step <= 0 {
			return nil, &ParseError{Expr: expr, Reason: fmt.Sprintf("step must be positive in %q", item)}
		}
		if start > end {
			return nil, &ParseError{Expr: expr, Reason: fmt.Sprintf("start is after end in %q", item)}
		}
		n, ok := RangeLen(start, end, step)
		if total += n; !ok || total > MaxFrames {
			return nil, &ParseError{Expr: expr, Reason: fmt.Sprintf("more than %d frames", MaxFrames)}
		}
		out = append(out, Range(start, end, step)...)
	}

	return Normalize(out), nil
}

// Normalize returns a sorted copy of frames with duplicates removed.
func Normalize(frames []int) []int {
	out := slices.Clone(frames)
	slices.Sort(out)
	return slices.Compact(out)
}

// Format renders frames as a canonical, compact frame-list string. The input
// is normalized first, so Format(Parse(s)) is stable for any valid s.
func Format(frames []int) string {
	fs := Normalize(frames)
	parts := make([]string, 0, len(fs))

	for i := 0; i < len(fs); {
		if i+1 >= len(fs) {
			parts = append(parts, strconv.Itoa(fs[i]))
			break
		}

		// A non-positive difference between sorted unique frames means it
		// overflowed; such neighbours are written as single frames.
		step := fs[i+1] - fs[i]
		j := i + 1
		for step > 0 && j+1 < len(fs) && fs[j+1]-fs[j] == step {
			j++
		}
		runLen := j - i + 1
		if step <= 0 {
			runLen = 1
		}

		switch {
		case runLen >= 3 && step == 1, runLen == 2 && step == 1:
			parts = append(parts, fmt.Sprintf("%d-%d", fs[i], fs[j]))
			i = j + 1
		case runLen >= 3:
			parts = append(parts, fmt.Sprintf("%d-%dx%d", fs[i], fs[j], step))
			i = j + 1
		default:
			parts = append(parts, strconv.Itoa(fs[i]))
			i++
		}
	}

	return strings.Join(parts, ",")
}
