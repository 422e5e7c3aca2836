package localdispatch

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

// Message is one captured log line of a job.
type Message struct {
	Time    time.Time
	Level   slog.Level
	Context string
	Text    string
}

// messageLog is the append-only message store of a job.
type messageLog struct {
	mu       sync.Mutex
	messages []Message
}

func (l *messageLog) add(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range strings.Split(m.Text, "\n") {
		m.Text = line
		l.messages = append(l.messages, m)
	}
}

func (l *messageLog) all() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}

// captureHandler records every log record into a messageLog and forwards it
// to the next handler when that handler is enabled for the level.
type captureHandler struct {
	log    *messageLog
	next   slog.Handler
	source string
}

func newCaptureHandler(log *messageLog, next slog.Handler, source string) *captureHandler {
	return &captureHandler{log: log, next: next, source: source}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	source := h.source
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "node" {
			source = a.Value.String()
			return false
		}
		return true
	})
	h.log.add(Message{Time: r.Time, Level: r.Level, Context: source, Text: r.Message})

	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	source := h.source
	for _, a := range attrs {
		if a.Key == "node" {
			source = a.Value.String()
		}
	}
	return &captureHandler{log: h.log, next: h.next.WithAttrs(attrs), source: source}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{log: h.log, next: h.next.WithGroup(name), source: h.source}
}

var (
	// levelPrefixRegex matches "LEVEL : " or "LEVEL | " markers.
	levelPrefixRegex = regexp.MustCompile(`(DEBUG|INFO|WARNING|ERROR) +[:|] `)
	// slogLevelRegex matches the level attribute of the text handler.
	slogLevelRegex = regexp.MustCompile(`\blevel=(DEBUG|INFO|WARN|ERROR)\b`)
)

// messageLevel guesses the level of a line of subprocess output. A marker at
// the start of the line is stripped so the level is not shown twice.
func messageLevel(line string) (string, slog.Level) {
	if loc := levelPrefixRegex.FindStringSubmatchIndex(line); loc != nil {
		level := parseLevel(line[loc[2]:loc[3]])
		if loc[0] == 0 {
			line = line[loc[1]:]
		}
		return line, level
	}
	if m := slogLevelRegex.FindStringSubmatch(line); m != nil {
		return line, parseLevel(m[1])
	}
	return line, slog.LevelInfo
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
