package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/localdispatch"
	"github.com/vk/taskdispatch/internal/taskctx"
)

// Config holds all the necessary configuration for a dispatch run.
type Config struct {
	ScriptPath string   // hcl file
	Nodes      []string // nodes to dispatch
	Dispatcher string

	FramesMode frames.Mode
	FrameRange string
	Frame      *int // overrides the script's current frame

	JobName                string
	JobsDir                string
	Background             bool
	EnvCommand             string
	IgnoreScriptLoadErrors bool
	// Executable launches background batches. Empty means the running binary.
	Executable string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	MonitorURL      string
	ReportPath      string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ScriptPath == "" {
		return nil, errors.New("ScriptPath is a required configuration field and cannot be empty")
	}
	nodes := make([]string, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n = strings.TrimSpace(n); n != "" {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil, errors.New("at least one node must be given")
	}
	cfg.Nodes = nodes

	if cfg.Dispatcher == "" {
		cfg.Dispatcher = localdispatch.Name
	}
	if cfg.FramesMode == frames.CustomRange {
		if strings.TrimSpace(cfg.FrameRange) == "" {
			return nil, errors.New("a frame range is required when the frames mode is 'custom'")
		}
		if _, err := frames.Parse(cfg.FrameRange); err != nil {
			return nil, err
		}
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}

// ExecuteConfig describes a single background batch: run Nodes for each of
// Frames with Context layered over the script's own context.
type ExecuteConfig struct {
	ScriptPath             string
	Nodes                  []string
	Frames                 []int
	Context                taskctx.Context
	IgnoreScriptLoadErrors bool

	LogFormat string
	LogLevel  string
}

// NewExecuteConfig validates cfg.
func NewExecuteConfig(cfg ExecuteConfig) (*ExecuteConfig, error) {
	if cfg.ScriptPath == "" {
		return nil, errors.New("ScriptPath is a required configuration field and cannot be empty")
	}
	if len(cfg.Nodes) == 0 {
		return nil, errors.New("at least one node must be given")
	}
	if len(cfg.Frames) == 0 {
		return nil, errors.New("at least one frame must be given")
	}
	return &cfg, nil
}
