package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/zclconf/go-cty/cty"
)

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected *ExitError, got %v", err)
	assert.Equal(t, code, exitErr.Code)
}

func TestParse_Dispatch(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{
		"dispatch",
		"-script", "shot.hcl",
		"-nodes", "render, comp",
		"-frames-mode", "script",
		"-frame", "0",
		"-jobs-dir", "/tmp/jobs",
		"-background",
		"-env-command", "env FOO=1",
		"-log-level", "DEBUG",
		"-report", "report.yaml",
	}

	// --- Act ---
	cmd, shouldExit, err := Parse(args, &bytes.Buffer{})

	// --- Assert ---
	require.NoError(t, err)
	require.False(t, shouldExit)
	require.Equal(t, DispatchCommand, cmd.Name)
	cfg := cmd.Dispatch
	assert.Equal(t, "shot.hcl", cfg.ScriptPath)
	assert.Equal(t, []string{"render", "comp"}, cfg.Nodes)
	assert.Equal(t, "Local", cfg.Dispatcher)
	assert.Equal(t, frames.ScriptRange, cfg.FramesMode)
	require.NotNil(t, cfg.Frame)
	assert.Equal(t, 0, *cfg.Frame)
	assert.True(t, cfg.Background)
	assert.Equal(t, "env FOO=1", cfg.EnvCommand)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "report.yaml", cfg.ReportPath)
}

func TestParse_DispatchDefaults(t *testing.T) {
	t.Parallel()

	cmd, _, err := Parse([]string{"-nodes", "a", "shot.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg := cmd.Dispatch
	assert.Equal(t, "shot.hcl", cfg.ScriptPath, "positional script path")
	assert.Equal(t, frames.CurrentFrame, cfg.FramesMode)
	assert.Nil(t, cfg.Frame)
	assert.False(t, cfg.Background)

	cmd, _, err = Parse([]string{"-nodes", "a", "-frame-range", "1-9x2", "shot.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, frames.CustomRange, cmd.Dispatch.FramesMode, "a frame range implies the custom mode")
}

func TestParse_DispatchErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--this-is-not-a-valid-flag"}},
		{name: "unknown command", args: []string{"render"}},
		{name: "no nodes", args: []string{"-script", "a.hcl"}},
		{name: "bad frames mode", args: []string{"-script", "a.hcl", "-nodes", "a", "-frames-mode", "sometimes"}},
		{name: "custom without range", args: []string{"-script", "a.hcl", "-nodes", "a", "-frames-mode", "custom"}},
		{name: "malformed range", args: []string{"-script", "a.hcl", "-nodes", "a", "-frame-range", "1-x"}},
		{name: "bad log format", args: []string{"-script", "a.hcl", "-nodes", "a", "-log-format", "xml"}},
		{name: "bad log level", args: []string{"-script", "a.hcl", "-nodes", "a", "-log-level", "loud"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, shouldExit, err := Parse(tc.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.False(t, shouldExit)
			requireExitCode(t, err, 2)
		})
	}
}

func TestParse_Help(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{nil, {"-h"}, {"help"}, {"dispatch", "-h"}, {"execute", "-h"}, {"dispatch"}} {
		out := &bytes.Buffer{}
		cmd, shouldExit, err := Parse(args, out)
		require.NoError(t, err, "%v", args)
		assert.True(t, shouldExit, "%v", args)
		assert.Nil(t, cmd)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_Execute(t *testing.T) {
	t.Parallel()

	args := []string{
		"execute",
		"-script", "/jobs/shot/000000/shot.hcl",
		"-nodes", "render",
		"-frames", "1-3,7",
		"-ignoreScriptLoadErrors",
		"-context",
		"dispatcher:jobDirectory", `"/jobs/shot/000000"`,
		"version", "2",
		"tags", `["a", "b"]`,
	}
	cmd, shouldExit, err := Parse(args, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, shouldExit)
	require.Equal(t, ExecuteCommand, cmd.Name)

	cfg := cmd.Execute
	assert.Equal(t, "/jobs/shot/000000/shot.hcl", cfg.ScriptPath)
	assert.Equal(t, []string{"render"}, cfg.Nodes)
	assert.Equal(t, []int{1, 2, 3, 7}, cfg.Frames)
	assert.True(t, cfg.IgnoreScriptLoadErrors)
	assert.Equal(t, "/jobs/shot/000000", cfg.Context.String("dispatcher:jobDirectory", ""))
	assert.Equal(t, 2, cfg.Context.Int("version", 0))
	tags, ok := cfg.Context.Get("tags")
	require.True(t, ok)
	assert.True(t, tags.RawEquals(cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")})))
}

func TestParse_ExecuteErrors(t *testing.T) {
	t.Parallel()

	base := []string{"execute", "-script", "a.hcl", "-nodes", "a"}
	testCases := []struct {
		name string
		args []string
	}{
		{name: "missing frames", args: base},
		{name: "malformed frames", args: append(base[:len(base):len(base)], "-frames", "3-1x0")},
		{name: "odd context", args: append(base[:len(base):len(base)], "-frames", "1", "-context", "version")},
		{name: "bad context value", args: append(base[:len(base):len(base)], "-frames", "1", "-context", "v", "{{")},
		{name: "stray argument", args: append(base[:len(base):len(base)], "-frames", "1", "extra")},
		{name: "no script", args: []string{"execute", "-nodes", "a", "-frames", "1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Parse(tc.args, &bytes.Buffer{})
			require.Error(t, err)
			requireExitCode(t, err, 2)
		})
	}
}
