package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/taskdispatch/internal/dispatch"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/jobfeed"
	"github.com/vk/taskdispatch/internal/jobpool"
	"github.com/vk/taskdispatch/internal/localdispatch"
	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/vk/taskdispatch/internal/testutil"
	"github.com/zclconf/go-cty/cty"
)

// setupAppTest creates a new app instance, with its own registry and pool,
// and debug logging captured in a buffer. Set TASKDISPATCH_TEST_LOGS=true to
// print the buffer after the test.
func setupAppTest(t *testing.T, cfg *Config, modules ...dispatch.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	pool := jobpool.New()
	modules = append([]dispatch.Module{localdispatch.Module{Pool: pool}}, modules...)
	testApp := newApp(logBuffer, cfg, dispatch.NewRegistry(), pool, modules...)

	t.Cleanup(func() {
		if os.Getenv("TASKDISPATCH_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("scripts in these tests use sh")
	}
}

// writeShotScript writes a script whose nodes append to out.txt in dir.
func writeShotScript(t *testing.T, dir, renderCmd string) (scriptPath, outPath string) {
	t.Helper()
	outPath = filepath.ToSlash(filepath.Join(dir, "out.txt"))
	src := fmt.Sprintf(`
script {
  frame_start = 1
  frame_end   = 3
  variables   = { out = %q }
}

command "prep" {
  args = ["sh", "-c", "echo prep ${frame} >> ${context.out}"]
}

command "render" {
  args      = ["sh", "-c", %q]
  pre_tasks = ["prep"]
}
`, outPath, renderCmd)
	testutil.WriteFiles(t, dir, map[string]string{"shot.hcl": src})
	return filepath.Join(dir, "shot.hcl"), outPath
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRun_ForegroundDispatch(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	// --- Arrange ---
	dir := t.TempDir()
	scriptPath, outPath := writeShotScript(t, dir, "echo render ${frame} >> ${context.out}")
	reportPath := filepath.Join(dir, "report.yaml")
	cfg, err := NewConfig(Config{
		ScriptPath: scriptPath,
		Nodes:      []string{"render"},
		FramesMode: frames.ScriptRange,
		JobsDir:    filepath.Join(dir, "jobs"),
		ReportPath: reportPath,
	})
	require.NoError(t, err)
	a, logs := setupAppTest(t, cfg)

	// --- Act ---
	err = a.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "prep 1\nprep 2\nprep 3\nrender 1\nrender 2\nrender 3\n", readFile(t, outPath))

	jobDir := filepath.Join(dir, "jobs", "shot", "000000")
	assert.FileExists(t, filepath.Join(jobDir, "shot.hcl"))

	jobs := a.Pool().Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, jobpool.Complete, jobs[0].Status())

	report := readFile(t, reportPath)
	assert.Contains(t, report, "status: Complete")
	assert.Contains(t, report, "000000")
	assert.Contains(t, logs.String(), "Dispatching nodes.")
	assert.Contains(t, logs.String(), "success=true")

	rec := httptest.NewRecorder()
	a.jobsHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	var listed []jobfeed.JobPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Complete", listed[0].Status)
	assert.Equal(t, "shot", listed[0].Name)
}

func TestRun_FrameOverrideAndCustomRange(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	dir := t.TempDir()
	scriptPath, outPath := writeShotScript(t, dir, "echo render ${frame} >> ${context.out}")
	frame := 7
	cfg, err := NewConfig(Config{
		ScriptPath: scriptPath,
		Nodes:      []string{"prep"},
		Frame:      &frame,
		JobsDir:    filepath.Join(dir, "jobs"),
	})
	require.NoError(t, err)
	a, _ := setupAppTest(t, cfg)
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, "prep 7\n", readFile(t, outPath))

	require.NoError(t, os.Remove(outPath))
	cfg, err = NewConfig(Config{
		ScriptPath: scriptPath,
		Nodes:      []string{"prep"},
		FramesMode: frames.CustomRange,
		FrameRange: "10-14x2",
		JobsDir:    filepath.Join(dir, "jobs"),
		JobName:    "custom",
	})
	require.NoError(t, err)
	a, _ = setupAppTest(t, cfg)
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, "prep 10\nprep 12\nprep 14\n", readFile(t, outPath))
	assert.DirExists(t, filepath.Join(dir, "jobs", "custom", "000000"))
}

func TestRun_ForegroundFailure(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	dir := t.TempDir()
	scriptPath, _ := writeShotScript(t, dir, "exit 3")
	reportPath := filepath.Join(dir, "report.yaml")
	cfg, err := NewConfig(Config{
		ScriptPath: scriptPath,
		Nodes:      []string{"render"},
		JobsDir:    filepath.Join(dir, "jobs"),
		ReportPath: reportPath,
	})
	require.NoError(t, err)
	a, logs := setupAppTest(t, cfg)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, readFile(t, reportPath), "status: Failed")
	assert.Contains(t, logs.String(), "success=false")
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath, _ := writeShotScript(t, dir, "true")

	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing script",
			cfg:     Config{ScriptPath: filepath.Join(dir, "nope.hcl"), Nodes: []string{"a"}},
			wantErr: "failed to load script",
		},
		{
			name:    "unknown node",
			cfg:     Config{ScriptPath: scriptPath, Nodes: []string{"ghost"}},
			wantErr: "ghost",
		},
		{
			name:    "unknown dispatcher",
			cfg:     Config{ScriptPath: scriptPath, Nodes: []string{"prep"}, Dispatcher: "Farm"},
			wantErr: "Farm",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.cfg.JobsDir = filepath.Join(dir, "jobs", tc.name)
			cfg, err := NewConfig(tc.cfg)
			require.NoError(t, err)
			a, _ := setupAppTest(t, cfg)

			err = a.Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfig_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{ScriptPath: "a.hcl", Nodes: []string{"x"}}},
		{name: "no script", cfg: Config{Nodes: []string{"x"}}, wantErr: true},
		{name: "no nodes", cfg: Config{ScriptPath: "a.hcl", Nodes: []string{" ", ""}}, wantErr: true},
		{name: "custom without range", cfg: Config{ScriptPath: "a.hcl", Nodes: []string{"x"}, FramesMode: frames.CustomRange}, wantErr: true},
		{name: "custom malformed", cfg: Config{ScriptPath: "a.hcl", Nodes: []string{"x"}, FramesMode: frames.CustomRange, FrameRange: "1-"}, wantErr: true},
		{name: "bad port", cfg: Config{ScriptPath: "a.hcl", Nodes: []string{"x"}, HealthcheckPort: 70000}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := NewConfig(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Local", cfg.Dispatcher)
		})
	}
}

func TestExecute_RunsNodesPerFrame(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	// --- Arrange ---
	dir := t.TempDir()
	scriptPath, _ := writeShotScript(t, dir, "echo render ${frame} ${context.version} >> ${context.out}")
	otherOut := filepath.ToSlash(filepath.Join(dir, "other.txt"))
	cfg, err := NewExecuteConfig(ExecuteConfig{
		ScriptPath: scriptPath,
		Nodes:      []string{"render"},
		Frames:     []int{2, 4},
		Context: taskctx.New(map[string]cty.Value{
			"out":     cty.StringVal(otherOut),
			"version": cty.NumberIntVal(2),
		}),
	})
	require.NoError(t, err)
	var logs testutil.SafeBuffer

	// --- Act ---
	err = Execute(context.Background(), &logs, cfg)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "render 2 2\nrender 4 2\n", readFile(t, otherOut), "upstream nodes are not run")
	assert.NoFileExists(t, filepath.Join(dir, "out.txt"))
}

func TestExecute_SequenceNodeRunsOnceOverAllFrames(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	dir := t.TempDir()
	outPath := filepath.ToSlash(filepath.Join(dir, "out.txt"))
	src := fmt.Sprintf(`
script {
  variables = { out = %q }
}

command "encode" {
  args     = ["sh", "-c", "echo encode ${frame} >> ${context.out}"]
  sequence = true
}

command "render" {
  args = ["sh", "-c", "echo render ${frame} >> ${context.out}"]
}
`, outPath)
	testutil.WriteFiles(t, dir, map[string]string{"seq.hcl": src})
	cfg, err := NewExecuteConfig(ExecuteConfig{
		ScriptPath: filepath.Join(dir, "seq.hcl"),
		Nodes:      []string{"encode", "render"},
		Frames:     []int{1, 2},
	})
	require.NoError(t, err)

	require.NoError(t, Execute(context.Background(), &testutil.SafeBuffer{}, cfg))
	assert.Equal(t, "render 1\nrender 2\nencode 1\nencode 2\n", readFile(t, outPath))
}

func TestExecute_Failure(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	dir := t.TempDir()
	scriptPath, _ := writeShotScript(t, dir, "exit 4")
	cfg, err := NewExecuteConfig(ExecuteConfig{ScriptPath: scriptPath, Nodes: []string{"render"}, Frames: []int{1}})
	require.NoError(t, err)

	err = Execute(context.Background(), &testutil.SafeBuffer{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node render failed on frame 1")
}

func TestHealthMux(t *testing.T) {
	t.Parallel()

	cfg := &Config{ScriptPath: "a.hcl", Nodes: []string{"x"}}
	a, _ := setupAppTest(t, cfg)
	srv := httptest.NewServer(a.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var jobs []jobfeed.JobPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	assert.Empty(t, jobs)
}

func TestNewApp_UsesProcessWideRegistryAndPool(t *testing.T) {
	t.Parallel()

	a := NewApp(&testutil.SafeBuffer{}, &Config{ScriptPath: "a.hcl", Nodes: []string{"x"}})
	assert.Same(t, dispatch.DefaultRegistry(), a.Registry())
	assert.Same(t, jobpool.Default(), a.Pool())
	assert.Contains(t, a.Registry().Names(), localdispatch.Name)

	d, err := a.Registry().NewDispatcher(localdispatch.Name, a.Hooks())
	require.NoError(t, err)
	local, ok := d.Backend().(*localdispatch.Dispatcher)
	require.True(t, ok)
	assert.Same(t, a.Pool(), local.Pool())
}

func TestConfigureBackend_AppliesLocalOptions(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		ScriptPath:             "a.hcl",
		Nodes:                  []string{"x"},
		Background:             true,
		EnvCommand:             "env FOO=1",
		IgnoreScriptLoadErrors: true,
		Executable:             "/bin/taskdispatch",
	}
	a, logs := setupAppTest(t, cfg)
	backend, err := a.Registry().Create(localdispatch.Name)
	require.NoError(t, err)

	a.configureBackend(backend)

	local := backend.(*localdispatch.Dispatcher)
	assert.Equal(t, localdispatch.Options{
		ExecuteInBackground:    true,
		IgnoreScriptLoadErrors: true,
		EnvironmentCommand:     "env FOO=1",
		Executable:             "/bin/taskdispatch",
	}, local.Options)
	assert.NotContains(t, logs.String(), "different pool")
}
