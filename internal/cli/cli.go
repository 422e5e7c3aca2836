package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/taskdispatch/internal/app"
	"github.com/vk/taskdispatch/internal/frames"
	"github.com/vk/taskdispatch/internal/taskctx"
	"github.com/zclconf/go-cty/cty"
)

// Subcommand names.
const (
	DispatchCommand = "dispatch"
	ExecuteCommand  = "execute"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Command is a parsed invocation. Exactly one of Dispatch and Execute is set.
type Command struct {
	Name     string
	Dispatch *app.Config
	Execute  *app.ExecuteConfig
}

const usageText = `
taskdispatch - Dispatch frame-based task graphs as local jobs.

Usage:
  taskdispatch [dispatch] [options] -script FILE -nodes a,b
  taskdispatch execute -script FILE -nodes a,b -frames LIST [-ignoreScriptLoadErrors] [-context NAME VALUE ...]

Run 'taskdispatch dispatch -h' or 'taskdispatch execute -h' for the options.
`

// Parse processes command-line arguments. It returns the parsed command,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Arguments that do not start with a subcommand are parsed as dispatch.
func Parse(args []string, output io.Writer) (*Command, bool, error) {
	slog.Debug("CLI parser started.")
	if len(args) == 0 {
		fmt.Fprint(output, usageText)
		return nil, true, nil
	}

	switch args[0] {
	case DispatchCommand:
		return parseDispatch(args[1:], output)
	case ExecuteCommand:
		return parseExecute(args[1:], output)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(output, usageText)
		return nil, true, nil
	}
	if strings.HasPrefix(args[0], "-") {
		return parseDispatch(args, output)
	}
	return nil, false, usageError("unknown command %q: must be %q or %q", args[0], DispatchCommand, ExecuteCommand)
}

func parseDispatch(args []string, output io.Writer) (*Command, bool, error) {
	flagSet := flag.NewFlagSet("taskdispatch dispatch", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Usage:
  taskdispatch dispatch [options] -script FILE -nodes a,b

Options:
`)
		flagSet.PrintDefaults()
	}

	scriptFlag := flagSet.String("script", "", "Path to the HCL script defining the task graph.")
	nodesFlag := flagSet.String("nodes", "", "Comma separated names of the nodes to dispatch.")
	dispatcherFlag := flagSet.String("dispatcher", "Local", "Name of the dispatcher backend.")
	framesModeFlag := flagSet.String("frames-mode", "current", "Frames to dispatch. Options: 'current', 'script' or 'custom'.")
	frameRangeFlag := flagSet.String("frame-range", "", "Frame list for the 'custom' frames mode, e.g. '1-10,20-30x2'.")
	frameFlag := flagSet.Int("frame", 0, "Overrides the script's current frame.")
	jobNameFlag := flagSet.String("job-name", "", "Name of the job directory. Defaults to the script name.")
	jobsDirFlag := flagSet.String("jobs-dir", "", "Directory job directories are created in.")
	backgroundFlag := flagSet.Bool("background", false, "Run batches as background subprocesses.")
	envCommandFlag := flagSet.String("env-command", "", "Command prefixed to every background subprocess.")
	ignoreFlag := flagSet.Bool("ignore-script-load-errors", false, "Skip script blocks that fail to load.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	monitorFlag := flagSet.String("monitor-url", "", "socket.io URL job events are published to.")
	reportFlag := flagSet.String("report", "", "Path of a YAML job report written when the run ends.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := *scriptFlag
	if path == "" && flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if path == "" {
		slog.Debug("No script provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	setFlags := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	mode, err := frames.ParseMode(*framesModeFlag)
	if err != nil {
		return nil, false, usageError("invalid frames-mode: %v", err)
	}
	if setFlags["frame-range"] && !setFlags["frames-mode"] {
		mode = frames.CustomRange
	}

	logFormat, logLevel, err := logOptions(*logFormatFlag, *logLevelFlag)
	if err != nil {
		return nil, false, err
	}

	cfg := app.Config{
		ScriptPath:             path,
		Nodes:                  splitList(*nodesFlag),
		Dispatcher:             *dispatcherFlag,
		FramesMode:             mode,
		FrameRange:             *frameRangeFlag,
		JobName:                *jobNameFlag,
		JobsDir:                *jobsDirFlag,
		Background:             *backgroundFlag,
		EnvCommand:             *envCommandFlag,
		IgnoreScriptLoadErrors: *ignoreFlag,
		LogFormat:              logFormat,
		LogLevel:               logLevel,
		HealthcheckPort:        *healthPortFlag,
		MonitorURL:             *monitorFlag,
		ReportPath:             *reportFlag,
	}
	if setFlags["frame"] {
		frame := *frameFlag
		cfg.Frame = &frame
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("CLI parser finished successfully.", "config", config)
	return &Command{Name: DispatchCommand, Dispatch: config}, false, nil
}

func parseExecute(args []string, output io.Writer) (*Command, bool, error) {
	flagArgs, contextArgs, hasContext := splitContext(args)

	flagSet := flag.NewFlagSet("taskdispatch execute", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Usage:
  taskdispatch execute -script FILE -nodes a,b -frames LIST [-ignoreScriptLoadErrors] [-context NAME VALUE ...]

Options:
`)
		flagSet.PrintDefaults()
	}
	scriptFlag := flagSet.String("script", "", "Path to the HCL script defining the task graph.")
	nodesFlag := flagSet.String("nodes", "", "Comma separated names of the nodes to execute.")
	framesFlag := flagSet.String("frames", "", "Frame list to execute, e.g. '1-5'.")
	ignoreFlag := flagSet.Bool("ignoreScriptLoadErrors", false, "Skip script blocks that fail to load.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")

	if err := flagSet.Parse(flagArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() > 0 {
		return nil, false, usageError("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	if *framesFlag == "" {
		return nil, false, usageError("-frames is required")
	}
	fs, err := frames.Parse(*framesFlag)
	if err != nil {
		return nil, false, usageError("invalid -frames: %v", err)
	}

	c := taskctx.Context{}
	if hasContext {
		c, err = parseContext(contextArgs)
		if err != nil {
			return nil, false, err
		}
	}

	logFormat, logLevel, err := logOptions(*logFormatFlag, *logLevelFlag)
	if err != nil {
		return nil, false, err
	}

	config, err := app.NewExecuteConfig(app.ExecuteConfig{
		ScriptPath:             *scriptFlag,
		Nodes:                  splitList(*nodesFlag),
		Frames:                 fs,
		Context:                c,
		IgnoreScriptLoadErrors: *ignoreFlag,
		LogFormat:              logFormat,
		LogLevel:               logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return &Command{Name: ExecuteCommand, Execute: config}, false, nil
}

// splitContext separates the trailing "-context NAME VALUE ..." pairs from
// the flags before them.
func splitContext(args []string) (flagArgs, contextArgs []string, ok bool) {
	for i, arg := range args {
		if arg == "-context" || arg == "--context" {
			return args[:i], args[i+1:], true
		}
	}
	return args, nil, false
}

// parseContext reads NAME VALUE pairs where each VALUE is an HCL literal.
func parseContext(pairs []string) (taskctx.Context, error) {
	if len(pairs)%2 != 0 {
		return taskctx.Context{}, usageError("-context expects NAME VALUE pairs, got %d arguments", len(pairs))
	}
	values := make(map[string]cty.Value, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		v, err := taskctx.ParseValue(pairs[i+1])
		if err != nil {
			return taskctx.Context{}, usageError("invalid -context value for %q: %v", pairs[i], err)
		}
		values[pairs[i]] = v
	}
	return taskctx.New(values), nil
}

func logOptions(format, level string) (string, string, error) {
	logFormat := strings.ToLower(format)
	if logFormat != "text" && logFormat != "json" {
		return "", "", usageError("invalid log-format: must be 'text' or 'json'")
	}
	logLevel := strings.ToLower(level)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return "", "", usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	return logFormat, logLevel, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
