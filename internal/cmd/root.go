package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/offlinefirst/desktop-recorder/internal/buildinfo"
	"github.com/offlinefirst/desktop-recorder/pkg/config"
	"github.com/offlinefirst/desktop-recorder/pkg/logging"
)

type runFunc func(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error

type command struct {
	name        string
	usage       string
	description string
	configure   func(fs *flag.FlagSet)
	run         runFunc
	// standalone commands run without loading config or building a logger.
	standalone bool
}

// AppContext carries the loaded configuration and the root logger.
type AppContext struct {
	Config config.Config
	Logger *zap.Logger
}

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *globalOptions) bind(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to config file (default: ./config.yaml if present)")
	fs.StringVar(&o.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	fs.StringVar(&o.logFormat, "log-format", "", "Override log output format (auto, json, console)")
}

// RootCommand dispatches to the recorder subcommands.
type RootCommand struct {
	commands map[string]command
	stdout   io.Writer
	stderr   io.Writer
	globals  globalOptions
	appCtx   *AppContext
}

// NewRootCommand registers every subcommand.
func NewRootCommand() *RootCommand {
	rc := &RootCommand{
		commands: make(map[string]command),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, c := range []command{
		newRecordCommand(),
		newReplayCommand(),
		newInspectCommand(),
		newVersionCommand(),
	} {
		rc.commands[c.name] = c
	}
	return rc
}

// Execute parses global flags and runs the named subcommand. "help <name>"
// prints a single command's usage.
func (rc *RootCommand) Execute(args []string) error {
	globalFlags := rc.globalFlagSet()
	if err := globalFlags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			rc.printHelp()
			return nil
		}
		return &UsageError{Msg: err.Error()}
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		rc.printHelp()
		return nil
	}
	if rest[0] == "help" {
		return rc.help(rest[1:])
	}

	sub, ok := rc.commands[rest[0]]
	if !ok {
		fmt.Fprintf(rc.stderr, "Unknown command %q\n\n", rest[0])
		rc.printHelp()
		return &UsageError{Msg: fmt.Sprintf("unknown command %q", rest[0])}
	}

	fs := rc.commandFlagSet(sub)
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return &UsageError{Msg: err.Error()}
	}

	if sub.standalone {
		return sub.run(fs, fs.Args(), nil, rc.stdout, rc.stderr)
	}
	appCtx, err := rc.ensureAppContext()
	if err != nil {
		return err
	}
	defer func() { _ = appCtx.Logger.Sync() }()
	return sub.run(fs, fs.Args(), appCtx, rc.stdout, rc.stderr)
}

func (rc *RootCommand) globalFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("recorder", flag.ContinueOnError)
	fs.SetOutput(rc.stderr)
	fs.Usage = rc.printHelp
	rc.globals.bind(fs)
	return fs
}

func (rc *RootCommand) commandFlagSet(sub command) *flag.FlagSet {
	fs := flag.NewFlagSet(sub.name, flag.ContinueOnError)
	fs.SetOutput(rc.stderr)
	if sub.configure != nil {
		sub.configure(fs)
	}
	fs.Usage = func() { rc.printCommandUsage(sub, fs) }
	return fs
}

func (rc *RootCommand) help(args []string) error {
	if len(args) == 0 {
		rc.printHelp()
		return nil
	}
	sub, ok := rc.commands[args[0]]
	if !ok {
		return &UsageError{Msg: fmt.Sprintf("unknown command %q", args[0])}
	}
	rc.printCommandUsage(sub, rc.commandFlagSet(sub))
	return nil
}

func (rc *RootCommand) ensureAppContext() (*AppContext, error) {
	if rc.appCtx != nil {
		return rc.appCtx, nil
	}

	cfg, err := config.Load(rc.globals.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyLoggingOverrides(&cfg, rc.globals); err != nil {
		return nil, &UsageError{Msg: err.Error()}
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: rc.stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded",
		zap.String("source", cfg.Source),
		zap.String("runs_dir", cfg.Paths.RunsDir),
		zap.String("database", cfg.DatabasePath()),
	)

	rc.appCtx = &AppContext{Config: cfg, Logger: logger}
	return rc.appCtx, nil
}

func (rc *RootCommand) printHelp() {
	fmt.Fprintf(rc.stdout, "recorder - desktop interaction recorder\nVersion: %s\n\n", versionString())
	fmt.Fprintln(rc.stdout, "Usage: recorder [global flags] <command> [command flags] [args]")
	fmt.Fprintln(rc.stdout, "       recorder help <command>")
	fmt.Fprintln(rc.stdout, "\nGlobal flags:")
	fs := flag.NewFlagSet("recorder", flag.ContinueOnError)
	new(globalOptions).bind(fs)
	fs.VisitAll(func(f *flag.Flag) {
		fmt.Fprintf(rc.stdout, "  --%-12s %s\n", f.Name, f.Usage)
	})

	fmt.Fprintln(rc.stdout, "\nAvailable commands:")
	names := make([]string, 0, len(rc.commands))
	for name := range rc.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(rc.stdout, "  %-10s %s\n", name, rc.commands[name].description)
	}
}

func (rc *RootCommand) printCommandUsage(sub command, fs *flag.FlagSet) {
	line := strings.TrimSpace(fmt.Sprintf("recorder %s [flags] %s", sub.name, sub.usage))
	fmt.Fprintf(rc.stdout, "Usage: %s\n", line)
	if sub.description != "" {
		fmt.Fprintln(rc.stdout, sub.description)
	}
	fs.SetOutput(rc.stdout)
	fs.PrintDefaults()
	fs.SetOutput(rc.stderr)
}

func versionString() string {
	version := buildinfo.Version()
	if rev := buildinfo.Revision(); rev != "" {
		version += "+" + rev
	}
	return fmt.Sprintf("%s (%s/%s)", version, runtimeVersion(), runtimeGOOS())
}

var (
	runtimeVersion = runtime.Version
	runtimeGOOS    = func() string { return runtime.GOOS }
)
