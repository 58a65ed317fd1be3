// meritberry runs the token ledger, governance process and credential
// registry of a single deployment from the command line. Every invocation
// opens the node under --home, replays its log, runs one command and
// exits.
//
// Exit codes: 0 on success, 1 when a transaction is rejected or the node
// fails, 2 on a usage error.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError marks an error caused by how the command was invoked.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// options are the flags every command accepts.
type options struct {
	home     string
	config   string
	key      string
	logLevel string
	logJSON  bool
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.home, "home", ".", "node home directory")
	fs.StringVar(&o.config, "config", "", "config file (default <home>/config.yaml)")
	fs.StringVar(&o.key, "key", "", "caller key file (default <home>/key.json)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.BoolVar(&o.logJSON, "log-json", false, "write logs as JSON")
}

func (o *options) configPath() string {
	if o.config != "" {
		return o.config
	}
	return filepath.Join(o.home, "config.yaml")
}

func (o *options) keyPath() string {
	if o.key != "" {
		return o.key
	}
	return filepath.Join(o.home, "key.json")
}

// env is what a command runs against.
type env struct {
	opts   options
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// command is one subcommand. setup registers the command's own flags and
// returns the function that runs it once they are parsed.
type command struct {
	summary string
	setup   func(fs *pflag.FlagSet) func(env *env) error
}

var commands = map[string]command{}

func register(name, summary string, setup func(fs *pflag.FlagSet) func(env *env) error) {
	commands[name] = command{summary: summary, setup: setup}
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "error: unknown command %q\n\n", name)
		printUsage(stderr)
		return exitUsage
	}

	fs := pflag.NewFlagSet("meritberry "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	e := &env{stdout: stdout, stderr: stderr}
	e.opts.addFlags(fs)
	runCmd := cmd.setup(fs)

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument %q\n", fs.Arg(0))
		return exitUsage
	}

	logger, err := newLogger(stderr, e.opts.logLevel, e.opts.logJSON)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	e.logger = logger

	return exitCode(stderr, runCmd(e))
}

func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "error: %v\n", err)

	var usage *usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitError
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: meritberry <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-16s %s\n", name, commands[name].summary)
	}
	b.WriteString("\nRun 'meritberry <command> --help' for the flags of a command.\n")
	io.WriteString(w, b.String())
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requireFlags returns a usage error naming the first of names not set.
func requireFlags(fs *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		if !fs.Changed(name) {
			return usagef("--%s is required", name)
		}
	}
	return nil
}
