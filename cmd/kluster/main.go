package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/jllopis/kluster/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

// app carries the resolved configuration and the process streams into commands.
type app struct {
	flags       globalFlags
	cfg         *config.Config
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
	code := a.execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs one command line and returns the exit status.
func (a *app) execute(ctx context.Context, argv []string) int {
	global, args, err := parseGlobalFlags(argv)
	a.flags = global
	if err != nil {
		return a.fail(NewInvalidArgumentError("flags", err.Error()))
	}
	if global.Help || len(args) == 0 {
		printUsage(a.stdout)
		return exitOK
	}

	switch args[0] {
	case "help":
		printUsage(a.stdout)
		return exitOK
	case "version":
		fmt.Fprintln(a.stdout, version)
		return exitOK
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		return a.fail(err)
	}
	a.cfg = cfg

	var cmdErr error
	switch args[0] {
	case "run":
		cmdErr = a.runRun(ctx, args[1:])
	case "centroids":
		cmdErr = a.runCentroids(ctx, args[1:])
	case "seed":
		cmdErr = a.runSeed(ctx, args[1:])
	default:
		cmdErr = NewInvalidArgumentError(args[0], fmt.Sprintf("unknown command %q", args[0]))
	}
	if cmdErr != nil {
		return a.fail(cmdErr)
	}
	return exitOK
}

func (a *app) fail(err error) int {
	toCLIError(err).PrintError(a.stderr, a.flags.JSON)
	return exitCode(err)
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --set")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

// parseInterspersed lets flags follow positional arguments ("run Drama --limit 5").
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (a *app) printJSON(value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(payload))
	return err
}

func ensureNoArgs(args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(strings.Join(args, " "), fmt.Sprintf("unexpected args: %v", args))
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `kluster: iterative k-means over points grouped by genre

Usage:
  kluster [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML or JSON config file
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  run [genre] [--limit N]   Cluster the points of a genre. Without a genre one line is read
                            from stdin; the "Please enter a genre: " prompt is shown only
                            when stdin is a terminal
  centroids                 List the current centroids
  seed <file>               Load a YAML dataset into the configured store
  version
  help`)
}
