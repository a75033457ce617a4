// Package main provides the dockhost CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/container"
	"github.com/everydev1618/dockhost/internal/journal"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	os.Exit(dispatch(os.Args[1], os.Args[2:]))
}

// dispatch runs a command and returns the process exit code. Commands
// return instead of exiting so their deferred closes run.
func dispatch(cmd string, args []string) int {
	switch cmd {
	case "run":
		return runCmd(args)
	case "exec":
		return execCmd(args)
	case "put":
		return putCmd(args)
	case "fetch":
		return fetchCmd(args)
	case "cleanup":
		return cleanupCmd(args)
	case "reap":
		return reapCmd(args)
	case "journal":
		return journalCmd(args)
	case "version":
		fmt.Printf("dockhost %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`dockhost - containers as ephemeral hosts

Usage:
  dockhost <command> [options]

Commands:
  run       Run a play file against container-backed hosts
  exec      Run a shell command on a host
  put       Copy a local file onto a host
  fetch     Copy a file from a host
  cleanup   Remove every container of a run
  reap      Remove containers of runs whose process has exited
  journal   Inspect or prune the event journal
  version   Print version information
  help      Show this help message

Examples:
  dockhost run site.yaml
  dockhost exec --host web --image node:alpine "cat /etc/os-release"
  dockhost put --run ci-42 --host web ./app.conf /etc/app.conf
  dockhost cleanup --run ci-42
  dockhost journal events --run ci-42

Run 'dockhost <command> --help' for more information on a command.`)
}

// globalFlags are shared by every command that talks to the runtime.
type globalFlags struct {
	dockerHost string
	noPull     bool
	journal    string
	record     bool
	verbose    bool
}

func addGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.dockerHost, "docker-host", "", "Docker daemon address (default: DOCKER_HOST or local socket)")
	fs.BoolVar(&g.noPull, "no-pull", false, "Do not pull missing images")
	fs.StringVar(&g.journal, "journal", "", "Record events in this SQLite journal")
	fs.BoolVar(&g.record, "record", false, "Record events in the default journal under $DOCKHOST_HOME")
	fs.BoolVar(&g.verbose, "v", false, "Enable debug logging")
	return g
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openRuntime(g *globalFlags, pull bool) (container.Runtime, error) {
	opts := []container.DockerOption{container.WithPull(pull && !g.noPull)}
	if g.dockerHost != "" {
		opts = append(opts, container.WithHost(g.dockerHost))
	}
	return container.NewDocker(opts...)
}

// journalPath picks the journal selected by flags, falling back to path.
// It returns "" when no journal is requested.
func journalPath(g *globalFlags, path string) (string, error) {
	if g.journal != "" {
		return g.journal, nil
	}
	if path == "" && g.record {
		if err := dockhost.EnsureHome(); err != nil {
			return "", fmt.Errorf("create %s: %w", dockhost.Home(), err)
		}
		return dockhost.DefaultJournalPath(), nil
	}
	return path, nil
}

// openJournal opens the selected journal. It returns nil when no journal
// is requested.
func openJournal(g *globalFlags, path string) (*journal.Journal, error) {
	path, err := journalPath(g, path)
	if err != nil || path == "" {
		return nil, err
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	slog.Debug("journal opened", "path", path)
	return j, nil
}

// fail prints err and returns the generic failure exit code.
func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func runOptions(id string, j *journal.Journal) []dockhost.RunOption {
	var opts []dockhost.RunOption
	if id != "" {
		opts = append(opts, dockhost.WithRunID(dockhost.RunID(id)))
	}

	observers := []dockhost.Observer{dockhost.ObserverFunc(logEvent)}
	if j != nil {
		observers = append(observers, j)
	}
	return append(opts, dockhost.WithObserver(dockhost.Observers(observers...)))
}

func logEvent(e dockhost.Event) {
	attrs := []any{"run", e.Run, "host", e.Host, "duration", e.Duration}
	if e.Command != "" {
		attrs = append(attrs, "command", e.Command, "exit_code", e.ExitCode)
	}
	if e.Path != "" {
		attrs = append(attrs, "path", e.Path)
	}
	if e.Error != "" {
		slog.Debug("event: "+string(e.Type)+" failed", append(attrs, "error", e.Error)...)
		return
	}
	slog.Debug("event: "+string(e.Type), attrs...)
}
