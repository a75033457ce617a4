package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/config"
	"github.com/google/uuid"
)

// hostFlags select the host a one-shot command runs against.
type hostFlags struct {
	*globalFlags
	run   string
	host  string
	image string
	keep  bool
}

func addHostFlags(fs *flag.FlagSet) *hostFlags {
	h := &hostFlags{globalFlags: addGlobalFlags(fs)}
	fs.StringVar(&h.run, "run", os.Getenv(config.EnvRunID), "Run identity; containers of a named run are kept for later commands")
	fs.StringVar(&h.host, "host", "", "Logical hostname (required)")
	fs.StringVar(&h.image, "image", os.Getenv(config.EnvImage), "Image for the host container")
	fs.BoolVar(&h.keep, "keep", false, "Keep the container of an unnamed run")
	return h
}

// withConnection runs fn on a connection to the selected host. Unnamed
// runs get a generated identity and are cleaned up afterwards unless
// --keep is set.
func withConnection(h *hostFlags, fn func(ctx context.Context, conn *dockhost.Connection) error) error {
	setupLogging(h.verbose)
	if h.host == "" {
		return errors.New("--host is required")
	}
	if h.image == "" {
		return fmt.Errorf("--image is required (or set %s)", config.EnvImage)
	}

	ephemeral := h.run == ""
	if ephemeral {
		h.run = "oneshot-" + uuid.New().String()[:8]
	}

	rt, err := openRuntime(h.globalFlags, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	j, err := openJournal(h.globalFlags, "")
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	run := dockhost.NewRun(rt, runOptions(h.run, j)...)
	ctx := context.Background()
	if ephemeral && !h.keep {
		defer func() {
			if _, err := run.Cleanup(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cleanup failed: %v\n", err)
			}
		}()
	} else if ephemeral {
		fmt.Fprintf(os.Stderr, "Keeping run %s\n", h.run)
	}

	conn, err := run.Connection(h.host, h.image)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

func execCmd(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	h := addHostFlags(fs)
	fs.Usage = func() {
		fmt.Println(`Usage: dockhost exec --host <name> --image <image> [options] <command>

Run a command through "sh -c" on a container-backed host.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no command specified")
		fs.Usage()
		return 1
	}

	exitCode := 0
	err := withConnection(h, func(ctx context.Context, conn *dockhost.Connection) error {
		res, err := conn.Exec(ctx, fs.Arg(0), nil)
		if err != nil {
			return err
		}
		os.Stdout.Write(res.Stdout)
		os.Stderr.Write(res.Stderr)
		exitCode = res.ExitCode
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return exitCode
}

func putCmd(args []string) int {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	h := addHostFlags(fs)
	fs.Usage = func() {
		fmt.Println(`Usage: dockhost put --host <name> --image <image> [options] <local> <remote>

Copy a local file to an absolute path on a host.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return 1
	}

	err := withConnection(h, func(ctx context.Context, conn *dockhost.Connection) error {
		return conn.PutFile(ctx, fs.Arg(0), fs.Arg(1))
	})
	if err != nil {
		return fail(err)
	}
	return 0
}

func fetchCmd(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	h := addHostFlags(fs)
	fs.Usage = func() {
		fmt.Println(`Usage: dockhost fetch --host <name> --image <image> [options] <remote> <local>

Copy a file from an absolute path on a host. Symlinks are followed.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return 1
	}

	local, err := filepath.Abs(fs.Arg(1))
	if err != nil {
		return fail(err)
	}
	err = withConnection(h, func(ctx context.Context, conn *dockhost.Connection) error {
		return conn.FetchFile(ctx, fs.Arg(0), local)
	})
	if err != nil {
		return fail(err)
	}
	return 0
}
