package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/config"
	"github.com/everydev1618/dockhost/internal/reaper"
)

func cleanupCmd(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	g := addGlobalFlags(fs)
	runID := fs.String("run", os.Getenv(config.EnvRunID), "Run identity to clean up (required)")
	fs.Usage = func() {
		fmt.Println(`Usage: dockhost cleanup --run <id>

Force-remove every container labeled with the run.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *runID == "" {
		fmt.Fprintln(os.Stderr, "Error: --run is required")
		fs.Usage()
		return 1
	}
	setupLogging(g.verbose)

	rt, err := openRuntime(g, false)
	if err != nil {
		return fail(err)
	}
	defer rt.Close()
	j, err := openJournal(g, "")
	if err != nil {
		return fail(err)
	}
	if j != nil {
		defer j.Close()
	}

	run := dockhost.NewRun(rt, runOptions(*runID, j)...)
	n, err := run.Cleanup(context.Background())
	fmt.Printf("removed %d container(s) of run %s\n", n, run.ID())
	if err != nil {
		return fail(err)
	}
	return 0
}

func reapCmd(args []string) int {
	fs := flag.NewFlagSet("reap", flag.ExitOnError)
	g := addGlobalFlags(fs)
	schedule := fs.String("schedule", "", "Keep running and sweep on this cron schedule (e.g. \"@every 5m\")")
	list := fs.Bool("list", false, "Only list orphaned runs")
	fs.Usage = func() {
		fmt.Println(`Usage: dockhost reap [options]

Remove containers of runs started from this machine whose process is no
longer alive. Only runs identified by a process ID are considered.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	setupLogging(g.verbose)

	rt, err := openRuntime(g, false)
	if err != nil {
		return fail(err)
	}
	defer rt.Close()

	r := reaper.New(dockhost.NewBinder(rt, false))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *list {
		orphans, err := r.Orphans(ctx)
		if err != nil {
			return fail(err)
		}
		for _, run := range orphans {
			fmt.Println(run)
		}
		return 0
	}

	if *schedule != "" {
		if err := r.Start(ctx, *schedule); err != nil {
			return fail(err)
		}
		return 0
	}

	n, err := r.ReapOnce(ctx)
	fmt.Printf("removed %d container(s)\n", n)
	if err != nil {
		return fail(err)
	}
	return 0
}
