// Package reaper removes containers left behind by runs whose driving
// process has exited without cleaning up.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"

	"github.com/everydev1618/dockhost"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "@every 5m"

// Reaper finds orphaned runs and cleans them up.
type Reaper struct {
	binder *dockhost.Binder
	self   dockhost.RunID
	node   string
	alive  func(pid int) bool
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithSelf protects the given run from being reaped.
func WithSelf(id dockhost.RunID) Option {
	return func(r *Reaper) {
		r.self = id
	}
}

// WithNode limits reaping to runs created from node. It defaults to the
// binder's node.
func WithNode(node string) Option {
	return func(r *Reaper) {
		r.node = node
	}
}

// WithLiveness replaces the process liveness check.
func WithLiveness(alive func(pid int) bool) Option {
	return func(r *Reaper) {
		r.alive = alive
	}
}

// New creates a Reaper over binder. The current process's default run is
// never reaped.
func New(binder *dockhost.Binder, opts ...Option) *Reaper {
	r := &Reaper{
		binder: binder,
		self:   dockhost.DefaultRunID(),
		node:   binder.Node(),
		alive:  processAlive,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Orphans returns the runs created from this node whose identity is a
// process ID that no longer exists. Process IDs are only meaningful on the
// node that created the run, so runs from other nodes, and runs with
// non-numeric identities, are never considered orphaned.
func (r *Reaper) Orphans(ctx context.Context) ([]dockhost.RunID, error) {
	if r.node == "" {
		return nil, nil
	}
	runs, err := r.binder.NodeRuns(ctx, r.node)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var orphans []dockhost.RunID
	for _, run := range runs {
		if run == r.self {
			continue
		}
		pid, err := strconv.Atoi(string(run))
		if err != nil || pid <= 0 {
			continue
		}
		if !r.alive(pid) {
			orphans = append(orphans, run)
		}
	}
	return orphans, nil
}

// ReapOnce cleans up every orphaned run and returns how many containers
// were removed. A failing run does not stop the sweep.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	if err := r.binder.Ping(ctx); err != nil {
		return 0, fmt.Errorf("runtime unreachable: %w", err)
	}
	orphans, err := r.Orphans(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, run := range orphans {
		n, err := r.binder.Cleanup(ctx, run)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", run, err))
			continue
		}
		slog.Info("reaper: run reaped", "run", run, "removed", n)
	}
	return total, errors.Join(errs...)
}

// Start sweeps on schedule and blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.ReapOnce(ctx); err != nil {
			slog.Warn("reaper: sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	c.Start()
	slog.Info("reaper started", "schedule", schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("reaper stopped")
	return nil
}

// processAlive reports whether pid names a running process.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
