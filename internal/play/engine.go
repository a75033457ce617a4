// Package play drives a config.Play: every host runs its tasks in order in
// its own goroutine, and registered teardown hooks run once all hosts are
// done.
package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/config"
	"golang.org/x/sync/errgroup"
)

// ErrTaskFailed is returned when a raw command exits with a non-zero code.
var ErrTaskFailed = errors.New("task failed")

// TaskResult is the outcome of one task on one host.
type TaskResult struct {
	Task     string
	Exec     *dockhost.ExecResult
	Err      error
	Duration time.Duration
}

// HostResult collects the task results of one host. Tasks after the first
// failure are not run.
type HostResult struct {
	Host  string
	Image string
	Tasks []TaskResult
	Err   error
}

// Report is the outcome of a whole play.
type Report struct {
	Run   dockhost.RunID
	Hosts []HostResult
}

// Failed reports whether any host failed.
func (r *Report) Failed() bool {
	for _, h := range r.Hosts {
		if h.Err != nil {
			return true
		}
	}
	return false
}

type teardown struct {
	name string
	fn   func(ctx context.Context) error
}

// Engine runs plays. It implements dockhost.TeardownRegistrar.
type Engine struct {
	run         *dockhost.Run
	parallelism int

	mu        sync.Mutex
	teardowns []teardown
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism caps how many hosts run at once. Zero or less means no cap.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		e.parallelism = n
	}
}

// New creates an Engine for run. The run's cleanup is attached as a
// teardown hook.
func New(run *dockhost.Run, opts ...Option) *Engine {
	e := &Engine{run: run}
	for _, opt := range opts {
		opt(e)
	}
	run.Attach(e)
	return e
}

// RegisterTeardown adds a hook that runs after every host has finished.
// Hooks run in registration order.
func (e *Engine) RegisterTeardown(name string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardowns = append(e.teardowns, teardown{name: name, fn: fn})
}

// Execute runs p on every host, then runs the teardown hooks. The report
// is returned even when hosts fail; the error joins host and teardown
// failures.
func (e *Engine) Execute(ctx context.Context, p *config.Play) (*Report, error) {
	names := p.HostNames()
	report := &Report{Run: e.run.ID(), Hosts: make([]HostResult, len(names))}

	var g errgroup.Group
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i, name := range names {
		g.Go(func() error {
			report.Hosts[i] = e.runHost(ctx, p, name)
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, h := range report.Hosts {
		if h.Err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", h.Host, h.Err))
		}
	}
	if err := e.Teardown(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// Teardown runs and clears every registered hook. A failing hook does not
// stop the others.
func (e *Engine) Teardown(ctx context.Context) error {
	e.mu.Lock()
	hooks := e.teardowns
	e.teardowns = nil
	e.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			slog.Warn("play: teardown failed", "name", h.name, "error", err)
			errs = append(errs, fmt.Errorf("teardown %s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) runHost(ctx context.Context, p *config.Play, host string) HostResult {
	res := HostResult{Host: host}

	conn, err := e.run.Connection(host, p.ImageFor(host))
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()
	res.Host, res.Image = conn.Host(), conn.Image()

	for _, task := range p.Tasks {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		started := time.Now()
		tr := TaskResult{Task: task.Describe()}
		switch {
		case task.Put != nil:
			tr.Err = conn.PutFile(ctx, p.LocalPath(task.Put.Src, host), task.Put.Dest)
		case task.Fetch != nil:
			tr.Err = conn.FetchFile(ctx, task.Fetch.Src, p.LocalPath(task.Fetch.Dest, host))
		default:
			tr.Exec, tr.Err = conn.Exec(ctx, task.Raw, nil)
			if tr.Err == nil && tr.Exec.ExitCode != 0 {
				tr.Err = fmt.Errorf("%w: exit code %d", ErrTaskFailed, tr.Exec.ExitCode)
			}
		}
		tr.Duration = time.Since(started)
		res.Tasks = append(res.Tasks, tr)

		if tr.Err != nil {
			slog.Warn("play: task failed", "host", host, "task", tr.Task, "error", tr.Err)
			res.Err = tr.Err
			return res
		}
		slog.Debug("play: task ok", "host", host, "task", tr.Task, "duration", tr.Duration)
	}
	return res
}
