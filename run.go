package dockhost

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/everydev1618/dockhost/container"
)

// RunID identifies one orchestration run. Every container created during
// the run is labeled with it.
type RunID string

// DefaultRunID returns the current process ID, which is shared by every
// connection created in this process.
func DefaultRunID() RunID {
	return RunID(strconv.Itoa(os.Getpid()))
}

// TeardownRegistrar is implemented by orchestration engines that run
// callbacks once all hosts have finished.
type TeardownRegistrar interface {
	RegisterTeardown(name string, fn func(ctx context.Context) error)
}

// Run scopes connections and cleanup to one run identity.
type Run struct {
	id       RunID
	runtime  container.Runtime
	binder   *Binder
	observer Observer
	serial   bool
	node     string

	attachOnce sync.Once
}

// RunOption configures a Run.
type RunOption func(*Run)

// WithRunID overrides the default process-based run identity.
func WithRunID(id RunID) RunOption {
	return func(r *Run) {
		r.id = id
	}
}

// WithObserver sends connection and cleanup events to o.
func WithObserver(o Observer) RunOption {
	return func(r *Run) {
		r.observer = o
	}
}

// WithSerializedResolve controls whether container resolution holds a
// per-host lock around list-then-create. It is on by default. Turning it
// off leaves concurrent first use of one host best-effort.
func WithSerializedResolve(enabled bool) RunOption {
	return func(r *Run) {
		r.serial = enabled
	}
}

// WithNode overrides the machine identity recorded on the run's containers.
func WithNode(node string) RunOption {
	return func(r *Run) {
		r.node = node
	}
}

// NewRun creates a Run on top of a container runtime.
func NewRun(rt container.Runtime, opts ...RunOption) *Run {
	r := &Run{
		id:      DefaultRunID(),
		runtime: rt,
		serial:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	var bopts []BinderOption
	if r.node != "" {
		bopts = append(bopts, WithBinderNode(r.node))
	}
	r.binder = NewBinder(rt, r.serial, bopts...)
	return r
}

// ID returns the run identity.
func (r *Run) ID() RunID {
	return r.id
}

// Binder returns the run's container binder.
func (r *Run) Binder() *Binder {
	return r.binder
}

// Connection returns a new, not yet connected, connection for host.
func (r *Run) Connection(host, image string) (*Connection, error) {
	return newConnection(r, host, image)
}

// Cleanup force-removes every container of the run. Removal failures are
// logged and collected; they never stop the remaining removals.
func (r *Run) Cleanup(ctx context.Context) (int, error) {
	started := time.Now()
	removed, err := r.binder.Cleanup(ctx, r.id)

	e := newEvent(EventCleanup, r.id, "", started, err)
	e.ExitCode = removed
	r.emit(e)

	if err != nil {
		return removed, opError("cleanup", "", ErrConnectionFailure, err)
	}
	slog.Debug("cleanup: run finished", "run", r.id, "removed", removed)
	return removed, nil
}

// Attach registers the run's cleanup with an engine's teardown path.
// Repeated calls register nothing further.
func (r *Run) Attach(reg TeardownRegistrar) {
	r.attachOnce.Do(func() {
		reg.RegisterTeardown("dockhost-cleanup-"+string(r.id), func(ctx context.Context) error {
			_, err := r.Cleanup(ctx)
			return err
		})
	})
}

func (r *Run) emit(e Event) {
	if r.observer != nil {
		r.observer.Observe(e)
	}
}
