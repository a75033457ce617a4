package dockhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/everydev1618/dockhost/container"
	"github.com/everydev1618/dockhost/internal/keylock"
)

// Binder maps (run, host) pairs onto containers. Container labels are the
// only record of ownership.
type Binder struct {
	runtime container.Runtime
	locks   *keylock.Map
	node    string
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithBinderNode overrides the node recorded on created containers.
// It defaults to container.LocalNode.
func WithBinderNode(node string) BinderOption {
	return func(b *Binder) {
		b.node = node
	}
}

// NewBinder creates a Binder. With serialize set, Resolve holds a lock per
// (run, host) for the whole list-then-create sequence, so concurrent first
// use inside this process creates one container. Other processes sharing a
// run identity are not covered.
func NewBinder(rt container.Runtime, serialize bool, opts ...BinderOption) *Binder {
	b := &Binder{runtime: rt, node: container.LocalNode()}
	for _, opt := range opts {
		opt(b)
	}
	if serialize {
		b.locks = keylock.New()
	}
	return b
}

// List returns the containers of a run, oldest first. An empty host
// matches every host of the run.
func (b *Binder) List(ctx context.Context, run RunID, host string) ([]container.Summary, error) {
	list, err := b.runtime.List(ctx, container.Labels(string(run), host))
	if err != nil {
		return nil, err
	}
	container.SortOldestFirst(list)
	return list, nil
}

// Resolve returns the container bound to host in run, creating an idle one
// from image when none exists. When duplicates exist the oldest wins, so
// every resolver settles on the same container.
func (b *Binder) Resolve(ctx context.Context, run RunID, host, image string) (string, error) {
	if b.locks != nil {
		unlock := b.locks.Lock(string(run) + "\x00" + host)
		defer unlock()
	}

	list, err := b.List(ctx, run, host)
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	if len(list) > 0 {
		if len(list) > 1 {
			slog.Warn("binding: multiple containers for host", "run", run, "host", host, "count", len(list))
		}
		return list[0].ID, nil
	}

	labels := container.Labels(string(run), host)
	labels[container.LabelNode] = b.node
	id, err := b.runtime.Run(ctx, container.RunConfig{
		Image:      image,
		Cmd:        container.IdleCommand,
		Labels:     labels,
		AutoRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("run container: %w", err)
	}
	slog.Info("binding: container created", "run", run, "host", host, "image", image, "container", shortID(id))
	return id, nil
}

// Node returns the node recorded on containers this Binder creates.
func (b *Binder) Node() string {
	return b.node
}

// Ping checks that the runtime answers.
func (b *Binder) Ping(ctx context.Context) error {
	return b.runtime.Ping(ctx)
}

// Runs returns the identities of every run that still owns containers.
func (b *Binder) Runs(ctx context.Context) ([]RunID, error) {
	return b.NodeRuns(ctx, "")
}

// NodeRuns returns the runs owning containers created from node. An empty
// node matches every run. Containers without a node label never match a
// non-empty node.
func (b *Binder) NodeRuns(ctx context.Context, node string) ([]RunID, error) {
	labels := container.ManagedLabels()
	if node != "" {
		labels[container.LabelNode] = node
	}
	list, err := b.runtime.List(ctx, labels)
	if err != nil {
		return nil, err
	}
	seen := make(map[RunID]bool)
	var runs []RunID
	for _, c := range list {
		id := RunID(c.Labels[container.LabelRun])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		runs = append(runs, id)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i] < runs[j] })
	return runs, nil
}

// Cleanup force-removes every container labeled with run, whatever its
// host. Containers that are already gone are skipped silently. Other
// failures are logged and joined into the returned error after all
// removals have been attempted.
func (b *Binder) Cleanup(ctx context.Context, run RunID) (int, error) {
	list, err := b.List(ctx, run, "")
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}

	removed := 0
	var errs []error
	for _, c := range list {
		err := b.runtime.Remove(ctx, c.ID, true)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, container.ErrNotFound):
			slog.Debug("cleanup: container already gone", "run", run, "container", shortID(c.ID))
		default:
			slog.Warn("cleanup: failed to remove container", "run", run, "container", shortID(c.ID), "error", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", shortID(c.ID), err))
		}
	}
	return removed, errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
