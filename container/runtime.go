package container

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
)

const (
	// LabelRun carries the run identity a container belongs to.
	LabelRun = "dockhost.run.id"
	// LabelHost carries the logical hostname a container backs.
	LabelHost = "dockhost.host.name"
	// LabelNode carries the machine that created the container for its run.
	LabelNode = "dockhost.run.node"
	// LabelManagedBy marks every container created by dockhost.
	LabelManagedBy = "dockhost.managed-by"

	managedByValue = "dockhost"
)

// IdleCommand keeps a container alive without doing any work.
var IdleCommand = []string{"sh", "-c", "while :; do sleep 1; done"}

// Standard errors
var (
	// ErrNotFound is returned when a container, exec or path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the runtime cannot be reached.
	ErrUnavailable = errors.New("container runtime not available")
)

// Runtime is the set of container runtime capabilities dockhost depends on.
// Implementations must be safe for concurrent use.
type Runtime interface {
	// Ping checks that the runtime is reachable.
	Ping(ctx context.Context) error

	// List returns containers whose labels match every entry of labels.
	List(ctx context.Context, labels map[string]string) ([]Summary, error)

	// Run creates and starts a detached container and returns its ID.
	Run(ctx context.Context, cfg RunConfig) (string, error)

	// Inspect reloads the state of a container.
	Inspect(ctx context.Context, id string) (*State, error)

	// ExecCreate prepares a command inside a container and returns the exec ID.
	ExecCreate(ctx context.Context, id string, cmd []string) (string, error)

	// ExecStart runs an exec to completion, copying stdout and stderr
	// separately into the given writers.
	ExecStart(ctx context.Context, execID string, stdout, stderr io.Writer) error

	// ExecInspect reports the state of a finished exec.
	ExecInspect(ctx context.Context, execID string) (*ExecState, error)

	// PutArchive extracts a tar stream into dir inside the container.
	PutArchive(ctx context.Context, id, dir string, content io.Reader) error

	// GetArchive returns a tar stream holding path from inside the container.
	GetArchive(ctx context.Context, id, path string) (io.ReadCloser, error)

	// Remove deletes a container. With force set, a running container is killed first.
	Remove(ctx context.Context, id string, force bool) error

	// Close releases the runtime client.
	Close() error
}

// Summary describes a listed container.
type Summary struct {
	ID      string
	Image   string
	Labels  map[string]string
	Created int64
	State   string
}

// RunConfig holds configuration for a new container.
type RunConfig struct {
	Image      string
	Cmd        []string
	Labels     map[string]string
	AutoRemove bool
}

// State holds the reloaded state of a container.
type State struct {
	ID      string
	Running bool
	Status  string
}

// ExecState holds the state of an exec instance.
// ExitCode is nil when the runtime did not report one.
type ExecState struct {
	Running  bool
	ExitCode *int
}

// Labels returns the label set identifying a run, optionally narrowed to one host.
func Labels(run, host string) map[string]string {
	labels := map[string]string{
		LabelManagedBy: managedByValue,
		LabelRun:       run,
	}
	if host != "" {
		labels[LabelHost] = host
	}
	return labels
}

// LocalNode names the machine this process runs on. Inside a container
// this is the container's hostname, so drivers in separate PID namespaces
// get distinct nodes.
func LocalNode() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// ManagedLabels returns the label set matching every dockhost container.
func ManagedLabels() map[string]string {
	return map[string]string{LabelManagedBy: managedByValue}
}

// SortOldestFirst orders containers by creation time, then by ID.
func SortOldestFirst(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Created != list[j].Created {
			return list[i].Created < list[j].Created
		}
		return list[i].ID < list[j].ID
	})
}
