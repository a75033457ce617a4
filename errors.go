package dockhost

import (
	"errors"
	"fmt"

	"github.com/everydev1618/dockhost/container"
	"github.com/everydev1618/dockhost/internal/tarball"
)

// Error kinds. Every error returned by a Connection or Run matches exactly
// one of them under errors.Is.
var (
	// ErrBadArgument is returned for requests the transport cannot serve,
	// such as relative paths or stdin data.
	ErrBadArgument = errors.New("bad argument")

	// ErrNotFound is returned when a local file or a remote path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConnectionFailure is returned when the runtime or the container
	// misbehaves: unreachable daemon, failed ownership discovery, malformed
	// archives, symlink loops and rejected uploads.
	ErrConnectionFailure = errors.New("connection failure")
)

// OpError wraps a failure with the operation and host it happened on.
type OpError struct {
	Op   string
	Host string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	prefix := e.Op
	if e.Host != "" {
		prefix += " " + e.Host
	}
	return prefix + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

func opError(op, host string, kind, err error) error {
	return &OpError{Op: op, Host: host, Kind: kind, Err: err}
}

func opErrorf(op, host string, kind error, format string, args ...any) error {
	return opError(op, host, kind, fmt.Errorf(format, args...))
}

// classify maps lower-level errors onto an error kind.
func classify(err error) error {
	switch {
	case errors.Is(err, container.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, tarball.ErrDirectory):
		return ErrBadArgument
	default:
		return ErrConnectionFailure
	}
}
