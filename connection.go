package dockhost

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Connection is one host's view of its backing container. It resolves the
// container on first use and keeps the binding for the rest of its life.
// A Connection belongs to a single host and is not safe for concurrent use.
type Connection struct {
	run   *Run
	host  string
	image string

	containerID string
	connected   bool
}

func newConnection(run *Run, host, image string) (*Connection, error) {
	if host == "" {
		return nil, opErrorf("connect", host, ErrBadArgument, "host is required")
	}
	if image == "" {
		return nil, opErrorf("connect", host, ErrBadArgument, "image is required")
	}
	return &Connection{run: run, host: host, image: image}, nil
}

// Host returns the logical hostname.
func (c *Connection) Host() string { return c.host }

// Image returns the requested image.
func (c *Connection) Image() string { return c.image }

// ContainerID returns the bound container, or "" before the first Connect.
func (c *Connection) ContainerID() string { return c.containerID }

// Connected reports whether the connection is active.
func (c *Connection) Connected() bool { return c.connected }

// Connect binds the connection to its container, creating the container on
// first use, and checks that it is running. Calling Connect on an active
// connection does nothing.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	started := time.Now()
	err := c.connect(ctx)
	e := newEvent(EventConnect, c.run.id, c.host, started, err)
	e.Container = c.containerID
	c.run.emit(e)
	return err
}

func (c *Connection) connect(ctx context.Context) error {
	if c.containerID == "" {
		id, err := c.run.binder.Resolve(ctx, c.run.id, c.host, c.image)
		if err != nil {
			return opError("connect", c.host, ErrConnectionFailure, err)
		}
		c.containerID = id
	}

	state, err := c.run.runtime.Inspect(ctx, c.containerID)
	if err != nil {
		return opError("connect", c.host, ErrConnectionFailure, err)
	}
	if !state.Running {
		return opErrorf("connect", c.host, ErrConnectionFailure, "container %s is %s", shortID(c.containerID), state.Status)
	}

	c.connected = true
	slog.Debug("connection: connected", "run", c.run.id, "host", c.host, "container", shortID(c.containerID))
	return nil
}

// Exec runs command through `sh -c` in the container. Stdin data is not
// supported: any non-nil stdin fails before the runtime is contacted.
func (c *Connection) Exec(ctx context.Context, command string, stdin []byte) (*ExecResult, error) {
	if stdin != nil {
		return nil, opErrorf("exec", c.host, ErrBadArgument, "stdin data is not supported")
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := execute(ctx, c.run.runtime, c.containerID, command)
	if err != nil {
		err = opError("exec", c.host, ErrConnectionFailure, err)
	}

	e := newEvent(EventExec, c.run.id, c.host, started, err)
	e.Container = c.containerID
	e.Command = command
	if res != nil {
		e.ExitCode = res.ExitCode
	}
	c.run.emit(e)

	if err != nil {
		return nil, err
	}
	return res, nil
}

// Close marks the connection inactive. The container is left running for
// later connections of the same run and is removed by Run.Cleanup.
func (c *Connection) Close() error {
	c.connected = false
	return nil
}

// wrapKind attaches op and host to err unless it already carries a kind.
func (c *Connection) wrapKind(op string, err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return opError(op, c.host, classify(err), err)
}
