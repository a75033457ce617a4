package dockhost

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/everydev1618/dockhost/internal/containertest"
)

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestConnection(t *testing.T, rt *containertest.Runtime, host string, opts ...RunOption) *Connection {
	t.Helper()
	run := NewRun(rt, append([]RunOption{WithRunID("4242")}, opts...)...)
	conn, err := run.Connection(host, "node:alpine")
	if err != nil {
		t.Fatalf("Connection() error = %v", err)
	}
	return conn
}

func TestNewConnectionRequiresHostAndImage(t *testing.T) {
	run := NewRun(containertest.New())

	if _, err := run.Connection("", "alpine"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("Connection(\"\", image) error = %v, want %v", err, ErrBadArgument)
	}
	if _, err := run.Connection("host", ""); !errors.Is(err, ErrBadArgument) {
		t.Errorf("Connection(host, \"\") error = %v, want %v", err, ErrBadArgument)
	}
}

func TestDefaultRunID(t *testing.T) {
	run := NewRun(containertest.New())
	if run.ID() != DefaultRunID() {
		t.Errorf("ID() = %q, want %q", run.ID(), DefaultRunID())
	}
	if run.ID() == "" {
		t.Error("DefaultRunID() should not be empty")
	}
}

func TestConnectIdempotent(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	id := conn.ContainerID()
	calls := rt.Calls("")

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if conn.ContainerID() != id {
		t.Errorf("ContainerID() changed from %q to %q", id, conn.ContainerID())
	}
	if got := rt.Calls(""); got != calls {
		t.Errorf("second Connect() made %d runtime calls, want 0", got-calls)
	}
	if !conn.Connected() {
		t.Error("Connected() = false after Connect")
	}
}

func TestConnectUnreachable(t *testing.T) {
	rt := containertest.New()
	rt.Unreachable = true
	conn := newTestConnection(t, rt, "foobar")

	err := conn.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailure) {
		t.Errorf("Connect() error = %v, want %v", err, ErrConnectionFailure)
	}
	if conn.Connected() {
		t.Error("Connected() = true after failed Connect")
	}
}

func TestConnectStoppedContainer(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	conn.Close()
	rt.Stop(conn.ContainerID())

	if err := conn.Connect(ctx); !errors.Is(err, ErrConnectionFailure) {
		t.Errorf("Connect() after stop error = %v, want %v", err, ErrConnectionFailure)
	}
}

func TestCloseKeepsContainer(t *testing.T) {
	rt := containertest.New()
	run := NewRun(rt, WithRunID("4242"))
	ctx := context.Background()

	first, _ := run.Connection("foobar", "node:alpine")
	if err := first.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	calls := rt.Calls("")
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := rt.Calls(""); got != calls {
		t.Errorf("Close() made %d runtime calls, want 0", got-calls)
	}
	if first.Connected() {
		t.Error("Connected() = true after Close")
	}

	second, _ := run.Connection("foobar", "node:alpine")
	if err := second.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if second.ContainerID() != first.ContainerID() {
		t.Errorf("next task got container %q, want %q", second.ContainerID(), first.ContainerID())
	}
	if len(rt.Containers()) != 1 {
		t.Errorf("containers = %d, want 1", len(rt.Containers()))
	}
}

func TestExecRejectsStdin(t *testing.T) {
	tests := []struct {
		name  string
		stdin []byte
	}{
		{"data", []byte("hello")},
		{"empty but present", []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := containertest.New()
			conn := newTestConnection(t, rt, "foobar")

			_, err := conn.Exec(context.Background(), "cat", tt.stdin)
			if !errors.Is(err, ErrBadArgument) {
				t.Errorf("Exec() error = %v, want %v", err, ErrBadArgument)
			}
			if n := rt.Calls(""); n != 0 {
				t.Errorf("Exec() with stdin made %d runtime calls, want 0", n)
			}
		})
	}
}

func TestExecTouchThenCat(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")
	ctx := context.Background()

	res, err := conn.Exec(ctx, "touch /bar", nil)
	if err != nil {
		t.Fatalf("Exec(touch) error = %v", err)
	}
	if res.ExitCode != 0 || len(res.Stdout) != 0 {
		t.Errorf("Exec(touch) = %d %q, want 0 and empty stdout", res.ExitCode, res.Stdout)
	}

	res, err = conn.Exec(ctx, "cat /bar", nil)
	if err != nil {
		t.Fatalf("Exec(cat) error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("Exec(cat) exit = %d, want 0", res.ExitCode)
	}
	if len(res.Stdout) != 0 {
		t.Errorf("Exec(cat) stdout = %q, want empty", res.Stdout)
	}
	if len(res.Stderr) != 0 {
		t.Errorf("Exec(cat) stderr = %q, want empty", res.Stderr)
	}
	if n := rt.Calls("run"); n != 1 {
		t.Errorf("containers created = %d, want 1", n)
	}
}

func TestExecSeparatesStreams(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")

	res, err := conn.Exec(context.Background(), "echo out && cat /missing", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
	if string(res.Stdout) != "out\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out\n")
	}
	if len(res.Stderr) == 0 {
		t.Error("Stderr should hold the cat error")
	}
}

func TestExecNonZeroExit(t *testing.T) {
	rt := containertest.New()
	conn := newTestConnection(t, rt, "foobar")

	res, err := conn.Exec(context.Background(), "exit 3", nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestExecMissingExitCodeIsSuccess(t *testing.T) {
	rt := containertest.New()
	rt.OmitExitCode = true
	conn := newTestConnection(t, rt, "foobar")

	res, err := conn.Exec(context.Background(), "false", nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 when the runtime reports none", res.ExitCode)
	}
}

func TestExecEvents(t *testing.T) {
	rt := containertest.New()
	rec := &recorder{}
	conn := newTestConnection(t, rt, "foobar", WithObserver(rec))

	if _, err := conn.Exec(context.Background(), "exit 2", nil); err != nil {
		t.Fatal(err)
	}

	types := rec.types()
	if len(types) != 2 || types[0] != EventConnect || types[1] != EventExec {
		t.Fatalf("events = %v, want [connect exec]", types)
	}
	e := rec.events[1]
	if e.Command != "exit 2" || e.ExitCode != 2 || e.Host != "foobar" || e.Run != "4242" {
		t.Errorf("exec event = %+v", e)
	}
	if e.ID == "" || e.Container == "" {
		t.Errorf("exec event missing id or container: %+v", e)
	}
}
