package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/everydev1618/dockhost"
	"github.com/everydev1618/dockhost/internal/containertest"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndEvents(t *testing.T) {
	j := openTest(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in := []dockhost.Event{
		{ID: "a1", Type: dockhost.EventConnect, Run: "42", Host: "web", Container: "abc", Timestamp: ts},
		{ID: "a2", Type: dockhost.EventExec, Run: "42", Host: "web", Command: "false", ExitCode: 1, Duration: 3 * time.Millisecond, Timestamp: ts.Add(time.Second)},
		{ID: "b1", Type: dockhost.EventConnect, Run: "43", Host: "db", Timestamp: ts},
	}
	for _, e := range in {
		if err := j.Record(e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := j.Events("42", 0)
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Events() returned %d events, want 2", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("Events() order = %s, %s, want a1, a2", got[0].ID, got[1].ID)
	}
	e := got[1]
	if e.Type != dockhost.EventExec || e.Command != "false" || e.ExitCode != 1 {
		t.Errorf("Events()[1] = %+v", e)
	}
	if e.Duration != 3*time.Millisecond {
		t.Errorf("Duration = %v, want 3ms", e.Duration)
	}
	if !e.Timestamp.Equal(ts.Add(time.Second)) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, ts.Add(time.Second))
	}

	limited, err := j.Events("42", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("Events(limit 1) returned %d events", len(limited))
	}
}

func TestRuns(t *testing.T) {
	j := openTest(t)
	now := time.Now()

	j.Observe(dockhost.Event{ID: "1", Type: dockhost.EventConnect, Run: "old", Host: "a", Timestamp: now})
	j.Observe(dockhost.Event{ID: "2", Type: dockhost.EventConnect, Run: "new", Host: "a", Timestamp: now})
	j.Observe(dockhost.Event{ID: "3", Type: dockhost.EventConnect, Run: "new", Host: "b", Error: "boom", Timestamp: now})
	j.Observe(dockhost.Event{ID: "4", Type: dockhost.EventCleanup, Run: "new", Timestamp: now})

	runs, err := j.Runs()
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Runs() returned %d runs, want 2", len(runs))
	}
	r := runs[0]
	if r.Run != "new" {
		t.Errorf("Runs()[0].Run = %q, want %q", r.Run, "new")
	}
	if r.Events != 3 || r.Failures != 1 || r.Hosts != 2 {
		t.Errorf("Runs()[0] = %+v, want 3 events, 1 failure, 2 hosts", r)
	}
}

func TestPrune(t *testing.T) {
	j := openTest(t)
	now := time.Now()

	j.Observe(dockhost.Event{ID: "1", Type: dockhost.EventExec, Run: "r", Timestamp: now.Add(-48 * time.Hour)})
	j.Observe(dockhost.Event{ID: "2", Type: dockhost.EventExec, Run: "r", Timestamp: now})

	n, err := j.Prune(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	left, _ := j.Events("r", 0)
	if len(left) != 1 || left[0].ID != "2" {
		t.Errorf("events after prune = %+v", left)
	}
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(dockhost.Event{ID: "x", Type: dockhost.EventPut, Run: "r", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j.Close()
	got, err := j.Events("r", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != dockhost.EventPut {
		t.Errorf("Events() after reopen = %+v", got)
	}
}

func TestObserveRun(t *testing.T) {
	j := openTest(t)
	rt := containertest.New()
	run := dockhost.NewRun(rt, dockhost.WithRunID("77"), dockhost.WithObserver(j))
	ctx := context.Background()

	conn, err := run.Connection("foobar", "node:alpine")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(ctx, "touch /bar", nil); err != nil {
		t.Fatal(err)
	}
	err = conn.FetchFile(ctx, "/missing", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, dockhost.ErrNotFound) {
		t.Fatalf("FetchFile() error = %v, want ErrNotFound", err)
	}
	if _, err := run.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}

	events, err := j.Events("77", 0)
	if err != nil {
		t.Fatal(err)
	}
	var types []dockhost.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []dockhost.EventType{dockhost.EventConnect, dockhost.EventExec, dockhost.EventFetch, dockhost.EventCleanup}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
	if events[2].Error == "" {
		t.Error("fetch event should record the error")
	}
	if events[3].ExitCode != 1 {
		t.Errorf("cleanup removed = %d, want 1", events[3].ExitCode)
	}
}
