package dockhost

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventConnect EventType = "connect"
	EventExec    EventType = "exec"
	EventPut     EventType = "put"
	EventFetch   EventType = "fetch"
	EventCleanup EventType = "cleanup"
)

// Event records one completed operation.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Run       RunID         `json:"run"`
	Host      string        `json:"host,omitempty"`
	Container string        `json:"container,omitempty"`
	Command   string        `json:"command,omitempty"`
	Path      string        `json:"path,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Observer receives events. Observe is called synchronously from the
// goroutine that ran the operation and must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

func newEvent(typ EventType, run RunID, host string, started time.Time, err error) Event {
	e := Event{
		ID:        uuid.New().String()[:8],
		Type:      typ,
		Run:       run,
		Host:      host,
		Duration:  time.Since(started),
		Timestamp: started,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Observers returns an Observer that passes each event to every non-nil
// observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
