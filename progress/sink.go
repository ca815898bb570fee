// Package progress implements the scheduler's progress-reporting surface:
// a non-blocking Sink receiving node lifecycle events, and the concrete
// Redis / webhook sinks adapted from the teacher's run-completion
// adapters (adapter/adapter.go and its redis/webhook implementations),
// generalized from "one event per finished run" to "one event per node
// transition."
package progress

import "github.com/justapithecus/forge/types"

// EventKind classifies one node lifecycle transition.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one node lifecycle notification delivered to a Sink.
type Event struct {
	Kind        EventKind
	Node        types.NodeID
	Description string
	Err         error
}

// Sink receives node lifecycle events. Publish must not block the
// scheduler: an implementation that needs to do slow I/O (network, disk)
// does it on its own goroutine and drops events rather than apply
// backpressure, matching spec's "the sink must be non-blocking from the
// scheduler's perspective."
type Sink interface {
	Publish(e Event)
	Close() error
}

// Noop discards every event. The default Sink when none is configured.
type Noop struct{}

func (Noop) Publish(Event) {}
func (Noop) Close() error  { return nil }

// Multi fans Publish out to every configured Sink, skipping nil entries.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// wirePayload is the JSON shape both RedisSink and WebhookSink publish;
// factored out since it is identical for both transports.
type wirePayload struct {
	Kind        string `json:"kind"`
	Node        string `json:"node"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

func payloadFor(e Event) wirePayload {
	return wirePayload{
		Kind:        string(e.Kind),
		Node:        e.Node.String(),
		Description: e.Description,
		Error:       errString(e.Err),
	}
}
