// Package progress implements the Progress Reporter (S2): an injectable sink
// for stage-start/stage-end events, matching the teacher's
// shared.EventPublisher shape but narrowed to the two operations spec §4.8
// names (step_start/step_end) instead of the teacher's per-event-type method
// set (PublishThinking/PublishSQLPreview/PublishResult/...).
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of one reported step.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
)

// Event is one step_start/step_end observation. Sequence is monotonically
// increasing per request, per spec §4.8.
type Event struct {
	Sequence   int
	Name       string
	Status     Status
	DurationMS int64
	IsParent   bool
}

// Reporter is the injected sink passed explicitly to every pipeline stage
// that emits events, per the "resist making the SSE queue a global" design
// note in spec §9.
type Reporter interface {
	StepStart(name string, isParent bool)
	StepEnd(name string, isParent bool)
}

// NoOp is used by tests and any non-streaming caller.
type NoOp struct{}

func (NoOp) StepStart(string, bool) {}
func (NoOp) StepEnd(string, bool)   {}

// Queue writes events into a per-request bounded channel that the HTTP edge
// drains into the SSE stream. If the channel is full, the event is dropped
// and a warning logged — step events are optional progress signals, not part
// of the contract, per spec §5's backpressure rule.
type Queue struct {
	events chan Event
	logger *slog.Logger

	mu      sync.Mutex
	seq     int
	started map[string]time.Time
}

// NewQueue creates a Queue with the given bounded capacity.
func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		events:  make(chan Event, capacity),
		logger:  logger,
		started: make(map[string]time.Time),
	}
}

// Events returns the channel the HTTP edge drains.
func (q *Queue) Events() <-chan Event { return q.events }

// Close closes the underlying channel. Call once, after the request's
// pipeline call has returned.
func (q *Queue) Close() { close(q.events) }

func (q *Queue) StepStart(name string, isParent bool) {
	q.mu.Lock()
	q.started[name] = time.Now()
	q.seq++
	ev := Event{Sequence: q.seq, Name: name, Status: StatusStarted, IsParent: isParent}
	q.mu.Unlock()
	q.send(ev)
}

func (q *Queue) StepEnd(name string, isParent bool) {
	q.mu.Lock()
	start, ok := q.started[name]
	delete(q.started, name)
	q.seq++
	ev := Event{Sequence: q.seq, Name: name, Status: StatusCompleted, IsParent: isParent}
	q.mu.Unlock()
	if ok {
		ev.DurationMS = time.Since(start).Milliseconds()
	}
	q.send(ev)
}

func (q *Queue) send(ev Event) {
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("progress queue full, dropping event", slog.String("step", ev.Name), slog.String("status", string(ev.Status)))
	}
}

// SendFinal blocks up to the given deadline to guarantee delivery of a
// terminal event, per spec §5: "the final response event must always be
// delivered; if the queue is full at response time, the HTTP edge waits with
// a deadline before closing the connection with an error."
func (q *Queue) SendFinal(ev Event, deadline time.Duration) bool {
	select {
	case q.events <- ev:
		return true
	case <-time.After(deadline):
		return false
	}
}
