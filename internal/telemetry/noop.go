package telemetry

import "context"

// Emitter is the subset of Publisher's surface the coordinator depends on,
// so tests and EnableInstrumentation=false deployments can swap in Noop
// without carrying a live NATS connection.
type Emitter interface {
	StageCompleted(ctx context.Context, ev StageEvent)
	ClarificationFired(ctx context.Context, ev ClarificationEvent)
	ConfidenceTier(ctx context.Context, ev ConfidenceTierEvent)
}

// Noop discards every event. Used when Pipeline.EnableInstrumentation is
// false or in tests that don't care about telemetry side effects.
type Noop struct{}

func (Noop) StageCompleted(context.Context, StageEvent)            {}
func (Noop) ClarificationFired(context.Context, ClarificationEvent) {}
func (Noop) ConfidenceTier(context.Context, ConfidenceTierEvent)    {}

var _ Emitter = Noop{}
var _ Emitter = (*Publisher)(nil)
