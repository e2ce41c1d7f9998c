package telemetry_test

import (
	"context"
	"testing"

	"github.com/nl2sqlcore/pipeline/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestTier(t *testing.T) {
	tests := []struct {
		name        string
		confidence  float64
		confirmLow  float64
		confirmHigh float64
		want        string
	}{
		{"well above confirm_high auto-applies", 0.95, 0.60, 0.85, "auto_apply"},
		{"exactly confirm_high auto-applies", 0.85, 0.60, 0.85, "auto_apply"},
		{"between confirm_low and confirm_high needs confirmation", 0.70, 0.60, 0.85, "confirm"},
		{"exactly confirm_low needs confirmation", 0.60, 0.60, 0.85, "confirm"},
		{"below confirm_low clarifies", 0.40, 0.60, 0.85, "clarify"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, telemetry.Tier(tc.confidence, tc.confirmLow, tc.confirmHigh))
		})
	}
}

func TestNoop_DoesNotPanic(t *testing.T) {
	var em telemetry.Emitter = telemetry.Noop{}

	assert.NotPanics(t, func() {
		em.StageCompleted(context.Background(), telemetry.StageEvent{ThreadID: "t1", Stage: "template_search"})
		em.ClarificationFired(context.Background(), telemetry.ClarificationEvent{ThreadID: "t1", Stage: "paramextract"})
		em.ConfidenceTier(context.Background(), telemetry.ConfidenceTierEvent{ThreadID: "t1", Confidence: 0.9, Tier: "auto_apply"})
	})
}
