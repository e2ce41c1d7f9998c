package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

const clarificationKeyPrefix = "clarification"

// ClarificationStore persists the per-thread pending_clarification state
// (spec §6.5) across turns, keyed by (thread_id, turn_id). Grounded on the
// teacher's SessionData get/set-with-TTL pattern, retargeted to the
// PendingClarification payload.
type ClarificationStore struct {
	client *Client
	ttl    time.Duration
}

// NewClarificationStore wraps client with the default one-session TTL.
func NewClarificationStore(client *Client) *ClarificationStore {
	return &ClarificationStore{client: client, ttl: time.Hour}
}

func clarificationKey(threadID, turnID string) string {
	return fmt.Sprintf("%s:%s:%s", clarificationKeyPrefix, threadID, turnID)
}

// Save persists pending clarification state for a resumed turn.
func (s *ClarificationStore) Save(ctx context.Context, threadID, turnID string, state models.PendingClarification) error {
	return s.client.SetStruct(ctx, clarificationKey(threadID, turnID), state, s.ttl)
}

// Load retrieves pending clarification state, returning (nil, nil) on a
// clean miss.
func (s *ClarificationStore) Load(ctx context.Context, threadID, turnID string) (*models.PendingClarification, error) {
	var state models.PendingClarification
	if err := s.client.GetStruct(ctx, clarificationKey(threadID, turnID), &state); err != nil {
		if err == ErrMiss {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// Clear removes pending clarification state once a turn resolves.
func (s *ClarificationStore) Clear(ctx context.Context, threadID, turnID string) error {
	return s.client.Delete(ctx, clarificationKey(threadID, turnID))
}
