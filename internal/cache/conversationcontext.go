package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

const conversationKeyPrefix = "conversation"

// ConversationStore persists per-thread models.ConversationContext across
// turns. Grounded on the teacher's SessionCache (internal/cache/session.go),
// which tracked conversation turns and query context for the agent chat
// surface; narrowed here to the single struct S3 needs (current schema area,
// exploration depth, pending clarification) rather than a full turn history,
// since thread/message history is an external collaborator per spec §1.
type ConversationStore struct {
	client *Client
	ttl    time.Duration
}

// NewConversationStore wraps client with a 24-hour default TTL, matching the
// teacher's session TTL convention.
func NewConversationStore(client *Client) *ConversationStore {
	return &ConversationStore{client: client, ttl: 24 * time.Hour}
}

func conversationKey(threadID string) string {
	return fmt.Sprintf("%s:%s", conversationKeyPrefix, threadID)
}

// Get returns the stored context for threadID, or a fresh zero-value context
// if none exists yet.
func (s *ConversationStore) Get(ctx context.Context, threadID string) (*models.ConversationContext, error) {
	var cc models.ConversationContext
	if err := s.client.GetStruct(ctx, conversationKey(threadID), &cc); err != nil {
		if err == ErrMiss {
			return &models.ConversationContext{ThreadID: threadID}, nil
		}
		return nil, err
	}
	return &cc, nil
}

// Save persists cc, refreshing its TTL.
func (s *ConversationStore) Save(ctx context.Context, cc *models.ConversationContext) error {
	return s.client.SetStruct(ctx, conversationKey(cc.ThreadID), cc, s.ttl)
}
