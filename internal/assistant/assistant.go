package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nl2sqlcore/pipeline/internal/llm"
	"github.com/nl2sqlcore/pipeline/internal/models"
)

// IntentKind classifies a turn as a data question or general chat.
type IntentKind string

const (
	IntentData IntentKind = "data"
	IntentChat IntentKind = "chat"
)

// Assistant is the Data Assistant (S3)'s intent classifier, per spec §4.9:
// it wraps the intent-classifying LLM call and holds no per-thread state
// itself (the ConversationContext is loaded and saved by the coordinator
// through cache.ConversationStore). It never executes SQL itself — all
// query work is delegated to the Pipeline Coordinator.
type Assistant struct {
	llm    llm.Capability
	logger *slog.Logger
}

// New builds an Assistant.
func New(capability llm.Capability, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{llm: capability, logger: logger.With(slog.String("component", "assistant"))}
}

// ClassifyIntent makes a single LLM call to decide whether userText is a
// data question or a general chat turn.
func (a *Assistant) ClassifyIntent(ctx context.Context, userText, threadID string) (IntentKind, error) {
	prompt := "Classify the following message as either \"data\" (a question that requires querying business " +
		"data) or \"chat\" (general conversation, greetings, or meta questions). Respond with a single JSON " +
		"object: {\"kind\": \"data\"|\"chat\"}.\n\nMessage: " + userText

	raw, err := a.llm.Run(ctx, prompt, threadID)
	if err != nil {
		return IntentData, fmt.Errorf("assistant: classify intent: %w", err)
	}

	var parsed struct {
		Kind string `json:"kind"`
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end != -1 && end > start {
		_ = json.Unmarshal([]byte(raw[start:end+1]), &parsed)
	}

	if parsed.Kind == string(IntentChat) {
		return IntentChat, nil
	}
	return IntentData, nil
}

// UpdateContext parses the executed SQL's FROM clause and updates the
// schema-area exploration state: the depth counter increments when the new
// turn's area matches the previous one, and resets to 1 otherwise. Per spec
// §8's invariant, this only happens on successful data turns — callers must
// not invoke UpdateContext for clarification turns or chat turns.
func UpdateContext(cc *models.ConversationContext, executedSQL string) {
	area, ok := DetectSchemaArea(executedSQL)
	if !ok {
		return
	}
	if area == cc.CurrentSchemaArea {
		cc.SchemaExplorationDepth++
	} else {
		cc.CurrentSchemaArea = area
		cc.SchemaExplorationDepth = 1
	}
}

// EnrichResponse attaches schema-area suggestion pills to resp, choosing
// the success or error suggestion set depending on whether resp carries an
// error. tablesReferenced is the draft's attempted table list, used only on
// the error path to guess a relevant area when no query ever executed.
func EnrichResponse(resp *models.NL2SQLResponse, cc *models.ConversationContext, tablesReferenced []string) {
	if resp.Error != "" {
		resp.ErrorSuggestions = ErrorSuggestions(tablesReferenced)
		return
	}
	resp.Suggestions = Suggestions(cc.CurrentSchemaArea, cc.SchemaExplorationDepth)
}
