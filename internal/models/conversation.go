package models

import "time"

// SchemaArea is a coarse grouping of related tables, determined from the
// primary FROM-clause table of executed SQL.
type SchemaArea string

const (
	SchemaAreaSales      SchemaArea = "sales"
	SchemaAreaWarehouse  SchemaArea = "warehouse"
	SchemaAreaPurchasing SchemaArea = "purchasing"
	SchemaAreaApplication SchemaArea = "application"
)

// ConversationContext is per-thread state tracked by the Data Assistant (S3).
type ConversationContext struct {
	ThreadID               string
	CurrentSchemaArea      SchemaArea
	SchemaExplorationDepth int
	PendingClarification   *PendingClarification
}

// PendingClarification is the serialized resume state persisted when the
// coordinator emits a ClarificationRequest, per spec §6.5's
// {stage, template_id, extracted_so_far, confidences_so_far, raw_user_text, created_at} schema.
type PendingClarification struct {
	Stage            string `json:"stage"` // which stage should resume: "paramextract" or "querybuilder"
	TemplateID       string `json:"template_id"`
	ExtractedSoFar   map[string]string  `json:"extracted_so_far"`
	ConfidencesSoFar map[string]float64 `json:"confidences_so_far"`
	RawUserText      string    `json:"raw_user_text"`
	PendingDraftSQL  string    `json:"pending_draft_sql,omitempty"` // dynamic path: the SQLText awaiting accept/revise
	CreatedAt        time.Time `json:"created_at"`
}

// ParameterExtractionRequest is the input to C3.
type ParameterExtractionRequest struct {
	UserText   string
	Template   QueryTemplate
	PriorTurns []QueryContext
}

// QueryContext is context from a previous query, used on refinement turns.
type QueryContext struct {
	Query         string
	ResultSummary string
}

// ClarificationAlternative is one candidate offered alongside BestGuess.
type ClarificationAlternative struct {
	Value string
}

// ClarificationRequest is a terminal-for-the-turn response asking the user
// to confirm or disambiguate.
type ClarificationRequest struct {
	Question     string               `json:"question"`
	PendingState PendingClarification `json:"-"`
	BestGuess    string               `json:"best_guess,omitempty"`
	Alternatives []string             `json:"alternatives,omitempty"` // capped at ~4
	Confidence   float64              `json:"confidence"`
}

// SchemaSuggestion is a clickable follow-up pill.
type SchemaSuggestion struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// NL2SQLResponse is a terminal-for-the-turn successful (or failed) response,
// carried as the tool_call.result payload on the chat stream per spec §6.2.
type NL2SQLResponse struct {
	Columns           []string           `json:"columns"`
	HiddenColumns     []string           `json:"hidden_columns,omitempty"`
	Rows              []map[string]any   `json:"rows"`
	SQLExecuted       string             `json:"sql_executed"`
	QuerySource       QuerySource        `json:"query_source"`
	QueryConfidence   float64            `json:"query_confidence"`
	QuerySummary      string             `json:"query_summary,omitempty"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
	Suggestions       []SchemaSuggestion `json:"suggestions,omitempty"`
	ErrorSuggestions  []SchemaSuggestion `json:"error_suggestions,omitempty"`
	Error             string             `json:"error,omitempty"`
}
