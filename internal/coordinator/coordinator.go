// Package coordinator implements the Pipeline Coordinator (C1): a strictly
// sequential, plain-control-flow function wiring Template Search, Parameter
// Extraction/Validation, Query Building/Validation, and execution, per spec
// §4.1.
//
// Per the Design Note in spec §9, this intentionally does NOT mirror the
// teacher's message-passing agent graph (internal/agents/supervisor.go's
// Register/dispatch model with wrapper message types carrying a `source`
// field) — that flavor is redundant for a linear pipeline with one branch.
// Dependencies are instead bundled into an immutable Dependencies struct,
// matching the "construct once at startup" design note, and process_query
// is one straight-line function with if/else routing.
package coordinator

import (
	"context"
	"log/slog"

	"github.com/nl2sqlcore/pipeline/internal/assistant"
	"github.com/nl2sqlcore/pipeline/internal/cache"
	"github.com/nl2sqlcore/pipeline/internal/llm"
	"github.com/nl2sqlcore/pipeline/internal/models"
	"github.com/nl2sqlcore/pipeline/internal/paramextract"
	"github.com/nl2sqlcore/pipeline/internal/paramvalidate"
	"github.com/nl2sqlcore/pipeline/internal/pipelineerr"
	"github.com/nl2sqlcore/pipeline/internal/progress"
	"github.com/nl2sqlcore/pipeline/internal/querybuilder"
	"github.com/nl2sqlcore/pipeline/internal/queryvalidate"
	"github.com/nl2sqlcore/pipeline/internal/sqlstore"
	"github.com/nl2sqlcore/pipeline/internal/telemetry"
	"github.com/nl2sqlcore/pipeline/internal/templatesearch"
)

// Thresholds bundles the tunables from spec §6.4 that drive routing and
// gating decisions.
type Thresholds struct {
	TemplateMatch     float64 // handled inside templatesearch.Searcher itself
	DynamicConfidence float64
	ConfirmLow        float64
	ConfirmHigh       float64
	MaxDisplayColumns int
}

// Executor is the narrow slice of sqlstore.Executor the coordinator depends
// on, declared here rather than imported as a concrete type so tests can
// substitute a fake instead of standing up a real warehouse connection.
type Executor interface {
	Execute(ctx context.Context, sql string, sessionID, threadID string) (*sqlstore.Result, error)
	Ping(ctx context.Context) error
}

// Dependencies bundles every injected collaborator process_query needs,
// constructed once at startup and passed by value into every call, per
// spec §9's "no module-level I/O, no singletons" design note.
type Dependencies struct {
	TemplateSearch *templatesearch.Searcher
	ParamExtract   *paramextract.Extractor
	QueryBuild     *querybuilder.Builder
	Executor       Executor
	AllowedTables  queryvalidate.AllowedTables
	Clarification  *cache.ClarificationStore
	Conversation   *cache.ConversationStore
	LLM            llm.Capability
	Thresholds     Thresholds
	Logger         *slog.Logger
	Telemetry      telemetry.Emitter

	// TemplateByID resolves a template by ID for clarification resumption,
	// since the pending state only stores the ID, not the full template.
	TemplateByID func(id string) (models.QueryTemplate, bool)
}

// Request is the input to process_query.
type Request struct {
	UserText     string
	ThreadID     string
	TurnID       string
	SessionID    string
	IsRefinement bool
	Resume       *models.PendingClarification
}

// Outcome is the tagged-union result of process_query: exactly one of
// Response or Clarification is set.
type Outcome struct {
	Response     *models.NL2SQLResponse
	Clarification *models.ClarificationRequest
}

// ProcessQuery is the Pipeline Coordinator's public contract (C1): it
// returns either a terminal NL2SQLResponse or a ClarificationRequest, never
// both. reporter brackets every stage with step_start/step_end events; pass
// progress.NoOp{} from tests and non-streaming callers.
func ProcessQuery(ctx context.Context, req Request, deps Dependencies, reporter progress.Reporter) (Outcome, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reporter = withTelemetry(ctx, reporter, deps, req)

	if req.Resume != nil {
		outcome, err := resume(ctx, req, deps, reporter, logger)
		if err != nil {
			return outcome, err
		}
		emitTurnTelemetry(ctx, deps, req, outcome)
		return outcome, nil
	}

	reporter.StepStart("template_search", true)
	match, matched, err := deps.TemplateSearch.Best(ctx, req.UserText)
	reporter.StepEnd("template_search", true)
	if err != nil {
		// KindTemplateMatchMiss: per spec §7, a C2 failure re-routes to the
		// dynamic path rather than surfacing as terminal.
		logger.Warn("template search failed, falling through to dynamic path", slog.String("thread_id", req.ThreadID), slog.String("error", err.Error()))
		matched = false
	}

	var outcome Outcome
	if matched {
		outcome, err = templatePath(ctx, req, deps, reporter, logger, match.Template)
	} else {
		outcome, err = dynamicPath(ctx, req, deps, reporter, logger, false)
	}
	if err != nil {
		return outcome, err
	}
	emitTurnTelemetry(ctx, deps, req, outcome)
	return outcome, nil
}

// emitTurnTelemetry fires the clarification/confidence-tier telemetry
// events for a finished process_query call. Best-effort: telemetry never
// affects the returned Outcome.
func emitTurnTelemetry(ctx context.Context, deps Dependencies, req Request, outcome Outcome) {
	em := deps.Telemetry
	if em == nil {
		em = telemetry.Noop{}
	}

	if outcome.Clarification != nil {
		em.ClarificationFired(ctx, telemetry.ClarificationEvent{
			ThreadID: req.ThreadID,
			TurnID:   req.TurnID,
			Stage:    outcome.Clarification.PendingState.Stage,
		})
		return
	}

	if outcome.Response != nil && outcome.Response.Error == "" {
		em.ConfidenceTier(ctx, telemetry.ConfidenceTierEvent{
			ThreadID:    req.ThreadID,
			TurnID:      req.TurnID,
			QuerySource: string(outcome.Response.QuerySource),
			Confidence:  outcome.Response.QueryConfidence,
			Tier:        telemetry.Tier(outcome.Response.QueryConfidence, deps.Thresholds.ConfirmLow, deps.Thresholds.ConfirmHigh),
		})
	}
}

// templatePath runs the template branch: extract parameters, validate them,
// render SQL, validate the query, then join the shared validate→execute tail.
func templatePath(ctx context.Context, req Request, deps Dependencies, reporter progress.Reporter, logger *slog.Logger, tmpl models.QueryTemplate) (Outcome, error) {
	reporter.StepStart("param_extract", true)
	draft, err := deps.ParamExtract.Extract(ctx, req.UserText, req.ThreadID, tmpl)
	reporter.StepEnd("param_extract", true)
	if err != nil {
		pErr := pipelineerr.New(pipelineerr.KindLLMInvalidResponse, "parameter extraction failed", err)
		return terminalError(ctx, deps, req, logger, pErr, models.QuerySourceTemplate, tmpl.TablesReferenced), nil
	}

	reporter.StepStart("param_validate", false)
	draft = paramvalidate.Validate(draft, tmpl.Parameters)
	reporter.StepEnd("param_validate", false)

	if !draft.ParamsValidated || hasUnresolvedRequired(draft, tmpl.Parameters) {
		return clarifyOnLowestConfidence(ctx, req, deps, draft, tmpl)
	}

	minConf, hasParams := draft.MinEffectiveConfidence()
	if hasParams && minConf < deps.Thresholds.ConfirmLow {
		return clarifyOnLowestConfidence(ctx, req, deps, draft, tmpl)
	}

	sql, err := paramextract.Render(tmpl, draft)
	if err != nil {
		pErr := pipelineerr.New(pipelineerr.KindParameterValidationFailed, "render failed", err)
		return terminalError(ctx, deps, req, logger, pErr, models.QuerySourceTemplate, tmpl.TablesReferenced), nil
	}
	draft.SQLText = sql

	needsConfirmation := hasParams && minConf < deps.Thresholds.ConfirmHigh

	return validateAndExecute(ctx, req, deps, reporter, logger, draft, needsConfirmation, 0)
}

// dynamicPath runs the dynamic branch: synthesize SQL via the LLM, then
// join the shared validate→execute tail. isRetry marks the single permitted
// retry after a DisallowedTable violation; the retry calls the builder again
// with the same user text, and the rejected draft's violations are not
// passed to it.
func dynamicPath(ctx context.Context, req Request, deps Dependencies, reporter progress.Reporter, logger *slog.Logger, isRetry bool) (Outcome, error) {
	reporter.StepStart("query_build", true)
	userText := req.UserText
	draft, err := deps.QueryBuild.Build(ctx, userText, req.ThreadID)
	reporter.StepEnd("query_build", true)
	if err != nil {
		pErr := pipelineerr.New(pipelineerr.KindLLMInvalidResponse, "query synthesis failed", err)
		return terminalError(ctx, deps, req, logger, pErr, models.QuerySourceDynamic, nil), nil
	}

	if !req.IsRefinement && draft.Confidence < deps.Thresholds.DynamicConfidence {
		return Outcome{Clarification: buildDynamicClarification(req, draft)}, nil
	}

	needsConfirmation := !req.IsRefinement && draft.Confidence < deps.Thresholds.ConfirmHigh

	retryCount := 0
	if isRetry {
		retryCount = 1
	}
	return validateAndExecute(ctx, req, deps, reporter, logger, draft, needsConfirmation, retryCount)
}

// validateAndExecute is the shared tail of both branches: query validation,
// the one-retry-on-DisallowedTable policy (dynamic path only), execution,
// column refinement, and suggestion enrichment.
func validateAndExecute(ctx context.Context, req Request, deps Dependencies, reporter progress.Reporter, logger *slog.Logger, draft *models.SQLDraft, needsConfirmation bool, retryCount int) (Outcome, error) {
	reporter.StepStart("query_validate", false)
	draft = queryvalidate.Validate(draft, deps.AllowedTables)
	reporter.StepEnd("query_validate", false)

	if !draft.QueryValidated {
		sub := queryvalidate.DisallowedSubKind(draft.Violations)
		if draft.QuerySource == models.QuerySourceDynamic && sub == string(pipelineerr.SubKindDisallowedTable) && retryCount < 1 {
			logger.Info("retrying query builder after disallowed table", slog.String("thread_id", req.ThreadID))
			return dynamicPath(ctx, req, deps, reporter, logger, true)
		}

		pErr := pipelineerr.NewQueryValidation(pipelineerr.QuerySubKind(sub), "query validation failed")
		return terminalError(ctx, deps, req, logger, pErr, draft.QuerySource, draft.TablesReferenced), nil
	}

	reporter.StepStart("sql_execute", false)
	result, err := deps.Executor.Execute(ctx, draft.SQLText, req.SessionID, req.ThreadID)
	reporter.StepEnd("sql_execute", false)
	if err != nil {
		pErr := pipelineerr.New(pipelineerr.KindSQLExecutionFailed, "execution failed", err)
		return terminalError(ctx, deps, req, logger, pErr, draft.QuerySource, draft.TablesReferenced), nil
	}

	reporter.StepStart("refine_columns", false)
	columns, hidden, rows := refineColumns(result.Columns, result.Rows, deps.Thresholds.MaxDisplayColumns)
	reporter.StepEnd("refine_columns", false)

	resp := &models.NL2SQLResponse{
		Columns:           columns,
		HiddenColumns:     hidden,
		Rows:              rows,
		SQLExecuted:       draft.SQLText,
		QuerySource:       draft.QuerySource,
		QueryConfidence:   confidenceOf(draft),
		NeedsConfirmation: needsConfirmation,
	}
	if needsConfirmation && draft.QuerySource == models.QuerySourceDynamic {
		resp.QuerySummary = draft.Reasoning
	}

	cc := loadConversationContext(ctx, deps, req.ThreadID, logger)
	assistant.UpdateContext(cc, draft.SQLText)
	assistant.EnrichResponse(resp, cc, draft.TablesReferenced)
	saveConversationContext(ctx, deps, cc, logger)

	return Outcome{Response: resp}, nil
}

// terminalError turns a pipeline error into a terminal NL2SQLResponse per
// spec §7: error is the category-specific friendly line (never the raw
// error), and error_suggestions is populated via the same conversation
// context/EnrichResponse path a successful response enriches its
// suggestions through.
func terminalError(ctx context.Context, deps Dependencies, req Request, logger *slog.Logger, pErr *pipelineerr.Error, source models.QuerySource, tablesReferenced []string) Outcome {
	logger.Warn("pipeline stage failed", slog.String("thread_id", req.ThreadID), slog.String("kind", string(pErr.Kind)), slog.String("error", pErr.Error()))
	errResp := &models.NL2SQLResponse{
		QuerySource: source,
		Error:       pErr.Friendly,
	}
	cc := loadConversationContext(ctx, deps, req.ThreadID, logger)
	assistant.EnrichResponse(errResp, cc, tablesReferenced)
	return Outcome{Response: errResp}
}

// loadConversationContext fetches the persisted per-thread schema-area
// exploration state, falling back to a fresh context when no store is wired
// (e.g. in unit tests that pass a zero-value Dependencies).
func loadConversationContext(ctx context.Context, deps Dependencies, threadID string, logger *slog.Logger) *models.ConversationContext {
	if deps.Conversation == nil {
		return &models.ConversationContext{ThreadID: threadID}
	}
	cc, err := deps.Conversation.Get(ctx, threadID)
	if err != nil {
		logger.Warn("conversation context load failed, starting fresh", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		return &models.ConversationContext{ThreadID: threadID}
	}
	return cc
}

func saveConversationContext(ctx context.Context, deps Dependencies, cc *models.ConversationContext, logger *slog.Logger) {
	if deps.Conversation == nil {
		return
	}
	if err := deps.Conversation.Save(ctx, cc); err != nil {
		logger.Warn("conversation context save failed", slog.String("thread_id", cc.ThreadID), slog.String("error", err.Error()))
	}
}

// telemetryReporter wraps a progress.Reporter, additionally forwarding each
// StepEnd to the telemetry Emitter as a pipeline.stage.completed event.
type telemetryReporter struct {
	progress.Reporter
	ctx context.Context
	em  telemetry.Emitter
	req Request
}

func withTelemetry(ctx context.Context, reporter progress.Reporter, deps Dependencies, req Request) progress.Reporter {
	em := deps.Telemetry
	if em == nil {
		em = telemetry.Noop{}
	}
	return telemetryReporter{Reporter: reporter, ctx: ctx, em: em, req: req}
}

func (t telemetryReporter) StepEnd(name string, isParent bool) {
	t.Reporter.StepEnd(name, isParent)
	t.em.StageCompleted(t.ctx, telemetry.StageEvent{ThreadID: t.req.ThreadID, TurnID: t.req.TurnID, Stage: name})
}

func confidenceOf(draft *models.SQLDraft) float64 {
	if draft.QuerySource == models.QuerySourceDynamic {
		return draft.Confidence
	}
	min, ok := draft.MinEffectiveConfidence()
	if !ok {
		return 1.0
	}
	return min
}

func hasUnresolvedRequired(draft *models.SQLDraft, defs []models.ParameterDefinition) bool {
	for _, def := range defs {
		if _, ok := draft.ParametersExtracted[def.Name]; !ok {
			if def.AskIfMissing {
				return true
			}
		}
	}
	return false
}
