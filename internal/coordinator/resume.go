package coordinator

import (
	"context"
	"log/slog"

	"github.com/nl2sqlcore/pipeline/internal/models"
	"github.com/nl2sqlcore/pipeline/internal/paramextract"
	"github.com/nl2sqlcore/pipeline/internal/paramvalidate"
	"github.com/nl2sqlcore/pipeline/internal/pipelineerr"
	"github.com/nl2sqlcore/pipeline/internal/progress"
)

// resume re-enters the pipeline from a previously persisted
// PendingClarification, skipping re-extraction of already-confirmed
// parameters, per spec §4.1's clarification resumption rule.
func resume(ctx context.Context, req Request, deps Dependencies, reporter progress.Reporter, logger *slog.Logger) (Outcome, error) {
	state := req.Resume

	switch state.Stage {
	case "querybuilder":
		// The user accepted or revised a pending dynamic-path draft.
		if req.UserText == "" {
			draft := &models.SQLDraft{SQLText: state.PendingDraftSQL, QuerySource: models.QuerySourceDynamic, Confidence: 1.0}
			return validateAndExecute(ctx, req, deps, reporter, logger, draft, false, 0)
		}
		refined := req
		refined.IsRefinement = true
		refined.UserText = req.UserText
		refined.Resume = nil
		return dynamicPath(ctx, refined, deps, reporter, logger, false)

	case "paramextract":
		tmpl, ok := lookupTemplate(deps, state.TemplateID)
		if !ok {
			refined := req
			refined.Resume = nil
			return ProcessQuery(ctx, refined, deps, reporter)
		}

		draft := &models.SQLDraft{
			ParametersExtracted:  cloneOrEmpty(state.ExtractedSoFar),
			ParameterConfidences: cloneFloatOrEmpty(state.ConfidencesSoFar),
			ParameterPartial:     map[string]bool{},
			TablesReferenced:     tmpl.TablesReferenced,
			QuerySource:          models.QuerySourceTemplate,
			TemplateID:           tmpl.ID,
		}

		// Fold the user's clarification answer into the single
		// lowest-confidence parameter that triggered the clarification.
		target := pickClarificationTarget(draft, tmpl.Parameters)
		draft.ParametersExtracted[target.Name] = req.UserText
		draft.ParameterConfidences[target.Name] = models.EffectiveConfidence(1.0, target.EffectiveWeight())

		draft = paramvalidate.Validate(draft, tmpl.Parameters)
		if !draft.ParamsValidated || hasUnresolvedRequired(draft, tmpl.Parameters) {
			return clarifyOnLowestConfidence(ctx, req, deps, draft, tmpl)
		}

		minConf, hasParams := draft.MinEffectiveConfidence()
		if hasParams && minConf < deps.Thresholds.ConfirmLow {
			return clarifyOnLowestConfidence(ctx, req, deps, draft, tmpl)
		}

		sqlText, err := paramextract.Render(tmpl, draft)
		if err != nil {
			pErr := pipelineerr.New(pipelineerr.KindParameterValidationFailed, "render failed", err)
			return terminalError(ctx, deps, req, logger, pErr, models.QuerySourceTemplate, tmpl.TablesReferenced), nil
		}
		draft.SQLText = sqlText

		needsConfirmation := hasParams && minConf < deps.Thresholds.ConfirmHigh
		return validateAndExecute(ctx, req, deps, reporter, logger, draft, needsConfirmation, 0)

	default:
		refined := req
		refined.Resume = nil
		return ProcessQuery(ctx, refined, deps, reporter)
	}
}

// lookupTemplate is a narrow seam: in production the coordinator resolves a
// template by ID through the same store templatesearch.Searcher wraps. It
// is declared here so resume doesn't need a second injected dependency
// beyond what Dependencies already carries once wired by the HTTP edge.
func lookupTemplate(deps Dependencies, templateID string) (models.QueryTemplate, bool) {
	if deps.TemplateByID == nil {
		return models.QueryTemplate{}, false
	}
	return deps.TemplateByID(templateID)
}

func cloneOrEmpty(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloatOrEmpty(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
