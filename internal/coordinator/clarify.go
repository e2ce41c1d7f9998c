package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

// clarifyOnLowestConfidence builds a hypothesis-first ClarificationRequest
// targeting the single lowest-confidence (or entirely unresolved)
// parameter, per spec §4.1's tie-break rule: smallest effective confidence
// first, then ask_if_missing, then declaration order.
func clarifyOnLowestConfidence(_ context.Context, req Request, _ Dependencies, draft *models.SQLDraft, tmpl models.QueryTemplate) (Outcome, error) {
	target := pickClarificationTarget(draft, tmpl.Parameters)

	bestGuess := draft.ParametersExtracted[target.Name]
	var alternatives []string
	for _, v := range target.Validation.AllowedValues {
		if v == bestGuess {
			continue
		}
		alternatives = append(alternatives, v)
		if len(alternatives) >= 4 {
			break
		}
	}
	if bestGuess == "" && len(target.Validation.AllowedValues) > 0 {
		bestGuess = target.Validation.AllowedValues[0]
		alternatives = target.Validation.AllowedValues[1:]
		if len(alternatives) > 4 {
			alternatives = alternatives[:4]
		}
	}

	question := hypothesisFirstQuestion(target.Name, bestGuess, alternatives)

	pending := models.PendingClarification{
		Stage:            "paramextract",
		TemplateID:       tmpl.ID,
		ExtractedSoFar:   draft.ParametersExtracted,
		ConfidencesSoFar: draft.ParameterConfidences,
		RawUserText:      req.UserText,
		CreatedAt:        now(),
	}

	return Outcome{Clarification: &models.ClarificationRequest{
		Question:     question,
		PendingState: pending,
		BestGuess:    bestGuess,
		Alternatives: alternatives,
		Confidence:   draft.ParameterConfidences[target.Name],
	}}, nil
}

// buildDynamicClarification builds the dynamic-path confidence-gate
// clarification, whose body is the builder's natural-language reasoning
// (spec §4.1's dynamic-path gate).
func buildDynamicClarification(req Request, draft *models.SQLDraft) *models.ClarificationRequest {
	summary := draft.Reasoning
	if summary == "" {
		summary = fmt.Sprintf("a query over %v", draft.TablesReferenced)
	}

	pending := models.PendingClarification{
		Stage:           "querybuilder",
		RawUserText:     req.UserText,
		PendingDraftSQL: draft.SQLText,
		CreatedAt:       now(),
	}

	return &models.ClarificationRequest{
		Question:     fmt.Sprintf("I put together %s. Want me to run it, or would you like to revise the request?", summary),
		PendingState: pending,
		BestGuess:    draft.SQLText,
		Confidence:   draft.Confidence,
	}
}

func pickClarificationTarget(draft *models.SQLDraft, defs []models.ParameterDefinition) models.ParameterDefinition {
	candidates := make([]models.ParameterDefinition, 0, len(defs))
	for _, def := range defs {
		if _, resolved := draft.ParametersExtracted[def.Name]; !resolved {
			candidates = append(candidates, def)
		}
	}
	if len(candidates) == 0 {
		// Every parameter resolved but confidence still triggered a gate:
		// target the lowest-confidence one.
		candidates = append([]models.ParameterDefinition(nil), defs...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci := draft.ParameterConfidences[candidates[i].Name]
		cj := draft.ParameterConfidences[candidates[j].Name]
		if ci != cj {
			return ci < cj
		}
		if candidates[i].AskIfMissing != candidates[j].AskIfMissing {
			return candidates[i].AskIfMissing
		}
		return false // stable sort preserves declaration order for remaining ties
	})

	return candidates[0]
}

func hypothesisFirstQuestion(name, bestGuess string, alternatives []string) string {
	if bestGuess == "" {
		return fmt.Sprintf("Could you tell me the %s you'd like?", name)
	}
	if len(alternatives) == 0 {
		return fmt.Sprintf("It looks like you want %s. Is that right?", bestGuess)
	}
	if len(alternatives) == 1 {
		return fmt.Sprintf("It looks like you want %s. Is that right, or did you mean %s?", bestGuess, alternatives[0])
	}
	return fmt.Sprintf("It looks like you want %s. Is that right, or did you mean %s?", bestGuess, joinOr(alternatives))
}

func joinOr(values []string) string {
	if len(values) == 0 {
		return ""
	}
	if len(values) == 1 {
		return values[0]
	}
	out := values[0]
	for _, v := range values[1 : len(values)-1] {
		out += ", " + v
	}
	out += " or " + values[len(values)-1]
	return out
}

// now is a seam for tests; production always uses wall-clock time.
var now = func() time.Time { return time.Now() }
