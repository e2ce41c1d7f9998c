// Package paramextract implements the Parameter Extractor (C3): resolves
// each template parameter to a concrete value via a deterministic fast path
// (exact match, fuzzy match, default), falling back to a single batched LLM
// call for whatever remains unresolved, per spec §4.3.
//
// Grounded on the teacher's module_a/a01_text_to_sql/parameterize.go, whose
// literal-substitution and %-prefixed-placeholder pattern is kept for the
// final SQL rendering step; the teacher had no fuzzy-match or confidence
// scoring, both added here per spec §4.3 and the fuzzy-match Open Question
// decision recorded in SPEC_FULL.md (normalized lowercase, trailing-s
// stripped, prefix-or-equality match against the allowed-values cache).
package paramextract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nl2sqlcore/pipeline/internal/cache"
	"github.com/nl2sqlcore/pipeline/internal/llm"
	"github.com/nl2sqlcore/pipeline/internal/models"
)

// Extractor is the Parameter Extractor (C3).
type Extractor struct {
	llm        llm.Capability
	allowedVal *cache.AllowedValuesCache
	logger     *slog.Logger
}

// Config configures an Extractor.
type Config struct {
	LLM           llm.Capability
	AllowedValues *cache.AllowedValuesCache
	Logger        *slog.Logger
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		llm:        cfg.LLM,
		allowedVal: cfg.AllowedValues,
		logger:     logger.With(slog.String("component", "param_extract")),
	}
}

// Extract resolves every parameter of tmpl against utterance, producing an
// SQLDraft on the template path (QuerySource/TemplateID/TablesReferenced
// already set; SQLText not yet rendered — see Render).
func (e *Extractor) Extract(ctx context.Context, utterance, threadID string, tmpl models.QueryTemplate) (*models.SQLDraft, error) {
	draft := &models.SQLDraft{
		ParametersExtracted:  make(map[string]string),
		ParameterConfidences: make(map[string]float64),
		ParameterPartial:     make(map[string]bool),
		TablesReferenced:     tmpl.TablesReferenced,
		QuerySource:          models.QuerySourceTemplate,
		TemplateID:           tmpl.ID,
	}

	var unresolved []models.ParameterDefinition

	for _, def := range tmpl.Parameters {
		value, method, partial, ok := e.fastPath(ctx, utterance, def)
		if ok {
			draft.ParametersExtracted[def.Name] = value
			draft.ParameterConfidences[def.Name] = models.EffectiveConfidence(models.BaseConfidence[method], def.EffectiveWeight())
			draft.ParameterPartial[def.Name] = partial
			continue
		}
		unresolved = append(unresolved, def)
	}

	if len(unresolved) > 0 {
		if err := e.llmFallback(ctx, utterance, threadID, unresolved, draft); err != nil {
			return nil, err
		}
	}

	return draft, nil
}

// fastPath attempts the deterministic resolution order: exact match against
// allowed values, fuzzy match, then a declared default.
func (e *Extractor) fastPath(ctx context.Context, utterance string, def models.ParameterDefinition) (value string, method models.ResolutionMethod, partial bool, ok bool) {
	if def.AllowedValuesSource == models.AllowedValuesSourceDatabase && e.allowedVal != nil {
		values, isPartial := e.allowedVal.Get(ctx, def.Table, def.Column)
		if v, found := exactMatch(utterance, values); found {
			return v, models.ResolutionExactMatch, isPartial, true
		}
		if v, found := fuzzyMatch(utterance, values); found {
			return v, models.ResolutionFuzzyMatch, isPartial, true
		}
	}

	if def.DefaultPolicy != "" {
		if v, ok := resolveDefaultPolicy(def.DefaultPolicy); ok {
			return v, models.ResolutionDefaultPolicy, false, true
		}
	}
	if def.DefaultValue != "" {
		return def.DefaultValue, models.ResolutionDefaultValue, false, true
	}

	return "", "", false, false
}

// exactMatch reports whether any allowed value appears verbatim
// (case-insensitively) in utterance.
func exactMatch(utterance string, values []string) (string, bool) {
	lower := strings.ToLower(utterance)
	for _, v := range values {
		if strings.Contains(lower, strings.ToLower(v)) {
			return v, true
		}
	}
	return "", false
}

// fuzzyMatch normalizes each allowed value (lowercase, trailing "s"
// stripped) and looks for a prefix-or-equality match against utterance
// tokens, per the fuzzy-match Open Question decision in SPEC_FULL.md.
// Ambiguous matches (more than one allowed value matching) are rejected —
// the parameter falls through to the LLM fallback instead of guessing.
func fuzzyMatch(utterance string, values []string) (string, bool) {
	tokens := strings.Fields(strings.ToLower(utterance))
	var matched string
	count := 0
	for _, v := range values {
		norm := normalizeForFuzzy(v)
		for _, tok := range tokens {
			tokNorm := normalizeForFuzzy(tok)
			if tokNorm == norm || strings.HasPrefix(tokNorm, norm) || strings.HasPrefix(norm, tokNorm) {
				if matched != v {
					matched = v
					count++
				}
				break
			}
		}
	}
	if count == 1 {
		return matched, true
	}
	return "", false
}

func normalizeForFuzzy(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "s")
	return s
}

// llmFallback resolves the remaining parameters in a single batched call,
// validating each returned value against its allowed-values set when one
// exists (llm_validated) or accepting it unvalidated otherwise. Per spec
// §4.3 step 5, the LLM either returns values outright or signals
// needs_clarification with a best-guess payload per parameter; the latter is
// recorded as a low-confidence guess so the coordinator's confidence gate
// routes it to clarifyOnLowestConfidence, which reads the guess straight back
// out of draft.ParametersExtracted as the hypothesis-first best_guess.
func (e *Extractor) llmFallback(ctx context.Context, utterance, threadID string, defs []models.ParameterDefinition, draft *models.SQLDraft) error {
	prompt := buildExtractionPrompt(utterance, defs)
	raw, err := e.llm.Run(ctx, prompt, threadID)
	if err != nil {
		return fmt.Errorf("paramextract: llm fallback: %w", err)
	}

	envelope, err := parseExtractionResponse(raw)
	if err != nil {
		e.logger.Warn("llm extraction response unparseable", slog.String("error", err.Error()))
		envelope = extractionEnvelope{}
	}

	for _, def := range defs {
		if value, got := envelope.Values[def.Name]; got && value != "" {
			e.resolveFromLLMValue(ctx, def, value, draft)
			continue
		}

		if envelope.NeedsClarification {
			if guess, got := envelope.BestGuess[def.Name]; got && guess != "" {
				confidence := 0.3
				if gc, ok := envelope.GuessConfidence[def.Name]; ok {
					confidence = clamp01(gc)
				}
				draft.ParametersExtracted[def.Name] = guess
				draft.ParameterConfidences[def.Name] = models.EffectiveConfidence(confidence, def.EffectiveWeight())
				continue
			}
		}

		// Listed in envelope.Missing or simply absent: left unresolved;
		// paramvalidate/coordinator handle missing required params.
	}

	return nil
}

// resolveFromLLMValue records a value the LLM returned outright (not a
// needs_clarification guess), validating it against the allowed-values set
// when one exists.
func (e *Extractor) resolveFromLLMValue(ctx context.Context, def models.ParameterDefinition, value string, draft *models.SQLDraft) {
	method := models.ResolutionLLMUnvalidated
	partial := false
	if def.AllowedValuesSource == models.AllowedValuesSourceDatabase && e.allowedVal != nil {
		values, isPartial := e.allowedVal.Get(ctx, def.Table, def.Column)
		partial = isPartial
		if containsFold(values, value) {
			method = models.ResolutionLLMValidated
		} else if !isPartial {
			method = models.ResolutionLLMFailedValidation
		}
	}

	draft.ParametersExtracted[def.Name] = value
	draft.ParameterConfidences[def.Name] = models.EffectiveConfidence(models.BaseConfidence[method], def.EffectiveWeight())
	draft.ParameterPartial[def.Name] = partial
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func buildExtractionPrompt(utterance string, defs []models.ParameterDefinition) string {
	var sb strings.Builder
	sb.WriteString("Extract the following parameters from the user request. ")
	sb.WriteString("Respond with a single JSON object of shape ")
	sb.WriteString(`{"values": {"<name>": "<value>"}, "needs_clarification": bool, `)
	sb.WriteString(`"best_guess": {"<name>": "<value>"}, "guess_confidence": {"<name>": 0.0-1.0}, "missing": ["<name>"]}. `)
	sb.WriteString("Put every parameter you can determine in values. ")
	sb.WriteString("If a parameter is ambiguous, set needs_clarification true and give your closest guess for it in ")
	sb.WriteString("best_guess with your confidence in guess_confidence. ")
	sb.WriteString("List any parameter you cannot determine at all, even as a guess, in missing.\n\n")
	sb.WriteString("Request: ")
	sb.WriteString(utterance)
	sb.WriteString("\n\nParameters:\n")
	for _, def := range defs {
		sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", def.Name, def.Validation.Type, def.Description))
	}
	return sb.String()
}

// extractionEnvelope is the LLM fallback's response shape, per spec §4.3
// step 5: either concrete values, or needs_clarification with a best-guess
// payload per ambiguous parameter.
type extractionEnvelope struct {
	Values             map[string]string  `json:"values"`
	NeedsClarification bool               `json:"needs_clarification"`
	BestGuess          map[string]string  `json:"best_guess"`
	GuessConfidence    map[string]float64 `json:"guess_confidence"`
	Missing            []string           `json:"missing"`
}

func parseExtractionResponse(raw string) (extractionEnvelope, error) {
	raw = extractJSONObject(raw)
	var out extractionEnvelope
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return extractionEnvelope{}, fmt.Errorf("paramextract: parse llm response: %w", err)
	}
	return out, nil
}

// extractJSONObject trims any leading/trailing prose around the first {...}
// block, since LLM backends often wrap JSON in commentary despite
// instructions.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
