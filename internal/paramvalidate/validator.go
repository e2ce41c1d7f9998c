// Package paramvalidate implements the Parameter Validator (C4): a pure,
// deterministic check of extracted values against per-parameter rules, per
// spec §4.4. No LLM, no network — the same purity discipline as
// queryvalidate, grounded on the same teacher localValidation shape
// (module_a/a01_text_to_sql/validate.go) generalized from SQL-safety rules
// to typed parameter rules (int/string/date).
package paramvalidate

import (
	"strconv"
	"strings"
	"time"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

// Validate applies each parameter's declared validation to its extracted
// value, accumulating violations and returning a new draft with
// ParamsValidated set. Each definition in defs is matched to its extracted
// value by parameter name.
func Validate(draft *models.SQLDraft, defs []models.ParameterDefinition) *models.SQLDraft {
	out := draft.Clone()
	var violations []models.Violation

	for _, def := range defs {
		value, present := out.ParametersExtracted[def.Name]
		if !present {
			continue // unresolved parameters are a coordinator/extractor concern, not C4's
		}
		if v := validateOne(def, value, out.ParameterPartial[def.Name]); v != nil {
			violations = append(violations, *v)
		}
	}

	out.Violations = append(out.Violations, violations...)
	out.ParamsValidated = len(violations) == 0
	return out
}

func validateOne(def models.ParameterDefinition, value string, partial bool) *models.Violation {
	switch def.Validation.Type {
	case models.ValidationTypeInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return &models.Violation{Parameter: def.Name, Kind: models.ViolationInvalidInt, Detail: "not an integer: " + value}
		}
		if def.Validation.Min != nil && n < *def.Validation.Min {
			return &models.Violation{Parameter: def.Name, Kind: models.ViolationOutOfRange, Detail: "below minimum"}
		}
		if def.Validation.Max != nil && n > *def.Validation.Max {
			return &models.Violation{Parameter: def.Name, Kind: models.ViolationOutOfRange, Detail: "above maximum"}
		}
		return nil

	case models.ValidationTypeDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return &models.Violation{Parameter: def.Name, Kind: models.ViolationInvalidDate, Detail: "not an ISO date: " + value}
		}
		return nil

	case models.ValidationTypeString:
		if def.Validation.Regex != "" {
			if ok := matchAnchoredRegex(def.Validation.Regex, value); !ok {
				return &models.Violation{Parameter: def.Name, Kind: models.ViolationRegexMismatch, Detail: "failed pattern: " + def.Validation.Regex}
			}
		}
		if len(def.Validation.AllowedValues) > 0 && !partial {
			if !containsCaseInsensitive(def.Validation.AllowedValues, value) {
				return &models.Violation{Parameter: def.Name, Kind: models.ViolationNotAllowedValue, Detail: "value not in allowed set: " + value}
			}
		}
		return nil

	default:
		return nil
	}
}

func containsCaseInsensitive(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
