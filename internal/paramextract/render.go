package paramextract

import (
	"fmt"
	"strings"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

// Render substitutes every %{name}% token in tmpl.SQLTextWithTokens with its
// resolved value from draft.ParametersExtracted, as a pure string
// replacement — no query planning, no driver involvement. Grounded on the
// teacher's Parameterizer.RebuildQuery, narrowed to the %{name}% token shape
// declared in spec §4.3 rather than positional $N placeholders, since here
// the substitution produces the final literal SQL text for the query
// validator to inspect, not a prepared-statement parameter list.
//
// Returns an error if any %{...}% token remains after substitution
// (invariant 2): an unresolved required parameter must not silently leave a
// token in the SQL sent to the validator.
//
// Per spec §4.3, values are substituted as properly escaped literals:
// integers unescaped, strings and dates single-quoted with internal quotes
// doubled. A parameter with no matching definition (should not happen once
// C3/C4 have run, but Render makes no assumption about that) is treated as
// a string literal, the conservative default.
func Render(tmpl models.QueryTemplate, draft *models.SQLDraft) (string, error) {
	defs := make(map[string]models.ParameterDefinition, len(tmpl.Parameters))
	for _, def := range tmpl.Parameters {
		defs[def.Name] = def
	}

	sql := tmpl.SQLTextWithTokens
	for name, value := range draft.ParametersExtracted {
		token := "%{" + name + "}%"
		sql = strings.ReplaceAll(sql, token, literal(defs[name].Validation.Type, value))
	}

	if idx := strings.Index(sql, "%{"); idx != -1 {
		end := strings.Index(sql[idx:], "}%")
		if end != -1 {
			return "", fmt.Errorf("paramextract: unresolved token %s", sql[idx:idx+end+2])
		}
		return "", fmt.Errorf("paramextract: malformed token at offset %d", idx)
	}

	return sql, nil
}

// literal formats value as a SQL literal for typ: integers pass through
// unescaped, strings and dates are single-quoted with internal quotes
// doubled.
func literal(typ models.ValidationType, value string) string {
	if typ == models.ValidationTypeInt {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
