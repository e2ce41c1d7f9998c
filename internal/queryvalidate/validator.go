// Package queryvalidate implements the Query Validator (C6): a pure,
// deterministic SQL safety check with no I/O, per spec §4.6.
//
// Grounded on three teacher sources, recombined: the forbidden-keyword and
// SELECT-prefix checks in internal/warehouse/readonly.go's ValidateSQL, the
// injection denylist in module_a/a01_text_to_sql/parameterize.go's
// checkDangerousPatterns (here with the double-escaped backslashes in the
// teacher's raw-string regex patterns corrected — `` `;\\s*drop\\s+` `` in
// the teacher matched a literal backslash before "s", not whitespace), and
// the table-extraction regex from a01_text_to_sql/schema_retrieval.go-style
// FROM/JOIN scanning. The teacher's validate.go additionally called out to
// OPA (I/O); that remote policy layer does not belong in C6's pure contract
// and is not ported here — see DESIGN.md.
package queryvalidate

import (
	"regexp"
	"strings"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

var (
	selectPrefixRe = regexp.MustCompile(`(?is)^\s*(SELECT|WITH)\s`)

	// forbiddenKeywords are data-modification verbs that must never appear
	// anywhere in the statement (matched as whole words, including inside
	// subqueries and string literals). Deduplicated relative to the
	// teacher's list, which listed ALTER twice.
	forbiddenKeywords = []string{
		"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
		"GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL", "COPY", "VACUUM",
		"REINDEX", "CLUSTER", "LOCK", "REFRESH", "REASSIGN", "MERGE",
	}

	forbiddenKeywordRes = buildForbiddenKeywordRes(forbiddenKeywords)

	// injectionPatterns match common SQL-injection shapes. Each pattern
	// carries the violation kind it signals.
	injectionPatterns = []struct {
		re   *regexp.Regexp
		kind models.ViolationKind
	}{
		{regexp.MustCompile(`(?is);\s*(drop|delete|truncate|insert|update|alter|create)\s+`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`--[^\n]*$`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`/\*.*?\*/`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`(?is)\bunion\s+select\b`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`(?is)\bor\s+1\s*=\s*1\b`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`(?is)\bor\s+''\s*=\s*''`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`(?is)\bxp_cmdshell\b`), models.ViolationInjectionPattern},
		{regexp.MustCompile(`(?is)\bsp_[a-z_]+\b`), models.ViolationInjectionPattern},
	}

	fromJoinRe = regexp.MustCompile(`(?is)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
)

func buildForbiddenKeywordRes(keywords []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		out = append(out, regexp.MustCompile(`(?i)\b`+kw+`\b`))
	}
	return out
}

// AllowedTables is the per-deployment table allowlist, loaded once at
// startup from configuration and passed in — no import-time I/O, per
// spec §4.6.
type AllowedTables map[string]struct{}

// NewAllowedTables builds an AllowedTables set from a list of fully- or
// un-qualified table names, matched case-insensitively.
func NewAllowedTables(names []string) AllowedTables {
	set := make(AllowedTables, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = struct{}{}
	}
	return set
}

func (a AllowedTables) allows(table string) bool {
	_, ok := a[strings.ToLower(table)]
	return ok
}

// Validate checks draft.SQLText against the five rules of spec §4.6, in
// order, accumulating violations. It returns a new draft with QueryValidated
// and Violations set; the input draft is not mutated.
func Validate(draft *models.SQLDraft, allowed AllowedTables) *models.SQLDraft {
	out := draft.Clone()
	var violations []models.Violation

	trimmed := strings.TrimSpace(out.SQLText)

	// 1. Shape: the statement begins with SELECT or WITH. The verb that
	// follows a WITH clause is not parsed; rule 5 rejects data-modification
	// keywords wherever they appear.
	if !selectPrefixRe.MatchString(trimmed) {
		violations = append(violations, models.Violation{
			Kind:   models.ViolationDisallowedStatementType,
			Detail: "statement does not begin with SELECT or WITH",
		})
	}

	// 2. Statement count: at most one terminating statement.
	if hasMultipleStatements(trimmed) {
		violations = append(violations, models.Violation{
			Kind:   models.ViolationMultipleStatements,
			Detail: "more than one statement detected",
		})
	}

	// 3. Injection denylist.
	for _, pat := range injectionPatterns {
		if pat.re.MatchString(trimmed) {
			violations = append(violations, models.Violation{
				Kind:   pat.kind,
				Detail: "matched denylisted pattern: " + pat.re.String(),
			})
		}
	}

	// 4. Table allowlist.
	if offending := disallowedTables(trimmed, allowed); len(offending) > 0 {
		violations = append(violations, models.Violation{
			Kind:   models.ViolationDisallowedTable,
			Detail: strings.Join(offending, ", "),
		})
	}

	// 5. No data-modification tokens anywhere in the statement.
	for _, re := range forbiddenKeywordRes {
		if re.MatchString(trimmed) {
			violations = append(violations, models.Violation{
				Kind:   models.ViolationDataModification,
				Detail: "forbidden keyword: " + re.String(),
			})
			break
		}
	}

	out.Violations = append(out.Violations, violations...)
	out.QueryValidated = len(violations) == 0
	return out
}

// hasMultipleStatements reports whether sql contains a semicolon followed by
// any further non-whitespace token.
func hasMultipleStatements(sql string) bool {
	idx := strings.Index(sql, ";")
	if idx == -1 {
		return false
	}
	rest := strings.TrimSpace(sql[idx+1:])
	return rest != ""
}

// disallowedTables extracts every FROM/JOIN referent and returns the ones
// absent from the allowlist.
func disallowedTables(sql string, allowed AllowedTables) []string {
	matches := fromJoinRe.FindAllStringSubmatch(sql, -1)
	seen := make(map[string]struct{})
	var offending []string
	for _, m := range matches {
		table := m[1]
		key := strings.ToLower(table)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !allowed.allows(table) {
			offending = append(offending, table)
		}
	}
	return offending
}

// DisallowedSubKind maps a Violation slice to the spec §7 QuerySubKind used
// to decide retry eligibility. Returns "" if no query-level violation is
// present (e.g. only parameter-level violations).
func DisallowedSubKind(violations []models.Violation) string {
	for _, v := range violations {
		switch v.Kind {
		case models.ViolationDisallowedTable:
			return "DisallowedTable"
		case models.ViolationInjectionPattern:
			return "InjectionPattern"
		case models.ViolationMultipleStatements:
			return "MultipleStatements"
		case models.ViolationDisallowedStatementType:
			return "DisallowedStatementType"
		}
	}
	return ""
}
