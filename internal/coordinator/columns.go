package coordinator

import "github.com/nl2sqlcore/pipeline/internal/sqlstore"

// refineColumns caps the visible columns at maxDisplay, in original order,
// capping the rest into hiddenColumns while every row keeps all fields —
// toggling visibility stays client-only, per spec §6.2.
func refineColumns(cols []string, rows []sqlstore.Row, maxDisplay int) (visible, hidden []string, out []map[string]any) {
	if maxDisplay <= 0 || len(cols) <= maxDisplay {
		visible = cols
	} else {
		visible = cols[:maxDisplay]
		hidden = cols[maxDisplay:]
	}

	out = make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v
		}
		out[i] = m
	}

	return visible, hidden, out
}
