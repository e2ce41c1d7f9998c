// Package assistant implements the Data Assistant (S3): per-thread
// conversational state (intent classification, schema-area tracking,
// response enrichment) layered above the Pipeline Coordinator, per spec
// §4.9. Grounded on the teacher's supervisor.go (construct-once,
// dependency-injected collaborators) and chat.go's post-processing of a
// pipeline result into suggestion pills before it reaches the wire.
package assistant

import (
	"regexp"
	"strings"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

// schemaSuggestions is the static per-area follow-up pill catalog (spec
// §4.1's "static SCHEMA_SUGGESTIONS map").
var schemaSuggestions = map[models.SchemaArea][]models.SchemaSuggestion{
	models.SchemaAreaSales: {
		{Title: "Top customers", Prompt: "Who are our top 10 customers by revenue this year?"},
		{Title: "Recent orders", Prompt: "Show me the most recent 20 orders."},
		{Title: "Revenue by month", Prompt: "What was our revenue for each of the last 6 months?"},
	},
	models.SchemaAreaWarehouse: {
		{Title: "Low stock", Prompt: "Which items are below their reorder threshold?"},
		{Title: "Inventory value", Prompt: "What is the total inventory value by category?"},
		{Title: "Stock movement", Prompt: "Show me stock movements from the last 7 days."},
	},
	models.SchemaAreaPurchasing: {
		{Title: "Open purchase orders", Prompt: "List all open purchase orders."},
		{Title: "Vendor spend", Prompt: "Which vendors did we spend the most with this quarter?"},
		{Title: "Pending deliveries", Prompt: "What deliveries are still pending?"},
	},
	models.SchemaAreaApplication: {
		{Title: "Active users", Prompt: "How many active users do we have this month?"},
		{Title: "Recent activity", Prompt: "Show me the most recent user activity."},
	},
}

// genericSuggestions is the fallback pill set when no schema area was
// detected at all (spec §7's zero-candidate fallback).
var genericSuggestions = []models.SchemaSuggestion{
	{Title: "Customers", Prompt: "Tell me about our customers."},
	{Title: "Orders", Prompt: "Show me recent orders."},
	{Title: "Products", Prompt: "What products do we sell the most of?"},
}

// tablePrefixToArea maps a fully-qualified table's schema prefix to a
// coarse area. Deployment-specific; narrowed here to the areas the model
// declares.
var tablePrefixToArea = map[string]models.SchemaArea{
	"sales":      models.SchemaAreaSales,
	"orders":     models.SchemaAreaSales,
	"warehouse":  models.SchemaAreaWarehouse,
	"inventory":  models.SchemaAreaWarehouse,
	"purchasing": models.SchemaAreaPurchasing,
	"vendors":    models.SchemaAreaPurchasing,
	"app":        models.SchemaAreaApplication,
	"application": models.SchemaAreaApplication,
}

var fromClauseRe = regexp.MustCompile(`(?is)\bFROM\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// DetectSchemaArea determines the primary schema area of executed SQL from
// its first FROM-clause table — not from JOINed lookup tables, per spec
// §4.1.
func DetectSchemaArea(sql string) (models.SchemaArea, bool) {
	m := fromClauseRe.FindStringSubmatch(sql)
	if m == nil {
		return "", false
	}
	table := m[1]
	prefix := table
	if idx := strings.Index(table, "."); idx != -1 {
		prefix = table[:idx]
	}
	area, ok := tablePrefixToArea[strings.ToLower(prefix)]
	return area, ok
}

// Suggestions returns 2-3 pills for area, appending one cross-area
// suggestion once schema_exploration_depth reaches 3, per spec §4.1.
func Suggestions(area models.SchemaArea, explorationDepth int) []models.SchemaSuggestion {
	pills := schemaSuggestions[area]
	if len(pills) == 0 {
		return genericSuggestions
	}

	out := append([]models.SchemaSuggestion(nil), pills...)
	if len(out) > 3 {
		out = out[:3]
	}

	if explorationDepth >= 3 {
		for otherArea, otherPills := range schemaSuggestions {
			if otherArea == area || len(otherPills) == 0 {
				continue
			}
			out = append(out, otherPills[0])
			break
		}
	}

	return out
}

// ErrorSuggestions returns fallback pills for a failed turn: area-specific
// if one was detected from a (possibly rejected) draft's referenced tables,
// otherwise the generic entity-oriented set from spec §7.
func ErrorSuggestions(tablesReferenced []string) []models.SchemaSuggestion {
	for _, t := range tablesReferenced {
		prefix := t
		if idx := strings.Index(t, "."); idx != -1 {
			prefix = t[:idx]
		}
		if area, ok := tablePrefixToArea[strings.ToLower(prefix)]; ok {
			return Suggestions(area, 0)
		}
	}
	return genericSuggestions
}
