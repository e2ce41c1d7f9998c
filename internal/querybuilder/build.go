// Package querybuilder implements the Query Builder (C5): when no template
// matches closely enough, synthesize SQL directly from ranked table
// metadata and the user's utterance via the LLM, with the LLM asked to
// self-assess a scalar confidence alongside the SQL, per spec §4.5.
//
// Grounded on the teacher's SchemaContext.ToPrompt (module_a/a01_text_to_sql
// /schema_retrieval.go), which formats retrieved schema context for LLM
// prompting; the prompt-formatting idiom is kept, retargeted from
// TableContext/PatternContext to models.TableMetadata, and extended to
// require a confidence+reasoning field in the response, which the teacher's
// template-search prompt never asked for.
package querybuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nl2sqlcore/pipeline/internal/llm"
	"github.com/nl2sqlcore/pipeline/internal/models"
)

// MetadataProvider supplies ranked table metadata relevant to an utterance.
type MetadataProvider interface {
	RankedTables(ctx context.Context, utterance string, limit int) ([]models.TableMetadata, error)
}

// Builder is the Query Builder (C5).
type Builder struct {
	llm      llm.Capability
	metadata MetadataProvider
	logger   *slog.Logger
	maxTables int
}

// Config configures a Builder.
type Config struct {
	LLM       llm.Capability
	Metadata  MetadataProvider
	Logger    *slog.Logger
	MaxTables int // default 5
}

// New builds a Builder.
func New(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTables := cfg.MaxTables
	if maxTables == 0 {
		maxTables = 5
	}
	return &Builder{
		llm:       cfg.LLM,
		metadata:  cfg.Metadata,
		logger:    logger.With(slog.String("component", "query_builder")),
		maxTables: maxTables,
	}
}

// defaultSynthesisConfidence is substituted whenever the LLM's response
// omits confidence or cannot be parsed as JSON at all, per spec §4.5 step 3.
const defaultSynthesisConfidence = 0.5

// synthesisResponse is the structured shape requested of the LLM.
// Confidence is a pointer so an absent field can be told apart from an
// explicit 0, per spec §4.5 step 3.
type synthesisResponse struct {
	SQL        string   `json:"sql"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Tables     []string `json:"tables"`
}

// Build synthesizes an SQLDraft on the dynamic path from utterance.
func (b *Builder) Build(ctx context.Context, utterance, threadID string) (*models.SQLDraft, error) {
	tables, err := b.metadata.RankedTables(ctx, utterance, b.maxTables)
	if err != nil {
		return nil, fmt.Errorf("querybuilder: ranked tables: %w", err)
	}

	prompt := buildSynthesisPrompt(utterance, tables)
	raw, err := b.llm.Run(ctx, prompt, threadID)
	if err != nil {
		return nil, fmt.Errorf("querybuilder: llm synthesis: %w", err)
	}

	resp, err := parseSynthesisResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("querybuilder: parse llm response: %w", err)
	}

	referenced := resp.Tables
	if len(referenced) == 0 {
		referenced = tableNames(tables)
	}

	confidence := defaultSynthesisConfidence
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}

	b.logger.Debug("dynamic query synthesized",
		slog.Float64("confidence", confidence),
		slog.Int("tables_considered", len(tables)),
	)

	return &models.SQLDraft{
		SQLText:          resp.SQL,
		TablesReferenced: referenced,
		Confidence:       confidence,
		Reasoning:        resp.Reasoning,
		QuerySource:      models.QuerySourceDynamic,
	}, nil
}

func tableNames(tables []models.TableMetadata) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

// buildSynthesisPrompt formats ranked table metadata for LLM prompting,
// in the teacher's ToPrompt style.
func buildSynthesisPrompt(utterance string, tables []models.TableMetadata) string {
	var sb strings.Builder

	sb.WriteString("Write a single read-only SQL SELECT statement (CTEs allowed) answering the request below, ")
	sb.WriteString("using only the tables and columns listed. Respond with a single JSON object with fields ")
	sb.WriteString("\"sql\", \"confidence\" (0 to 1, your own calibrated confidence that this query is correct and ")
	sb.WriteString("complete), \"reasoning\" (one sentence), and \"tables\" (list of table names used).\n\n")

	sb.WriteString("## Available Tables\n\n")
	for _, t := range tables {
		sb.WriteString(fmt.Sprintf("### %s\n", t.Name))
		if t.Description != "" {
			sb.WriteString(t.Description + "\n")
		}
		sb.WriteString("Columns: ")
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c.Name, c.DataType)
		}
		sb.WriteString(strings.Join(cols, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Request\n\n")
	sb.WriteString(utterance)
	sb.WriteString("\n")

	return sb.String()
}

// sqlFieldPattern recovers a bare "sql" string field from a response that
// failed to parse as well-formed JSON (e.g. an unescaped quote inside the
// query breaking the enclosing object), so a degraded draft can still be
// built instead of discarding an otherwise-usable query.
var sqlFieldPattern = regexp.MustCompile(`"sql"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// parseSynthesisResponse parses the LLM's JSON response. Per spec §4.5 step
// 3, a parse failure does not abort the dynamic path outright: if a "sql"
// field can still be recovered, a degraded response is returned with
// confidence left unset (defaultSynthesisConfidence applies). Only a
// response with no recoverable SQL at all is a hard error.
func parseSynthesisResponse(raw string) (*synthesisResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return recoverSQLOnly(raw)
	}

	var resp synthesisResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return recoverSQLOnly(raw)
	}
	if resp.SQL == "" {
		return recoverSQLOnly(raw)
	}
	return &resp, nil
}

func recoverSQLOnly(raw string) (*synthesisResponse, error) {
	m := sqlFieldPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("no recoverable sql field in response")
	}
	sql := strings.ReplaceAll(m[1], `\"`, `"`)
	sql = strings.ReplaceAll(sql, `\n`, "\n")
	return &synthesisResponse{SQL: sql}, nil
}
