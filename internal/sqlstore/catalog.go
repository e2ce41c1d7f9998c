package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/nl2sqlcore/pipeline/internal/models"
	"github.com/nl2sqlcore/pipeline/internal/templatesearch"
)

// Embedder creates an embedding vector from text, satisfied by
// *llm.Client.Embed. Declared here, narrowly, rather than importing the llm
// package, since the catalog only ever needs this one method.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// TemplateCatalog is the Postgres+pgvector backing store for the Template
// Search component (C2), implementing templatesearch.Store. Grounded on the
// teacher's KnowledgeGraphRepo.FindSimilar (internal/warehouse/knowledge_graph.go),
// whose `ORDER BY embedding <=> $1 LIMIT $2` cosine-distance query this reuses
// verbatim, retargeted from knowledge_graph_nodes to query_templates.
type TemplateCatalog struct {
	pool   *Pool
	logger *slog.Logger
}

// NewTemplateCatalog builds a TemplateCatalog over pool, which should point
// at the pipeline's own metadata database (config.DatabaseConfig), not the
// curated warehouse pool used by Executor.
func NewTemplateCatalog(pool *Pool, logger *slog.Logger) *TemplateCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateCatalog{pool: pool, logger: logger.With(slog.String("component", "template_catalog"))}
}

// SearchSimilar implements templatesearch.Store. Each row's definition column
// is a JSONB-encoded models.QueryTemplate; tags is a small free-form JSONB
// blob describing the template outside of its pipeline-relevant fields
// (owner, category, last-reviewed date), kept opaque to the pipeline core and
// passed through as Metadata.
func (c *TemplateCatalog) SearchSimilar(ctx context.Context, vector pgvector.Vector, limit int) ([]templatesearch.TemplateEmbedding, error) {
	const query = `
		SELECT definition, tags, 1 - (embedding <=> $1) AS similarity
		FROM query_templates
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := c.pool.Raw().Query(ctx, query, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search templates: %w", err)
	}
	defer rows.Close()

	var out []templatesearch.TemplateEmbedding
	for rows.Next() {
		var definition []byte
		var tags []byte
		var similarity float64
		if err := rows.Scan(&definition, &tags, &similarity); err != nil {
			return nil, fmt.Errorf("sqlstore: scan template row: %w", err)
		}
		var tmpl models.QueryTemplate
		if err := json.Unmarshal(definition, &tmpl); err != nil {
			c.logger.Warn("skipping template with malformed definition", slog.String("error", err.Error()))
			continue
		}
		out = append(out, templatesearch.TemplateEmbedding{Template: tmpl, Metadata: json.RawMessage(tags), Similarity: similarity})
	}
	return out, rows.Err()
}

// TableCatalog is the Postgres+pgvector backing store for the Query
// Builder's ranked-table lookup (C5), implementing querybuilder.MetadataProvider.
// It embeds the utterance itself before searching, since RankedTables takes
// text rather than a precomputed vector.
type TableCatalog struct {
	pool     *Pool
	embedder Embedder
	logger   *slog.Logger
}

// NewTableCatalog builds a TableCatalog over pool (the pipeline's own
// metadata database) using embedder to vectorize incoming utterances.
func NewTableCatalog(pool *Pool, embedder Embedder, logger *slog.Logger) *TableCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableCatalog{pool: pool, embedder: embedder, logger: logger.With(slog.String("component", "table_catalog"))}
}

// RankedTables implements querybuilder.MetadataProvider.
func (c *TableCatalog) RankedTables(ctx context.Context, utterance string, limit int) ([]models.TableMetadata, error) {
	vector, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: embed utterance: %w", err)
	}

	const query = `
		SELECT definition
		FROM table_metadata
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := c.pool.Raw().Query(ctx, query, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: ranked tables: %w", err)
	}
	defer rows.Close()

	var out []models.TableMetadata
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("sqlstore: scan table metadata row: %w", err)
		}
		var tm models.TableMetadata
		if err := json.Unmarshal(definition, &tm); err != nil {
			c.logger.Warn("skipping table with malformed definition", slog.String("error", err.Error()))
			continue
		}
		out = append(out, tm)
	}
	return out, rows.Err()
}

// GetByID loads a single template definition by ID, used to resolve
// clarification resumption where only the template ID survives across turns.
func (c *TemplateCatalog) GetByID(ctx context.Context, id string) (models.QueryTemplate, bool, error) {
	var definition []byte
	err := c.pool.Raw().QueryRow(ctx, "SELECT definition FROM query_templates WHERE id = $1", id).Scan(&definition)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.QueryTemplate{}, false, nil
		}
		return models.QueryTemplate{}, false, fmt.Errorf("sqlstore: get template: %w", err)
	}
	var tmpl models.QueryTemplate
	if err := json.Unmarshal(definition, &tmpl); err != nil {
		return models.QueryTemplate{}, false, fmt.Errorf("sqlstore: unmarshal template: %w", err)
	}
	return tmpl, true, nil
}

// AllTableNames lists every table registered in table_metadata, the source
// of truth for the query validator's allowlist (C6) — a table only becomes
// eligible for the dynamic-synthesis path once it's catalogued here.
func (c *TableCatalog) AllTableNames(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Raw().Query(ctx, "SELECT name FROM table_metadata")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list table names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlstore: scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
