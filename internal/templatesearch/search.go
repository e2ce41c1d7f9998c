// Package templatesearch implements the Template Search component (C2):
// given a natural-language utterance, find the best-matching QueryTemplate
// by embedding similarity over pgvector, grounded on the teacher's
// SchemaRetriever (internal/agents/module_a/a01_text_to_sql/schema_retrieval.go).
// The teacher's table/query-pattern split collapses here into a single
// template index, since spec §4.2 treats a template as the unit of match.
package templatesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	"github.com/nl2sqlcore/pipeline/internal/models"
)

// Embedder creates an embedding vector from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Store holds the persisted template embeddings.
type Store interface {
	// SearchSimilar returns the limit nearest template embeddings to vector.
	SearchSimilar(ctx context.Context, vector pgvector.Vector, limit int) ([]TemplateEmbedding, error)
}

// TemplateEmbedding is one indexed template row.
type TemplateEmbedding struct {
	Template   models.QueryTemplate
	Metadata   json.RawMessage
	Similarity float64
}

// Match is a candidate template with its match score.
type Match struct {
	Template models.QueryTemplate
	Score    float64
}

// Searcher is the Template Search component (C2).
type Searcher struct {
	store     Store
	embedder  Embedder
	logger    *slog.Logger
	threshold float64
}

// Config configures a Searcher.
type Config struct {
	Store     Store
	Embedder  Embedder
	Logger    *slog.Logger
	Threshold float64 // minimum similarity to consider a match, default 0.75
}

// New builds a Searcher.
func New(cfg Config) *Searcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = 0.75
	}
	return &Searcher{
		store:     cfg.Store,
		embedder:  cfg.Embedder,
		logger:    logger.With(slog.String("component", "template_search")),
		threshold: threshold,
	}
}

// Best returns the single best-matching template for utterance, or ok=false
// if nothing clears the match threshold (a TemplateMatchMiss per spec §7).
func (s *Searcher) Best(ctx context.Context, utterance string) (Match, bool, error) {
	vector, err := s.embedder.Embed(ctx, utterance)
	if err != nil {
		return Match{}, false, fmt.Errorf("templatesearch: embed utterance: %w", err)
	}

	candidates, err := s.store.SearchSimilar(ctx, vector, 5)
	if err != nil {
		return Match{}, false, fmt.Errorf("templatesearch: search: %w", err)
	}

	var best Match
	found := false
	for _, c := range candidates {
		if c.Similarity < s.threshold {
			continue
		}
		if !found || c.Similarity > best.Score {
			best = Match{Template: c.Template, Score: c.Similarity}
			found = true
		}
	}

	s.logger.Debug("template search completed",
		slog.Int("candidates", len(candidates)),
		slog.Bool("matched", found),
		slog.Float64("threshold", s.threshold),
	)

	return best, found, nil
}
