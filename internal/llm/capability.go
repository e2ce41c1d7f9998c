// Package llm provides the opaque LLM capability interface from spec §4.2:
// the pipeline core accepts any implementation exposing run(prompt,
// thread_id) → text and never mentions model family, provider, or protocol.
//
// Grounded on the teacher's internal/agents/shared.LLMClient, which
// switches between OpenAI/Ollama/Gemini providers via LLM_PROVIDER. That
// provider-switching mechanism is kept underneath a narrower Capability
// interface, since the teacher's own Generate/GenerateJSON/Embed surface is
// wider than the two named capabilities (parameter-extractor LLM,
// query-builder LLM) the pipeline actually needs.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"
)

// Capability is the opaque interface C3 and C5 depend on. Test doubles
// return canned text; production implementations call an external
// conversational AI service.
type Capability interface {
	Run(ctx context.Context, prompt string, threadID string) (string, error)
}

// Provider selects which backend a Client delegates to.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
)

// Config configures a Client.
type Config struct {
	Provider    Provider
	Model       string
	Endpoint    string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// backend is the narrow per-provider surface a Client delegates to. Each
// provider implements exactly this, mirroring the teacher's
// OpenAIClient/OllamaClient/GeminiClient split.
type backend interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// embedBackend is the optional embedding capability a backend may add;
// asserted at call time since not every provider this pipeline talks to
// needs to expose one (Capability itself never requires it).
type embedBackend interface {
	embed(ctx context.Context, text string) ([]float32, error)
}

// Client is the production Capability implementation: provider-switchable,
// configured from the environment the way the teacher's NewLLMClient was.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	backend backend
}

// NewClient builds a Client for the given config. The concrete backend is
// resolved from cfg.Provider; an unknown provider defaults to Ollama, since
// that is the only backend runnable without an external API key.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	var b backend
	switch cfg.Provider {
	case ProviderOpenAI:
		b = &openAIBackend{cfg: cfg}
	case ProviderGemini:
		b = &geminiBackend{cfg: cfg}
	default:
		b = &ollamaBackend{cfg: cfg}
	}
	return &Client{cfg: cfg, logger: logger.With(slog.String("component", "llm")), backend: b}
}

// Run implements Capability. thread_id is accepted for interface parity with
// spec §4.2 and is attached to logs for correlation; the core never branches
// on it, and production backends that need conversational continuity thread
// it through their own session mechanism rather than this call.
func (c *Client) Run(ctx context.Context, prompt string, threadID string) (string, error) {
	c.logger.Debug("llm call", slog.String("thread_id", threadID), slog.Int("prompt_len", len(prompt)))
	text, err := c.backend.complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("llm call failed", slog.String("thread_id", threadID), slog.String("error", err.Error()))
		return "", err
	}
	return text, nil
}

// Embed implements templatesearch.Embedder and sqlstore.Embedder (used by
// TableCatalog to rank tables for the query builder), dispatching to
// whichever backend cfg.Provider selected.
// It satisfies the interface directly rather than through an adapter type,
// the way the teacher's own LLMClient.Embed sits alongside Generate.
func (c *Client) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	eb, ok := c.backend.(embedBackend)
	if !ok {
		return pgvector.Vector{}, fmt.Errorf("llm: provider %s does not support embeddings", c.cfg.Provider)
	}
	vec, err := eb.embed(ctx, text)
	if err != nil {
		c.logger.Warn("embedding call failed", slog.String("error", err.Error()))
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}
