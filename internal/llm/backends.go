package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ollamaBackend calls a local Ollama server's /api/generate endpoint.
type ollamaBackend struct {
	cfg    Config
	client *http.Client
}

func (b *ollamaBackend) httpClient() *http.Client {
	if b.client == nil {
		b.client = &http.Client{Timeout: 60 * time.Second}
	}
	return b.client
}

func (b *ollamaBackend) complete(ctx context.Context, prompt string) (string, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	body, err := json.Marshal(map[string]any{
		"model":  b.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": b.cfg.Temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: ollama returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode ollama response: %w", err)
	}
	return out.Response, nil
}

func (b *ollamaBackend) embed(ctx context.Context, text string) ([]float32, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	body, err := json.Marshal(map[string]any{
		"model":  b.cfg.Model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal ollama embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: ollama embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm: ollama embed returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode ollama embed response: %w", err)
	}
	return toFloat32(out.Embedding), nil
}

// openAIBackend calls an OpenAI-compatible chat completions endpoint.
type openAIBackend struct {
	cfg    Config
	client *http.Client
}

func (b *openAIBackend) httpClient() *http.Client {
	if b.client == nil {
		b.client = &http.Client{Timeout: 60 * time.Second}
	}
	return b.client
}

func (b *openAIBackend) complete(ctx context.Context, prompt string) (string, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	body, err := json.Marshal(map[string]any{
		"model": b.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": b.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: openai returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: openai returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (b *openAIBackend) embed(ctx context.Context, text string) ([]float32, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	model := b.cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	body, err := json.Marshal(map[string]any{
		"model": model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal openai embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build openai embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: openai embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm: openai embed returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode openai embed response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("llm: openai embed returned no data")
	}
	return toFloat32(out.Data[0].Embedding), nil
}

// geminiBackend calls a Gemini-compatible generateContent endpoint.
type geminiBackend struct {
	cfg    Config
	client *http.Client
}

func (b *geminiBackend) httpClient() *http.Client {
	if b.client == nil {
		b.client = &http.Client{Timeout: 60 * time.Second}
	}
	return b.client
}

func (b *geminiBackend) complete(ctx context.Context, prompt string) (string, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	body, err := json.Marshal(map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", endpoint, b.cfg.Model, b.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm: gemini returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("llm: gemini returned no candidates")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (b *geminiBackend) embed(ctx context.Context, text string) ([]float32, error) {
	endpoint := b.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := b.cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}
	body, err := json.Marshal(map[string]any{
		"content": map[string]any{"parts": []map[string]string{{"text": text}}},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal gemini embed request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", endpoint, model, b.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build gemini embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: gemini embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm: gemini embed returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Embedding struct {
			Values []float64 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode gemini embed response: %w", err)
	}
	return toFloat32(out.Embedding.Values), nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
