// Package llm holds the local (summarization) and remote (planning) model
// clients. Both are thread-safe; a semaphore caps in-flight requests.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/retry"
)

// summaryNumPredict bounds local model output length.
const summaryNumPredict = 2000

// LocalClient talks to an Ollama-compatible server for per-file work.
type LocalClient struct {
	endpoint string
	model    string
	temp     float64
	client   *http.Client
	policy   retry.Policy
	sem      chan struct{}
}

// NewLocalClient builds a client from config; concurrency caps simultaneous
// requests (typically the net worker pool size).
func NewLocalClient(cfg config.LocalLLMConfig, concurrency int) *LocalClient {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LocalClient{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		temp:     cfg.Temperature,
		client:   &http.Client{Timeout: cfg.Timeout},
		policy:   retry.NewPolicy(retry.BackoffExponential, 0, 0, cfg.MaxRetries),
		sem:      make(chan struct{}, concurrency),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize performs one non-streaming generate call and returns the text.
// Transient failures are retried with backoff; persistent failure surfaces
// as unavailable.
func (c *LocalClient) Summarize(ctx context.Context, prompt string) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var out string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		text, err := c.generate(ctx, prompt)
		if err != nil {
			return err
		}
		out = text
		return nil
	}, faults.IsTransient)
	if err != nil {
		if faults.IsTransient(err) {
			return "", fmt.Errorf("local model exhausted retries: %w: %v", faults.ErrUnavailable, err)
		}
		return "", err
	}
	return out, nil
}

func (c *LocalClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: c.temp,
			NumPredict:  summaryNumPredict,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("local model request: %w: %v", faults.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("local model status %d: %w: %s", resp.StatusCode, faults.ErrUnavailable, raw)
		}
		return "", fmt.Errorf("local model status %d: %w: %s", resp.StatusCode, faults.ErrMalformed, raw)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w: %v", faults.ErrMalformed, err)
	}
	return result.Response, nil
}

// Healthy checks the tags endpoint; used as an indexing prerequisite.
func (c *LocalClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("local model unreachable: %w: %v", faults.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local model health status %d: %w", resp.StatusCode, faults.ErrUnavailable)
	}
	return nil
}

// Pull asks the server to download the configured model.
func (c *LocalClient) Pull(ctx context.Context) error {
	body, _ := json.Marshal(map[string]any{"name": c.model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Info("Pulling local model", logfields.Model(c.model))
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pull model: %w: %v", faults.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull model status %d: %w", resp.StatusCode, faults.ErrUnavailable)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Model returns the configured model name for logging.
func (c *LocalClient) Model() string { return c.model }
