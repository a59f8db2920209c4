package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
)

const anthropicVersion = "2023-06-01"

// RemoteClient talks to a messages-API endpoint for the heavyweight planning
// calls. Rate limits honor the server's retry-after; overload (529) backs off
// progressively.
type RemoteClient struct {
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	maxRetries int
	client     *http.Client
	sem        chan struct{}

	// sleep is swapped in tests.
	sleep func(context.Context, time.Duration) error
}

// NewRemoteClient builds a client from config.
func NewRemoteClient(cfg config.RemoteLLMConfig, concurrency int) *RemoteClient {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RemoteClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
		sem:        make(chan struct{}, concurrency),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Deliberate performs one messages call, retrying rate limits and overloads
// with server-guided backoff, and returns the concatenated text blocks.
func (c *RemoteClient) Deliberate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		text, delay, err := c.call(ctx, systemPrompt, prompt, attempt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !faults.IsTransient(err) {
			return "", err
		}
		if attempt == c.maxRetries {
			break
		}
		slog.Warn("Remote model call failed, retrying",
			logfields.Model(c.model), logfields.Attempt(attempt+1), logfields.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("remote model exhausted retries: %w: %v", faults.ErrUnavailable, lastErr)
}

// call performs one attempt and, for retryable failures, suggests the delay
// before the next one.
func (c *RemoteClient) call(ctx context.Context, systemPrompt, prompt string, attempt int) (string, time.Duration, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Duration(1<<attempt) * time.Second,
			fmt.Errorf("remote model request: %w: %v", faults.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := retryAfter(resp, 30*time.Second)
		return "", delay, fmt.Errorf("remote model rate limited: %w", faults.ErrRateLimit)
	case resp.StatusCode == 529:
		// Overloaded: progressive fixed backoff.
		delay := time.Duration(10*(attempt+1)) * time.Second
		return "", delay, fmt.Errorf("remote model overloaded: %w", faults.ErrUnavailable)
	case resp.StatusCode >= 500:
		return "", time.Duration(1<<attempt) * time.Second,
			fmt.Errorf("remote model status %d: %w", resp.StatusCode, faults.ErrUnavailable)
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("remote model status %d: %w: %s", resp.StatusCode, faults.ErrMalformed, raw)
	}

	var result messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decode response: %w: %v", faults.ErrMalformed, err)
	}
	var text string
	for _, block := range result.Content {
		if block.Type == "" || block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", 0, fmt.Errorf("empty response content: %w", faults.ErrMalformed)
	}
	return text, 0, nil
}

func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("retry-after"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// DeliberateJSON runs Deliberate and parses the structured response into out.
func (c *RemoteClient) DeliberateJSON(ctx context.Context, systemPrompt, prompt string, out any) error {
	text, err := c.Deliberate(ctx, systemPrompt, prompt)
	if err != nil {
		return err
	}
	return ExtractJSON(text, out)
}

// Model returns the configured model name for logging.
func (c *RemoteClient) Model() string { return c.model }
