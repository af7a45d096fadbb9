package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client asks the external generative-analysis service for a structured
// completion. The schema shapes the response; implementations return raw
// JSON matching it. Every caller must treat failure as a degraded signal,
// not a fatal error.
type Client interface {
	Complete(ctx context.Context, prompt string, responseSchema map[string]interface{}) (json.RawMessage, error)
}

// Config holds connection settings for the analysis service
type Config struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	APIKey  string        `json:"-" mapstructure:"api_key"`
	Model   string        `json:"model" mapstructure:"model"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// HTTPClient implements Client against a JSON completion endpoint
type HTTPClient struct {
	cfg    Config
	client *http.Client
	logger *zap.SugaredLogger
}

// NewHTTPClient creates a client. Timeout defaults to 30s.
func NewHTTPClient(cfg Config, logger *zap.SugaredLogger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type completionRequest struct {
	Model          string                 `json:"model,omitempty"`
	Prompt         string                 `json:"prompt"`
	ResponseSchema map[string]interface{} `json:"response_json_schema"`
}

type completionResponse struct {
	Content json.RawMessage `json:"content"`
}

func (c *HTTPClient) Complete(ctx context.Context, prompt string, responseSchema map[string]interface{}) (json.RawMessage, error) {
	if !c.cfg.Enabled || c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("analysis service not configured")
	}

	body, err := json.Marshal(completionRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		ResponseSchema: responseSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("analysis response had empty content")
	}
	return parsed.Content, nil
}
