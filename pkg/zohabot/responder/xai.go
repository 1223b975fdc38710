package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultXAIBaseURL = "https://api.x.ai/v1"
	// DefaultXAIModel is used when no model is configured.
	DefaultXAIModel = "grok-3-mini"
)

// XAIConfig configures the xAI backend.
type XAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// XAI calls xAI's OpenAI-compatible chat completions endpoint.
type XAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewXAI creates an xAI backend. It returns ErrNotConfigured when the API
// key is empty.
func NewXAI(cfg XAIConfig) (*XAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultXAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultXAIModel
	}
	return &XAI{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(),
	}, nil
}

// Name implements Backend.
func (x *XAI) Name() string { return "xai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate implements Backend.
func (x *XAI) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    x.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("xai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("xai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("xai: API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("xai: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("xai: API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return "", fmt.Errorf("xai: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("xai: %s", result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("xai: API error (status %d)", resp.StatusCode)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("xai: empty response")
	}
	return result.Choices[0].Message.Content, nil
}
