// Package completion is a minimal Azure OpenAI chat completions
// client. The gateway only uses it for one-shot helper calls such as
// conversation titles, so it speaks the non-streaming API only.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/auth"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/httpclient"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Client calls one chat completions deployment.
type Client struct {
	endpoint   string
	apiVersion string
	deployment string
	tokens     auth.TokenProvider
	httpClient *httpclient.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the retrying HTTP client.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New builds a client for the given deployment under the upstream
// endpoint.
func New(endpoint, apiVersion, deployment string, tokens auth.TokenProvider, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiVersion: apiVersion,
		deployment: deployment,
		tokens:     tokens,
		httpClient: httpclient.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs one chat exchange and returns the first choice text.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire token: %w", err)
	}

	reqBody := chatRequest{Messages: messages}
	if maxTokens > 0 {
		reqBody.MaxTokens = &maxTokens
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	// The retrying client returns both a response and an error for
	// non-2xx statuses, so inspect the response before the error.
	resp, err := c.httpClient.Do(req)
	if resp == nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion request returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion API error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
