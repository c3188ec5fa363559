// Package llmgateway is the single-flight RPC boundary to an
// OpenAI-compatible chat-completion endpoint. It exposes exactly one
// operation — Complete — and is stateless and safe for concurrent use.
package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TransportError wraps a network/HTTP failure talking to the backend. It is
// kept distinct from JSON-parse failures, which are the caller's concern,
// not the Gateway's.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("llmgateway: transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Message is one entry of a chat-completion prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// Gateway performs chat completions against a single configured
// OpenAI-compatible backend. It holds no per-call state.
type Gateway struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New builds a Gateway. defaultTimeout is the HTTP client's timeout and
// bounds every call; a per-call timeout passed to Complete can only shorten it.
func New(baseURL, apiKey, model string, defaultTimeout time.Duration) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Complete issues a single chat-completion call and returns the raw text of
// the first choice. It never fails on unparsable *content* — only on
// transport/HTTP failure, which is reported as *TransportError.
func (g *Gateway) Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", &TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &TransportError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// A malformed envelope is still a transport-level concern: the
		// caller asked for text and the server did not speak the protocol.
		return "", &TransportError{Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}
