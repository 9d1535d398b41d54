// Package chat streams completions from an Ollama-compatible chat endpoint,
// grounding answers in search context.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/knowledge-base/internal/kberrors"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds chat client configuration.
type Config struct {
	BaseURL string // Default: http://localhost:11434
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to the /api/chat endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a chat client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// systemPrompt frames the retrieved context for the model.
const systemPrompt = "You are a knowledge base assistant. Answer using only the provided context sections. " +
	"If the context does not contain the answer, say so."

// Stream sends the conversation plus retrieval context and invokes onDelta
// for each generated text fragment until the model finishes.
func (c *Client) Stream(ctx context.Context, searchContext string, messages []Message, onDelta func(delta string) error) error {
	payload := make([]Message, 0, len(messages)+2)
	payload = append(payload, Message{Role: "system", Content: systemPrompt})
	if searchContext != "" {
		payload = append(payload, Message{Role: "system", Content: "Context:\n" + searchContext})
	}
	payload = append(payload, messages...)

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: payload, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return kberrors.Wrap(kberrors.KindCancelled, "chat aborted", ctx.Err())
		}
		return kberrors.Wrap(kberrors.KindEmbedding, "chat request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return kberrors.Newf(kberrors.KindEmbedding, "chat API error: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode chat chunk: %w", err)
		}
		if chunk.Error != "" {
			return kberrors.Newf(kberrors.KindEmbedding, "chat API error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onDelta(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return kberrors.Wrap(kberrors.KindCancelled, "chat aborted", ctx.Err())
		}
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}

// Model returns the configured chat model.
func (c *Client) Model() string {
	return c.model
}
