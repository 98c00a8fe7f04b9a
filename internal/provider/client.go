// Package provider talks to OpenAI-compatible hosted model APIs for chat
// completions, embeddings, and audio transcription.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	initialBackoff    = 500 * time.Millisecond
)

// ErrMissingAPIKey is returned by New when no credential is configured.
var ErrMissingAPIKey = errors.New("missing API key")

// Options configures a Client.
type Options struct {
	Name               string // used in error messages, e.g. "llm" or "embedding"
	BaseURL            string
	APIKey             string
	Model              string
	TranscriptionModel string
	Timeout            time.Duration
	MaxRetries         int
}

// Client wraps go-openai with bounded retries on rate limits and server errors.
type Client struct {
	name               string
	api                *openai.Client
	model              string
	transcriptionModel string
	maxRetries         int
	backoff            time.Duration
}

// New creates a Client. The API key is required.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		if opts.Name != "" {
			return nil, fmt.Errorf("%s: %w", opts.Name, ErrMissingAPIKey)
		}
		return nil, ErrMissingAPIKey
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		name:               opts.Name,
		api:                openai.NewClientWithConfig(cfg),
		model:              opts.Model,
		transcriptionModel: opts.TranscriptionModel,
		maxRetries:         retries,
		backoff:            initialBackoff,
	}, nil
}

// Model returns the chat or embedding model this client targets.
func (c *Client) Model() string {
	return c.model
}

// Chat sends prompt as a single user message and returns the reply text.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, "chat completion", func() error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, "embedding", func() error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("embedding returned invalid index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Transcribe converts recorded speech to text. The audio reader is consumed
// once, so failed attempts are not retried.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}

func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := range c.maxRetries {
		err := call()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = err
		if attempt < c.maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.maxRetries, lastErr)
}

// StatusCode extracts the HTTP status from a provider error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func retryable(err error) bool {
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code >= 500
}
