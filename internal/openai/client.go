// Package openai wraps the OpenAI embeddings API behind the interface the
// index manager builds and queries with.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the dimension of text-embedding-3-small vectors
	DefaultEmbeddingDimensions = 1536

	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
)

var (
	// ErrEmptyText is returned when there is nothing to embed
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoAPIKey is returned when the OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingAPI defines the upstream call for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Config holds client configuration.
type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	MaxRetries          int
	InitialBackoff      time.Duration
}

// Client generates fixed-dimension embeddings for passages and queries.
// All vectors produced by one client share dimensionality; a batch
// response with missing or mis-sized vectors fails as a whole so the
// caller never persists a partial index.
type Client struct {
	api        EmbeddingAPI
	model      openai.EmbeddingModel
	dimensions int
	maxRetries int
	backoff    time.Duration
}

// NewClient creates a client with default model and dimensions.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	return &Client{
		api:        openai.NewClient(cfg.APIKey),
		model:      cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
	}
}

// NewClientFromEnv creates a client using the OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// WithAPI replaces the upstream API, used by tests to stub the service.
func (c *Client) WithAPI(api EmbeddingAPI) *Client {
	c.api = api
	return c
}

// Dimensions returns the vector dimensionality this client produces.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// EmbedBatch embeds a batch of passage texts, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyText
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	resp, err := c.createWithRetry(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "batch embedding request failed", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, domain.NewDomainError(domain.ErrCodeEmbedding,
			fmt.Sprintf("embedding service returned %d vectors for %d inputs", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, domain.NewDomainError(domain.ErrCodeEmbedding, "embedding response index out of range")
		}
		if len(d.Embedding) != c.dimensions {
			return nil, domain.NewDomainError(domain.ErrCodeEmbedding,
				fmt.Sprintf("embedding has %d dimensions, expected %d", len(d.Embedding), c.dimensions))
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, domain.NewDomainError(domain.ErrCodeEmbedding,
				fmt.Sprintf("embedding service returned no vector for input %d", i))
		}
	}
	return vectors, nil
}

// EmbedOne embeds a single query text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) createWithRetry(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return openai.EmbeddingResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := c.api.CreateEmbeddings(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			// Client errors other than rate limiting will not succeed on retry.
			return openai.EmbeddingResponse{}, err
		}
	}
	return openai.EmbeddingResponse{}, fmt.Errorf("embedding request failed after %d attempts: %w", c.maxRetries, lastErr)
}
