// Package encoder turns input texts into unit vectors in the catalog's
// embedding space by calling an OpenAI-compatible embedding endpoint serving
// the same model the ingestion pipeline embedded the catalog with.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable marks encoder failures that make the whole batch
// unservable, as opposed to "no match" which is a valid outcome.
var ErrUnavailable = errors.New("encoder unavailable")

// Embedder is the batched encoding contract the engine depends on.
// Encoding cost dominates per-call overhead, so callers must pass the whole
// batch of pending texts in one call, never one text at a time.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client wraps the OpenAI SDK configured for the embedding service.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// Config holds the configuration for the embedding client.
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.Endpoint

	return &Client{
		client:  openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// EmbedBatch embeds all texts in one call and returns unit-length vectors in
// input order. Any transport or model failure is wrapped in ErrUnavailable.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log.Debug().
		Str("model", c.model).
		Int("texts", len(texts)).
		Msg("Sending embedding request")

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrUnavailable, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrUnavailable, d.Index)
		}
		out[d.Index] = Normalize(d.Embedding)
	}
	return out, nil
}

// Normalize rescales a vector to unit L2 norm so cosine similarity against
// the catalog reduces to a dot product. Zero vectors come back unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
