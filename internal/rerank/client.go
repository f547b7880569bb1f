// Package rerank provides the cross-encoder scoring client. Unlike the
// retriever's vector scan, the cross model reads the query and each candidate
// jointly, which buys precision at a much higher per-pair cost. It only ever
// sees the short list retrieval already filtered.
package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable marks scorer failures. Callers fall back to retrieval-only
// confirmation with the stricter cosine-only gate; they never skip
// confirmation.
var ErrUnavailable = errors.New("rerank service unavailable")

// Scorer is the cross-scoring contract the engine depends on.
type Scorer interface {
	// Score rates (query, document) pairs in one batched call and returns
	// one refined score per document in [0,1], in input order.
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	// Ready reports whether the scoring model is loaded.
	Ready(ctx context.Context) bool
}

// Client talks to the external rerank service over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient creates a rerank client for the given service base URL.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(endpoint).
			SetTimeout(timeout),
	}
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score implements Scorer.
func (c *Client) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(scoreRequest{Query: query, Documents: documents}).
		Post("/rerank")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: rerank API returned %d: %s", ErrUnavailable, resp.StatusCode(), resp.String())
	}

	var body scoreResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: parse scores: %v", ErrUnavailable, err)
	}
	if len(body.Scores) != len(documents) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents", ErrUnavailable, len(body.Scores), len(documents))
	}

	for i, s := range body.Scores {
		if s < 0 || s > 1 {
			return nil, fmt.Errorf("%w: score %f at index %d outside [0,1]", ErrUnavailable, s, i)
		}
	}

	log.Debug().
		Int("documents", len(documents)).
		Msg("Reranked candidates")

	return body.Scores, nil
}

// Ready probes the service health endpoint.
func (c *Client) Ready(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return false
	}
	return resp.StatusCode() == 200
}
