package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mwilcox/tweetmatch/internal/encoder"
	"github.com/mwilcox/tweetmatch/internal/matcher"
	"github.com/mwilcox/tweetmatch/internal/models"
)

// Handlers holds the API handlers.
type Handlers struct {
	engine *matcher.Engine
}

// NewHandlers creates new API handlers.
func NewHandlers(engine *matcher.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ============================================================================
// MATCH HANDLER
// ============================================================================

// Tweet is one input text with its caller-supplied opaque id.
type Tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MatchRequest is a batch of texts plus optional per-text candidate event
// tickers from an external entity-matching shortcut.
type MatchRequest struct {
	Tweets     []Tweet             `json:"tweets"`
	Candidates map[string][]string `json:"candidates,omitempty"`
}

// TweetMatch is one confirmed match. Tweets with no match have no entry.
type TweetMatch struct {
	ID          string          `json:"id"`
	EventTicker string          `json:"eventTicker"`
	Confidence  float64         `json:"confidence"`
	Markets     []models.Market `json:"markets"`
}

// MatchResponse carries all matches for a batch and the batch latency.
type MatchResponse struct {
	Matches   []TweetMatch `json:"matches"`
	LatencyMs float64      `json:"latencyMs"`
}

// MatchTweets matches a batch of texts against the current catalog snapshot.
func (h *Handlers) MatchTweets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inputs := make([]matcher.Input, 0, len(req.Tweets))
	for _, t := range req.Tweets {
		in := matcher.Input{ID: t.ID, Text: t.Text}
		if req.Candidates != nil {
			in.Candidates = req.Candidates[t.ID]
		}
		inputs = append(inputs, in)
	}

	matches, err := h.engine.MatchBatch(r.Context(), inputs)
	if err != nil {
		switch {
		case errors.Is(err, matcher.ErrBatchTooLarge):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, encoder.ErrUnavailable), errors.Is(err, matcher.ErrNoSnapshot):
			respondError(w, http.StatusServiceUnavailable, "Matching temporarily unavailable")
		default:
			respondError(w, http.StatusInternalServerError, "Failed to match tweets")
		}
		return
	}

	out := make([]TweetMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, TweetMatch{
			ID:          m.ID,
			EventTicker: m.Result.EventTicker,
			Confidence:  m.Result.Confidence,
			Markets:     m.Result.Markets,
		})
	}

	respondJSON(w, http.StatusOK, MatchResponse{
		Matches:   out,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

// ============================================================================
// MARKET HANDLER
// ============================================================================

// MarketDetail is the single-market payload the trade proxy and live-price
// refresh poll.
type MarketDetail struct {
	models.Market
	EventTitle    string `json:"eventTitle,omitempty"`
	EventSubtitle string `json:"eventSubtitle,omitempty"`
	Category      string `json:"category,omitempty"`
}

// GetMarket returns one market's current prices and metadata.
func (h *Handlers) GetMarket(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if ticker == "" {
		respondError(w, http.StatusBadRequest, "Market ticker is required")
		return
	}

	snap := h.engine.Snapshot()
	if snap == nil {
		respondError(w, http.StatusServiceUnavailable, "No catalog loaded")
		return
	}

	market, ok := snap.MarketByTicker(ticker)
	if !ok {
		respondError(w, http.StatusNotFound, "Market not found")
		return
	}

	detail := MarketDetail{Market: *market}
	if row, ok := snap.EventIndex(market.EventTicker); ok {
		ev := snap.EventAt(row)
		detail.EventTitle = ev.Title
		detail.EventSubtitle = ev.Subtitle
		detail.Category = ev.Category
	}

	respondJSON(w, http.StatusOK, detail)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthCheck reports scorer readiness and the size of the serving snapshot.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()

	resp := map[string]interface{}{
		"status":     "ok",
		"rerankerUp": h.engine.ScorerReady(r.Context()),
		"events":     snap.NumEvents(),
	}
	if snap != nil {
		resp["snapshotVersion"] = snap.Version
	}

	respondJSON(w, http.StatusOK, resp)
}
