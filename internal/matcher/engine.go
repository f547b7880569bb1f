package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mwilcox/tweetmatch/internal/cache"
	"github.com/mwilcox/tweetmatch/internal/catalog"
	"github.com/mwilcox/tweetmatch/internal/config"
	"github.com/mwilcox/tweetmatch/internal/encoder"
	"github.com/mwilcox/tweetmatch/internal/models"
	"github.com/mwilcox/tweetmatch/internal/rerank"
)

var (
	// ErrBatchTooLarge rejects an oversized batch outright.
	ErrBatchTooLarge = errors.New("batch exceeds configured size limit")
	// ErrNoSnapshot means serving was asked for before the first catalog load.
	ErrNoSnapshot = errors.New("no catalog snapshot loaded")
)

// Input is one text to match, with its caller-supplied opaque id and an
// optional externally-resolved candidate shortlist of event tickers.
type Input struct {
	ID         string
	Text       string
	Candidates []string
}

// Match pairs an input id with its confirmed match result. Inputs that
// produced no match simply have no Match; callers must not assume 1:1
// correspondence with the request.
type Match struct {
	ID     string
	Result models.MatchResult
}

// Engine coordinates the pipeline per request and owns the snapshot swap
// protocol. Each text moves independently through embed, retrieve, confirm
// and select; one text's rejection never affects another's.
type Engine struct {
	cfg      config.MatchConfig
	embedder encoder.Embedder
	scorer   rerank.Scorer
	loader   catalog.Loader
	cache    cache.EmbeddingCache

	holder catalog.Holder
}

// NewEngine builds the orchestrator. The scorer and cache may be nil, which
// permanently selects the retrieval-only fallback and disables caching.
func NewEngine(cfg config.MatchConfig, embedder encoder.Embedder, scorer rerank.Scorer, loader catalog.Loader, embCache cache.EmbeddingCache) *Engine {
	return &Engine{
		cfg:      cfg,
		embedder: embedder,
		scorer:   scorer,
		loader:   loader,
		cache:    embCache,
	}
}

// Snapshot returns the snapshot currently in service.
func (e *Engine) Snapshot() *catalog.Snapshot {
	return e.holder.Current()
}

// ScorerReady reports whether the cross-scoring model is loaded.
func (e *Engine) ScorerReady(ctx context.Context) bool {
	return e.scorer != nil && e.scorer.Ready(ctx)
}

// ReloadStats summarizes a completed snapshot swap.
type ReloadStats struct {
	OpID     string `json:"opId"`
	Version  string `json:"version"`
	Events   int    `json:"events"`
	Markets  int    `json:"markets"`
	Dim      int    `json:"dim"`
	Previous string `json:"previous,omitempty"`
}

// Reload builds a brand-new snapshot fully in memory, validates it, and
// atomically swaps it into service. On any failure the previous snapshot
// stays in service untouched; in-flight requests always complete against the
// snapshot they dereferenced at request start.
func (e *Engine) Reload(ctx context.Context) (*ReloadStats, error) {
	opID := uuid.NewString()

	snap, err := e.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", opID, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("reload %s: %w", opID, err)
	}
	if snap.Version == "" {
		snap.Version = opID
	}

	old := e.holder.Swap(snap)

	stats := &ReloadStats{
		OpID:    opID,
		Version: snap.Version,
		Events:  snap.NumEvents(),
		Dim:     snap.Dim(),
	}
	for i := range snap.Events {
		stats.Markets += len(snap.Events[i].Markets)
	}
	if old != nil {
		stats.Previous = old.Version
	}

	log.Info().
		Str("op", opID).
		Str("version", snap.Version).
		Int("events", stats.Events).
		Int("markets", stats.Markets).
		Str("previous", stats.Previous).
		Msg("Catalog snapshot swapped")

	return stats, nil
}

// MatchBatch runs the full pipeline for a batch of texts. All texts share a
// single encoder call; rerank calls for independent texts run concurrently.
// Per-item validation failures drop the item, never the batch; an encoder
// failure makes the whole batch unservable.
func (e *Engine) MatchBatch(ctx context.Context, inputs []Input) ([]Match, error) {
	if e.cfg.MaxBatchSize > 0 && len(inputs) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d texts, limit %d", ErrBatchTooLarge, len(inputs), e.cfg.MaxBatchSize)
	}

	snap := e.holder.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}

	valid := make([]int, 0, len(inputs))
	for i, in := range inputs {
		if reason := e.validateInput(in); reason != "" {
			log.Warn().Str("id", in.ID).Str("reason", reason).Msg("Rejected input text")
			continue
		}
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	vectors, err := e.embedAll(ctx, inputs, valid)
	if err != nil {
		return nil, err
	}
	// A vector in the wrong space would dot-product into confidently wrong
	// matches, so a dimension mismatch is an encoder fault, not a no-match.
	for _, vec := range vectors {
		if len(vec) != snap.Dim() {
			return nil, fmt.Errorf("%w: got %d-dim vector for a %d-dim catalog",
				encoder.ErrUnavailable, len(vec), snap.Dim())
		}
	}

	results := make([]*models.MatchResult, len(valid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, idx := range valid {
		i, idx := i, idx
		g.Go(func() error {
			results[i] = e.matchOne(gctx, snap, inputs[idx], vectors[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(valid))
	for i, idx := range valid {
		if results[i] != nil {
			matches = append(matches, Match{ID: inputs[idx].ID, Result: *results[i]})
		}
	}
	return matches, nil
}

func (e *Engine) validateInput(in Input) string {
	if in.ID == "" {
		return "missing id"
	}
	if strings.TrimSpace(in.Text) == "" {
		return "empty text"
	}
	if e.cfg.MaxTextLen > 0 && len(in.Text) > e.cfg.MaxTextLen {
		return "text too long"
	}
	return ""
}

// embedAll resolves vectors for the valid inputs: cache hits first, then one
// batched encoder call for the misses. Cache errors degrade to a miss.
func (e *Engine) embedAll(ctx context.Context, inputs []Input, valid []int) ([][]float32, error) {
	vectors := make([][]float32, len(valid))
	missPos := make([]int, 0, len(valid))
	missTexts := make([]string, 0, len(valid))

	for i, idx := range valid {
		text := inputs[idx].Text
		if e.cache != nil {
			vec, ok, err := e.cache.Get(ctx, cache.Key(text))
			if err != nil {
				log.Warn().Err(err).Msg("Embedding cache get failed")
			} else if ok {
				vectors[i] = vec
				continue
			}
		}
		missPos = append(missPos, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		embedded, err := e.embedder.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for k, pos := range missPos {
			vectors[pos] = embedded[k]
			if e.cache != nil {
				if err := e.cache.Set(ctx, cache.Key(missTexts[k]), embedded[k]); err != nil {
					log.Warn().Err(err).Msg("Embedding cache set failed")
				}
			}
		}
	}
	return vectors, nil
}

func (e *Engine) matchOne(ctx context.Context, snap *catalog.Snapshot, in Input, vec []float32) *models.MatchResult {
	now := time.Now().UTC()

	rows, restricted := e.shortlistRows(snap, in)
	if restricted && len(rows) == 0 {
		return nil
	}

	ranked := Retrieve(snap, vec, rows)
	if len(ranked) == 0 {
		return nil
	}

	if ranked[0].Similarity < e.cfg.CosineGate {
		log.Debug().
			Str("id", in.ID).
			Float64("similarity", ranked[0].Similarity).
			Msg("Best similarity below cosine gate")
		return nil
	}

	viable := e.viableCandidates(snap, ranked, now)
	if len(viable) == 0 {
		return nil
	}

	row, confidence, ok := e.confirm(ctx, snap, in.Text, viable)
	if !ok {
		return nil
	}

	ev := snap.EventAt(row)
	markets := SelectMarkets(ev, e.cfg, now)
	if len(markets) == 0 {
		return nil
	}

	return &models.MatchResult{
		EventTicker: ev.Ticker,
		Confidence:  round3(confidence),
		Markets:     markets,
	}
}

// shortlistRows restricts retrieval when the caller supplied candidates, or
// narrows it when the snapshot's entity index recognizes something in the
// text. restricted means the caller named candidates: none resolving to a
// known event is a hard no-match, not a cue to scan everything.
func (e *Engine) shortlistRows(snap *catalog.Snapshot, in Input) (rows []int, restricted bool) {
	if len(in.Candidates) > 0 {
		return mapTickers(snap, in.Candidates), true
	}
	if snap.Entities != nil {
		if hits := snap.Entities.Resolve(in.Text); len(hits) > 0 {
			if rows := mapTickers(snap, hits); len(rows) > 0 {
				return rows, false
			}
		}
	}
	return nil, false
}

func mapTickers(snap *catalog.Snapshot, tickers []string) []int {
	rows := make([]int, 0, len(tickers))
	for _, t := range tickers {
		if row, ok := snap.EventIndex(t); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// viableCandidates walks the top ScanWidth retrieval hits and keeps up to
// MaxCandidates events that have something tradeable.
func (e *Engine) viableCandidates(snap *catalog.Snapshot, ranked []Candidate, now time.Time) []Candidate {
	width := e.cfg.ScanWidth
	if width <= 0 || width > len(ranked) {
		width = len(ranked)
	}

	out := make([]Candidate, 0, e.cfg.MaxCandidates)
	for _, c := range ranked[:width] {
		if hasTradeableMarket(snap.EventAt(c.Row), now) {
			out = append(out, c)
			if e.cfg.MaxCandidates > 0 && len(out) >= e.cfg.MaxCandidates {
				break
			}
		}
	}
	return out
}

// confirm reranks the viable shortlist and applies the confirmation gates.
// When the scorer is down this degrades to retrieval-only confirmation under
// the stricter cosine-only gate, never the lax primary gate.
func (e *Engine) confirm(ctx context.Context, snap *catalog.Snapshot, text string, viable []Candidate) (row int, confidence float64, ok bool) {
	if e.scorer == nil {
		return e.confirmRetrievalOnly(viable)
	}

	docs := make([]string, len(viable))
	for i, c := range viable {
		docs[i] = eventDocument(snap.EventAt(c.Row))
	}

	scores, err := e.scorer.Score(ctx, text, docs)
	if err != nil {
		log.Warn().Err(err).Msg("Cross scorer unavailable, falling back to retrieval-only gate")
		return e.confirmRetrievalOnly(viable)
	}
	if len(scores) != len(viable) {
		log.Warn().
			Int("scores", len(scores)).
			Int("candidates", len(viable)).
			Msg("Cross scorer returned wrong score count, falling back to retrieval-only gate")
		return e.confirmRetrievalOnly(viable)
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	if scores[best] < e.cfg.RerankGate {
		return 0, 0, false
	}
	if viable[best].Similarity < e.cfg.MinRetrievalFloor {
		log.Debug().
			Float64("similarity", viable[best].Similarity).
			Float64("score", scores[best]).
			Msg("Refined score passed but retrieval similarity under floor")
		return 0, 0, false
	}
	return viable[best].Row, scores[best], true
}

func (e *Engine) confirmRetrievalOnly(viable []Candidate) (int, float64, bool) {
	top := viable[0]
	if top.Similarity < e.cfg.CosineOnlyGate {
		return 0, 0, false
	}
	return top.Row, top.Similarity, true
}

// eventDocument is the text handed to the cross scorer for a candidate: the
// enriched description the catalog was embedded from, or the title when the
// snapshot carries none.
func eventDocument(ev *models.Event) string {
	if ev.Description != "" {
		return ev.Description
	}
	if ev.Subtitle != "" {
		return ev.Title + " " + ev.Subtitle
	}
	return ev.Title
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
