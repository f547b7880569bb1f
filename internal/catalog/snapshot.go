// Package catalog holds the immutable event/embedding snapshot the matching
// engine serves from, plus the loaders and the atomic swap used for hot
// reload.
package catalog

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/mwilcox/tweetmatch/internal/models"
)

// NormTolerance is how far an embedding's L2 norm may drift from 1.0 before
// the snapshot is rejected. Catalog vectors are normalized at ingestion, so
// anything beyond float noise means the inputs are inconsistent.
const NormTolerance = 1e-3

// Loader produces a fully built snapshot from some persisted catalog source.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Snapshot is a point-in-time copy of the full catalog: events, markets,
// their precomputed embeddings, and the entity shortcut tables. It is never
// mutated after Validate; serving code only reads it. Row i of Embeddings
// belongs to Tickers[i] and Events[i].
type Snapshot struct {
	Version  string
	LoadedAt time.Time

	Events     []models.Event
	Tickers    []string
	Embeddings [][]float32
	Entities   *EntityIndex

	eventIdx  map[string]int
	marketIdx map[string]*models.Market
}

// NewSnapshot assembles a snapshot and builds its lookup indexes. Events must
// already be arranged in the same order as tickers and embedding rows; call
// Validate before putting the snapshot into service.
func NewSnapshot(version string, events []models.Event, tickers []string, embeddings [][]float32, entities *EntityIndex) *Snapshot {
	s := &Snapshot{
		Version:    version,
		LoadedAt:   time.Now().UTC(),
		Events:     events,
		Tickers:    tickers,
		Embeddings: embeddings,
		Entities:   entities,
		eventIdx:   make(map[string]int, len(events)),
		marketIdx:  make(map[string]*models.Market),
	}
	for i := range s.Events {
		ev := &s.Events[i]
		if _, ok := s.eventIdx[ev.Ticker]; !ok {
			s.eventIdx[ev.Ticker] = i
		}
		for j := range ev.Markets {
			m := &ev.Markets[j]
			if _, ok := s.marketIdx[m.Ticker]; !ok {
				s.marketIdx[m.Ticker] = m
			}
		}
	}
	return s
}

// Validate checks the mutual consistency the reload protocol depends on.
// A snapshot that fails validation must never be swapped in.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("catalog: nil snapshot")
	}
	if len(s.Events) != len(s.Tickers) {
		return fmt.Errorf("catalog: %d events but %d tickers", len(s.Events), len(s.Tickers))
	}
	if len(s.Embeddings) != len(s.Tickers) {
		return fmt.Errorf("catalog: %d embedding rows but %d tickers", len(s.Embeddings), len(s.Tickers))
	}

	seen := make(map[string]bool, len(s.Tickers))
	dim := 0
	for i, ticker := range s.Tickers {
		if ticker == "" {
			return fmt.Errorf("catalog: empty ticker at row %d", i)
		}
		if seen[ticker] {
			return fmt.Errorf("catalog: duplicate event ticker %q", ticker)
		}
		seen[ticker] = true

		if s.Events[i].Ticker != ticker {
			return fmt.Errorf("catalog: row %d event ticker %q does not match ticker list entry %q",
				i, s.Events[i].Ticker, ticker)
		}

		vec := s.Embeddings[i]
		if len(vec) == 0 {
			return fmt.Errorf("catalog: empty embedding for %q", ticker)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return fmt.Errorf("catalog: embedding for %q has %d dims, expected %d", ticker, len(vec), dim)
		}
		if err := checkUnitNorm(vec); err != nil {
			return fmt.Errorf("catalog: embedding for %q: %w", ticker, err)
		}

		for _, m := range s.Events[i].Markets {
			if m.Ticker == "" {
				return fmt.Errorf("catalog: event %q has a market with no ticker", ticker)
			}
			if m.EventTicker != "" && m.EventTicker != ticker {
				return fmt.Errorf("catalog: market %q references event %q but belongs to %q",
					m.Ticker, m.EventTicker, ticker)
			}
		}
	}
	return nil
}

func checkUnitNorm(vec []float32) error {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1.0) > NormTolerance {
		return fmt.Errorf("L2 norm %.6f outside unit tolerance", norm)
	}
	return nil
}

// NumEvents returns the event count.
func (s *Snapshot) NumEvents() int {
	if s == nil {
		return 0
	}
	return len(s.Events)
}

// Dim returns the embedding dimensionality, 0 for an empty snapshot.
func (s *Snapshot) Dim() int {
	if s == nil || len(s.Embeddings) == 0 {
		return 0
	}
	return len(s.Embeddings[0])
}

// EventIndex returns the row index for an event ticker.
func (s *Snapshot) EventIndex(ticker string) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.eventIdx[ticker]
	return i, ok
}

// EventAt returns the event at a retrieval row index.
func (s *Snapshot) EventAt(i int) *models.Event {
	return &s.Events[i]
}

// MarketByTicker looks up a single market anywhere in the snapshot.
func (s *Snapshot) MarketByTicker(ticker string) (*models.Market, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.marketIdx[ticker]
	return m, ok
}

// Holder owns the single swappable reference to the serving snapshot.
// Readers dereference once at request start and use that snapshot for the
// whole request; Swap publishes a validated replacement without blocking
// in-flight reads. Superseded snapshots are garbage-collected once the last
// request referencing them completes.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the serving snapshot, or nil before the first load.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap atomically replaces the serving snapshot and returns the previous one.
func (h *Holder) Swap(next *Snapshot) *Snapshot {
	return h.current.Swap(next)
}
