// Package matcher implements the two-stage retrieval-and-rerank pipeline
// that turns free text into a ranked event match, plus the market selection
// policy applied to a confirmed event.
package matcher

import (
	"sort"
	"time"

	"github.com/mwilcox/tweetmatch/internal/catalog"
	"github.com/mwilcox/tweetmatch/internal/models"
)

// Candidate is one retrieval hit: a snapshot row and its raw similarity.
type Candidate struct {
	Row        int
	Similarity float64
}

// Retrieve scores the query vector against every event embedding in the
// snapshot (or only the given rows, when an external shortcut narrowed the
// set) and returns candidates ranked by descending similarity. Ties break by
// catalog insertion order, so rankings are deterministic across runs. The
// catalog is small enough (hundreds to low thousands of events) that a full
// scan beats maintaining a sub-index.
func Retrieve(snap *catalog.Snapshot, query []float32, rows []int) []Candidate {
	if snap == nil || snap.NumEvents() == 0 || len(query) == 0 {
		return nil
	}

	if rows == nil {
		rows = make([]int, snap.NumEvents())
		for i := range rows {
			rows[i] = i
		}
	} else {
		rows = dedupeRows(rows, snap.NumEvents())
		if len(rows) == 0 {
			return nil
		}
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, Candidate{
			Row:        row,
			Similarity: dot(query, snap.Embeddings[row]),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	return candidates
}

// dedupeRows drops out-of-range and repeated rows and restores catalog
// insertion order so the stable sort's tie-break stays deterministic no
// matter how the caller ordered its shortcut list.
func dedupeRows(rows []int, n int) []int {
	out := make([]int, 0, len(rows))
	seen := make(map[int]bool, len(rows))
	for _, r := range rows {
		if r >= 0 && r < n && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// hasTradeableMarket reports event viability: at least one open market with a
// published price. Events failing this are skipped during the viability scan,
// since a match against an event with nothing tradeable is useless to the
// caller.
func hasTradeableMarket(ev *models.Event, now time.Time) bool {
	for i := range ev.Markets {
		m := &ev.Markets[i]
		if _, ok := m.Price(); ok && m.IsOpen(now) {
			return true
		}
	}
	return false
}
