package matcher

import (
	"sort"
	"time"

	"github.com/mwilcox/tweetmatch/internal/config"
	"github.com/mwilcox/tweetmatch/internal/models"
)

// SelectMarkets picks which outcomes of a confirmed event are worth
// surfacing. Viable means open, not past close, and priced strictly inside
// the configured band; outside it the outcome is near-certain and not
// interesting to trade. Results sort by distance from the midpoint ascending
// (most uncertain first) and are capped at MaxMarketsReturned.
//
// Fallback: when nothing passes the price filter, any open market with a
// price qualifies, same cap. An event with no selectable market at all
// returns empty, which callers must treat as no match.
func SelectMarkets(ev *models.Event, cfg config.MatchConfig, now time.Time) []models.Market {
	if ev == nil || len(ev.Markets) == 0 {
		return nil
	}

	var viable []models.Market
	for _, m := range ev.Markets {
		price, ok := m.Price()
		if !ok || !m.IsOpen(now) {
			continue
		}
		if price > cfg.PriceFloor && price < cfg.PriceCeiling {
			viable = append(viable, m)
		}
	}

	if len(viable) == 0 {
		for _, m := range ev.Markets {
			if _, ok := m.Price(); ok && m.IsOpen(now) {
				viable = append(viable, m)
			}
		}
	}
	if len(viable) == 0 {
		return nil
	}

	sort.SliceStable(viable, func(i, j int) bool {
		return viable[i].Uncertainty() < viable[j].Uncertainty()
	})

	if cfg.MaxMarketsReturned > 0 && len(viable) > cfg.MaxMarketsReturned {
		viable = viable[:cfg.MaxMarketsReturned]
	}
	return viable
}
