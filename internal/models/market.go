package models

import "time"

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// MidPrice is the maximum-uncertainty midpoint in micro-USD, where
// 1_000_000 micro-USD is $1.00 of full value.
const MidPrice int64 = 500_000

// Market is one tradeable outcome of an Event. Prices are integer micro-USD
// to avoid floating-point drift; nil means the venue published no quote.
type Market struct {
	Ticker      string `json:"ticker" bson:"ticker"`
	EventTicker string `json:"eventTicker" bson:"event_ticker"`

	Title       string `json:"title" bson:"title"`
	YesSubTitle string `json:"yesSubTitle,omitempty" bson:"yes_sub_title,omitempty"`

	YesBid *int64 `json:"yesBid,omitempty" bson:"yes_bid,omitempty"`
	YesAsk *int64 `json:"yesAsk,omitempty" bson:"yes_ask,omitempty"`
	NoBid  *int64 `json:"noBid,omitempty" bson:"no_bid,omitempty"`
	NoAsk  *int64 `json:"noAsk,omitempty" bson:"no_ask,omitempty"`

	Volume       int64 `json:"volume" bson:"volume"`
	OpenInterest int64 `json:"openInterest,omitempty" bson:"open_interest,omitempty"`

	OpenTime  time.Time `json:"openTime,omitempty" bson:"open_time,omitempty"`
	CloseTime time.Time `json:"closeTime,omitempty" bson:"close_time,omitempty"`

	Status MarketStatus `json:"status" bson:"status"`
}

// Price returns the buy-yes quote, the price every selection decision keys on.
func (m *Market) Price() (int64, bool) {
	if m.YesAsk == nil {
		return 0, false
	}
	return *m.YesAsk, true
}

// IsOpen reports whether the market is accepting trades at the given instant.
func (m *Market) IsOpen(now time.Time) bool {
	if m.Status != MarketStatusOpen {
		return false
	}
	if !m.CloseTime.IsZero() && !now.Before(m.CloseTime) {
		return false
	}
	return true
}

// Uncertainty is the absolute distance of the buy-yes price from the
// midpoint; smaller means a more contested, more interesting market.
func (m *Market) Uncertainty() int64 {
	price, ok := m.Price()
	if !ok {
		return MidPrice
	}
	d := MidPrice - price
	if d < 0 {
		d = -d
	}
	return d
}
