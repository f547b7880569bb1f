// Package models defines the catalog and match types shared across the engine.
package models

// Event represents a real-world question with one or more tradeable outcomes.
// Events are created wholesale on snapshot reload and never mutated in place;
// the ticker is stable across snapshots when the upstream catalog keeps it so.
type Event struct {
	Ticker   string `json:"ticker" bson:"ticker"`
	Title    string `json:"title" bson:"title"`
	Subtitle string `json:"subtitle,omitempty" bson:"subtitle,omitempty"`
	Category string `json:"category,omitempty" bson:"category,omitempty"`

	// Description is the enriched text the ingestion pipeline embedded for
	// this event. It doubles as the document handed to the cross scorer.
	Description string `json:"description,omitempty" bson:"description,omitempty"`

	Markets []Market `json:"markets" bson:"markets"`
}

// MatchResult is the outcome of matching one input text against the catalog.
// Ephemeral: produced per request, never persisted.
type MatchResult struct {
	EventTicker string   `json:"eventTicker"`
	Confidence  float64  `json:"confidence"`
	Markets     []Market `json:"markets"`
}
