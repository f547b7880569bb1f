package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mwilcox/tweetmatch/internal/models"
	"github.com/rs/zerolog/log"
)

// File names the ingestion pipeline writes into the data directory. The three
// core files must be mutually consistent; Validate catches drift between them.
const (
	snapshotFile    = "markets-snapshot.json"
	tickersFile     = "event-tickers.json"
	embeddingsFile  = "event-embeddings.npy"
	entityIndexFile = "entity-index.json"
)

// FileLoader builds snapshots from the ingestion pipeline's on-disk output.
type FileLoader struct {
	Dir string
}

type snapshotDoc struct {
	Version string         `json:"version"`
	Events  []models.Event `json:"events"`
}

// Load reads the catalog inputs, aligns events with the ticker/embedding
// order, and returns an unvalidated snapshot.
func (l *FileLoader) Load(ctx context.Context) (*Snapshot, error) {
	var doc snapshotDoc
	if err := readJSONFile(filepath.Join(l.Dir, snapshotFile), &doc); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var tickers []string
	if err := readJSONFile(filepath.Join(l.Dir, tickersFile), &tickers); err != nil {
		return nil, fmt.Errorf("load tickers: %w", err)
	}

	f, err := os.Open(filepath.Join(l.Dir, embeddingsFile))
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer f.Close()
	embeddings, err := ReadNPYMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	var entities *EntityIndex
	if err := readJSONFile(filepath.Join(l.Dir, entityIndexFile), &entities); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load entity index: %w", err)
		}
		log.Debug().Str("dir", l.Dir).Msg("No entity index shipped with snapshot")
	}

	events, err := alignEvents(doc.Events, tickers)
	if err != nil {
		return nil, err
	}

	return NewSnapshot(doc.Version, events, tickers, embeddings, entities), nil
}

// alignEvents orders events to match the ticker list, the order the embedding
// rows were generated in. An event with no embedding row cannot be retrieved
// and is dropped with a warning; a ticker with no event is fatal, since its
// embedding row would point at nothing.
func alignEvents(events []models.Event, tickers []string) ([]models.Event, error) {
	inList := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		inList[ticker] = true
	}

	byTicker := make(map[string]*models.Event, len(events))
	for i := range events {
		if !inList[events[i].Ticker] {
			log.Warn().Str("ticker", events[i].Ticker).Msg("Event has no embedding row, dropped from snapshot")
			continue
		}
		byTicker[events[i].Ticker] = &events[i]
	}

	ordered := make([]models.Event, 0, len(tickers))
	for _, ticker := range tickers {
		ev, ok := byTicker[ticker]
		if !ok {
			return nil, fmt.Errorf("catalog: ticker %q has an embedding but no event", ticker)
		}
		ordered = append(ordered, *ev)
	}
	return ordered, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
