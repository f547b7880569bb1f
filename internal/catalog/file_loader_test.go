package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwilcox/tweetmatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeCatalogDir(t *testing.T, withEntities bool) string {
	t.Helper()
	dir := t.TempDir()

	events := testEvents()
	// Events are written out of ticker order on purpose; Load must realign
	// them to the ticker list before pairing with embedding rows.
	writeJSON(t, filepath.Join(dir, snapshotFile), snapshotDoc{
		Version: "2026-08-30T12:00:00Z",
		Events:  []models.Event{events[1], events[0]},
	})
	writeJSON(t, filepath.Join(dir, tickersFile), []string{events[0].Ticker, events[1].Ticker})

	npy := buildNPY(t, "<f4", 2, 3, f32Payload(1, 0, 0, 0, 1, 0))
	require.NoError(t, os.WriteFile(filepath.Join(dir, embeddingsFile), npy, 0o644))

	if withEntities {
		writeJSON(t, filepath.Join(dir, entityIndexFile), testEntityIndex())
	}
	return dir
}

func TestFileLoader_Load(t *testing.T) {
	dir := writeCatalogDir(t, true)

	snap, err := (&FileLoader{Dir: dir}).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Validate())

	assert.Equal(t, "2026-08-30T12:00:00Z", snap.Version)
	assert.Equal(t, 2, snap.NumEvents())
	assert.Equal(t, 3, snap.Dim())

	// Realigned to ticker order despite the shuffled snapshot file.
	assert.Equal(t, "FED-CHAIR", snap.Events[0].Ticker)
	assert.Equal(t, "BTC-100K", snap.Events[1].Ticker)

	require.NotNil(t, snap.Entities)
	assert.Equal(t, []string{"BTC-100K"}, snap.Entities.Resolve("bitcoin hits new highs"))
}

func TestFileLoader_LoadWithoutEntityIndex(t *testing.T) {
	dir := writeCatalogDir(t, false)

	snap, err := (&FileLoader{Dir: dir}).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.Nil(t, snap.Entities)
}

func TestFileLoader_EventWithoutEmbeddingDropped(t *testing.T) {
	dir := writeCatalogDir(t, false)

	// An extra event with no embedding row cannot be retrieved; it must be
	// dropped rather than poison the load or shift row alignment.
	extra := models.Event{Ticker: "GHOST-EVENT", Title: "Never embedded"}
	writeJSON(t, filepath.Join(dir, snapshotFile), snapshotDoc{
		Version: "2026-08-30T12:00:00Z",
		Events:  append(testEvents(), extra),
	})

	snap, err := (&FileLoader{Dir: dir}).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.Equal(t, 2, snap.NumEvents())
	_, ok := snap.EventIndex("GHOST-EVENT")
	assert.False(t, ok)
}

func TestFileLoader_MissingEventForTicker(t *testing.T) {
	dir := writeCatalogDir(t, false)

	writeJSON(t, filepath.Join(dir, tickersFile), []string{"FED-CHAIR", "BTC-100K", "GHOST"})

	_, err := (&FileLoader{Dir: dir}).Load(context.Background())
	assert.ErrorContains(t, err, "GHOST")
}

func TestFileLoader_MissingSnapshotFile(t *testing.T) {
	_, err := (&FileLoader{Dir: t.TempDir()}).Load(context.Background())
	assert.ErrorContains(t, err, "load snapshot")
}

func TestFileLoader_CorruptEmbeddings(t *testing.T) {
	dir := writeCatalogDir(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, embeddingsFile), []byte("not an npy"), 0o644))

	_, err := (&FileLoader{Dir: dir}).Load(context.Background())
	assert.ErrorContains(t, err, "load embeddings")
}
