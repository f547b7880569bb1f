package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwilcox/tweetmatch/internal/catalog"
	"github.com/mwilcox/tweetmatch/internal/config"
	"github.com/mwilcox/tweetmatch/internal/matcher"
	"github.com/mwilcox/tweetmatch/internal/models"
)

type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := f.vectors[text]
		if !ok {
			return nil, errors.New("unexpected text: " + text)
		}
		out[i] = vec
	}
	return out, nil
}

type fixedScorer struct {
	scores []float64
}

func (f *fixedScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) > len(f.scores) {
		return nil, errors.New("not enough scores configured")
	}
	return f.scores[:len(documents)], nil
}

func (f *fixedScorer) Ready(ctx context.Context) bool { return true }

type seqLoader struct {
	snaps []*catalog.Snapshot
	errs  []error
	n     int
}

func (l *seqLoader) Load(ctx context.Context) (*catalog.Snapshot, error) {
	i := l.n
	l.n++
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	return l.snaps[i], nil
}

func i64(v int64) *int64 { return &v }

func apiSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	closeAt := time.Now().Add(48 * time.Hour)
	events := []models.Event{
		{
			Ticker:   "FED-CHAIR",
			Title:    "Who will be the next Fed Chair?",
			Subtitle: "Nominee announced by year end",
			Category: "Politics",
			Markets: []models.Market{
				{
					Ticker:      "FEDCHAIR-WARSH",
					EventTicker: "FED-CHAIR",
					Title:       "Kevin Warsh",
					YesAsk:      i64(520_000),
					CloseTime:   closeAt,
					Status:      models.MarketStatusOpen,
				},
			},
		},
		{
			Ticker: "BTC-100K",
			Title:  "Will Bitcoin close above $100K?",
			Markets: []models.Market{
				{
					Ticker:      "BTC-100K-DEC",
					EventTicker: "BTC-100K",
					Title:       "Above $100K in December",
					YesAsk:      i64(500_000),
					CloseTime:   closeAt,
					Status:      models.MarketStatusOpen,
				},
			},
		},
	}

	e1 := []float32{1, 0, 0}
	e2 := []float32{0, 1, 0}
	snap := catalog.NewSnapshot("api-v1", events, []string{"FED-CHAIR", "BTC-100K"},
		[][]float32{e1, e2}, nil)
	require.NoError(t, snap.Validate())
	return snap
}

func testMatchConfig() config.MatchConfig {
	return config.MatchConfig{
		CosineGate:         0.65,
		CosineOnlyGate:     0.75,
		RerankGate:         0.83,
		MinRetrievalFloor:  0.72,
		ScanWidth:          15,
		MaxCandidates:      10,
		PriceFloor:         30_000,
		PriceCeiling:       970_000,
		MaxMarketsReturned: 6,
		MaxTextLen:         2000,
		MaxBatchSize:       2,
	}
}

func newTestServer(t *testing.T, loader catalog.Loader, vectors map[string][]float32, reload bool) *Server {
	t.Helper()
	engine := matcher.NewEngine(testMatchConfig(), &fixedEmbedder{vectors: vectors},
		&fixedScorer{scores: []float64{0.91, 0.11}}, loader, nil)
	if reload {
		_, err := engine.Reload(context.Background())
		require.NoError(t, err)
	}
	return NewServer(engine, ":0")
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestMatchEndpoint(t *testing.T) {
	text := "Warsh frontrunner for Fed Chair per WSJ"
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, map[string][]float32{
		text: {0.81, 0.40, 0.428},
	}, true)

	rr := doRequest(t, srv, http.MethodPost, "/match", MatchRequest{
		Tweets: []Tweet{{ID: "t1", Text: text}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp MatchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "t1", resp.Matches[0].ID)
	assert.Equal(t, "FED-CHAIR", resp.Matches[0].EventTicker)
	assert.InDelta(t, 0.91, resp.Matches[0].Confidence, 1e-6)
	require.Len(t, resp.Matches[0].Markets, 1)
	assert.Equal(t, "FEDCHAIR-WARSH", resp.Matches[0].Markets[0].Ticker)
	assert.GreaterOrEqual(t, resp.LatencyMs, 0.0)
}

func TestMatchEndpoint_NoMatchIsEmptyList(t *testing.T) {
	text := "nothing to see here"
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, map[string][]float32{
		text: {0.10, 0.10, 0.99},
	}, true)

	rr := doRequest(t, srv, http.MethodPost, "/match", MatchRequest{
		Tweets: []Tweet{{ID: "t1", Text: text}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp MatchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Empty(t, resp.Matches)
}

func TestMatchEndpoint_InvalidBody(t *testing.T) {
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, nil, true)

	req := httptest.NewRequest(http.MethodPost, "/match", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMatchEndpoint_BatchTooLarge(t *testing.T) {
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, nil, true)

	rr := doRequest(t, srv, http.MethodPost, "/match", MatchRequest{
		Tweets: []Tweet{{ID: "a", Text: "x"}, {ID: "b", Text: "x"}, {ID: "c", Text: "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMatchEndpoint_NoSnapshot(t *testing.T) {
	srv := newTestServer(t, &seqLoader{}, nil, false)

	rr := doRequest(t, srv, http.MethodPost, "/match", MatchRequest{
		Tweets: []Tweet{{ID: "t1", Text: "anything"}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetMarket(t *testing.T) {
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, nil, true)

	rr := doRequest(t, srv, http.MethodGet, "/market/FEDCHAIR-WARSH", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var detail MarketDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&detail))
	assert.Equal(t, "FEDCHAIR-WARSH", detail.Ticker)
	assert.Equal(t, int64(520_000), *detail.YesAsk)
	assert.Equal(t, "Who will be the next Fed Chair?", detail.EventTitle)
	assert.Equal(t, "Nominee announced by year end", detail.EventSubtitle)
	assert.Equal(t, "Politics", detail.Category)
}

func TestGetMarket_NotFound(t *testing.T) {
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, nil, true)

	rr := doRequest(t, srv, http.MethodGet, "/market/NO-SUCH", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthCheck(t *testing.T) {
	loader := &seqLoader{snaps: []*catalog.Snapshot{apiSnapshot(t)}}
	srv := newTestServer(t, loader, nil, true)

	rr := doRequest(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["rerankerUp"])
	assert.Equal(t, float64(2), resp["events"])
	assert.Equal(t, "api-v1", resp["snapshotVersion"])
}

func TestAdminReload(t *testing.T) {
	first := apiSnapshot(t)
	second := apiSnapshot(t)
	second.Version = "api-v2"

	loader := &seqLoader{
		snaps: []*catalog.Snapshot{first, second, nil},
		errs:  []error{nil, nil, errors.New("ingestion output corrupt")},
	}
	srv := newTestServer(t, loader, nil, true)

	rr := doRequest(t, srv, http.MethodPost, "/admin/reload", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	reload, ok := resp["reload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "api-v2", reload["version"])
	assert.Equal(t, "api-v1", reload["previous"])

	// A failed reload reports the rejection and keeps serving the old snapshot.
	rr = doRequest(t, srv, http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = doRequest(t, srv, http.MethodGet, "/health", nil)
	var health map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&health))
	assert.Equal(t, "api-v2", health["snapshotVersion"])
}
