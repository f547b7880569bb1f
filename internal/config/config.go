// Package config provides configuration management for the tweet matcher.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration.
type Config struct {
	// Embedding service (OpenAI-compatible endpoint serving the same model
	// the ingestion pipeline used to embed the catalog).
	EmbedAPIKey   string
	EmbedEndpoint string
	EmbedModel    string
	EmbedTimeout  time.Duration

	// Rerank service (cross-encoder behind a small HTTP API).
	RerankEndpoint string
	RerankTimeout  time.Duration

	// Catalog snapshot source.
	DataDir  string
	MongoURI string
	MongoDB  string

	// Optional redis cache for tweet embeddings.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Matching thresholds. Product-tuned defaults; re-tune per catalog.
	Match MatchConfig

	// Server settings
	HTTPAddr string
	Debug    bool
}

// MatchConfig names every gate and cap the matching pipeline applies.
// Immutable after construction; passed into the engine, never read from
// globals mid-request.
type MatchConfig struct {
	// CosineGate is the minimum best retrieval similarity for a text to be
	// worth reranking at all.
	CosineGate float64
	// CosineOnlyGate replaces CosineGate when the cross scorer is down:
	// retrieval alone must clear this stricter bar to confirm a match.
	CosineOnlyGate float64
	// RerankGate is the minimum refined score to confirm a match.
	RerankGate float64
	// MinRetrievalFloor is the similarity the confirmed candidate must have
	// had at retrieval time, guarding against confident reranks of
	// implausible retrievals.
	MinRetrievalFloor float64

	// ScanWidth is how many top-ranked events to examine for viability
	// before giving up.
	ScanWidth int
	// MaxCandidates caps how many viable events reach the cross scorer.
	MaxCandidates int

	// PriceFloor/PriceCeiling bound (exclusively) the buy-yes price of a
	// viable market, in micro-USD. Outside the band the outcome is
	// near-certain and not interesting to trade.
	PriceFloor   int64
	PriceCeiling int64
	// MaxMarketsReturned caps the selected markets per match.
	MaxMarketsReturned int

	// MaxTextLen rejects oversized input texts per-item, in bytes.
	MaxTextLen int
	// MaxBatchSize rejects oversized batches outright.
	MaxBatchSize int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		EmbedAPIKey:   getEnv("EMBED_API_KEY", ""),
		EmbedEndpoint: getEnv("EMBED_ENDPOINT", "http://localhost:8090/v1"),
		EmbedModel:    getEnv("EMBED_MODEL", "bge-base-en-v1.5"),
		EmbedTimeout:  getEnvDuration("EMBED_TIMEOUT", 10*time.Second),

		RerankEndpoint: getEnv("RERANK_ENDPOINT", "http://localhost:8091"),
		RerankTimeout:  getEnvDuration("RERANK_TIMEOUT", 10*time.Second),

		DataDir:  getEnv("DATA_DIR", "data"),
		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "tweetmatch"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisTTL:      getEnvDuration("REDIS_TTL", 24*time.Hour),

		Match: MatchConfig{
			CosineGate:        getEnvFloat("COSINE_GATE", 0.65),
			CosineOnlyGate:    getEnvFloat("COSINE_ONLY_GATE", 0.75),
			RerankGate:        getEnvFloat("RERANK_GATE", 0.83),
			MinRetrievalFloor: getEnvFloat("MIN_RETRIEVAL_FLOOR", 0.72),

			ScanWidth:     getEnvInt("SCAN_WIDTH", 15),
			MaxCandidates: getEnvInt("MAX_CANDIDATES", 10),

			PriceFloor:         int64(getEnvInt("PRICE_FLOOR", 30_000)),
			PriceCeiling:       int64(getEnvInt("PRICE_CEILING", 970_000)),
			MaxMarketsReturned: getEnvInt("MAX_MARKETS", 6),

			MaxTextLen:   getEnvInt("MAX_TEXT_LEN", 2000),
			MaxBatchSize: getEnvInt("MAX_BATCH_SIZE", 50),
		},

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Debug:    getEnvBool("DEBUG", false),
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.MongoURI == "" && c.DataDir == "" {
		log.Warn().Msg("Neither MONGO_URI nor DATA_DIR set, snapshot loading will fail")
	}
	if c.RedisAddr == "" {
		log.Debug().Msg("REDIS_ADDR not set, embedding cache disabled")
	}
	if c.Match.CosineOnlyGate < c.Match.CosineGate {
		log.Warn().
			Float64("cosine_gate", c.Match.CosineGate).
			Float64("cosine_only_gate", c.Match.CosineOnlyGate).
			Msg("COSINE_ONLY_GATE below COSINE_GATE, fallback path is laxer than primary")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
