// tweetmatch - matches social-media text to prediction-market events.
// Serves the two-stage retrieval/rerank matcher over HTTP with hot-reloadable
// catalog snapshots.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mwilcox/tweetmatch/internal/api"
	"github.com/mwilcox/tweetmatch/internal/cache"
	"github.com/mwilcox/tweetmatch/internal/catalog"
	"github.com/mwilcox/tweetmatch/internal/config"
	"github.com/mwilcox/tweetmatch/internal/encoder"
	"github.com/mwilcox/tweetmatch/internal/matcher"
	"github.com/mwilcox/tweetmatch/internal/rerank"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("tweetmatch - starting matching engine")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	// Catalog loader: MongoDB when configured, otherwise the ingestion
	// pipeline's data directory.
	var loader catalog.Loader
	if cfg.MongoURI != "" {
		mongoLoader, err := catalog.NewMongoLoader(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to catalog MongoDB")
		}
		defer mongoLoader.Close(ctx)
		loader = mongoLoader
	} else {
		loader = &catalog.FileLoader{Dir: cfg.DataDir}
		log.Info().Str("dir", cfg.DataDir).Msg("Using file catalog loader")
	}

	// Optional embedding cache
	var embCache cache.EmbeddingCache
	if cfg.RedisAddr != "" {
		embCache, err = cache.NewRedisEmbeddingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build embedding cache")
		}
		defer embCache.Close()
		log.Info().Str("addr", cfg.RedisAddr).Msg("Embedding cache enabled")
	}

	// Model call-outs
	embedder := encoder.NewClient(encoder.Config{
		APIKey:   cfg.EmbedAPIKey,
		Endpoint: cfg.EmbedEndpoint,
		Model:    cfg.EmbedModel,
		Timeout:  cfg.EmbedTimeout,
	})
	log.Info().Str("model", cfg.EmbedModel).Msg("Embedding client initialized")

	scorer := rerank.NewClient(cfg.RerankEndpoint, cfg.RerankTimeout)
	if scorer.Ready(ctx) {
		log.Info().Str("endpoint", cfg.RerankEndpoint).Msg("Rerank service ready")
	} else {
		log.Warn().Str("endpoint", cfg.RerankEndpoint).Msg("Rerank service not ready, will serve retrieval-only fallback until it is")
	}

	// Matching engine + first snapshot. Nothing to serve without one.
	engine := matcher.NewEngine(cfg.Match, embedder, scorer, loader, embCache)
	stats, err := engine.Reload(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Initial catalog load failed")
	}
	log.Info().
		Int("events", stats.Events).
		Int("markets", stats.Markets).
		Int("dim", stats.Dim).
		Msg("Initial catalog snapshot loaded")

	// API server
	apiServer := api.NewServer(engine, cfg.HTTPAddr)

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	log.Info().Str("api", cfg.HTTPAddr).Msg("tweetmatch engine running")

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	shutdownCtx := context.Background()
	apiServer.Shutdown(shutdownCtx)

	log.Info().Msg("tweetmatch engine stopped")
}
