package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mwilcox/tweetmatch/internal/matcher"
	"github.com/rs/zerolog/log"
)

// Server represents the API server.
type Server struct {
	router   *chi.Mux
	handlers *Handlers
	engine   *matcher.Engine
	addr     string
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(engine *matcher.Engine, addr string) *Server {
	handlers := NewHandlers(engine)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS is wide open: the tweet-extraction client runs inside arbitrary
	// browser origins.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Routes
	r.Post("/match", handlers.MatchTweets)
	r.Get("/market/{ticker}", handlers.GetMarket)
	r.Get("/health", handlers.HealthCheck)

	srv := &Server{
		router:   r,
		handlers: handlers,
		engine:   engine,
		addr:     addr,
	}

	// Admin routes (reload is an administrative trigger, a few times a day)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reload", srv.AdminReload)
	})

	return srv
}

// AdminReload triggers the snapshot-swap protocol. Failures leave the
// previous snapshot in service and are reported here only, never to match
// callers.
func (s *Server) AdminReload(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Reload(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Snapshot reload rejected")
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "rejected",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"reload": stats,
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
