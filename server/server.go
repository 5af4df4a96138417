package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lavaqueue/config"
	"lavaqueue/core/auth"
	"lavaqueue/core/hub"
	"lavaqueue/core/player"
	"lavaqueue/logger"
	"lavaqueue/repository"

	"github.com/gorilla/mux"
)

// Server is the admin HTTP API.
type Server struct {
	cfg      *config.Config
	manager  *player.Manager
	resolver player.Resolver
	signer   *auth.Signer
	hub      *hub.Hub
	history  repository.HistoryRepository
	http     *http.Server
}

// Option configures optional parts of the API.
type Option func(*Server)

// WithHistory exposes the play history routes.
func WithHistory(repo repository.HistoryRepository) Option {
	return func(s *Server) { s.history = repo }
}

// New wires the admin API. resolver and eventHub may be nil.
func New(cfg *config.Config, manager *player.Manager, resolver player.Resolver, eventHub *hub.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		resolver: resolver,
		signer:   auth.NewSigner(cfg.JWTSecret, cfg.JWTTTL),
		hub:      eventHub,
	}
	for _, opt := range opts {
		opt(s)
	}
	// 设置服务器超时
	s.http = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	sessions := NewSessionHandler(s.manager, s.resolver)
	authHandler := NewAuthHandler(s.signer, s.cfg.AdminPasswordHash)

	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": len(s.manager.Sessions())})
	}).Methods(http.MethodGet)

	// 管理员认证
	router.HandleFunc("/api/auth/token", authHandler.TokenHandler).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authHandler.Middleware)

	api.HandleFunc("/sessions", sessions.ListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{guildId}", sessions.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{guildId}", sessions.SpawnSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{guildId}", sessions.DestroySession).Methods(http.MethodDelete)

	// 队列操作
	api.HandleFunc("/sessions/{guildId}/tracks", sessions.AddTracks).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{guildId}/tracks", sessions.ClearTracks).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{guildId}/shuffle", sessions.Shuffle).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{guildId}/loop", sessions.SetLoop).Methods(http.MethodPut)

	// 播放控制
	api.HandleFunc("/sessions/{guildId}/skip", sessions.Skip).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{guildId}/pause", sessions.Pause).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{guildId}/resume", sessions.Resume).Methods(http.MethodPost)

	if s.history != nil {
		history := NewHistoryHandler(s.history)
		api.HandleFunc("/sessions/{guildId}/history", history.ListHistory).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{guildId}/history", history.ClearHistory).Methods(http.MethodDelete)
	}

	if s.hub != nil {
		api.HandleFunc("/events", NewEventsHandler(s.hub).Subscribe).Methods(http.MethodGet)
	}
	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", logger.String("addr", s.cfg.HTTPAddr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down admin API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			logger.String("method", r.Method),
			logger.String("url", r.URL.String()),
			logger.String("remoteAddr", r.RemoteAddr),
			logger.Duration("took", time.Since(start)))
	})
}
