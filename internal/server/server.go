// Package server provides functionalities to start and manage the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"formrelay/internal/config"
	"formrelay/internal/mail"
	"formrelay/internal/storage"
	"formrelay/internal/upload"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Server holds the handlers' dependencies.
type Server struct {
	cfg        *config.Config
	uploader   *upload.Uploader
	sender     mail.Sender
	subscriber mail.Subscriber
	limiter    *rateLimiter
	log        zerolog.Logger
}

// New builds a Server. Call Router for the HTTP handler.
func New(cfg *config.Config, uploader *upload.Uploader, sender mail.Sender, subscriber mail.Subscriber, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		uploader:   uploader,
		sender:     sender,
		subscriber: subscriber,
		limiter:    newRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateBurst),
		log:        logger,
	}
}

// Router returns the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.HTTP.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(s.log))
	r.Use(recoverer(s.log))
	r.Use(corsHandler(s.cfg.HTTP.AllowOrigins))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	r.Route("/api", func(api chi.Router) {
		api.Use(s.limiter.Handler)
		api.Post("/upload", s.handleUpload)
		api.Post("/feedback", s.handleFeedback)
		api.Post("/newsletter", s.handleNewsletter)
	})
	return r
}

// Serve opens the configured backends and serves HTTP on port until ctx is
// cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg *config.Config, port int) error {
	if port == 0 {
		port = cfg.HTTP.Port
	}

	store, err := storage.Open(ctx, cfg.Storage, cfg.Upload.Bucket)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	sender, subscriber, err := mail.New(cfg.Mail, log.Logger)
	if err != nil {
		return err
	}

	uploader := upload.New(store,
		upload.WithStrictBucket(cfg.Upload.StrictBucket),
		upload.WithLogger(log.Logger.With().Str("component", "upload").Logger()),
	)
	srv := &http.Server{
		Handler:           New(cfg, uploader, sender, subscriber, log.Logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Str("bucket", cfg.Upload.Bucket).Msg("starting server")
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
