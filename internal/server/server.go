// Package server exposes the command layer over HTTP. Unlocking the vault
// issues a bearer token; locking revokes every token.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/n3c4s/alohomora/internal/app"
	"github.com/n3c4s/alohomora/internal/auth"
	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/metrics"
)

type Server struct {
	cfg      Config
	app      *app.App
	mux      *http.ServeMux
	sessions *auth.Sessions
	metrics  *metrics.Metrics
	log      zerolog.Logger

	rlUnlockIP *clientLimiter
	rlOfferIP  *clientLimiter
}

func New(cfg Config, a *app.App, m *metrics.Metrics, log zerolog.Logger) (*Server, error) {
	cfg.setDefaults()
	if a == nil {
		return nil, errors.New("server: app required")
	}
	// tokens do not outlive the process
	id, err := cr.NewIdentity()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:        cfg,
		app:        a,
		mux:        http.NewServeMux(),
		sessions:   auth.NewSessions(auth.NewJWTSigner(id.PrivateKey(), cfg.JWTIssuer, cfg.TokenTTL)),
		metrics:    m,
		log:        log.With().Str("component", "server").Logger(),
		rlUnlockIP: newClientLimiter(rate.Limit(cfg.UnlockRate), cfg.UnlockBurst, time.Hour),
		rlOfferIP:  newClientLimiter(rate.Limit(1), 10, 10*time.Minute),
	}
	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") && !s.isPublic(path) {
		auth.AuthRequired(s.sessions)(s.mux).ServeHTTP(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Handler wraps the server with request metrics.
func (s *Server) Handler() http.Handler {
	return metrics.Middleware(s.metrics)(s)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/api/health", "/api/master/status", "/api/master/init", "/api/unlock", "/api/p2p/offer":
		return true
	default:
		return false
	}
}

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
	}
}
