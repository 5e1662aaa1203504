// Package server exposes the query surface over HTTP: the latest version
// per channel, artifact download redirects, on-demand sync triggers and the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/console-helpers/svn-buddy-updater/internal/database"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
	"github.com/console-helpers/svn-buddy-updater/internal/pool"
	"github.com/console-helpers/svn-buddy-updater/internal/service"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	router *http.ServeMux
	svc    *service.Service
	pool   *pool.Pool
	log    *logging.Logger
}

func New() *Server {
	return &Server{log: logging.NopLogger()}
}

func (s *Server) WithService(svc *service.Service) *Server {
	s.svc = svc
	return s
}

// WithPool enables the on-demand sync endpoints. Without a pool they return
// 404, which suits one-shot CLI use.
func (s *Server) WithPool(p *pool.Pool) *Server {
	s.pool = p
	return s
}

func (s *Server) WithRouter(router *http.ServeMux) *Server {
	s.router = router
	return s
}

func (s *Server) WithLogger(log *logging.Logger) *Server {
	s.log = log
	return s
}

// Init registers the routes. Call it once, after the With* setters.
func (s *Server) Init() *Server {
	if s.router == nil {
		s.router = http.NewServeMux()
	}

	s.router.HandleFunc("GET /v1/releases/latest", s.handleLatest)
	s.router.HandleFunc("GET /download/{version}/{file}", s.handleDownload)
	if s.pool != nil {
		s.router.HandleFunc("POST /v1/sync/{flow}", s.handleSync)
	}
	s.router.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s.", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.svc.LatestVersionsForStability(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	url, err := s.svc.DownloadURL(r.Context(), r.PathValue("version"), r.PathValue("file"))
	if errors.Is(err, database.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	flow := r.PathValue("flow")
	switch flow {
	case "stable", "snapshot":
	default:
		http.NotFound(w, r)
		return
	}

	if err := s.pool.Trigger("sync-" + flow); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "flow": flow})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	if !errors.Is(err, context.Canceled) {
		s.log.Errorf("Request failed: %v.", err)
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("Failed to encode response: %v.", err)
	}
}
