// Package serve exposes built sites, their build metadata, and metrics over HTTP.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/doc-site/pkg/config"
	"github.com/Sriram-PR/doc-site/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server serves the output directories of the configured sites
type Server struct {
	router   chi.Router
	appCfg   *config.AppConfig
	siteKeys []string
	registry *prometheus.Registry
	log      *logrus.Entry

	watchStatus func() any
}

// NewServer creates the HTTP server for the given sites.
// A nil registry disables the /metrics endpoint.
func NewServer(appCfg *config.AppConfig, siteKeys []string, log *logrus.Entry, registry *prometheus.Registry) *Server {
	s := &Server{
		appCfg:   appCfg,
		siteKeys: siteKeys,
		registry: registry,
		log:      log.WithField("component", "serve"),
	}
	s.setupRoutes()
	return s
}

// SetWatchStatus enables /api/watch, which reports fn's result.
// Call it before ListenAndServe.
func (s *Server) SetWatchStatus(fn func() any) {
	s.watchStatus = fn
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/api/sites", s.handleListSites)
	r.Get("/api/sites/{site}/pages", s.handleListPages)
	r.Get("/api/watch", s.handleWatchStatus)
	if s.registry != nil {
		r.Handle("/metrics", metrics.HTTPHandler(s.registry))
	}

	r.Get("/{site}", s.handleSiteRoot)
	r.Get("/{site}/*", s.handleStatic)

	s.router = r
}

// handleSiteRoot redirects "/docs" to "/docs/" so relative links resolve
func (s *Server) handleSiteRoot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "site")
	if _, ok := s.site(key); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown site '%s'", key))
		return
	}
	http.Redirect(w, r, "/"+key+"/", http.StatusMovedPermanently)
}

// handleStatic serves files from the site's output directory; directories serve index.html
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "site")
	siteCfg, ok := s.site(key)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown site '%s'", key))
		return
	}
	fs := http.FileServer(http.Dir(filepath.Clean(siteCfg.OutputDir)))
	http.StripPrefix("/"+key, fs).ServeHTTP(w, r)
}

// site returns the config of a served site
func (s *Server) site(key string) (config.SiteConfig, bool) {
	for _, k := range s.siteKeys {
		if k == key {
			siteCfg, ok := s.appCfg.Sites[key]
			return siteCfg, ok
		}
	}
	return config.SiteConfig{}, false
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Serving %d sites on http://%s", len(s.siteKeys), addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	}
}
