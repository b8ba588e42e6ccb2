package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

type HTTPController struct {
	Addr    string
	Version string
	Logger  log.Logger

	started time.Time
}

func NewHTTPController(addr, version string, logger log.Logger) *HTTPController {
	return &HTTPController{Addr: addr, Version: version, Logger: logger, started: time.Now()}
}

func (c *HTTPController) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", c.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
}

func (c *HTTPController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:  "ok",
		Version: c.Version,
		Uptime:  time.Since(c.started).Round(time.Second).String(),
	})
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (c *HTTPController) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           c.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		level.Info(c.Logger).Log("msg", "http server listening", "addr", c.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	level.Info(c.Logger).Log("msg", "http server stopped")
	return nil
}
