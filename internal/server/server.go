// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/matthewbaird/cascade/internal/activity"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/eventbus"
	"github.com/matthewbaird/cascade/internal/session"
	"github.com/matthewbaird/cascade/internal/wire"
)

// Config holds server configuration.
type Config struct {
	Port     int
	Control  config.Config
	Sessions *session.Manager
	Activity activity.Store
	Outputs  *eventbus.OutputConsumer

	// MessageRate bounds inbound websocket messages per connection per second.
	// Zero disables throttling.
	MessageRate  float64
	MessageBurst int
}

// NewRouter registers every route on a chi router.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": cfg.Sessions.Len(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &cascadeHandler{cfg: cfg.Control, sessions: cfg.Sessions, activity: cfg.Activity}
	ws := wire.NewHandler(cfg.Sessions, cfg.Control.Chain, cfg.Outputs, rate.Limit(cfg.MessageRate), cfg.MessageBurst)

	r.Route("/api/cascade", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/ws", ws.ServeHTTP)

		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/select", h.Select)
			r.Delete("/selection", h.ResetSelection)
			r.Get("/options/{position}", h.Options)
			r.Get("/activity", h.Activity)
		})
	})
	return r
}

// Run starts the HTTP server and shuts it down gracefully when ctx is done.
func Run(ctx context.Context, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
	}()

	log.Printf("starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
