// v1
// internal/api/server.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/psgoularte/DePIN-Sparked/internal/observability"
)

type Server struct {
	HTTP *http.Server
	Log  *slog.Logger
}

func NewRouter(h *Handlers, metrics *observability.Metrics) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/health", metrics.WrapHandler("/health", http.HandlerFunc(h.Health))).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/devices/register",
		metrics.WrapHandler("/api/v1/devices/register", http.HandlerFunc(h.Register))).Methods("POST")
	v1.Handle("/devices/revoke",
		metrics.WrapHandler("/api/v1/devices/revoke", http.HandlerFunc(h.Revoke))).Methods("POST")
	v1.Handle("/telemetry",
		metrics.WrapHandler("/api/v1/telemetry", http.HandlerFunc(h.SubmitTelemetry))).Methods("POST")
	v1.Handle("/proofs/{leafHash}",
		metrics.WrapHandler("/api/v1/proofs", http.HandlerFunc(h.GetProof))).Methods("GET")

	return r
}

func NewServer(addr string, log *slog.Logger, h *Handlers, metrics *observability.Metrics) *Server {
	router := NewRouter(h, metrics)
	hs := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{HTTP: hs, Log: log}
}

func (s *Server) Start() error {
	s.Log.Info("http server starting", "addr", s.HTTP.Addr)
	return s.HTTP.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.Log.Info("http server stopping")
	return s.HTTP.Shutdown(ctx)
}
