// Package server wires the HTTP API and the realtime gateway together.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ptrks/coedit/internal/hub"
	"github.com/ptrks/coedit/internal/log"
	"github.com/ptrks/coedit/internal/store"
)

type Server struct {
	store  store.Store
	hub    *hub.Hub
	secret []byte
	log    *slog.Logger

	frontendURL string
}

func New(st store.Store, h *hub.Hub, secret, frontendURL string, logger *slog.Logger) *Server {
	return &Server{
		store:       st,
		hub:         h,
		secret:      []byte(secret),
		log:         logger,
		frontendURL: frontendURL,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/api/auth/register", s.register).Methods("POST")
	r.HandleFunc("/api/auth/login", s.login).Methods("POST")

	r.HandleFunc("/api/documents", s.authed(s.createDocument)).Methods("POST")
	r.HandleFunc("/api/documents", s.authed(s.listDocuments)).Methods("GET")
	r.HandleFunc("/api/documents/{id}", s.authed(s.getDocument)).Methods("GET")
	r.HandleFunc("/api/documents/{id}", s.authed(s.updateDocument)).Methods("PATCH")
	r.HandleFunc("/api/documents/{id}/collaborators", s.authed(s.addCollaborator)).Methods("POST")
	r.HandleFunc("/api/documents/{id}/export/{format}", s.authed(s.exportDocument)).Methods("GET")

	r.HandleFunc("/ws", s.serveWS)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{s.frontendURL}),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	return cors(r)
}

// requestLogger threads a request-scoped logger through the context so
// handlers can annotate failures with the route that hit them.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.log.With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(log.IntoContext(r.Context(), l)))
	})
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler: s.Router(),
		Addr:    addr,
		// No WriteTimeout: it would kill long-lived websockets.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"message": msg, "code": code})
}
