// Package httpapi exposes the inbound surface: the WhatsApp gateway
// webhook and the self-service booking page endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vitacare/concierge/internal/booking"
	"github.com/vitacare/concierge/internal/queue"
)

// Server wires the HTTP handlers onto a mux.
type Server struct {
	jobs         *queue.Client
	booking      *booking.Service
	webhookToken string
	logger       *slog.Logger
}

func NewServer(jobs *queue.Client, bookingSvc *booking.Service, webhookToken string, logger *slog.Logger) *Server {
	return &Server{
		jobs:         jobs,
		booking:      bookingSvc,
		webhookToken: webhookToken,
		logger:       logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.auth(s.handleWebhook))
	mux.HandleFunc("GET /booking/{token}", s.handleBookingPage)
	mux.HandleFunc("POST /booking/{token}/confirm", s.handleBookingConfirm)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth checks the shared webhook secret when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.webhookToken != "" && r.Header.Get("apikey") != s.webhookToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
