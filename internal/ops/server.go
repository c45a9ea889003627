// Package ops exposes the agent's operational HTTP surface: liveness,
// Prometheus metrics and a JSON status snapshot of the connection, the
// active negotiation and the feed.
package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-negotiation/internal/feed"
	"github.com/example/ride-negotiation/internal/geo"
	"github.com/example/ride-negotiation/internal/negotiation"
	"github.com/example/ride-negotiation/internal/transport"
)

type Server struct {
	conn       *transport.Conn
	controller *negotiation.Controller
	reconciler *feed.Reconciler
	logger     *slog.Logger
	mux        *mux.Router

	// Locator, when set, adds the responder's current coordinate to /status.
	Locator geo.Provider
}

func NewServer(conn *transport.Conn, controller *negotiation.Controller, reconciler *feed.Reconciler, logger *slog.Logger) *Server {
	s := &Server{conn: conn, controller: controller, reconciler: reconciler, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/status", s.handleStatus).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type statusPayload struct {
	ConnectionState  string `json:"connection_state"`
	ReconnectAttempt int    `json:"reconnect_attempt"`
	RetryDelayMs     int64  `json:"retry_delay_ms,omitempty"`
	SessionActive    bool   `json:"session_active"`
	SessionRideID    string `json:"session_ride_id,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	FeedSize         int    `json:"feed_open_requests"`
	Position         *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"position,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	attempt, delay := s.conn.RetryInfo()
	p := statusPayload{
		ConnectionState:  s.conn.State().String(),
		ReconnectAttempt: attempt,
		RetryDelayMs:     delay.Milliseconds(),
		FeedSize:         s.reconciler.Len(),
	}
	if rideID, state, ok := s.controller.Active(); ok {
		p.SessionActive = true
		p.SessionRideID = rideID
		p.SessionState = state
	}
	if s.Locator != nil {
		if pos, err := s.Locator.Locate(r.Context()); err == nil {
			p.Position = &struct {
				Lat float64 `json:"lat"`
				Lon float64 `json:"lon"`
			}{Lat: pos.Lat, Lon: pos.Lon}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}
