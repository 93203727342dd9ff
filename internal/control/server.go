package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for connectivity status.
type Server struct {
	app    *Uplink
	server *http.Server
}

// NewServer creates the status server.
func NewServer(app *Uplink, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		app: app,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/reconnect", s.handleReconnect)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealthz reports 200 while online and 503 while offline.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	online := s.app.Monitor().IsOnline()

	w.Header().Set("Content-Type", "application/json")
	if !online {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]bool{"online": online})
}

// handleStatus returns the full connection and reconnection state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"connection":        s.app.Monitor().GetConnectionStatus(),
		"quality":           s.app.Monitor().GetConnectionQuality(),
		"reconnection":      s.app.Engine().GetState(),
		"reconnect_metrics": s.app.Engine().GetMetrics(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleQueue lists queued actions in replay order.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	actions, err := s.app.Queue().GetQueuedActions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(actions),
		"actions": actions,
	})
}

// handleReconnect triggers a manual reconnection attempt.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accepted := s.app.Engine().ForceReconnection("manual request")

	w.Header().Set("Content-Type", "application/json")
	if !accepted {
		w.WriteHeader(http.StatusConflict)
	}
	json.NewEncoder(w).Encode(map[string]bool{"accepted": accepted})
}
