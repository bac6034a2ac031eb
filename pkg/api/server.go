// Package api pkg/api/server.go
//
// Read-only HTTP view over the aggregation core: consolidated state,
// per-node snapshots, overall system status, and validator counters.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partyhouse/telemetry/pkg/metrics"
	"github.com/partyhouse/telemetry/pkg/models"
	"github.com/partyhouse/telemetry/pkg/validate"
)

// StateProvider is the slice of the aggregation core the API reads.
type StateProvider interface {
	Snapshot() models.ConsolidatedState
	Stats() validate.Stats
	ResetStats()
	History() []metrics.NoiseSample
}

// SystemStatus summarizes the fleet for /api/status.
type SystemStatus struct {
	Status      models.SystemStatus `json:"status"`
	TotalNodes  int                 `json:"total_nodes"`
	ActiveNodes int                 `json:"active_nodes"`
	LastUpdate  time.Time           `json:"last_update"`
}

type APIServer struct {
	provider StateProvider
	router   *mux.Router
	srv      *http.Server
}

func NewAPIServer(provider StateProvider, gatherer prometheus.Gatherer) *APIServer {
	s := &APIServer{
		provider: provider,
		router:   mux.NewRouter(),
	}
	s.setupRoutes(gatherer)

	return s
}

func (s *APIServer) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	s.router.HandleFunc("/api/state", s.getState).Methods("GET")
	s.router.HandleFunc("/api/nodes", s.getNodes).Methods("GET")
	s.router.HandleFunc("/api/nodes/{id}", s.getNode).Methods("GET")
	s.router.HandleFunc("/api/status", s.getSystemStatus).Methods("GET")
	s.router.HandleFunc("/api/stats", s.getStats).Methods("GET")
	s.router.HandleFunc("/api/stats/reset", s.resetStats).Methods("POST")
	s.router.HandleFunc("/api/history", s.getHistory).Methods("GET")

	s.router.Handle("/metrics",
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

func (s *APIServer) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.provider.Snapshot())
}

func (s *APIServer) getNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.provider.Snapshot().Nodes)
}

func (s *APIServer) getNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]

	node, exists := s.provider.Snapshot().Nodes[nodeID]
	if !exists {
		http.Error(w, "Node not found", http.StatusNotFound)
		return
	}

	writeJSON(w, node)
}

func (s *APIServer) getSystemStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.provider.Snapshot()

	active := 0
	for _, node := range snap.Nodes {
		if node.Status == models.NodeActive {
			active++
		}
	}

	writeJSON(w, SystemStatus{
		Status:      snap.SystemStatus,
		TotalNodes:  len(snap.Nodes),
		ActiveNodes: active,
		LastUpdate:  time.Now(),
	})
}

func (s *APIServer) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.provider.Stats())
}

func (s *APIServer) resetStats(w http.ResponseWriter, _ *http.Request) {
	s.provider.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) getHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.provider.History())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *APIServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Starting HTTP API on %s", addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	return s.srv.Shutdown(ctx)
}
