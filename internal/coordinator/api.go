package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/cluster"
)

// API serves the coordinator's HTTP endpoints:
//
//	POST /register       RegisterRequest -> RegisterResponse
//	GET  /topology       Topology
//	GET  /nodes          registered nodes in rank order
//	POST /barrier        BarrierRequest -> BarrierStatus
//	GET  /barrier        BarrierStatus
//	GET  /health         coordinator liveness
//	GET  /health/nodes   per-node health, when a monitor is attached
//	GET  /health/nodes/{id}  one node's health; 503 unless it passed its last probe
type API struct {
	registry *Registry
	health   *HealthMonitor
	log      zerolog.Logger
}

// NewAPI returns the API over registry. health may be nil.
func NewAPI(registry *Registry, health *HealthMonitor, log zerolog.Logger) *API {
	return &API{registry: registry, health: health, log: log.With().Str("component", "api").Logger()}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", a.handleRegister)
	mux.HandleFunc("GET /topology", a.handleTopology)
	mux.HandleFunc("GET /nodes", a.handleNodes)
	mux.HandleFunc("POST /barrier", a.handleArrive)
	mux.HandleFunc("GET /barrier", a.handleBarrier)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /health/nodes", a.handleNodeHealth)
	mux.HandleFunc("GET /health/nodes/{id}", a.handleOneNodeHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps registry errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoleFull):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidNode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	node, err := a.registry.Register(req.Node)
	if err != nil {
		a.log.Warn().Err(err).Str("node", req.Node.ID).Msg("registration rejected")
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	a.log.Info().
		Str("node", node.ID).
		Str("addr", node.Addr).
		Str("role", string(node.Role)).
		Int("rank", node.Rank).
		Int("server", node.ServerID).
		Int("worker", node.WorkerID).
		Msg("node registered")
	if a.registry.Ready() {
		a.log.Info().Msg("all nodes registered")
	}
	writeJSON(w, cluster.RegisterResponse{Node: node})
}

func (a *API) handleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.registry.Topology())
}

func (a *API) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: a.registry.Nodes()})
}

func (a *API) handleArrive(w http.ResponseWriter, r *http.Request) {
	var req cluster.BarrierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	st, err := a.registry.Arrive(req.NodeID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	a.log.Info().Str("node", req.NodeID).Int("arrived", st.Arrived).Int("expected", st.Expected).Msg("barrier arrival")
	if st.Released {
		a.log.Info().Msg("barrier released")
	}
	writeJSON(w, st)
}

func (a *API) handleBarrier(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.registry.Barrier())
}

func (a *API) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		http.Error(w, "health monitoring disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, a.health.GetAllNodeHealth())
}

func (a *API) handleOneNodeHealth(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		http.Error(w, "health monitoring disabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("id")
	health := a.health.GetNodeHealth(id)
	if health == nil {
		http.Error(w, "unknown node "+id, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !a.health.IsHealthy(id) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}
