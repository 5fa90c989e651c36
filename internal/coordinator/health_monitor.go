package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/cluster"
)

// HealthStatus is the liveness verdict for a node.
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "unknown"
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// NodeHealth tracks the health status of a registered process.
type NodeHealth struct {
	LastCheck        time.Time    `json:"last_check"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time    `json:"last_healthy"`      // Timestamp of the last successful health check
	NodeID           string       `json:"node_id"`           // Unique identifier of the node
	Role             cluster.Role `json:"role"`              // Server or worker
	Status           HealthStatus `json:"status"`            // Current verdict
	ConsecutiveFails int          `json:"consecutive_fails"` // Number of consecutive failed health checks
}

// HealthMonitor periodically probes every registered process and reports
// the ones that stop answering.
//
// Training has no recovery path: a lost server stalls every worker and a
// lost worker stalls a synchronous job. The monitor exists so the operator
// sees which process died, with its role and rank, instead of a silent
// stall. The onUnhealthy callback fires once per transition to unhealthy.
//
// Thread safety: all methods are safe for concurrent use.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth  // Current health status per node
	httpClient  *http.Client            // HTTP client for health checks
	checkFunc   func(addr string) error // Function to perform health check
	onUnhealthy func(node cluster.NodeInfo)
	ctx         context.Context    // Context for cancellation
	cancel      context.CancelFunc // Cancel function for shutdown
	log         zerolog.Logger
	interval    time.Duration  // How often to check node health
	timeout     time.Duration  // HTTP timeout for health checks
	mu          sync.RWMutex   // Protects nodes map
	wg          sync.WaitGroup // Wait group for graceful shutdown
	maxFailures int            // Failures before marking unhealthy
}

// NewHealthMonitor creates a monitor probing every interval. A node is
// marked unhealthy after three consecutive failed probes.
func NewHealthMonitor(interval time.Duration, log zerolog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		log:    log.With().Str("component", "health").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, in its own goroutine, when a
// node becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(node cluster.NodeInfo)) {
	h.onUnhealthy = callback
}

// Start probes the nodes returned by nodeProvider until ctx (or the
// monitor's own context when ctx is nil) is cancelled. It blocks.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.interval).Msg("health monitor started")

	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.log.Debug().Msg("health monitor stopping: context cancelled")
			return
		case <-h.ctx.Done():
			h.log.Debug().Msg("health monitor stopping: stopped")
			return
		}
	}
}

// Stop cancels monitoring and waits for Start to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.log.Info().Msg("health monitor stopped")
}

func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	currentNodes := make(map[string]bool)

	for _, node := range nodes {
		currentNodes[node.ID] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			h.log.Info().Str("node", nodeID).Msg("node removed from health monitoring")
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Role:        node.Role,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	// Probe outside the lock
	err := h.checkFunc(node.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	log := h.log.With().Str("node", node.ID).Str("role", string(node.Role)).Int("rank", node.Rank).Logger()

	if err != nil {
		health.ConsecutiveFails++
		log.Warn().Err(err).Int("attempt", health.ConsecutiveFails).Int("max", h.maxFailures).Msg("health check failed")

		if health.ConsecutiveFails >= h.maxFailures {
			previousStatus := health.Status
			health.Status = StatusUnhealthy

			if previousStatus != StatusUnhealthy {
				log.Error().Int("failures", health.ConsecutiveFails).Msg("node marked unhealthy")
				if h.onUnhealthy != nil {
					go h.onUnhealthy(node)
				}
			}
		}
	} else {
		if health.Status == StatusUnhealthy {
			log.Info().Msg("node recovered")
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
	}
}

// defaultHealthCheck probes GET {addr}/health and expects 200 OK.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// GetNodeHealth returns a copy of the health record for nodeID, or nil.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}

	c := *health
	return &c
}

// GetAllNodeHealth returns copies of every health record keyed by node id.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		c := *health
		result[id] = &c
	}

	return result
}

// IsHealthy reports whether nodeID passed its last probe.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return false
	}

	return health.Status == StatusHealthy
}

// SetCheckFunction replaces the HTTP probe. Call before Start.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}
