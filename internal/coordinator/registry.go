package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphps/internal/cluster"
)

var (
	// ErrRoleFull is returned when every slot for the requested role is taken.
	ErrRoleFull = errors.New("coordinator: role is full")
	// ErrInvalidNode is returned for a registration missing its id or address.
	ErrInvalidNode = errors.New("coordinator: invalid node")
)

// Registry assigns ranks and role-local ids to registering processes and
// tracks the end-of-training barrier.
//
// Ranks follow registration order. Server ids and worker ids are dense,
// starting at zero, so server id s owns shard s of every table. A node
// registering with RoleAll is placed in whichever role still has room,
// servers first.
//
// Re-registering an id returns the original assignment, so a process that
// retries after a lost response keeps its place.
type Registry struct {
	nodes    map[string]cluster.NodeInfo
	order    []string
	arrived  map[string]bool
	mu       sync.RWMutex
	servers  int
	workers  int
	nServers int
	nWorkers int
}

// NewRegistry expects exactly servers server processes and workers worker
// processes.
func NewRegistry(servers, workers int) (*Registry, error) {
	if servers <= 0 || workers <= 0 {
		return nil, fmt.Errorf("coordinator: need at least one server and one worker, got %d and %d", servers, workers)
	}
	return &Registry{
		nodes:   make(map[string]cluster.NodeInfo),
		arrived: make(map[string]bool),
		servers: servers,
		workers: workers,
	}, nil
}

// Register records node and returns it with Rank, Role, ServerID and
// WorkerID filled in.
func (r *Registry) Register(node cluster.NodeInfo) (cluster.NodeInfo, error) {
	if node.ID == "" || node.Addr == "" {
		return cluster.NodeInfo{}, fmt.Errorf("%w: id and addr are required", ErrInvalidNode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.nodes[node.ID]; ok {
		// keep the assignment, follow an address change
		prev.Addr = node.Addr
		r.nodes[node.ID] = prev
		return prev, nil
	}

	role, err := r.place(node.Role)
	if err != nil {
		return cluster.NodeInfo{}, fmt.Errorf("register %s: %w", node.ID, err)
	}

	node.Role = role
	node.Rank = len(r.order)
	node.ServerID, node.WorkerID = -1, -1
	switch role {
	case cluster.RoleServer:
		node.ServerID = r.nServers
		r.nServers++
	case cluster.RoleWorker:
		node.WorkerID = r.nWorkers
		r.nWorkers++
	}

	r.nodes[node.ID] = node
	r.order = append(r.order, node.ID)
	return node, nil
}

// place resolves the requested role against the remaining slots.
func (r *Registry) place(want cluster.Role) (cluster.Role, error) {
	serverFree := r.nServers < r.servers
	workerFree := r.nWorkers < r.workers

	switch want {
	case cluster.RoleServer:
		if !serverFree {
			return "", fmt.Errorf("%w: %d servers registered", ErrRoleFull, r.servers)
		}
		return cluster.RoleServer, nil
	case cluster.RoleWorker:
		if !workerFree {
			return "", fmt.Errorf("%w: %d workers registered", ErrRoleFull, r.workers)
		}
		return cluster.RoleWorker, nil
	case cluster.RoleAll, "":
		switch {
		case serverFree:
			return cluster.RoleServer, nil
		case workerFree:
			return cluster.RoleWorker, nil
		}
		return "", fmt.Errorf("%w: cluster complete", ErrRoleFull)
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidNode, want)
}

// Ready reports whether every expected process has registered.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready()
}

func (r *Registry) ready() bool {
	return r.nServers == r.servers && r.nWorkers == r.workers
}

// Nodes returns every registered node in rank order.
func (r *Registry) Nodes() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]cluster.NodeInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// Topology returns the registered servers ordered by server id and the
// workers ordered by worker id.
func (r *Registry) Topology() cluster.Topology {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topo := cluster.Topology{
		Ready:      r.ready(),
		NumServers: r.servers,
		NumWorkers: r.workers,
	}
	for _, id := range r.order {
		n := r.nodes[id]
		switch n.Role {
		case cluster.RoleServer:
			topo.Servers = append(topo.Servers, n)
		case cluster.RoleWorker:
			topo.Workers = append(topo.Workers, n)
		}
	}
	slices.SortFunc(topo.Servers, func(a, b cluster.NodeInfo) int { return a.ServerID - b.ServerID })
	slices.SortFunc(topo.Workers, func(a, b cluster.NodeInfo) int { return a.WorkerID - b.WorkerID })
	return topo
}

// Arrive records a worker at the end-of-training barrier. Arrivals from
// unknown nodes and from servers are rejected; repeated arrivals count once.
func (r *Registry) Arrive(nodeID string) (cluster.BarrierStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return cluster.BarrierStatus{}, fmt.Errorf("%w: %q is not registered", ErrInvalidNode, nodeID)
	}
	if n.Role != cluster.RoleWorker {
		return cluster.BarrierStatus{}, fmt.Errorf("%w: %q is a %s", ErrInvalidNode, nodeID, n.Role)
	}
	r.arrived[nodeID] = true
	return r.barrier(), nil
}

// Barrier returns the barrier's progress without arriving.
func (r *Registry) Barrier() cluster.BarrierStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.barrier()
}

func (r *Registry) barrier() cluster.BarrierStatus {
	return cluster.BarrierStatus{
		Arrived:  len(r.arrived),
		Expected: r.workers,
		Released: len(r.arrived) == r.workers,
	}
}
