package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Role is the part a process plays in training.
type Role string

const (
	RoleServer Role = "server" // Owns a shard of every table
	RoleWorker Role = "worker" // Trains through table proxies
	RoleAll    Role = "default" // Host may run either process
)

// Allows reports whether a host assigned r may run a process of role p.
func (r Role) Allows(p Role) bool {
	return r == RoleAll || r == p
}

// NodeInfo describes a registered process. ServerID and WorkerID are
// assigned by the coordinator and are -1 for the role a node does not play.
type NodeInfo struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	Role     Role   `json:"role"`
	Rank     int    `json:"rank"`
	ServerID int    `json:"server_id"`
	WorkerID int    `json:"worker_id"`
}

type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// RegisterResponse returns the node as recorded, with its assigned ids.
type RegisterResponse struct {
	Node NodeInfo `json:"node"`
}

// Topology is the cluster as seen by the coordinator. Servers is ordered by
// server id. Ready is set once every expected node has registered.
type Topology struct {
	Ready      bool       `json:"ready"`
	Servers    []NodeInfo `json:"servers"`
	Workers    []NodeInfo `json:"workers"`
	NumServers int        `json:"num_servers"`
	NumWorkers int        `json:"num_workers"`
}

// BarrierRequest records a node's arrival at the end-of-training barrier.
type BarrierRequest struct {
	NodeID string `json:"node_id"`
}

// BarrierStatus reports barrier progress. Released is set once every
// worker has arrived.
type BarrierStatus struct {
	Arrived  int  `json:"arrived"`
	Expected int  `json:"expected"`
	Released bool `json:"released"`
}

// Identity is a process's place in the cluster, threaded explicitly into
// every component that needs it.
type Identity struct {
	Rank       int
	Role       Role
	ServerID   int
	WorkerID   int
	NumServers int
	NumWorkers int
}

// NewIdentity derives an identity from a registered node and the ready
// topology.
func NewIdentity(node NodeInfo, topo Topology) Identity {
	return Identity{
		Rank:       node.Rank,
		Role:       node.Role,
		ServerID:   node.ServerID,
		WorkerID:   node.WorkerID,
		NumServers: topo.NumServers,
		NumWorkers: topo.NumWorkers,
	}
}

// Logger returns log with the identity attached.
func (id Identity) Logger(log zerolog.Logger) zerolog.Logger {
	ctx := log.With().Int("rank", id.Rank).Str("role", string(id.Role))
	if id.ServerID >= 0 {
		ctx = ctx.Int("server", id.ServerID)
	}
	if id.WorkerID >= 0 {
		ctx = ctx.Int("worker", id.WorkerID)
	}
	return ctx.Logger()
}

// WorkerHeader carries the requesting worker's id on table requests.
const WorkerHeader = "X-Worker-ID"

var httpClient = &http.Client{Timeout: 5 * time.Second}

// blobClient has no timeout: a table request may be held back by the
// consistency controller for as long as the slowest worker needs.
var blobClient = &http.Client{}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is returned by PostBlob for a non-2xx response.
type StatusError struct {
	URL    string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Detail)
}

// PostBlob sends body as application/octet-stream on behalf of worker and
// returns the response body.
func PostBlob(ctx context.Context, url string, worker int, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(WorkerHeader, strconv.Itoa(worker))
	resp, err := blobClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Detail: string(bytes.TrimSpace(data))}
	}
	return data, nil
}
