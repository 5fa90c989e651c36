package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphps/internal/cluster"
)

func newAPI(t *testing.T, servers, workers int) (*Registry, *httptest.Server) {
	t.Helper()
	reg, err := NewRegistry(servers, workers)
	require.NoError(t, err)
	ts := httptest.NewServer(NewAPI(reg, nil, zerolog.Nop()).Handler())
	t.Cleanup(ts.Close)
	return reg, ts
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIRegister(t *testing.T) {
	_, ts := newAPI(t, 1, 1)

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "server", body: cluster.RegisterRequest{Node: node("s", cluster.RoleServer)}, want: http.StatusOK},
		{name: "server again", body: cluster.RegisterRequest{Node: node("s", cluster.RoleServer)}, want: http.StatusOK},
		{name: "second server", body: cluster.RegisterRequest{Node: node("s2", cluster.RoleServer)}, want: http.StatusConflict},
		{name: "missing addr", body: cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "x"}}, want: http.StatusBadRequest},
		{name: "bad json", body: "not a request", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/register", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp := post(t, ts.URL+"/register", cluster.RegisterRequest{Node: node("w", cluster.RoleAll)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got cluster.RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, cluster.RoleWorker, got.Node.Role)
	assert.Equal(t, 0, got.Node.WorkerID)
	assert.Equal(t, 1, got.Node.Rank)
}

func TestAPIMethods(t *testing.T) {
	_, ts := newAPI(t, 1, 1)

	resp, err := http.Get(ts.URL + "/register")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health/nodes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestAPIClientFlow drives the cluster client helpers against the API the
// way servers and workers do at startup and shutdown
func TestAPIClientFlow(t *testing.T) {
	reg, ts := newAPI(t, 2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids := []cluster.NodeInfo{
		node("s1", cluster.RoleServer),
		node("w1", cluster.RoleWorker),
		node("any", cluster.RoleAll),
		node("w2", cluster.RoleWorker),
	}

	var wg sync.WaitGroup
	topos := make([]cluster.Topology, len(ids))
	registered := make([]cluster.NodeInfo, len(ids))
	for i, n := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cluster.Register(ctx, ts.URL, n, zerolog.Nop())
			if !assert.NoError(t, err) {
				return
			}
			registered[i] = got
			topo, err := cluster.WaitTopology(ctx, ts.URL, 5*time.Millisecond)
			assert.NoError(t, err)
			topos[i] = topo
		}()
	}
	wg.Wait()

	for i := range ids {
		assert.True(t, topos[i].Ready)
		assert.Len(t, topos[i].Servers, 2)
		assert.Equal(t, reg.Topology(), topos[i])
	}

	var workers []cluster.NodeInfo
	for _, n := range registered {
		if n.Role == cluster.RoleWorker {
			workers = append(workers, n)
		}
	}
	require.Len(t, workers, 2)

	st, err := cluster.Arrive(ctx, ts.URL, workers[0].ID)
	require.NoError(t, err)
	assert.False(t, st.Released)

	released := make(chan error, 1)
	go func() { released <- cluster.WaitBarrier(ctx, ts.URL, 5*time.Millisecond) }()

	select {
	case <-released:
		t.Fatal("barrier released early")
	case <-time.After(30 * time.Millisecond):
	}

	st, err = cluster.Arrive(ctx, ts.URL, workers[1].ID)
	require.NoError(t, err)
	assert.True(t, st.Released)
	assert.NoError(t, <-released)

	_, err = cluster.Arrive(ctx, ts.URL, "s1")
	assert.Error(t, err)
}

func TestAPINodeHealth(t *testing.T) {
	reg, err := NewRegistry(1, 1)
	require.NoError(t, err)
	_, err = reg.Register(node("s", cluster.RoleServer))
	require.NoError(t, err)

	monitor := NewHealthMonitor(10*time.Millisecond, zerolog.Nop())
	defer monitor.Stop()
	monitor.SetCheckFunction(func(string) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, reg.Nodes)
	require.Eventually(t, func() bool { return monitor.IsHealthy("s") }, time.Second, 5*time.Millisecond)

	ts := httptest.NewServer(NewAPI(reg, monitor, zerolog.Nop()).Handler())
	defer ts.Close()

	var got map[string]NodeHealth
	require.NoError(t, cluster.GetJSON(ctx, ts.URL+"/health/nodes", &got))
	require.Contains(t, got, "s")
	assert.Equal(t, StatusHealthy, got["s"].Status)
	assert.Equal(t, cluster.RoleServer, got["s"].Role)
}

func TestAPIOneNodeHealth(t *testing.T) {
	reg, err := NewRegistry(2, 1)
	require.NoError(t, err)
	for _, id := range []string{"up", "down"} {
		_, err = reg.Register(node(id, cluster.RoleServer))
		require.NoError(t, err)
	}

	monitor := NewHealthMonitor(10*time.Millisecond, zerolog.Nop())
	defer monitor.Stop()
	monitor.SetCheckFunction(func(addr string) error {
		if addr == node("down", cluster.RoleServer).Addr {
			return errors.New("connection refused")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx, reg.Nodes)
	require.Eventually(t, func() bool {
		h := monitor.GetNodeHealth("down")
		return monitor.IsHealthy("up") && h != nil && h.ConsecutiveFails > 0
	}, time.Second, 5*time.Millisecond)

	ts := httptest.NewServer(NewAPI(reg, monitor, zerolog.Nop()).Handler())
	defer ts.Close()

	tests := []struct {
		id     string
		status int
	}{
		{id: "up", status: http.StatusOK},
		{id: "down", status: http.StatusServiceUnavailable},
		{id: "missing", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/health/nodes/" + tt.id)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusNotFound {
				return
			}
			var got NodeHealth
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.id, got.NodeID)
		})
	}

	t.Run("no monitor", func(t *testing.T) {
		_, plain := newAPI(t, 1, 1)
		resp, err := http.Get(plain.URL + "/health/nodes/up")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
