package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphps/internal/cluster"
	"github.com/dreamware/graphps/internal/config"
	"github.com/dreamware/graphps/internal/consistency"
	"github.com/dreamware/graphps/internal/coordinator"
	"github.com/dreamware/graphps/internal/embedding"
	"github.com/dreamware/graphps/internal/shard"
	"github.com/dreamware/graphps/internal/transport"
)

func TestGetenv(t *testing.T) {
	t.Setenv("GRAPHPS_TEST_VAR", "v")
	assert.Equal(t, "v", getenv("GRAPHPS_TEST_VAR", "d"))
	assert.Equal(t, "d", getenv("GRAPHPS_UNSET_VAR", "d"))
}

func fastPoll(t *testing.T) {
	t.Helper()
	prev := pollInterval
	pollInterval = 5 * time.Millisecond
	t.Cleanup(func() { pollInterval = prev })
}

// testJob writes a small graph and dictionary and returns a one-server,
// one-worker job over them
func testJob(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	cfg := config.Default()
	cfg.Node.ID = "worker-0"
	cfg.Node.Listen = "127.0.0.1:0"
	cfg.Table.Rows, cfg.Table.Cols = 5, 4
	cfg.Table.InitMin, cfg.Table.InitMax = -0.125, 0.125
	cfg.Train.GraphPartFile = write("part", "0 1\n1 2\n2 3\n3 4 2\n")
	cfg.Train.DictFile = write("dict", "0 1\n1 1\n2 1\n3 1\n4 1\n")
	cfg.Train.OutputFile = filepath.Join(dir, "out.txt")
	cfg.Train.NegativeNum = 2
	cfg.Train.SampleEdges = 20
	cfg.Train.BlockNumEdges = 4
	return cfg
}

// startServer runs one parameter server for cfg and registers it
func startServer(t *testing.T, ctx context.Context, cfg config.Config, coord string) {
	t.Helper()
	g := make(chan http.Handler, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := <-g
		g <- h
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	_, err := cluster.Register(ctx, coord, cluster.NodeInfo{ID: "server-0", Addr: ts.URL, Role: cluster.RoleServer}, zerolog.Nop())
	require.NoError(t, err)

	tables, err := embedding.ServerTables(cfg.Table.Layout, cfg.ShardOptions(), shard.Placement{Server: 0, Servers: 1})
	require.NoError(t, err)
	d := consistency.NewDispatcher(zerolog.Nop())
	for i, tbl := range tables {
		d.RegisterTable(shard.NewShard(i, tbl))
	}
	ctrl, err := consistency.New(cfg.ControllerOptions(), d, zerolog.Nop())
	require.NoError(t, err)
	srv := consistency.NewServer(ctrl, cfg.Cluster.Workers, 16, zerolog.Nop())
	go srv.Run(ctx)
	g <- transport.NewHandler(srv, zerolog.Nop())
}

func TestRun(t *testing.T) {
	fastPoll(t)
	for _, layout := range []shard.Layout{shard.LayoutColumn, shard.LayoutRow} {
		t.Run(string(layout), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			reg, err := coordinator.NewRegistry(1, 1)
			require.NoError(t, err)
			coord := httptest.NewServer(coordinator.NewAPI(reg, nil, zerolog.Nop()).Handler())
			defer coord.Close()

			cfg := testJob(t)
			cfg.Table.Layout = layout
			cfg.Node.Coordinator = coord.URL
			startServer(t, ctx, cfg, coord.URL)

			require.NoError(t, run(ctx, cfg, zerolog.Nop()))
			assert.True(t, reg.Barrier().Released)

			f, err := os.Open(cfg.Train.OutputFile)
			require.NoError(t, err)
			defer f.Close()
			sc := bufio.NewScanner(f)
			require.True(t, sc.Scan())
			assert.Equal(t, "5 4", sc.Text())
			rows := 0
			for sc.Scan() {
				assert.Len(t, strings.Fields(sc.Text()), 5)
				rows++
			}
			assert.Equal(t, 5, rows)
		})
	}
}

func TestRunRejects(t *testing.T) {
	ctx := context.Background()

	cfg := testJob(t)
	assert.Error(t, run(ctx, cfg, zerolog.Nop()), "missing coordinator")

	cfg.Node.Coordinator = "http://127.0.0.1:1"
	cfg.Train.OutputFile = ""
	assert.Error(t, run(ctx, cfg, zerolog.Nop()), "missing output file")

	host, err := os.Hostname()
	require.NoError(t, err)
	cfg = testJob(t)
	cfg.Node.Coordinator = "http://127.0.0.1:1"
	cfg.Roles = map[string]string{host: string(cluster.RoleServer)}
	assert.Error(t, run(ctx, cfg, zerolog.Nop()), "server-only host")
}

func TestWorkMissingGraph(t *testing.T) {
	fastPoll(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg, err := coordinator.NewRegistry(1, 1)
	require.NoError(t, err)
	coord := httptest.NewServer(coordinator.NewAPI(reg, nil, zerolog.Nop()).Handler())
	defer coord.Close()

	cfg := testJob(t)
	cfg.Node.Coordinator = coord.URL
	cfg.Train.GraphPartFile = filepath.Join(t.TempDir(), "missing")
	startServer(t, ctx, cfg, coord.URL)

	w := newWorker(cfg, zerolog.Nop())
	err = w.work(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestWorkerInfo(t *testing.T) {
	w := newWorker(testJob(t), zerolog.Nop())
	ts := httptest.NewServer(w.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	w.setPhase(phaseTraining)
	resp, err = http.Get(ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info struct {
		NodeID   string             `json:"node_id"`
		Phase    string             `json:"phase"`
		Progress embedding.Progress `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "worker-0", info.NodeID)
	assert.Equal(t, phaseTraining, info.Phase)
}
