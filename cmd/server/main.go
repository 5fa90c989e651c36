// Package main implements the graphps parameter server. Each server owns
// one shard of every embedding table and applies the configured
// consistency protocol to the requests workers send it.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               Server                     │
//	├──────────────────────────────────────────┤
//	│  HTTP API:                               │
//	│    /health             - Liveness        │
//	│    /info               - Identity/shards │
//	│    /table/{id}/get     - Get, DotProd    │
//	│    /table/{id}/add     - Add, Adjust     │
//	│    /finish             - Worker done     │
//	├──────────────────────────────────────────┤
//	│  Components:                             │
//	│    gate        - Holds table requests    │
//	│                  until shards are built  │
//	│    controller  - One goroutine applying  │
//	│                  the protocol            │
//	│    shards      - One per table           │
//	└──────────────────────────────────────────┘
//
// Startup order: listen, register with the coordinator, wait for the full
// topology, build the shards for the assigned server id, open the gate.
// The process exits once every worker has finished or on SIGINT/SIGTERM.
//
// Configuration comes from the YAML file named by GRAPHPS_CONFIG, with
// NODE_ID, NODE_LISTEN, NODE_ADDR and COORDINATOR_ADDR overriding the
// node section.
//
// Example usage:
//
//	GRAPHPS_CONFIG=job.yaml \
//	NODE_ID=server-0 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://10.0.0.5:8081 \
//	COORDINATOR_ADDR=http://10.0.0.1:8080 \
//	./server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/dreamware/graphps/internal/cluster"
	"github.com/dreamware/graphps/internal/config"
	"github.com/dreamware/graphps/internal/consistency"
	"github.com/dreamware/graphps/internal/embedding"
	"github.com/dreamware/graphps/internal/logging"
	"github.com/dreamware/graphps/internal/shard"
	"github.com/dreamware/graphps/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = func(format string, v ...any) { zlog.Fatal().Msgf(format, v...) }

// pollInterval paces topology polling during startup.
var pollInterval = 200 * time.Millisecond

// inboxDepth bounds the controller's request queue.
const inboxDepth = 256

func main() {
	cfg, err := config.Load(getenv("GRAPHPS_CONFIG", ""))
	if err != nil {
		logFatal("config: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logFatal("invalid config: %v", err)
		return
	}
	log, err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.Log.Level).Msg("unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		logFatal("server: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// run serves until every worker has finished or ctx is done.
func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	host, _ := os.Hostname()
	if role := cfg.RoleFor(host); !role.Allows(cluster.RoleServer) {
		return fmt.Errorf("host %q is assigned role %s", host, role)
	}
	if cfg.Node.ID == "" || cfg.Node.Coordinator == "" {
		return errors.New("node id and coordinator address are required")
	}

	s := newServer(cfg, log)
	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("node", cfg.Node.ID).Str("listen", ln.Addr().String()).Str("public", cfg.Node.Addr).Msg("server listening")
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	ctrlCtx, cancelCtrl := context.WithCancel(context.Background())
	defer cancelCtrl()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown error")
		}
		log.Info().Msg("server stopped")
	}()

	joinErr := make(chan error, 1)
	go func() { joinErr <- s.join(ctx, ctrlCtx) }()

	for {
		select {
		case err := <-joinErr:
			// a join cut short by shutdown is not a failure
			if err != nil && ctx.Err() == nil {
				return err
			}
			joinErr = nil
		case <-s.finished:
			s.logger().Info().Msg("all workers finished")
			return nil
		case err := <-serveErr:
			return fmt.Errorf("listen: %w", err)
		case <-ctx.Done():
			s.logger().Info().Msg("shutdown requested")
			return nil
		}
	}
}

// server is the runtime state of one parameter-server process.
type server struct {
	cfg      config.Config
	gate     *gate
	finished chan struct{}

	mu     sync.RWMutex
	log    zerolog.Logger
	id     *cluster.Identity
	shards []*shard.Shard
}

func newServer(cfg config.Config, log zerolog.Logger) *server {
	return &server{
		cfg:      cfg,
		gate:     newGate(),
		finished: make(chan struct{}),
		log:      log,
	}
}

func (s *server) logger() zerolog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.Handle("/table/", s.gate)
	mux.Handle("/finish", s.gate)
	return mux
}

// join registers with the coordinator, builds this server's shards and
// opens the gate. The controller runs until ctrlCtx is done.
func (s *server) join(ctx, ctrlCtx context.Context) error {
	coord := s.cfg.Node.Coordinator
	node, err := cluster.Register(ctx, coord, cluster.NodeInfo{
		ID:   s.cfg.Node.ID,
		Addr: s.cfg.Node.Addr,
		Role: cluster.RoleServer,
	}, s.log)
	if err != nil {
		return err
	}
	topo, err := cluster.WaitTopology(ctx, coord, pollInterval)
	if err != nil {
		return fmt.Errorf("wait for topology: %w", err)
	}
	id := cluster.NewIdentity(node, topo)
	log := id.Logger(s.log)

	tables, err := embedding.ServerTables(s.cfg.Table.Layout, s.cfg.ShardOptions(), shard.Placement{
		Server:  node.ServerID,
		Servers: topo.NumServers,
	})
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	d := consistency.NewDispatcher(log)
	shards := make([]*shard.Shard, len(tables))
	for i, t := range tables {
		shards[i] = shard.NewShard(i, t)
		d.RegisterTable(shards[i])
		info := t.Describe()
		log.Info().
			Int("table", i).
			Str("layout", string(info.Layout)).
			Int("offset", info.Offset).
			Int("size", info.Size).
			Int("bytes", info.Bytes).
			Msg("shard created")
	}

	opts := s.cfg.ControllerOptions()
	opts.Workers = topo.NumWorkers
	ctrl, err := consistency.New(opts, d, log)
	if err != nil {
		return err
	}
	cs := consistency.NewServer(ctrl, topo.NumWorkers, inboxDepth, log)
	go cs.Run(ctrlCtx)

	s.mu.Lock()
	s.log = log
	s.id = &id
	s.shards = shards
	s.mu.Unlock()

	s.gate.open(transport.NewHandler(newFinishTracker(cs, topo.NumWorkers, s.finished), log))
	log.Info().Str("protocol", string(opts.Protocol)).Msg("server ready")
	return nil
}

// handleInfo reports the server's identity and per-shard statistics.
func (s *server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	info := struct {
		NodeID   string            `json:"node_id"`
		Ready    bool              `json:"ready"`
		Identity *cluster.Identity `json:"identity,omitempty"`
		Shards   []shard.ShardInfo `json:"shards"`
	}{
		NodeID:   s.cfg.Node.ID,
		Ready:    s.id != nil,
		Identity: s.id,
		Shards:   make([]shard.ShardInfo, 0, len(s.shards)),
	}
	for _, sh := range s.shards {
		info.Shards = append(info.Shards, sh.Info())
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

// gate holds requests until open installs the handler that serves them.
// A request whose context ends first gets 503.
type gate struct {
	ready chan struct{}
	h     http.Handler
}

func newGate() *gate {
	return &gate{ready: make(chan struct{})}
}

func (g *gate) open(h http.Handler) {
	g.h = h
	close(g.ready)
}

func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.ready:
		g.h.ServeHTTP(w, r)
	case <-r.Context().Done():
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
	}
}

// finishTracker closes done once every worker has finished.
type finishTracker struct {
	transport.Backend
	workers int
	done    chan struct{}

	mu   sync.Mutex
	seen map[int]bool
}

func newFinishTracker(b transport.Backend, workers int, done chan struct{}) *finishTracker {
	return &finishTracker{Backend: b, workers: workers, done: done, seen: make(map[int]bool)}
}

func (f *finishTracker) Finish(ctx context.Context, worker int) error {
	if err := f.Backend.Finish(ctx, worker); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.seen[worker] {
		f.seen[worker] = true
		if len(f.seen) == f.workers {
			close(f.done)
		}
	}
	return nil
}
