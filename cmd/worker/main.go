// Package main implements the graphps training worker. A worker streams
// its partition of the edge list through the negative sampler and trains
// the embedding tables held by the servers. After every worker has arrived
// at the coordinator's barrier, worker 0 writes the source-role vectors to
// the output file. Each worker then tells every server it has finished and
// exits.
//
// Configuration comes from the YAML file named by GRAPHPS_CONFIG, with
// NODE_ID, NODE_LISTEN, NODE_ADDR and COORDINATOR_ADDR overriding the
// node section. The train section names the worker's input files.
//
// Example usage:
//
//	GRAPHPS_CONFIG=job.yaml \
//	NODE_ID=worker-0 \
//	NODE_LISTEN=:8091 \
//	NODE_ADDR=http://10.0.0.7:8091 \
//	COORDINATOR_ADDR=http://10.0.0.1:8080 \
//	./worker
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
	"github.com/dreamware/graphps/internal/embedding"
	"github.com/dreamware/graphps/internal/logging"
	"github.com/dreamware/graphps/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = func(format string, v ...any) { zlog.Fatal().Msgf(format, v...) }

// pollInterval paces topology and barrier polling.
var pollInterval = 200 * time.Millisecond

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
		logFatal("worker: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// run serves /health and /info while the worker trains, and returns once
// training, saving and finishing are done.
func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	host, _ := os.Hostname()
	if role := cfg.RoleFor(host); !role.Allows(cluster.RoleWorker) {
		return fmt.Errorf("host %q is assigned role %s", host, role)
	}
	if cfg.Node.ID == "" || cfg.Node.Coordinator == "" {
		return errors.New("node id and coordinator address are required")
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	w := newWorker(cfg, log)
	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           w.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("node", cfg.Node.ID).Str("listen", ln.Addr().String()).Msg("worker listening")
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	return w.work(ctx)
}

// Worker phases reported by /info.
const (
	phaseRegistering = "registering"
	phaseTraining    = "training"
	phaseBarrier     = "barrier"
	phaseSaving      = "saving"
	phaseFinished    = "finished"
)

type worker struct {
	cfg config.Config

	mu       sync.RWMutex
	log      zerolog.Logger
	phase    string
	id       *cluster.Identity
	progress embedding.Progress
}

func newWorker(cfg config.Config, log zerolog.Logger) *worker {
	return &worker{cfg: cfg, log: log, phase: phaseRegistering}
}

func (w *worker) setPhase(phase string) {
	w.mu.Lock()
	w.phase = phase
	log := w.log
	w.mu.Unlock()
	log.Debug().Str("phase", phase).Msg("phase changed")
}

func (w *worker) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /info", w.handleInfo)
	return mux
}

func (w *worker) handleInfo(rw http.ResponseWriter, _ *http.Request) {
	w.mu.RLock()
	info := struct {
		NodeID   string             `json:"node_id"`
		Phase    string             `json:"phase"`
		Identity *cluster.Identity  `json:"identity,omitempty"`
		Progress embedding.Progress `json:"progress"`
	}{w.cfg.Node.ID, w.phase, w.id, w.progress}
	w.mu.RUnlock()

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(info)
}

// work runs the worker from registration to finish.
func (w *worker) work(ctx context.Context) error {
	cfg := w.cfg
	coord := cfg.Node.Coordinator
	node, err := cluster.Register(ctx, coord, cluster.NodeInfo{
		ID:   cfg.Node.ID,
		Addr: cfg.Node.Addr,
		Role: cluster.RoleWorker,
	}, w.log)
	if err != nil {
		return err
	}
	topo, err := cluster.WaitTopology(ctx, coord, pollInterval)
	if err != nil {
		return fmt.Errorf("wait for topology: %w", err)
	}
	id := cluster.NewIdentity(node, topo)
	log := id.Logger(w.log)
	w.mu.Lock()
	w.log, w.id = log, &id
	w.mu.Unlock()

	tr := transport.NewHTTP(node.WorkerID, topo)
	learner, getter, err := embedding.NewLearner(cfg.Table.Layout, tr, cfg.Table.Rows, cfg.Table.Cols, topo.NumServers, cfg.Train.LearningRate, log)
	if err != nil {
		return err
	}

	g, err := embedding.OpenGraph(cfg.Train.GraphPartFile, cfg.WorkerEdges(), cfg.Train.BlockNumEdges)
	if err != nil {
		return err
	}
	defer g.Close()
	var dict *embedding.Dictionary
	if cfg.Train.NegativeNum > 0 {
		if dict, err = embedding.LoadDictionary(cfg.Train.DictFile); err != nil {
			return err
		}
	}
	sampler, err := embedding.NewSampler(dict, cfg.Train.NegativeNum)
	if err != nil {
		return err
	}
	log.Info().
		Str("graph", cfg.Train.GraphPartFile).
		Int64("edges", g.Remaining()).
		Int("servers", topo.NumServers).
		Str("layout", string(cfg.Table.Layout)).
		Msg("training started")

	w.setPhase(phaseTraining)
	prog, err := embedding.Train(ctx, g, sampler, learner, embedding.TrainOptions{
		QueueDepth:    cfg.Train.QueueDepth,
		Preprocessors: cfg.Train.PreprocessThreads,
		DisplayIter:   cfg.Train.DisplayIter,
		// preprocessors of different workers draw from disjoint seeds
		Seed: cfg.Train.Seed + int64(node.WorkerID*max(cfg.Train.PreprocessThreads, 1)),
	}, log)
	w.mu.Lock()
	w.progress = prog
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	w.setPhase(phaseBarrier)
	if _, err := cluster.Arrive(ctx, coord, node.ID); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if err := cluster.WaitBarrier(ctx, coord, pollInterval); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}

	if node.WorkerID == 0 {
		w.setPhase(phaseSaving)
		if err := embedding.SaveFile(ctx, cfg.Train.OutputFile, getter, cfg.Table.Rows, cfg.Table.Cols); err != nil {
			return err
		}
		log.Info().Str("output", cfg.Train.OutputFile).Msg("embedding saved")
	}

	if err := tr.Finish(ctx); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	w.setPhase(phaseFinished)
	log.Info().Int("blocks", prog.Blocks).Int64("edges", prog.Edges).Float32("loss", prog.Loss).Msg("worker finished")
	return nil
}
