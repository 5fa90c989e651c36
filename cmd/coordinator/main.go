// Package main implements the graphps coordinator. It assigns server and
// worker ids as processes register, publishes the topology once the
// cluster is complete, runs the end-of-training barrier and monitors node
// health.
//
// Configuration:
//   - GRAPHPS_CONFIG: job description; only the cluster and log sections
//     are used here
//   - COORDINATOR_LISTEN: listen address (default ":8080")
//
// Example usage:
//
//	GRAPHPS_CONFIG=job.yaml COORDINATOR_LISTEN=:8080 ./coordinator
//
//	# Inspect the cluster
//	curl localhost:8080/topology
//	curl localhost:8080/health/nodes
//	curl localhost:8080/health/nodes/server-0
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/dreamware/graphps/internal/cluster"
	"github.com/dreamware/graphps/internal/config"
	"github.com/dreamware/graphps/internal/coordinator"
	"github.com/dreamware/graphps/internal/logging"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = func(format string, v ...any) { zlog.Fatal().Msgf(format, v...) }

// healthInterval is how often registered nodes are probed.
var healthInterval = 5 * time.Second

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
	if err := run(ctx, cfg, getenv("COORDINATOR_LISTEN", ":8080"), log); err != nil {
		logFatal("coordinator: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// newHandler builds the registry, health monitor and API for cfg. The
// monitor is started by the caller.
func newHandler(cfg config.Config, log zerolog.Logger) (http.Handler, *coordinator.Registry, *coordinator.HealthMonitor, error) {
	reg, err := coordinator.NewRegistry(cfg.Cluster.Servers, cfg.Cluster.Workers)
	if err != nil {
		return nil, nil, nil, err
	}
	monitor := coordinator.NewHealthMonitor(healthInterval, log)
	monitor.SetOnUnhealthy(func(node cluster.NodeInfo) {
		// servers and workers are not restarted; a lost node stalls training
		log.Error().
			Str("node", node.ID).
			Str("role", string(node.Role)).
			Int("rank", node.Rank).
			Msg("node unhealthy")
	})
	return coordinator.NewAPI(reg, monitor, log).Handler(), reg, monitor, nil
}

// run serves the coordinator API on listen until ctx is done.
func run(ctx context.Context, cfg config.Config, listen string, log zerolog.Logger) error {
	handler, reg, monitor, err := newHandler(cfg, log)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go monitor.Start(ctx, reg.Nodes)
	defer monitor.Stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", ln.Addr().String()).
			Int("servers", cfg.Cluster.Servers).
			Int("workers", cfg.Cluster.Workers).
			Msg("coordinator listening")
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("coordinator shutdown error")
	}
	log.Info().Msg("coordinator stopped")
	return nil
}
