package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RegisterAttempts and RegisterBackoff bound how long a process retries
// registration before giving up.
var (
	RegisterAttempts = 10
	RegisterBackoff  = 400 * time.Millisecond
)

// Register announces node to the coordinator at coord and returns the node
// as the coordinator recorded it, with rank and ids assigned. Transient
// failures are retried.
func Register(ctx context.Context, coord string, node NodeInfo, log zerolog.Logger) (NodeInfo, error) {
	var (
		resp    RegisterResponse
		lastErr error
	)
	for i := 0; i < RegisterAttempts; i++ {
		lastErr = PostJSON(ctx, coord+"/register", RegisterRequest{Node: node}, &resp)
		if lastErr == nil {
			log.Info().Str("coordinator", coord).Int("rank", resp.Node.Rank).Str("role", string(resp.Node.Role)).Msg("registered")
			return resp.Node, nil
		}
		log.Warn().Err(lastErr).Int("attempt", i+1).Msg("register retry")
		if err := sleep(ctx, RegisterBackoff); err != nil {
			return NodeInfo{}, err
		}
	}
	return NodeInfo{}, fmt.Errorf("register with %s: %w", coord, lastErr)
}

// WaitTopology polls the coordinator until every expected process has
// registered.
func WaitTopology(ctx context.Context, coord string, poll time.Duration) (Topology, error) {
	for {
		var topo Topology
		if err := GetJSON(ctx, coord+"/topology", &topo); err != nil {
			return Topology{}, fmt.Errorf("topology: %w", err)
		}
		if topo.Ready {
			return topo, nil
		}
		if err := sleep(ctx, poll); err != nil {
			return Topology{}, err
		}
	}
}

// Arrive records nodeID at the end-of-training barrier.
func Arrive(ctx context.Context, coord, nodeID string) (BarrierStatus, error) {
	var st BarrierStatus
	if err := PostJSON(ctx, coord+"/barrier", BarrierRequest{NodeID: nodeID}, &st); err != nil {
		return BarrierStatus{}, fmt.Errorf("barrier: %w", err)
	}
	return st, nil
}

// WaitBarrier polls until every worker has arrived.
func WaitBarrier(ctx context.Context, coord string, poll time.Duration) error {
	for {
		var st BarrierStatus
		if err := GetJSON(ctx, coord+"/barrier", &st); err != nil {
			return fmt.Errorf("barrier: %w", err)
		}
		if st.Released {
			return nil
		}
		if err := sleep(ctx, poll); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
