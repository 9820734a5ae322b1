package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren-s3/pkg/health"
	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/metrics"
	"github.com/cuemby/warren-s3/pkg/types"
)

// heartbeatMonitor retargets pkg/health's Status consecutive-
// failure-and-recovery state machine from container health checks to
// cluster peer heartbeats: each peer gets its own health.Status, fed a
// health.Result on every heartbeat attempt, and is only declared
// Unreachable once config.Retries consecutive sends have failed — the
// same threshold pkg/health.Status.Update already enforces.
type heartbeatMonitor struct {
	nodeTimeout time.Duration
	config      health.Config

	mu     sync.Mutex
	status map[string]*health.Status
}

func newHeartbeatMonitor(_ *Cluster, nodeTimeout time.Duration) *heartbeatMonitor {
	cfg := health.DefaultConfig()
	cfg.Interval = nodeTimeout / 3
	cfg.Timeout = nodeTimeout
	return &heartbeatMonitor{nodeTimeout: nodeTimeout, config: cfg, status: make(map[string]*health.Status)}
}

func (h *heartbeatMonitor) statusFor(peerID string) *health.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.status[peerID]
	if !ok {
		st = health.NewStatus()
		h.status[peerID] = st
	}
	return st
}

// sendHeartbeats pushes this node's descriptor and live stats to every
// known peer, per spec.md §4.6's "every heartbeat_interval seconds" rule,
// and feeds each attempt's outcome into that peer's health.Status.
func (h *heartbeatMonitor) sendHeartbeats(ctx context.Context, peers []*types.ClusterNode, t Transport, self *types.ClusterNode) {
	for _, peer := range peers {
		peer := peer
		go func() {
			start := time.Now()
			hbCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
			defer cancel()
			err := t.Heartbeat(hbCtx, peer.Address, self)
			result := health.Result{Healthy: err == nil, CheckedAt: start, Duration: time.Since(start)}
			if err != nil {
				result.Message = err.Error()
				metrics.HeartbeatFailuresTotal.WithLabelValues(peer.ID).Inc()
				log.WithComponent("cluster").Debug().Msg("heartbeat to " + peer.ID + " failed: " + err.Error())
			}
			h.statusFor(peer.ID).Update(result, h.config)
		}()
	}
}

// checkPeers runs every 10s (spec.md §4.6) and reports NodeUnreachable
// once a peer's health.Status flips unhealthy, or NodeHealthy the first
// time it recovers; onChange is wired to Cluster.setMemberStatus.
func (h *heartbeatMonitor) checkPeers(peers []*types.ClusterNode, onChange func(id string, status types.NodeStatus)) {
	for _, peer := range peers {
		st := h.statusFor(peer.ID)
		switch {
		case !st.Healthy && peer.Status != types.NodeUnreachable:
			onChange(peer.ID, types.NodeUnreachable)
			log.WithComponent("cluster").Warn().Msg("peer " + peer.ID + " unreachable")
		case st.Healthy && peer.Status == types.NodeUnreachable:
			onChange(peer.ID, types.NodeHealthy)
			log.WithComponent("cluster").Info().Msg("peer " + peer.ID + " recovered")
		}
	}
}
