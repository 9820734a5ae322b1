// Package cluster implements node discovery, heartbeating, Primary
// election, and the replication event pipeline described by the cluster
// component: a membership table guarded by a read-biased mutex (grounded
// on pkg/manager/token.go's sync.RWMutex pattern), a bounded in-memory
// event queue adapted from pkg/events.Broker, a peer health-check loop
// adapted from pkg/health.Status's consecutive-failure state machine, a
// Raft group that linearizes only the Primary role (adapted from
// pkg/manager.Manager's Bootstrap/Join/Apply), and a pool of replicator
// workers that fan events out to target nodes over the inter-node HTTP
// transport.
package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/warren-s3/pkg/blobstore"
	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/types"
)

// Config controls discovery, heartbeat cadence, and replication fan-out.
type Config struct {
	NodeID           string
	APIEndpoint      string
	ClusterEndpoint  string
	ClusterName      string
	Seeds            []string
	RaftDir          string
	Version          string
	Weight           uint32
	HeartbeatInterval time.Duration
	NodeTimeout      time.Duration
	MaxConcurrent    int
	RetryBase        time.Duration
	MaxRetries       int
	SyncQuorumWait   time.Duration
}

// DefaultConfig mirrors spec.md's named defaults for the discovery/health
// loops: a heartbeat goes to every peer each 5s, and each send may take up
// to NodeTimeout (15s). A peer is marked Unreachable at the next 10s check
// after three consecutive sends to it have failed; the age of a peer's
// LastHeartbeat is not consulted.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		NodeTimeout:       15 * time.Second,
		MaxConcurrent:     8,
		RetryBase:         500 * time.Millisecond,
		MaxRetries:        5,
		SyncQuorumWait:    10 * time.Second,
	}
}

// Cluster is the node's view of the replication cluster: membership,
// health, Primary election, and the replication queue/workers.
type Cluster struct {
	cfg   Config
	meta  metastore.Store
	blobs blobstore.Store

	mu      sync.RWMutex
	members map[string]*types.ClusterNode

	health    *heartbeatMonitor
	elector   *elector
	broker    *eventBroker
	replicator *replicator
	transport Transport

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Cluster wired to the metadata catalog for membership
// persistence and the blob store for serving replication reads.
func New(cfg Config, meta metastore.Store, blobs blobstore.Store, transport Transport) (*Cluster, error) {
	self := &types.ClusterNode{
		ID:            cfg.NodeID,
		Address:       cfg.ClusterEndpoint,
		Role:          types.RoleReplica,
		Status:        types.NodeStarting,
		Version:       cfg.Version,
		Weight:        cfg.Weight,
		JoinedAt:      time.Now().UTC(),
		LastHeartbeat: time.Now().UTC(),
	}

	el, err := newElector(cfg)
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		cfg:       cfg,
		meta:      meta,
		blobs:     blobs,
		members:   map[string]*types.ClusterNode{cfg.NodeID: self},
		elector:   el,
		broker:    newEventBroker(1024),
		transport: transport,
		stopCh:    make(chan struct{}),
	}
	c.health = newHeartbeatMonitor(c, cfg.NodeTimeout)
	c.replicator = newReplicator(c, meta, blobs, transport, cfg)
	return c, nil
}

// Start bootstraps or joins the Raft group, begins heartbeating peers,
// and starts the replicator worker pool.
func (c *Cluster) Start(ctx context.Context) error {
	if len(c.cfg.Seeds) == 0 {
		if err := c.elector.bootstrap(); err != nil {
			return err
		}
	} else {
		if err := c.joinSeeds(ctx); err != nil {
			return err
		}
	}
	c.setSelfStatus(types.NodeHealthy)
	if c.elector.isLeader() {
		if err := c.elector.setPrimary(c.cfg.NodeID); err != nil {
			log.WithComponent("cluster").Warn().Msg("set_primary failed: " + err.Error())
		}
		c.mu.Lock()
		c.members[c.cfg.NodeID].Role = types.RolePrimary
		c.mu.Unlock()
	}
	c.broker.start()
	c.replicator.start(ctx)
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
	return nil
}

// Stop drains the replicator, stops the broker, and shuts down Raft.
func (c *Cluster) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	c.replicator.stop()
	c.broker.stop()
	c.elector.shutdown()
}

// joinSeeds tries each seed in order, per spec.md §4.6's discovery
// algorithm; if none respond, the node starts solitary and ready to
// accept new joiners.
func (c *Cluster) joinSeeds(ctx context.Context) error {
	self := c.Self()
	for _, seed := range c.cfg.Seeds {
		members, err := c.transport.Join(ctx, seed, c.cfg.ClusterName, self)
		if err != nil {
			log.WithComponent("cluster").Warn().Msg("join seed failed: " + seed + ": " + err.Error())
			continue
		}
		c.mu.Lock()
		for _, m := range members {
			c.members[m.ID] = m
		}
		c.mu.Unlock()
		if err := c.elector.join(seed); err != nil {
			log.WithComponent("cluster").Warn().Msg("raft join via seed failed: " + seed + ": " + err.Error())
			continue
		}
		return nil
	}
	log.WithComponent("cluster").Info().Msg("no seed responded, starting solitary")
	return c.elector.bootstrap()
}

func (c *Cluster) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	sendTicker := time.NewTicker(c.cfg.HeartbeatInterval)
	checkTicker := time.NewTicker(10 * time.Second)
	defer sendTicker.Stop()
	defer checkTicker.Stop()
	for {
		select {
		case <-sendTicker.C:
			c.health.sendHeartbeats(ctx, c.Peers(), c.transport, c.Self())
		case <-checkTicker.C:
			c.health.checkPeers(c.Peers(), func(id string, status types.NodeStatus) {
				c.setMemberStatus(id, status)
			})
		case <-c.stopCh:
			return
		}
	}
}

// Self returns this node's current descriptor.
func (c *Cluster) Self() *types.ClusterNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c.members[c.cfg.NodeID]
	return &cp
}

// Peers returns every known member except self.
func (c *Cluster) Peers() []*types.ClusterNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peers := make([]*types.ClusterNode, 0, len(c.members))
	for id, m := range c.members {
		if id == c.cfg.NodeID {
			continue
		}
		cp := *m
		peers = append(peers, &cp)
	}
	return peers
}

// Members returns every known member, including self.
func (c *Cluster) Members() []*types.ClusterNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.ClusterNode, 0, len(c.members))
	for _, m := range c.members {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// Upsert records (or updates) a member descriptor, used when handling an
// inbound join/heartbeat at the cluster listener's /cluster/* endpoints
// (Server in server.go).
func (c *Cluster) Upsert(n *types.ClusterNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[n.ID] = n
}

// Remove drops a member, used when handling an inbound leave.
func (c *Cluster) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, id)
}

func (c *Cluster) setMemberStatus(id string, status types.NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[id]; ok {
		m.Status = status
	}
}

func (c *Cluster) setSelfStatus(status types.NodeStatus) {
	c.setMemberStatus(c.cfg.NodeID, status)
}

// NodeRole reports this node's current replication role. Primary status
// is driven by Raft leadership; every non-leader node is a Replica
// unless explicitly configured as a Witness (not modeled here — no
// SPEC_FULL.md caller configures a Witness node through this package
// today, see DESIGN.md).
func (c *Cluster) NodeRole() types.NodeRole {
	if c.elector.isLeader() {
		return types.RolePrimary
	}
	return types.RoleReplica
}

// IsPrimary satisfies metrics.ClusterSource.
func (c *Cluster) IsPrimary() bool { return c.elector.isLeader() }

// PrimaryID returns the last node ID committed as Primary through Raft,
// letting a Replica (or the admin surface) report who the Primary is
// without itself holding Raft leadership. Empty until the leader's
// first setPrimary call lands.
func (c *Cluster) PrimaryID() string { return c.elector.fsm.currentPrimary() }

// RaftStats satisfies metrics.ClusterSource.
func (c *Cluster) RaftStats() map[string]uint64 { return c.elector.stats() }

// QueueDepth satisfies metrics.ClusterSource.
func (c *Cluster) QueueDepth() int { return c.broker.depth() }

// Publish satisfies objectplane.EventPublisher: the object plane posts a
// replication event onto the bounded queue after every successful local
// mutation, never blocking.
func (c *Cluster) Publish(ev types.ReplicationEvent) {
	c.broker.publish(ev)
}

// subscribe lets the replicator pool drain published events.
func (c *Cluster) subscribe() <-chan types.ReplicationEvent {
	return c.broker.subscribe()
}

// WaitForDelivery blocks until eventID reaches quorum-complete, fails, or
// ctx expires — used by the object plane for Sync-mode replication rules.
func (c *Cluster) WaitForDelivery(ctx context.Context, eventID string, quorum int) error {
	return c.replicator.waitForQuorum(ctx, eventID, quorum)
}

// ReplicationRules exposes the rule set for the admin surface.
func (c *Cluster) ReplicationRules(ctx context.Context, bucket string) ([]*types.ReplicationRule, error) {
	return c.meta.ListReplicationRules(ctx, bucket)
}
