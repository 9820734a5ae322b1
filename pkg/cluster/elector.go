package cluster

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// elector wraps a Raft group whose only purpose is linearizing which
// node currently holds the Primary role, adapted from
// pkg/manager.Manager's Bootstrap/Join/AddVoter/IsLeader/LeaderAddr/
// GetRaftStats plumbing. raft-boltdb's log/stable stores are reused
// unmodified from the teacher, per SPEC_FULL.md §4.6.
type elector struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft *raft.Raft
	fsm  *electorFSM
}

func newElector(cfg Config) (*elector, error) {
	dataDir := cfg.RaftDir
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "warren-s3-raft", cfg.NodeID)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create raft data dir: %w", err)
	}
	return &elector{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.ClusterEndpoint,
		dataDir:  dataDir,
		fsm:      newElectorFSM(),
	}, nil
}

func (e *elector) setup() (*raft.Config, *raft.TCPTransport, raft.SnapshotStore, raft.LogStore, raft.StableStore, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(e.nodeID)

	// Same faster-failover tuning as the teacher's manager.Bootstrap:
	// defaults are conservative for WAN deployments, these target
	// sub-10s Primary failover on a LAN-local Raft group.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", e.bindAddr)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("resolve raft bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(e.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(e.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(e.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("create raft stable store: %w", err)
	}
	return config, transport, snapshotStore, logStore, stableStore, nil
}

// bootstrap starts a single-node Raft group with this node as the only
// voter, used when no seed responded (the node starts solitary and
// ready to accept new joiners, per spec.md §4.6's discovery algorithm).
func (e *elector) bootstrap() error {
	config, transport, snapshotStore, logStore, stableStore, err := e.setup()
	if err != nil {
		return err
	}
	r, err := raft.NewRaft(config, e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	e.raft = r

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	return future.Error()
}

// join starts this node's Raft instance without bootstrapping a
// configuration; the leader at leaderAddr is expected to AddVoter this
// node once its own join RPC (pkg/cluster.Transport.Join) completes.
func (e *elector) join(leaderAddr string) error {
	config, transport, snapshotStore, logStore, stableStore, err := e.setup()
	if err != nil {
		return err
	}
	r, err := raft.NewRaft(config, e.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	e.raft = r
	return nil
}

// addVoter is called by the current leader when it receives a join
// request, admitting the new node into the Raft configuration.
func (e *elector) addVoter(nodeID, address string) error {
	if e.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if e.raft.State() != raft.Leader {
		return fmt.Errorf("not the leader, current leader: %s", e.raft.Leader())
	}
	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

func (e *elector) isLeader() bool {
	if e.raft == nil {
		return false
	}
	return e.raft.State() == raft.Leader
}

func (e *elector) leaderAddr() string {
	if e.raft == nil {
		return ""
	}
	return string(e.raft.Leader())
}

// setPrimary applies a set_primary command through Raft, only valid when
// called on the leader. Cluster.NodeRole decides Primary/Replica from
// Raft leadership directly (isLeader); the replicated primaryID this
// command writes is for followers and the admin surface to learn who
// the Primary is without themselves holding leadership — see
// Cluster.PrimaryID.
func (e *elector) setPrimary(nodeID string) error {
	if e.raft == nil || e.raft.State() != raft.Leader {
		return fmt.Errorf("not the leader")
	}
	cmd := electorCommand{Op: "set_primary", PrimaryID: nodeID}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	future := e.raft.Apply(data, 10*time.Second)
	return future.Error()
}

func (e *elector) stats() map[string]uint64 {
	if e.raft == nil {
		return map[string]uint64{}
	}
	stats := map[string]uint64{
		"last_log_index": e.raft.LastIndex(),
		"applied_index":  e.raft.AppliedIndex(),
	}
	if cfgFuture := e.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	}
	return stats
}

func (e *elector) shutdown() {
	if e.raft == nil {
		return
	}
	e.raft.Shutdown()
}
