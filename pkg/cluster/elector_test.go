package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// freePort grabs an ephemeral TCP port and releases it immediately;
// raft.NewTCPTransport binds the same address right after.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestElectorBootstrapBecomesLeader(t *testing.T) {
	cfg := Config{
		NodeID:          "node-1",
		ClusterEndpoint: freePort(t),
		RaftDir:         t.TempDir(),
	}
	el, err := newElector(cfg)
	require.NoError(t, err)
	defer el.shutdown()

	require.NoError(t, el.bootstrap())

	require.Eventually(t, func() bool {
		return el.isLeader()
	}, 5*time.Second, 50*time.Millisecond, "single-node raft group should elect itself leader")
}

func TestElectorSetPrimaryIsReadableFromFSM(t *testing.T) {
	cfg := Config{
		NodeID:          "node-1",
		ClusterEndpoint: freePort(t),
		RaftDir:         t.TempDir(),
	}
	el, err := newElector(cfg)
	require.NoError(t, err)
	defer el.shutdown()
	require.NoError(t, el.bootstrap())

	require.Eventually(t, func() bool { return el.isLeader() }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, el.setPrimary("node-1"))
	require.Eventually(t, func() bool {
		return el.fsm.currentPrimary() == "node-1"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestElectorSetPrimaryFailsWhenNotLeader(t *testing.T) {
	cfg := Config{NodeID: "node-2", ClusterEndpoint: freePort(t), RaftDir: t.TempDir()}
	el, err := newElector(cfg)
	require.NoError(t, err)
	defer el.shutdown()

	// Never bootstrapped or joined: raft is nil, so every write must fail
	// closed rather than panic.
	require.Error(t, el.setPrimary("node-2"))
	require.False(t, el.isLeader())
	require.Empty(t, el.leaderAddr())
}

func TestElectorStatsReflectsAppliedCommand(t *testing.T) {
	cfg := Config{
		NodeID:          "node-1",
		ClusterEndpoint: freePort(t),
		RaftDir:         t.TempDir(),
	}
	el, err := newElector(cfg)
	require.NoError(t, err)
	defer el.shutdown()
	require.NoError(t, el.bootstrap())
	require.Eventually(t, func() bool { return el.isLeader() }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, el.setPrimary("node-1"))

	stats := el.stats()
	require.EqualValues(t, 1, stats["peers"])
	require.GreaterOrEqual(t, stats["applied_index"], uint64(1))
}
