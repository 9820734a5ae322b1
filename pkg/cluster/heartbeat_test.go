package cluster

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a Transport whose Heartbeat outcome is controlled
// per-peer by the test, and whose call count is observable.
type fakeTransport struct {
	mu        sync.Mutex
	fail      map[string]bool
	calls     map[string]int
	pushed    map[string][]byte
	pushedSum map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail:      make(map[string]bool),
		calls:     make(map[string]int),
		pushed:    make(map[string][]byte),
		pushedSum: make(map[string]string),
	}
}

func (f *fakeTransport) setFail(peerAddr string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[peerAddr] = fail
}

func (f *fakeTransport) callCount(peerAddr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[peerAddr]
}

func (f *fakeTransport) Join(ctx context.Context, seedAddr, clusterName string, self *types.ClusterNode) ([]*types.ClusterNode, error) {
	return nil, nil
}

func (f *fakeTransport) Heartbeat(ctx context.Context, peerAddr string, self *types.ClusterNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[peerAddr]++
	if f.fail[peerAddr] {
		return fmt.Errorf("unreachable: %s", peerAddr)
	}
	return nil
}

func (f *fakeTransport) Leave(ctx context.Context, peerAddr, nodeID string) error { return nil }

func (f *fakeTransport) FetchObject(ctx context.Context, sourceAddr, bucket, key, versionID string) (io.ReadCloser, string, error) {
	return nil, "", fmt.Errorf("not implemented")
}

func (f *fakeTransport) PushObject(ctx context.Context, targetAddr, bucket, key, versionID string, body io.Reader, checksum string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed[targetAddr] = data
	f.pushedSum[targetAddr] = checksum
	return nil
}

func TestHeartbeatMonitorMarksPeerUnreachableAfterRetries(t *testing.T) {
	h := newHeartbeatMonitor(nil, 150*time.Millisecond)
	transport := newFakeTransport()
	transport.setFail("peer-a:9000", true)

	peer := &types.ClusterNode{ID: "peer-a", Address: "peer-a:9000", Status: types.NodeHealthy}
	self := &types.ClusterNode{ID: "self"}

	require.Eventually(t, func() bool {
		h.sendHeartbeats(context.Background(), []*types.ClusterNode{peer}, transport, self)
		return !h.statusFor("peer-a").Healthy
	}, 2*time.Second, 20*time.Millisecond)

	var observed types.NodeStatus
	h.checkPeers([]*types.ClusterNode{peer}, func(id string, status types.NodeStatus) {
		observed = status
	})
	require.Equal(t, types.NodeUnreachable, observed)
}

func TestHeartbeatMonitorReportsRecovery(t *testing.T) {
	h := newHeartbeatMonitor(nil, 150*time.Millisecond)
	transport := newFakeTransport()
	transport.setFail("peer-b:9000", true)

	peer := &types.ClusterNode{ID: "peer-b", Address: "peer-b:9000", Status: types.NodeUnreachable}
	self := &types.ClusterNode{ID: "self"}

	require.Eventually(t, func() bool {
		h.sendHeartbeats(context.Background(), []*types.ClusterNode{peer}, transport, self)
		return !h.statusFor("peer-b").Healthy
	}, 2*time.Second, 20*time.Millisecond)

	transport.setFail("peer-b:9000", false)
	require.Eventually(t, func() bool {
		h.sendHeartbeats(context.Background(), []*types.ClusterNode{peer}, transport, self)
		return h.statusFor("peer-b").Healthy
	}, 2*time.Second, 20*time.Millisecond)

	var observed types.NodeStatus
	h.checkPeers([]*types.ClusterNode{peer}, func(id string, status types.NodeStatus) {
		observed = status
	})
	require.Equal(t, types.NodeHealthy, observed)
}

func TestHeartbeatMonitorChecksEveryKnownPeer(t *testing.T) {
	h := newHeartbeatMonitor(nil, time.Second)
	transport := newFakeTransport()

	peers := []*types.ClusterNode{
		{ID: "p1", Address: "p1:9000"},
		{ID: "p2", Address: "p2:9000"},
	}
	h.sendHeartbeats(context.Background(), peers, transport, &types.ClusterNode{ID: "self"})

	require.Eventually(t, func() bool {
		return transport.callCount("p1:9000") == 1 && transport.callCount("p2:9000") == 1
	}, time.Second, 10*time.Millisecond)
}
