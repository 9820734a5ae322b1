package cluster

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/warren-s3/pkg/blobstore"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestReplicator(t *testing.T, self *types.ClusterNode, members []*types.ClusterNode, transport Transport, cfg Config) (*replicator, metastore.Store, blobstore.Store) {
	t.Helper()
	meta, err := metastore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.NewFSStore(t.TempDir(), "")
	require.NoError(t, err)

	memberMap := map[string]*types.ClusterNode{self.ID: self}
	for _, m := range members {
		memberMap[m.ID] = m
	}
	c := &Cluster{cfg: cfg, meta: meta, blobs: blobs, members: memberMap}
	return newReplicator(c, meta, blobs, transport, cfg), meta, blobs
}

func TestResolveTargetsExplicitListIntersectsHealthy(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	healthy := &types.ClusterNode{ID: "healthy-target", Address: "h:9000", Status: types.NodeHealthy}
	unreachable := &types.ClusterNode{ID: "down-target", Address: "d:9000", Status: types.NodeUnreachable}

	r, _, _ := newTestReplicator(t, self, []*types.ClusterNode{healthy, unreachable}, newFakeTransport(), DefaultConfig())

	rule := &types.ReplicationRule{Enabled: true, Targets: []string{"healthy-target", "down-target"}}
	out := r.resolveTargets([]*types.ReplicationRule{rule}, types.ReplicationEvent{Key: "k"})

	require.Len(t, out, 1)
	require.Equal(t, "healthy-target", out[0].ID)
}

func TestResolveTargetsEmptyListMeansAllHealthyExceptSelf(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	a := &types.ClusterNode{ID: "a", Status: types.NodeHealthy}
	b := &types.ClusterNode{ID: "b", Status: types.NodeUnreachable}

	r, _, _ := newTestReplicator(t, self, []*types.ClusterNode{a, b}, newFakeTransport(), DefaultConfig())

	rule := &types.ReplicationRule{Enabled: true}
	out := r.resolveTargets([]*types.ReplicationRule{rule}, types.ReplicationEvent{Key: "k"})

	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].ID)
}

func TestResolveTargetsSkipsDisabledAndNonMatchingRules(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	a := &types.ClusterNode{ID: "a", Address: "a:9000", Status: types.NodeHealthy}

	r, _, _ := newTestReplicator(t, self, []*types.ClusterNode{a}, newFakeTransport(), DefaultConfig())

	disabled := &types.ReplicationRule{Enabled: false, Targets: []string{"a"}}
	wrongPrefix := &types.ReplicationRule{Enabled: true, Prefix: "other/", Targets: []string{"a"}}
	out := r.resolveTargets([]*types.ReplicationRule{disabled, wrongPrefix}, types.ReplicationEvent{Key: "photos/1.jpg"})

	require.Empty(t, out)
}

func TestDeliverOnceFetchesLocalBlobAndPushesWithChecksum(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	target := &types.ClusterNode{ID: "target", Address: "target:9000", Status: types.NodeHealthy}
	transport := newFakeTransport()

	r, meta, blobs := newTestReplicator(t, self, []*types.ClusterNode{target}, transport, DefaultConfig())

	ref, size, err := blobs.Put(strings.NewReader("hello world"))
	require.NoError(t, err)
	require.EqualValues(t, len("hello world"), size)

	ver := &types.ObjectVersion{Bucket: "bkt", Key: "k", VersionID: "v1", IsLatest: true, BlobRef: ref, LastModified: time.Now().UTC()}
	require.NoError(t, meta.PutObjectVersion(context.Background(), ver))

	ev := types.ReplicationEvent{ID: "ev-1", Type: types.EventObjectCreated, Bucket: "bkt", Key: "k", VersionID: "v1"}
	require.NoError(t, r.deliverOnce(context.Background(), ev, target))

	require.Equal(t, []byte("hello world"), transport.pushed["target:9000"])
	require.NotEmpty(t, transport.pushedSum["target:9000"])
}

func TestDeliverOnceRejectsChecksumMismatch(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	target := &types.ClusterNode{ID: "target", Address: "target:9000", Status: types.NodeHealthy}
	transport := newFakeTransport()

	r, meta, blobs := newTestReplicator(t, self, []*types.ClusterNode{target}, transport, DefaultConfig())

	ref, _, err := blobs.Put(strings.NewReader("hello world"))
	require.NoError(t, err)
	ver := &types.ObjectVersion{Bucket: "bkt", Key: "k", VersionID: "v1", IsLatest: true, BlobRef: ref, LastModified: time.Now().UTC()}
	require.NoError(t, meta.PutObjectVersion(context.Background(), ver))

	ev := types.ReplicationEvent{
		ID: "ev-2", Type: types.EventObjectCreated, Bucket: "bkt", Key: "k", VersionID: "v1",
		Metadata: map[string]string{"checksum": "not-the-real-checksum"},
	}
	err = r.deliverOnce(context.Background(), ev, target)
	require.ErrorIs(t, err, errChecksumMismatch)
}

func TestDeliverOnceTombstoneEventsSkipBlobLookup(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	target := &types.ClusterNode{ID: "target", Address: "target:9000", Status: types.NodeHealthy}
	transport := newFakeTransport()

	r, _, _ := newTestReplicator(t, self, []*types.ClusterNode{target}, transport, DefaultConfig())

	ev := types.ReplicationEvent{ID: "ev-3", Type: types.EventObjectDeleted, Bucket: "bkt", Key: "k"}
	require.NoError(t, r.deliverOnce(context.Background(), ev, target))
}

func TestDeliverWithRetryGivesUpOnContextCancellation(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	target := &types.ClusterNode{ID: "target", Address: "missing:9000", Status: types.NodeHealthy}
	transport := newFakeTransport()

	cfg := DefaultConfig()
	cfg.RetryBase = 10 * time.Millisecond
	cfg.MaxRetries = 5
	r, _, _ := newTestReplicator(t, self, []*types.ClusterNode{target}, transport, cfg)

	ev := types.ReplicationEvent{ID: "ev-4", Type: types.EventObjectCreated, Bucket: "bkt", Key: "missing-key"}
	progress := &types.ReplicationProgress{EventID: ev.ID, Targets: map[string]types.ReplicationTargetStatus{target.ID: types.ProgressPending}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.deliverWithRetry(ctx, ev, target, progress)

	require.Equal(t, types.ProgressFailed, progress.Targets[target.ID])
	require.NotEmpty(t, progress.LastError)
}

func TestWaitForQuorumUnblocksOnceTargetsComplete(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	r, _, _ := newTestReplicator(t, self, nil, newFakeTransport(), DefaultConfig())

	progress := &types.ReplicationProgress{EventID: "ev-5", Targets: map[string]types.ReplicationTargetStatus{
		"t1": types.ProgressPending,
		"t2": types.ProgressPending,
	}}
	r.mu.Lock()
	r.progress["ev-5"] = progress
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- r.waitForQuorum(ctx, "ev-5", 2)
	}()

	time.Sleep(20 * time.Millisecond)
	r.setTargetStatus(progress, "t1", types.ProgressCompleted)
	r.notifyWaiters("ev-5")
	time.Sleep(20 * time.Millisecond)
	r.setTargetStatus(progress, "t2", types.ProgressCompleted)
	r.notifyWaiters("ev-5")

	require.NoError(t, <-done)
}

func TestWaitForQuorumReturnsErrorOnDeadline(t *testing.T) {
	self := &types.ClusterNode{ID: "self", Status: types.NodeHealthy}
	r, _, _ := newTestReplicator(t, self, nil, newFakeTransport(), DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.waitForQuorum(ctx, "never-arrives", 1)
	require.Error(t, err)
}
