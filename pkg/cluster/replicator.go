package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/warren-s3/pkg/blobstore"
	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/metrics"
	"github.com/cuemby/warren-s3/pkg/types"
)

// errChecksumMismatch is returned internally when the transport-provided
// checksum for a fetched object disagrees with the event's expected
// checksum; spec.md §4.6 step 3 says this "aborts with ChecksumMismatch,
// never corrupts a target" — it never reaches a client, so it is a plain
// sentinel error rather than an objerr.Kind.
var errChecksumMismatch = errors.New("cluster: checksum mismatch")

// replicator drains the event broker with a bounded pool of workers
// (spec.md §4.6: "a pool of at most max_concurrent workers"), matches
// each event against the rule set, computes target nodes, and fans the
// object out over the inter-node transport with exponential-backoff
// retry.
type replicator struct {
	cluster   *Cluster
	meta      metastore.Store
	blobs     blobstore.Store
	transport Transport
	cfg       Config

	mu       sync.Mutex
	progress map[string]*types.ReplicationProgress
	waiters  map[string][]chan struct{}

	wg sync.WaitGroup
}

func newReplicator(c *Cluster, meta metastore.Store, blobs blobstore.Store, transport Transport, cfg Config) *replicator {
	return &replicator{
		cluster:   c,
		meta:      meta,
		blobs:     blobs,
		transport: transport,
		cfg:       cfg,
		progress:  make(map[string]*types.ReplicationProgress),
		waiters:   make(map[string][]chan struct{}),
	}
}

func (r *replicator) start(ctx context.Context) {
	events := r.cluster.subscribe()
	n := r.cfg.MaxConcurrent
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		r.wg.Add(1)
		go r.worker(ctx, events)
	}
}

func (r *replicator) stop() {
	r.wg.Wait()
}

func (r *replicator) worker(ctx context.Context, events <-chan types.ReplicationEvent) {
	defer r.wg.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// handle implements spec.md §4.6's five replication steps for one event.
func (r *replicator) handle(ctx context.Context, ev types.ReplicationEvent) {
	logger := log.WithComponent("replicator")

	rules, err := r.meta.ListReplicationRules(ctx, ev.Bucket)
	if err != nil {
		logger.Error().Err(err).Msg("list replication rules for " + ev.Bucket)
		return
	}

	targets := r.resolveTargets(rules, ev)
	if len(targets) == 0 {
		r.completeEvent(ev.ID)
		return
	}

	progress := &types.ReplicationProgress{EventID: ev.ID, Targets: make(map[string]types.ReplicationTargetStatus)}
	for _, t := range targets {
		progress.Targets[t.ID] = types.ProgressPending
	}
	r.mu.Lock()
	r.progress[ev.ID] = progress
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.deliverWithRetry(ctx, ev, target, progress)
		}()
	}
	wg.Wait()
	r.completeEvent(ev.ID)
}

// resolveTargets applies spec.md §4.6 step 2: the rule's explicit list
// intersected with healthy nodes, or (if empty) all healthy nodes other
// than the source and this node.
func (r *replicator) resolveTargets(rules []*types.ReplicationRule, ev types.ReplicationEvent) []*types.ClusterNode {
	healthy := map[string]*types.ClusterNode{}
	for _, m := range r.cluster.Members() {
		if m.IsHealthy() {
			healthy[m.ID] = m
		}
	}

	seen := map[string]bool{}
	var out []*types.ClusterNode
	for _, rule := range rules {
		if !rule.Matches(ev.Key, ev.Metadata) {
			continue
		}
		if len(rule.Targets) == 0 {
			for id, m := range healthy {
				if id == r.cluster.cfg.NodeID || seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, m)
			}
			continue
		}
		for _, id := range rule.Targets {
			if seen[id] {
				continue
			}
			if m, ok := healthy[id]; ok {
				seen[id] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func (r *replicator) deliverWithRetry(ctx context.Context, ev types.ReplicationEvent, target *types.ClusterNode, progress *types.ReplicationProgress) {
	r.setTargetStatus(progress, target.ID, types.ProgressInProgress)

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.RetryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				goto giveUp
			}
		}
		if err := r.deliverOnce(ctx, ev, target); err != nil {
			lastErr = err
			metrics.ReplicationEventsTotal.WithLabelValues(string(ev.Type), "retry").Inc()
			continue
		}
		r.setTargetStatus(progress, target.ID, types.ProgressCompleted)
		metrics.ReplicationEventsTotal.WithLabelValues(string(ev.Type), "success").Inc()
		r.notifyWaiters(ev.ID)
		return
	}

giveUp:
	r.setTargetStatus(progress, target.ID, types.ProgressFailed)
	r.mu.Lock()
	progress.Attempts++
	progress.LastError = lastErr.Error()
	r.mu.Unlock()
	metrics.ReplicationEventsTotal.WithLabelValues(string(ev.Type), "failed").Inc()
	log.WithComponent("replicator").Warn().Msg(fmt.Sprintf("giving up replicating %s to %s: %v", ev.ID, target.ID, lastErr))
}

// deliverOnce fetches the object from the source node and pushes it to
// target, verifying the checksum in between (spec.md §4.6 step 3).
func (r *replicator) deliverOnce(ctx context.Context, ev types.ReplicationEvent, target *types.ClusterNode) error {
	deadline := 30 * time.Second
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	switch ev.Type {
	case types.EventObjectDeleted, types.EventBucketCreated, types.EventBucketDeleted, types.EventMetadataUpdated:
		return r.transport.PushObject(dctx, target.Address, ev.Bucket, ev.Key, ev.VersionID, bytes.NewReader(nil), "")
	}

	ver, err := r.meta.GetObjectVersion(dctx, ev.Bucket, ev.Key, ev.VersionID)
	if err != nil {
		return fmt.Errorf("load object version: %w", err)
	}
	body, err := r.blobs.Open(ver.BlobRef)
	if err != nil {
		return fmt.Errorf("open local blob: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read local blob: %w", err)
	}
	checksum := sha256Hex(data)
	if expected, ok := ev.Metadata["checksum"]; ok && expected != "" && expected != checksum {
		return errChecksumMismatch
	}
	return r.transport.PushObject(dctx, target.Address, ev.Bucket, ev.Key, ev.VersionID, bytes.NewReader(data), checksum)
}

func (r *replicator) setTargetStatus(progress *types.ReplicationProgress, targetID string, status types.ReplicationTargetStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	progress.Targets[targetID] = status
}

func (r *replicator) completeEvent(eventID string) {
	r.notifyWaiters(eventID)
}

func (r *replicator) notifyWaiters(eventID string) {
	r.mu.Lock()
	waiters := r.waiters[eventID]
	delete(r.waiters, eventID)
	r.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// waitForQuorum blocks until at least quorum targets for eventID report
// Completed, or ctx expires — backing Sync-mode replication rules, where
// spec.md §4.6 says the client response "awaits confirmation from a
// quorum of targets; if quorum is not reachable within a deadline,
// respond with ServiceUnavailable".
func (r *replicator) waitForQuorum(ctx context.Context, eventID string, quorum int) error {
	for {
		r.mu.Lock()
		progress, ok := r.progress[eventID]
		if ok {
			completed := 0
			for _, status := range progress.Targets {
				if status == types.ProgressCompleted {
					completed++
				}
			}
			if completed >= quorum {
				r.mu.Unlock()
				return nil
			}
		}
		ch := make(chan struct{})
		r.waiters[eventID] = append(r.waiters[eventID], ch)
		r.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
