package metrics

import (
	"context"
	"time"

	"github.com/cuemby/warren-s3/pkg/metastore"
)

// ClusterSource is the narrow view of the cluster package's elector the
// collector needs; satisfied by *cluster.Cluster.
type ClusterSource interface {
	IsPrimary() bool
	RaftStats() map[string]uint64
	QueueDepth() int
}

// Collector polls the metastore and cluster state on an interval and
// updates the package-level gauges, the same periodic-poll shape the
// teacher's collector used against its manager.
type Collector struct {
	meta    metastore.Store
	cluster ClusterSource
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(meta metastore.Store, cluster ClusterSource) *Collector {
	return &Collector{meta: meta, cluster: cluster, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectCatalogMetrics()
	c.collectRaftMetrics()
	c.collectReplicationMetrics()
}

func (c *Collector) collectNodeMetrics() {
	ctx := context.Background()
	nodes, err := c.meta.ListClusterNodes(ctx)
	if err != nil {
		return
	}
	counts := make(map[string]map[string]int)
	for _, n := range nodes {
		role := string(n.Role)
		status := string(n.Status)
		if counts[role] == nil {
			counts[role] = make(map[string]int)
		}
		counts[role][status]++
	}
	for role, statuses := range counts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectCatalogMetrics() {
	ctx := context.Background()
	buckets, err := c.meta.ListBuckets(ctx, "")
	if err != nil {
		return
	}
	BucketsTotal.Set(float64(len(buckets)))

	var objectCount int64
	for _, b := range buckets {
		result, err := c.meta.ListObjects(ctx, metastore.ListQuery{Bucket: b.Name, MaxKeys: 1 << 30})
		if err != nil {
			continue
		}
		objectCount += int64(len(result.Contents))
	}
	ObjectsTotal.Set(float64(objectCount))
}

func (c *Collector) collectRaftMetrics() {
	if c.cluster == nil {
		return
	}
	if c.cluster.IsPrimary() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	stats := c.cluster.RaftStats()
	if lastIndex, ok := stats["last_log_index"]; ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"]; ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
}

func (c *Collector) collectReplicationMetrics() {
	if c.cluster == nil {
		return
	}
	ReplicationQueueDepth.Set(float64(c.cluster.QueueDepth()))
}
