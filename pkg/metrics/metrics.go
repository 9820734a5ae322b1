package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_s3_nodes_total",
			Help: "Total number of cluster nodes by role and status",
		},
		[]string{"role", "status"},
	)

	BucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_buckets_total",
			Help: "Total number of buckets",
		},
	)

	ObjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_objects_total",
			Help: "Total number of objects across all buckets (latest versions, delete markers excluded)",
		},
	)

	StorageBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_storage_bytes_total",
			Help: "Total bytes stored in the blob store",
		},
	)

	CredentialsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_credentials_total",
			Help: "Total number of access-key credentials",
		},
	)

	// Raft metrics (Primary-role election only, not data/catalog consensus)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_raft_is_leader",
			Help: "Whether this node holds the Primary-election Raft leadership (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_raft_peers_total",
			Help: "Total number of Raft peers participating in Primary election",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Object-plane request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_s3_requests_total",
			Help: "Total number of object-plane requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warren_s3_request_duration_seconds",
			Help:    "Object-plane request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Replication metrics
	ReplicationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_s3_replication_queue_depth",
			Help: "Number of replication events waiting for delivery",
		},
	)

	ReplicationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_s3_replication_events_total",
			Help: "Total number of replication events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ReplicationLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_s3_replication_lag_seconds",
			Help: "Seconds between an event's creation and its delivery to a target node",
		},
		[]string{"target"},
	)

	ReplicationEventDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_s3_replication_events_dropped_total",
			Help: "Total number of replication events dropped because the queue was full",
		},
	)

	// Heartbeat / health metrics
	HeartbeatFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_s3_heartbeat_failures_total",
			Help: "Total number of failed heartbeat checks by peer",
		},
		[]string{"peer"},
	)

	// Encryption metrics
	EncryptOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_s3_encrypt_operations_total",
			Help: "Total number of envelope encryption operations by algorithm and outcome",
		},
		[]string{"algorithm", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(BucketsTotal)
	prometheus.MustRegister(ObjectsTotal)
	prometheus.MustRegister(StorageBytesTotal)
	prometheus.MustRegister(CredentialsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ReplicationQueueDepth)
	prometheus.MustRegister(ReplicationEventsTotal)
	prometheus.MustRegister(ReplicationLagSeconds)
	prometheus.MustRegister(ReplicationEventDropped)
	prometheus.MustRegister(HeartbeatFailuresTotal)
	prometheus.MustRegister(EncryptOperationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
