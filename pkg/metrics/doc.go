/*
Package metrics provides Prometheus metrics collection and exposition for
the storage node.

It registers gauges, counters, and histograms covering cluster membership,
the metadata catalog, the object-plane request path, and the replication
queue, and exposes them over HTTP for scraping.

# Metric families

Cluster:
  - warren_s3_nodes_total{role,status} — membership by role and health
  - warren_s3_raft_is_leader / warren_s3_raft_peers_total / warren_s3_raft_log_index / warren_s3_raft_applied_index
    — Raft state for the Primary-election FSM, not catalog or object data

Catalog:
  - warren_s3_buckets_total
  - warren_s3_objects_total
  - warren_s3_storage_bytes_total
  - warren_s3_credentials_total

Object plane:
  - warren_s3_requests_total{operation,status}
  - warren_s3_request_duration_seconds{operation}

Replication:
  - warren_s3_replication_queue_depth
  - warren_s3_replication_events_total{type,outcome}
  - warren_s3_replication_lag_seconds{target}
  - warren_s3_replication_events_dropped_total

Encryption:
  - warren_s3_encrypt_operations_total{algorithm,outcome}

# Usage

Increment a counter after handling a request:

	metrics.RequestsTotal.WithLabelValues("PutObject", "200").Inc()

Time an operation with Timer:

	timer := metrics.NewTimer()
	err := doSomething()
	timer.ObserveDurationVec(metrics.RequestDuration, "PutObject")

Collector polls the metastore and cluster package on a fixed interval and
updates the gauges that have no natural increment point (bucket/object
counts, node counts, Raft state):

	c := metrics.NewCollector(store, cluster)
	c.Start()
	defer c.Stop()

Handler() returns the promhttp handler to mount at /metrics; HealthHandler,
ReadyHandler, and LivenessHandler expose process health at /health, /ready,
and /live for operators and orchestrators that probe the node directly.
*/
package metrics
