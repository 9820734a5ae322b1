/*
Package types defines the data structures shared across the object
store: buckets and object versions, multipart upload state, lifecycle
and replication rules, credentials and access policies, and cluster
topology.

# Core Types

Object storage:
  - Bucket, ObjectVersion, EncryptionInfo: bucket and per-version object
    metadata, including SSE-S3 envelope key material.
  - MultipartUpload, MultipartPart: in-progress multipart upload state.
  - LifecycleConfig, LifecycleRule: expiration rules evaluated
    by the lifecycle sweep.

Access control:
  - Credentials: an access/secret key pair and its attached policy.
  - PolicyDocument, PolicyStatement, PolicyEffect: an IAM-style allow/deny
    policy evaluated per request.
  - ACL, ACLGrant, ACLPermission: per-bucket grant list.

Cluster:
  - ClusterNode, NodeRole, NodeStatus: cluster membership and per-node
    health as tracked by the Raft-elected primary.
  - ReplicationRule, ReplicationMode, ConflictResolution: which buckets
    replicate to which peers, and how conflicting writes resolve.
  - ReplicationEvent, ReplicationProgress, ReplicationTargetStatus: one
    in-flight replication attempt and its per-target delivery state.
  - ClusterStats, NodeStats: aggregate counters surfaced by the admin API.

All types are JSON-serializable: the metastore persists them as JSON
values in BoltDB, and the admin API encodes several of them directly as
JSON response bodies. The object plane answers in XML through its own
response shapes instead.
*/
package types
