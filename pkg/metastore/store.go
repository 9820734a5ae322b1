// Package metastore is the pluggable metadata catalog: bucket and object
// version records, multipart upload state, credentials, and the cluster
// membership/replication-rule tables the cluster package reads and writes.
//
// Two backends implement the same Store interface — an embedded bbolt
// database for single-node deployments and a thin HTTP/JSON client that
// talks to a shared metadata server process for multi-node deployments —
// matching the "variant with a match-dispatched façade" design note: the
// object plane and cluster package never know which backend they're
// talking to.
package metastore

import (
	"context"
	"errors"

	"github.com/cuemby/warren-s3/pkg/types"
)

// ErrNotFound is returned by any Get/lookup method that finds nothing.
var ErrNotFound = errors.New("metastore: not found")

// ErrConflict is returned when a write would violate an invariant the
// caller should have already checked (e.g. creating a bucket that exists).
var ErrConflict = errors.New("metastore: conflict")

// Store is the full metadata catalog contract. Grouped by entity, the way
// the teacher's storage.Store interface groups CRUD methods per entity
// type, ending in Close.
type Store interface {
	// Buckets
	CreateBucket(ctx context.Context, b *types.Bucket) error
	GetBucket(ctx context.Context, name string) (*types.Bucket, error)
	UpdateBucket(ctx context.Context, b *types.Bucket) error
	DeleteBucket(ctx context.Context, name string) error
	ListBuckets(ctx context.Context, owner string) ([]*types.Bucket, error)

	// Object versions
	PutObjectVersion(ctx context.Context, v *types.ObjectVersion) error
	GetObjectVersion(ctx context.Context, bucket, key, versionID string) (*types.ObjectVersion, error)
	DeleteObjectVersion(ctx context.Context, bucket, key, versionID string) error
	ListObjectVersions(ctx context.Context, bucket, key string) ([]*types.ObjectVersion, error)
	ListObjects(ctx context.Context, q ListQuery) (*types.ListObjectsResult, error)
	PromoteLatest(ctx context.Context, bucket, key string) (*types.ObjectVersion, error)

	// Multipart uploads
	CreateMultipartUpload(ctx context.Context, u *types.MultipartUpload) error
	GetMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*types.MultipartUpload, error)
	PutMultipartPart(ctx context.Context, bucket, key, uploadID string, part types.MultipartPart) error
	DeleteMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	ListMultipartUploads(ctx context.Context, bucket string) ([]*types.MultipartUpload, error)

	// Credentials
	PutCredentials(ctx context.Context, c *types.Credentials) error
	GetCredentials(ctx context.Context, accessKeyID string) (*types.Credentials, error)
	ListCredentials(ctx context.Context) ([]*types.Credentials, error)
	DeleteCredentials(ctx context.Context, accessKeyID string) error

	// Cluster membership
	PutClusterNode(ctx context.Context, n *types.ClusterNode) error
	GetClusterNode(ctx context.Context, id string) (*types.ClusterNode, error)
	ListClusterNodes(ctx context.Context) ([]*types.ClusterNode, error)
	DeleteClusterNode(ctx context.Context, id string) error

	// Replication rules
	PutReplicationRule(ctx context.Context, r *types.ReplicationRule) error
	ListReplicationRules(ctx context.Context, bucket string) ([]*types.ReplicationRule, error)
	DeleteReplicationRule(ctx context.Context, id string) error

	Close() error
}

// ListQuery is the input to ListObjects: prefix/delimiter/continuation
// pagination exactly as spec.md §4.3 describes it.
type ListQuery struct {
	Bucket            string
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
}
