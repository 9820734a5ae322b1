package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/warren-s3/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Bucket-per-entity layout, the same idiom the teacher's BoltStore uses:
// one top-level bucket per catalog table, JSON-encoded values, ForEach /
// cursor-based scans instead of a query language.
var (
	topBuckets          = []byte("buckets")
	topObjects          = []byte("objects")  // nested per-bucket
	topLatest           = []byte("latest")    // nested per-bucket: key -> versionID
	topMultipart        = []byte("multipart") // nested per-bucket
	topCredentials      = []byte("credentials")
	topClusterNodes     = []byte("clusternodes")
	topReplicationRules = []byte("replicationrules")
)

const keySep = "\x00"

// BoltStore implements Store on an embedded go.etcd.io/bbolt database,
// grounded directly on pkg/storage/boltdb.go's idempotent-bucket-creation
// pattern.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "catalog.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{topBuckets, topObjects, topLatest, topMultipart, topCredentials, topClusterNodes, topReplicationRules} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- buckets ---

func (s *BoltStore) CreateBucket(ctx context.Context, b *types.Bucket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(topBuckets)
		if root.Get([]byte(b.Name)) != nil {
			return ErrConflict
		}
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if err := root.Put([]byte(b.Name), data); err != nil {
			return err
		}
		if _, err := tx.Bucket(topObjects).CreateBucketIfNotExists([]byte(b.Name)); err != nil {
			return err
		}
		if _, err := tx.Bucket(topLatest).CreateBucketIfNotExists([]byte(b.Name)); err != nil {
			return err
		}
		_, err = tx.Bucket(topMultipart).CreateBucketIfNotExists([]byte(b.Name))
		return err
	})
}

func (s *BoltStore) GetBucket(ctx context.Context, name string) (*types.Bucket, error) {
	var out types.Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(topBuckets).Get([]byte(name))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) UpdateBucket(ctx context.Context, b *types.Bucket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(topBuckets)
		if root.Get([]byte(b.Name)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		return root.Put([]byte(b.Name), data)
	})
}

func (s *BoltStore) DeleteBucket(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(topBuckets)
		if root.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		if err := root.Delete([]byte(name)); err != nil {
			return err
		}
		tx.Bucket(topObjects).DeleteBucket([]byte(name))
		tx.Bucket(topLatest).DeleteBucket([]byte(name))
		tx.Bucket(topMultipart).DeleteBucket([]byte(name))
		return nil
	})
}

func (s *BoltStore) ListBuckets(ctx context.Context, owner string) ([]*types.Bucket, error) {
	var out []*types.Bucket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(topBuckets).ForEach(func(k, v []byte) error {
			var b types.Bucket
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if owner == "" || b.Owner == owner {
				out = append(out, &b)
			}
			return nil
		})
	})
	return out, err
}

// --- object versions ---

func versionKey(key, versionID string) []byte {
	return []byte(key + keySep + versionID)
}

func (s *BoltStore) PutObjectVersion(ctx context.Context, v *types.ObjectVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		objBucket := tx.Bucket(topObjects).Bucket([]byte(v.Bucket))
		latestBucket := tx.Bucket(topLatest).Bucket([]byte(v.Bucket))
		if objBucket == nil || latestBucket == nil {
			return ErrNotFound
		}
		if v.IsLatest {
			if prevID := latestBucket.Get([]byte(v.Key)); prevID != nil && string(prevID) != v.VersionID {
				if err := flipLatestOff(objBucket, v.Key, string(prevID)); err != nil {
					return err
				}
			}
			if err := latestBucket.Put([]byte(v.Key), []byte(v.VersionID)); err != nil {
				return err
			}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return objBucket.Put(versionKey(v.Key, v.VersionID), data)
	})
}

func flipLatestOff(objBucket *bolt.Bucket, key, versionID string) error {
	data := objBucket.Get(versionKey(key, versionID))
	if data == nil {
		return nil
	}
	var prev types.ObjectVersion
	if err := json.Unmarshal(data, &prev); err != nil {
		return err
	}
	prev.IsLatest = false
	newData, err := json.Marshal(&prev)
	if err != nil {
		return err
	}
	return objBucket.Put(versionKey(key, versionID), newData)
}

func (s *BoltStore) GetObjectVersion(ctx context.Context, bucket, key, versionID string) (*types.ObjectVersion, error) {
	var out types.ObjectVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		objBucket := tx.Bucket(topObjects).Bucket([]byte(bucket))
		if objBucket == nil {
			return ErrNotFound
		}
		if versionID == "" {
			latestBucket := tx.Bucket(topLatest).Bucket([]byte(bucket))
			id := latestBucket.Get([]byte(key))
			if id == nil {
				return ErrNotFound
			}
			versionID = string(id)
		}
		data := objBucket.Get(versionKey(key, versionID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) DeleteObjectVersion(ctx context.Context, bucket, key, versionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		objBucket := tx.Bucket(topObjects).Bucket([]byte(bucket))
		latestBucket := tx.Bucket(topLatest).Bucket([]byte(bucket))
		if objBucket == nil || latestBucket == nil {
			return ErrNotFound
		}
		if data := objBucket.Get(versionKey(key, versionID)); data == nil {
			return ErrNotFound
		}
		if err := objBucket.Delete(versionKey(key, versionID)); err != nil {
			return err
		}
		if cur := latestBucket.Get([]byte(key)); cur != nil && string(cur) == versionID {
			return latestBucket.Delete([]byte(key))
		}
		return nil
	})
}

func (s *BoltStore) ListObjectVersions(ctx context.Context, bucket, key string) ([]*types.ObjectVersion, error) {
	var out []*types.ObjectVersion
	prefix := []byte(key + keySep)
	err := s.db.View(func(tx *bolt.Tx) error {
		objBucket := tx.Bucket(topObjects).Bucket([]byte(bucket))
		if objBucket == nil {
			return ErrNotFound
		}
		c := objBucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ver types.ObjectVersion
			if err := json.Unmarshal(v, &ver); err != nil {
				return err
			}
			out = append(out, &ver)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, err
}

// PromoteLatest re-establishes IsLatest on the most recent remaining
// version after the current latest version is deleted, per spec.md's
// version-delete invariant.
func (s *BoltStore) PromoteLatest(ctx context.Context, bucket, key string) (*types.ObjectVersion, error) {
	versions, err := s.ListObjectVersions(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	newest := versions[0]
	newest.IsLatest = true
	if err := s.PutObjectVersion(ctx, newest); err != nil {
		return nil, err
	}
	return newest, nil
}

// ListObjects implements the prefix/delimiter/continuation-token listing
// algorithm, grounded on hafiz-metadata's list_objects predicate
// (`key LIKE prefix%, key > continuation_token, is_latest = 1,
// is_delete_marker = 0`) expressed here as a cursor seek plus explicit
// filtering instead of SQL.
func (s *BoltStore) ListObjects(ctx context.Context, q ListQuery) (*types.ListObjectsResult, error) {
	maxKeys := q.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	result := &types.ListObjectsResult{
		Bucket:            q.Bucket,
		Prefix:            q.Prefix,
		Delimiter:         q.Delimiter,
		MaxKeys:           maxKeys,
		ContinuationToken: q.ContinuationToken,
	}

	seenPrefixes := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		latestBucket := tx.Bucket(topLatest).Bucket([]byte(q.Bucket))
		objBucket := tx.Bucket(topObjects).Bucket([]byte(q.Bucket))
		if latestBucket == nil || objBucket == nil {
			return ErrNotFound
		}
		c := latestBucket.Cursor()
		seekFrom := []byte(q.Prefix)
		if q.ContinuationToken > q.Prefix {
			seekFrom = []byte(q.ContinuationToken)
		}
		var prevKey string
		for k, versionID := c.Seek(seekFrom); k != nil; k, versionID = c.Next() {
			key := string(k)
			if q.Prefix != "" && !strings.HasPrefix(key, q.Prefix) {
				break
			}
			if q.ContinuationToken != "" && key <= q.ContinuationToken {
				continue
			}
			lastVisited := prevKey
			prevKey = key

			if q.Delimiter != "" {
				rest := strings.TrimPrefix(key, q.Prefix)
				if idx := strings.Index(rest, q.Delimiter); idx >= 0 {
					cp := q.Prefix + rest[:idx+len(q.Delimiter)]
					if !seenPrefixes[cp] {
						seenPrefixes[cp] = true
						result.CommonPrefixes = append(result.CommonPrefixes, cp)
					}
					continue
				}
			}

			data := objBucket.Get(versionKey(key, string(versionID)))
			if data == nil {
				continue
			}
			var ver types.ObjectVersion
			if err := json.Unmarshal(data, &ver); err != nil {
				return err
			}
			if ver.IsDeleteMarker {
				continue
			}

			if len(result.Contents)+len(result.CommonPrefixes) >= maxKeys {
				result.IsTruncated = true
				result.NextContinuationToken = lastVisited
				break
			}
			result.Contents = append(result.Contents, ver)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(result.CommonPrefixes)
	return result, nil
}

// --- multipart uploads ---

func (s *BoltStore) CreateMultipartUpload(ctx context.Context, u *types.MultipartUpload) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		mp := tx.Bucket(topMultipart).Bucket([]byte(u.Bucket))
		if mp == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return mp.Put(versionKey(u.Key, u.UploadID), data)
	})
}

func (s *BoltStore) GetMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*types.MultipartUpload, error) {
	var out types.MultipartUpload
	err := s.db.View(func(tx *bolt.Tx) error {
		mp := tx.Bucket(topMultipart).Bucket([]byte(bucket))
		if mp == nil {
			return ErrNotFound
		}
		data := mp.Get(versionKey(key, uploadID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) PutMultipartPart(ctx context.Context, bucket, key, uploadID string, part types.MultipartPart) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		mp := tx.Bucket(topMultipart).Bucket([]byte(bucket))
		if mp == nil {
			return ErrNotFound
		}
		data := mp.Get(versionKey(key, uploadID))
		if data == nil {
			return ErrNotFound
		}
		var u types.MultipartUpload
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		replaced := false
		for i, p := range u.Parts {
			if p.PartNumber == part.PartNumber {
				u.Parts[i] = part
				replaced = true
				break
			}
		}
		if !replaced {
			u.Parts = append(u.Parts, part)
		}
		sort.Slice(u.Parts, func(i, j int) bool { return u.Parts[i].PartNumber < u.Parts[j].PartNumber })
		newData, err := json.Marshal(&u)
		if err != nil {
			return err
		}
		return mp.Put(versionKey(key, uploadID), newData)
	})
}

func (s *BoltStore) DeleteMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		mp := tx.Bucket(topMultipart).Bucket([]byte(bucket))
		if mp == nil {
			return ErrNotFound
		}
		if mp.Get(versionKey(key, uploadID)) == nil {
			return ErrNotFound
		}
		return mp.Delete(versionKey(key, uploadID))
	})
}

func (s *BoltStore) ListMultipartUploads(ctx context.Context, bucket string) ([]*types.MultipartUpload, error) {
	var out []*types.MultipartUpload
	err := s.db.View(func(tx *bolt.Tx) error {
		mp := tx.Bucket(topMultipart).Bucket([]byte(bucket))
		if mp == nil {
			return ErrNotFound
		}
		return mp.ForEach(func(k, v []byte) error {
			var u types.MultipartUpload
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, &u)
			return nil
		})
	})
	return out, err
}

// --- credentials ---

func (s *BoltStore) PutCredentials(ctx context.Context, c *types.Credentials) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(topCredentials).Put([]byte(c.AccessKeyID), data)
	})
}

func (s *BoltStore) GetCredentials(ctx context.Context, accessKeyID string) (*types.Credentials, error) {
	var out types.Credentials
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(topCredentials).Get([]byte(accessKeyID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) ListCredentials(ctx context.Context) ([]*types.Credentials, error) {
	var out []*types.Credentials
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(topCredentials).ForEach(func(k, v []byte) error {
			var c types.Credentials
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteCredentials(ctx context.Context, accessKeyID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(topCredentials)
		if b.Get([]byte(accessKeyID)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(accessKeyID))
	})
}

// --- cluster nodes ---

func (s *BoltStore) PutClusterNode(ctx context.Context, n *types.ClusterNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(topClusterNodes).Put([]byte(n.ID), data)
	})
}

func (s *BoltStore) GetClusterNode(ctx context.Context, id string) (*types.ClusterNode, error) {
	var out types.ClusterNode
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(topClusterNodes).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) ListClusterNodes(ctx context.Context) ([]*types.ClusterNode, error) {
	var out []*types.ClusterNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(topClusterNodes).ForEach(func(k, v []byte) error {
			var n types.ClusterNode
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteClusterNode(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(topClusterNodes)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// --- replication rules ---

func (s *BoltStore) PutReplicationRule(ctx context.Context, r *types.ReplicationRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(topReplicationRules).Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) ListReplicationRules(ctx context.Context, bucket string) ([]*types.ReplicationRule, error) {
	var out []*types.ReplicationRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(topReplicationRules).ForEach(func(k, v []byte) error {
			var r types.ReplicationRule
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if bucket == "" || r.Bucket == bucket {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteReplicationRule(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(topReplicationRules)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}
