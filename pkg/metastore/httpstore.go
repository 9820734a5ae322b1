package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cuemby/warren-s3/pkg/types"
)

// HTTPStore is the networked metastore backend: a thin JSON-over-HTTP
// client talking to a metaserver process, so a fleet of object-plane
// nodes can share one catalog without each embedding its own bbolt file.
// It satisfies the same Store interface as BoltStore — callers never know
// which backend they're talking to, per spec.md §9's façade design note.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore builds a client against a metaserver listening at baseURL
// (e.g. "http://meta.internal:7070").
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{baseURL: baseURL, client: &http.Client{}}
}

func (s *HTTPStore) Close() error { return nil }

func (s *HTTPStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("metastore request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("metastore server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *HTTPStore) CreateBucket(ctx context.Context, b *types.Bucket) error {
	return s.do(ctx, http.MethodPost, "/buckets", b, nil)
}

func (s *HTTPStore) GetBucket(ctx context.Context, name string) (*types.Bucket, error) {
	var out types.Bucket
	if err := s.do(ctx, http.MethodGet, "/buckets/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) UpdateBucket(ctx context.Context, b *types.Bucket) error {
	return s.do(ctx, http.MethodPut, "/buckets/"+url.PathEscape(b.Name), b, nil)
}

func (s *HTTPStore) DeleteBucket(ctx context.Context, name string) error {
	return s.do(ctx, http.MethodDelete, "/buckets/"+url.PathEscape(name), nil, nil)
}

func (s *HTTPStore) ListBuckets(ctx context.Context, owner string) ([]*types.Bucket, error) {
	var out []*types.Bucket
	q := url.Values{"owner": {owner}}
	err := s.do(ctx, http.MethodGet, "/buckets?"+q.Encode(), nil, &out)
	return out, err
}

func (s *HTTPStore) PutObjectVersion(ctx context.Context, v *types.ObjectVersion) error {
	return s.do(ctx, http.MethodPost, "/objects", v, nil)
}

func (s *HTTPStore) GetObjectVersion(ctx context.Context, bucket, key, versionID string) (*types.ObjectVersion, error) {
	var out types.ObjectVersion
	q := url.Values{"bucket": {bucket}, "key": {key}, "version_id": {versionID}}
	err := s.do(ctx, http.MethodGet, "/objects?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) DeleteObjectVersion(ctx context.Context, bucket, key, versionID string) error {
	q := url.Values{"bucket": {bucket}, "key": {key}, "version_id": {versionID}}
	return s.do(ctx, http.MethodDelete, "/objects?"+q.Encode(), nil, nil)
}

func (s *HTTPStore) ListObjectVersions(ctx context.Context, bucket, key string) ([]*types.ObjectVersion, error) {
	var out []*types.ObjectVersion
	q := url.Values{"bucket": {bucket}, "key": {key}}
	err := s.do(ctx, http.MethodGet, "/objects/versions?"+q.Encode(), nil, &out)
	return out, err
}

func (s *HTTPStore) PromoteLatest(ctx context.Context, bucket, key string) (*types.ObjectVersion, error) {
	var out types.ObjectVersion
	q := url.Values{"bucket": {bucket}, "key": {key}}
	err := s.do(ctx, http.MethodPost, "/objects/promote?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) ListObjects(ctx context.Context, q ListQuery) (*types.ListObjectsResult, error) {
	var out types.ListObjectsResult
	v := url.Values{
		"bucket":             {q.Bucket},
		"prefix":             {q.Prefix},
		"delimiter":          {q.Delimiter},
		"continuation_token": {q.ContinuationToken},
	}
	if q.MaxKeys > 0 {
		v.Set("max_keys", fmt.Sprintf("%d", q.MaxKeys))
	}
	err := s.do(ctx, http.MethodGet, "/objects/list?"+v.Encode(), nil, &out)
	return &out, err
}

func (s *HTTPStore) CreateMultipartUpload(ctx context.Context, u *types.MultipartUpload) error {
	return s.do(ctx, http.MethodPost, "/multipart", u, nil)
}

func (s *HTTPStore) GetMultipartUpload(ctx context.Context, bucket, key, uploadID string) (*types.MultipartUpload, error) {
	var out types.MultipartUpload
	q := url.Values{"bucket": {bucket}, "key": {key}, "upload_id": {uploadID}}
	err := s.do(ctx, http.MethodGet, "/multipart?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) PutMultipartPart(ctx context.Context, bucket, key, uploadID string, part types.MultipartPart) error {
	q := url.Values{"bucket": {bucket}, "key": {key}, "upload_id": {uploadID}}
	return s.do(ctx, http.MethodPost, "/multipart/parts?"+q.Encode(), part, nil)
}

func (s *HTTPStore) DeleteMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	q := url.Values{"bucket": {bucket}, "key": {key}, "upload_id": {uploadID}}
	return s.do(ctx, http.MethodDelete, "/multipart?"+q.Encode(), nil, nil)
}

func (s *HTTPStore) ListMultipartUploads(ctx context.Context, bucket string) ([]*types.MultipartUpload, error) {
	var out []*types.MultipartUpload
	q := url.Values{"bucket": {bucket}}
	err := s.do(ctx, http.MethodGet, "/multipart/list?"+q.Encode(), nil, &out)
	return out, err
}

func (s *HTTPStore) PutCredentials(ctx context.Context, c *types.Credentials) error {
	return s.do(ctx, http.MethodPost, "/credentials", c, nil)
}

func (s *HTTPStore) GetCredentials(ctx context.Context, accessKeyID string) (*types.Credentials, error) {
	var out types.Credentials
	err := s.do(ctx, http.MethodGet, "/credentials/"+url.PathEscape(accessKeyID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) ListCredentials(ctx context.Context) ([]*types.Credentials, error) {
	var out []*types.Credentials
	err := s.do(ctx, http.MethodGet, "/credentials", nil, &out)
	return out, err
}

func (s *HTTPStore) DeleteCredentials(ctx context.Context, accessKeyID string) error {
	return s.do(ctx, http.MethodDelete, "/credentials/"+url.PathEscape(accessKeyID), nil, nil)
}

func (s *HTTPStore) PutClusterNode(ctx context.Context, n *types.ClusterNode) error {
	return s.do(ctx, http.MethodPost, "/cluster/nodes", n, nil)
}

func (s *HTTPStore) GetClusterNode(ctx context.Context, id string) (*types.ClusterNode, error) {
	var out types.ClusterNode
	err := s.do(ctx, http.MethodGet, "/cluster/nodes/"+url.PathEscape(id), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) ListClusterNodes(ctx context.Context) ([]*types.ClusterNode, error) {
	var out []*types.ClusterNode
	err := s.do(ctx, http.MethodGet, "/cluster/nodes", nil, &out)
	return out, err
}

func (s *HTTPStore) DeleteClusterNode(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/cluster/nodes/"+url.PathEscape(id), nil, nil)
}

func (s *HTTPStore) PutReplicationRule(ctx context.Context, r *types.ReplicationRule) error {
	return s.do(ctx, http.MethodPost, "/cluster/rules", r, nil)
}

func (s *HTTPStore) ListReplicationRules(ctx context.Context, bucket string) ([]*types.ReplicationRule, error) {
	var out []*types.ReplicationRule
	q := url.Values{"bucket": {bucket}}
	err := s.do(ctx, http.MethodGet, "/cluster/rules?"+q.Encode(), nil, &out)
	return out, err
}

func (s *HTTPStore) DeleteReplicationRule(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/cluster/rules/"+url.PathEscape(id), nil, nil)
}
