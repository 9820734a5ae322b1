package cluster

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/warren-s3/pkg/types"
)

// Transport is the inter-node RPC surface spec.md §6 names: join,
// heartbeat, leave, and object fetch/push, consumed only by cluster
// peers. httpTransport is the production implementation; tests supply a
// fake.
type Transport interface {
	Join(ctx context.Context, seedAddr, clusterName string, self *types.ClusterNode) ([]*types.ClusterNode, error)
	Heartbeat(ctx context.Context, peerAddr string, self *types.ClusterNode) error
	Leave(ctx context.Context, peerAddr, nodeID string) error
	FetchObject(ctx context.Context, sourceAddr, bucket, key, versionID string) (body io.ReadCloser, checksum string, err error)
	PushObject(ctx context.Context, targetAddr, bucket, key, versionID string, body io.Reader, checksum string) error
}

// httpTransport implements Transport over the plain HTTP endpoints
// spec.md §6 lists under "Inter-node transport": POST /cluster/join,
// POST /cluster/heartbeat, POST /cluster/leave, GET /cluster/object,
// PUT /cluster/object. Grounded on the teacher's gRPC client
// (pkg/client) reshaped onto net/http, since spec.md mandates HTTP for
// every external interface including inter-node transport (see
// DESIGN.md's rationale for dropping grpc/protobuf).
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport with the deadline spec.md §5
// specifies for inter-node RPCs (default 30s, overridable per call via
// ctx).
func NewHTTPTransport() Transport {
	return &httpTransport{client: &http.Client{Timeout: 30 * time.Second}}
}

type joinRequest struct {
	ClusterName string            `json:"cluster_name"`
	Node        *types.ClusterNode `json:"node"`
}

type joinResponse struct {
	Members []*types.ClusterNode `json:"members"`
}

func (t *httpTransport) Join(ctx context.Context, seedAddr, clusterName string, self *types.ClusterNode) ([]*types.ClusterNode, error) {
	body, err := json.Marshal(joinRequest{ClusterName: clusterName, Node: self})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+seedAddr+"/cluster/join", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("join: seed returned %d", resp.StatusCode)
	}
	var out joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (t *httpTransport) Heartbeat(ctx context.Context, peerAddr string, self *types.ClusterNode) error {
	body, err := json.Marshal(self)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+peerAddr+"/cluster/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: peer returned %d", resp.StatusCode)
	}
	return nil
}

func (t *httpTransport) Leave(ctx context.Context, peerAddr, nodeID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+peerAddr+"/cluster/leave?node="+nodeID, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leave: peer returned %d", resp.StatusCode)
	}
	return nil
}

func (t *httpTransport) FetchObject(ctx context.Context, sourceAddr, bucket, key, versionID string) (io.ReadCloser, string, error) {
	url := fmt.Sprintf("http://%s/cluster/object?bucket=%s&key=%s", sourceAddr, bucket, key)
	if versionID != "" {
		url += "&versionId=" + versionID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch object: source returned %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("X-Warren-Checksum"), nil
}

func (t *httpTransport) PushObject(ctx context.Context, targetAddr, bucket, key, versionID string, body io.Reader, checksum string) error {
	url := fmt.Sprintf("http://%s/cluster/object?bucket=%s&key=%s", targetAddr, bucket, key)
	if versionID != "" {
		url += "&versionId=" + versionID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Warren-Checksum", checksum)
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push object: target returned %d", resp.StatusCode)
	}
	return nil
}

// sha256Hex is used to verify a replicated object's bytes against the
// transport-provided checksum, per spec.md §4.6 step 3 ("verify the
// transport-provided checksum ... mismatch aborts with ChecksumMismatch,
// never corrupts a target").
func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
