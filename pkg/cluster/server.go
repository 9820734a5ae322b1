package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/types"
)

// Server is the inter-node HTTP surface spec.md §6 names under "Inter-node
// transport": join, heartbeat, leave, and object fetch/push. It is the
// server-side counterpart to httpTransport, mounted on the cluster listener
// (distinct from the object plane and admin listeners) so a peer's
// httpTransport calls land here. Dispatch follows the object plane's flat
// method/path table rather than a router package, for the same reason:
// no example repo in the pack imports one.
type Server struct {
	Cluster *Cluster
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/cluster/join" && r.Method == http.MethodPost:
		s.handleJoin(w, r)
	case r.URL.Path == "/cluster/heartbeat" && r.Method == http.MethodPost:
		s.handleHeartbeat(w, r)
	case r.URL.Path == "/cluster/leave" && r.Method == http.MethodPost:
		s.handleLeave(w, r)
	case r.URL.Path == "/cluster/object" && r.Method == http.MethodGet:
		s.handleFetchObject(w, r)
	case r.URL.Path == "/cluster/object" && r.Method == http.MethodPut:
		s.handlePushObject(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed join request", http.StatusBadRequest)
		return
	}
	if req.ClusterName != s.Cluster.cfg.ClusterName {
		http.Error(w, "cluster name mismatch", http.StatusForbidden)
		return
	}
	if req.Node == nil || req.Node.ID == "" {
		http.Error(w, "node descriptor required", http.StatusBadRequest)
		return
	}

	s.Cluster.Upsert(req.Node)
	if s.Cluster.elector.isLeader() {
		if err := s.Cluster.elector.addVoter(req.Node.ID, req.Node.Address); err != nil {
			log.WithComponent("cluster-server").Warn().Msg("add raft voter for " + req.Node.ID + ": " + err.Error())
		}
	}

	writeJSON(w, http.StatusOK, joinResponse{Members: s.Cluster.Members()})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var node types.ClusterNode
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		http.Error(w, "malformed heartbeat", http.StatusBadRequest)
		return
	}
	if node.ID == "" {
		http.Error(w, "node id required", http.StatusBadRequest)
		return
	}
	node.LastHeartbeat = time.Now().UTC()
	node.Status = types.NodeHealthy
	s.Cluster.Upsert(&node)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("node")
	if id == "" {
		http.Error(w, "node query parameter required", http.StatusBadRequest)
		return
	}
	s.Cluster.Remove(id)
	w.WriteHeader(http.StatusOK)
}

// handleFetchObject serves the read side of replication's pull path: a
// target node (or an operator debugging drift) asking this node for the
// stored blob bytes behind a given bucket/key/versionId. X-Warren-Checksum
// carries the version's ETag, which is the MD5 of the object's plaintext
// (or the multipart form); it is not a hash of the served blob bytes.
func (s *Server) handleFetchObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket, key, versionID := q.Get("bucket"), q.Get("key"), q.Get("versionId")
	if bucket == "" || key == "" {
		http.Error(w, "bucket and key query parameters required", http.StatusBadRequest)
		return
	}

	ver, err := s.Cluster.meta.GetObjectVersion(r.Context(), bucket, key, versionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if ver.IsDeleteMarker || ver.BlobRef == "" {
		http.Error(w, "version is a delete marker", http.StatusNotFound)
		return
	}
	body, err := s.Cluster.blobs.Open(ver.BlobRef)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer body.Close()

	w.Header().Set("X-Warren-Checksum", ver.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(ver.Size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

// handlePushObject serves the write side: a source node delivering a
// replicated object's bytes. An empty body with no checksum header means
// the event being replicated was a tombstone (delete, bucket lifecycle, or
// bare metadata update) rather than a new object version, since
// httpTransport.PushObject carries exactly those two shapes — replicator.go
// sends an empty, checksum-less body for every non-object-write event type.
func (s *Server) handlePushObject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket, key, versionID := q.Get("bucket"), q.Get("key"), q.Get("versionId")
	if bucket == "" || key == "" {
		http.Error(w, "bucket and key query parameters required", http.StatusBadRequest)
		return
	}
	checksum := r.Header.Get("X-Warren-Checksum")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(data) == 0 && checksum == "" {
		if versionID != "" {
			if err := s.Cluster.meta.DeleteObjectVersion(r.Context(), bucket, key, versionID); err != nil {
				log.WithComponent("cluster-server").Warn().Msg("apply tombstone for " + bucket + "/" + key + ": " + err.Error())
			}
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	sum := sha256Hex(data)
	if checksum != "" && checksum != sum {
		http.Error(w, "checksum mismatch", http.StatusUnprocessableEntity)
		return
	}

	ref, size, err := s.Cluster.blobs.Put(bytes.NewReader(data))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ver := &types.ObjectVersion{
		Bucket:       bucket,
		Key:          key,
		VersionID:    versionID,
		IsLatest:     true,
		Size:         size,
		ETag:         sum,
		BlobRef:      ref,
		LastModified: time.Now().UTC(),
	}
	if err := s.Cluster.meta.PutObjectVersion(r.Context(), ver); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := s.Cluster.meta.PromoteLatest(r.Context(), bucket, key); err != nil {
		log.WithComponent("cluster-server").Warn().Msg("promote latest for " + bucket + "/" + key + ": " + err.Error())
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
