package metastore

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/types"
)

// Server exposes a Store (normally a *BoltStore) over HTTP/JSON so
// several object-plane nodes can share one catalog. `warrens3 migrate`
// bootstraps the underlying bbolt file this server wraps.
type Server struct {
	store Store
}

// NewServer wraps store for HTTP access.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

// Handler returns the catalog's HTTP mux, mirroring the endpoint shapes
// HTTPStore calls.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/buckets", s.handleBuckets)
	mux.HandleFunc("/buckets/", s.handleBucketByName)
	mux.HandleFunc("/objects", s.handleObject)
	mux.HandleFunc("/objects/versions", s.handleObjectVersions)
	mux.HandleFunc("/objects/list", s.handleObjectList)
	mux.HandleFunc("/objects/promote", s.handlePromote)
	mux.HandleFunc("/multipart", s.handleMultipart)
	mux.HandleFunc("/multipart/parts", s.handleMultipartPart)
	mux.HandleFunc("/multipart/list", s.handleMultipartList)
	mux.HandleFunc("/credentials", s.handleCredentials)
	mux.HandleFunc("/credentials/", s.handleCredentialByKey)
	mux.HandleFunc("/cluster/nodes", s.handleClusterNodes)
	mux.HandleFunc("/cluster/nodes/", s.handleClusterNodeByID)
	mux.HandleFunc("/cluster/rules", s.handleReplicationRules)
	mux.HandleFunc("/cluster/rules/", s.handleReplicationRuleByID)
	return mux
}

func writeErr(w http.ResponseWriter, err error) {
	switch err {
	case ErrNotFound:
		w.WriteHeader(http.StatusNotFound)
	case ErrConflict:
		w.WriteHeader(http.StatusConflict)
	default:
		w.WriteHeader(http.StatusInternalServerError)
		log.Error(err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var b types.Bucket
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.CreateBucket(ctx, &b); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		out, err := s.store.ListBuckets(ctx, r.URL.Query().Get("owner"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBucketByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/buckets/")
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		out, err := s.store.GetBucket(ctx, name)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	case http.MethodPut:
		var b types.Bucket
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.UpdateBucket(ctx, &b); err != nil {
			writeErr(w, err)
			return
		}
	case http.MethodDelete:
		if err := s.store.DeleteBucket(ctx, name); err != nil {
			writeErr(w, err)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	switch r.Method {
	case http.MethodPost:
		var v types.ObjectVersion
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.PutObjectVersion(ctx, &v); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		out, err := s.store.GetObjectVersion(ctx, q.Get("bucket"), q.Get("key"), q.Get("version_id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	case http.MethodDelete:
		if err := s.store.DeleteObjectVersion(ctx, q.Get("bucket"), q.Get("key"), q.Get("version_id")); err != nil {
			writeErr(w, err)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleObjectVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.store.ListObjectVersions(r.Context(), q.Get("bucket"), q.Get("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleObjectList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxKeys, _ := strconv.Atoi(q.Get("max_keys"))
	out, err := s.store.ListObjects(r.Context(), ListQuery{
		Bucket:            q.Get("bucket"),
		Prefix:            q.Get("prefix"),
		Delimiter:         q.Get("delimiter"),
		MaxKeys:           maxKeys,
		ContinuationToken: q.Get("continuation_token"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.store.PromoteLatest(r.Context(), q.Get("bucket"), q.Get("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleMultipart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	switch r.Method {
	case http.MethodPost:
		var u types.MultipartUpload
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.CreateMultipartUpload(ctx, &u); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		out, err := s.store.GetMultipartUpload(ctx, q.Get("bucket"), q.Get("key"), q.Get("upload_id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	case http.MethodDelete:
		if err := s.store.DeleteMultipartUpload(ctx, q.Get("bucket"), q.Get("key"), q.Get("upload_id")); err != nil {
			writeErr(w, err)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMultipartPart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var part types.MultipartPart
	if err := json.NewDecoder(r.Body).Decode(&part); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.store.PutMultipartPart(r.Context(), q.Get("bucket"), q.Get("key"), q.Get("upload_id"), part); err != nil {
		writeErr(w, err)
		return
	}
}

func (s *Server) handleMultipartList(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListMultipartUploads(r.Context(), r.URL.Query().Get("bucket"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var c types.Credentials
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.PutCredentials(ctx, &c); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		out, err := s.store.ListCredentials(ctx)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCredentialByKey(w http.ResponseWriter, r *http.Request) {
	accessKeyID := strings.TrimPrefix(r.URL.Path, "/credentials/")
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		out, err := s.store.GetCredentials(ctx, accessKeyID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	case http.MethodDelete:
		if err := s.store.DeleteCredentials(ctx, accessKeyID); err != nil {
			writeErr(w, err)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClusterNodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var n types.ClusterNode
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.PutClusterNode(ctx, &n); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		out, err := s.store.ListClusterNodes(ctx)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClusterNodeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/cluster/nodes/")
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		out, err := s.store.GetClusterNode(ctx, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	case http.MethodDelete:
		if err := s.store.DeleteClusterNode(ctx, id); err != nil {
			writeErr(w, err)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReplicationRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodPost:
		var rule types.ReplicationRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.store.PutReplicationRule(ctx, &rule); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		out, err := s.store.ListReplicationRules(ctx, r.URL.Query().Get("bucket"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReplicationRuleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/cluster/rules/")
	if err := s.store.DeleteReplicationRule(r.Context(), id); err != nil {
		writeErr(w, err)
	}
}
