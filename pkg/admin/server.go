// Package admin is the management HTTP surface spec.md §4.7 describes: a
// separate listener carrying bucket CRUD with counts/sizes, credential
// CRUD, LDAP configuration and live test, cluster status and replication
// rule CRUD, and a health endpoint. Dispatch follows the object plane's
// flat method/path table (pkg/objectplane/server.go), generalized from
// query-indicator matching to path-prefix matching since admin routes are
// deeper (/api/v1/users/{ak}/enable) than the object plane's bucket/key
// shape.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/warren-s3/pkg/auth"
	"github.com/cuemby/warren-s3/pkg/cluster"
	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/google/uuid"
)

// Server implements the admin HTTP API. RootAccessKey/RootSecretKey are
// the "dedicated root credential (configurable)" spec.md §4.7 requires
// for every admin request's HTTP Basic check.
type Server struct {
	Meta          metastore.Store
	Cluster       *cluster.Cluster // nil in single-node deployments without a cluster configured
	LDAP          *auth.LDAPClient // nil disables /ldap/* beyond a flat "disabled" status
	RootAccessKey string
	RootSecretKey string
	Version       string
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="warren-s3 admin"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.dispatch(w, r); err != nil {
		log.WithComponent("admin").Error().Err(err).Msg("admin request failed")
	}
}

// authenticate checks HTTP Basic (base64 access_key:secret_key) against
// the configured root credential, per spec.md §4.7 — "the same policy
// engine as the object plane" collapses to "only the root principal has
// admin access" since no bucket policy or ACL names admin actions.
func (s *Server) authenticate(r *http.Request) bool {
	ak, sk, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ak), []byte(s.RootAccessKey)) == 1 &&
		subtle.ConstantTimeCompare([]byte(sk), []byte(s.RootSecretKey)) == 1
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) error {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	ctx := r.Context()

	switch {
	case path == "/stats" && r.Method == http.MethodGet:
		return s.getStats(ctx, w)

	case path == "/buckets" && r.Method == http.MethodGet:
		return s.listBuckets(ctx, w)

	case strings.HasSuffix(path, "/stats") && strings.HasPrefix(path, "/buckets/") && r.Method == http.MethodGet:
		name := strings.TrimSuffix(strings.TrimPrefix(path, "/buckets/"), "/stats")
		return s.bucketStats(ctx, w, name)

	case path == "/users" && r.Method == http.MethodGet:
		return s.listUsers(ctx, w)

	case path == "/users" && r.Method == http.MethodPost:
		return s.createUser(ctx, w, r)

	case strings.HasSuffix(path, "/enable") && strings.HasPrefix(path, "/users/") && r.Method == http.MethodPost:
		return s.setUserDisabled(ctx, w, trimUserAction(path, "/enable"), false)

	case strings.HasSuffix(path, "/disable") && strings.HasPrefix(path, "/users/") && r.Method == http.MethodPost:
		return s.setUserDisabled(ctx, w, trimUserAction(path, "/disable"), true)

	case strings.HasPrefix(path, "/users/") && r.Method == http.MethodGet:
		return s.getUser(ctx, w, strings.TrimPrefix(path, "/users/"))

	case strings.HasPrefix(path, "/users/") && r.Method == http.MethodDelete:
		return s.deleteUser(ctx, w, strings.TrimPrefix(path, "/users/"))

	case path == "/cluster/status" && r.Method == http.MethodGet:
		return s.clusterStatus(w)

	case path == "/replication/rules" && r.Method == http.MethodGet:
		return s.listReplicationRules(ctx, w, r)

	case path == "/replication/rules" && r.Method == http.MethodPost:
		return s.createReplicationRule(ctx, w, r)

	case strings.HasPrefix(path, "/replication/rules/") && r.Method == http.MethodDelete:
		return s.deleteReplicationRule(ctx, w, strings.TrimPrefix(path, "/replication/rules/"))

	case path == "/ldap/status" && r.Method == http.MethodGet:
		return s.ldapStatus(w)

	case path == "/ldap/config" && r.Method == http.MethodGet:
		return s.ldapConfig(w)

	case path == "/ldap/test-connection" && r.Method == http.MethodPost:
		return s.ldapTestConnection(w)

	case path == "/ldap/test-search" && r.Method == http.MethodPost:
		return s.ldapTestSearch(w, r)

	case path == "/ldap/test-auth" && r.Method == http.MethodPost:
		return s.ldapTestAuth(w, r)

	case path == "/ldap/clear-cache" && r.Method == http.MethodPost:
		return s.ldapClearCache(w)

	case path == "/server/info" && r.Method == http.MethodGet:
		return s.serverInfo(w)

	case path == "/server/health" && r.Method == http.MethodGet:
		return s.serverHealth(ctx, w)

	default:
		http.NotFound(w, r)
		return nil
	}
}

func trimUserAction(path, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "/users/"), suffix)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int) error {
	w.WriteHeader(status)
	return nil
}

// --- stats & buckets ---

func (s *Server) getStats(ctx context.Context, w http.ResponseWriter) error {
	buckets, err := s.Meta.ListBuckets(ctx, "")
	if err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	stats := types.ClusterStats{BucketCount: len(buckets)}
	for _, b := range buckets {
		result, err := s.Meta.ListObjects(ctx, metastore.ListQuery{Bucket: b.Name, MaxKeys: 1 << 20})
		if err != nil {
			continue
		}
		stats.ObjectCount += int64(len(result.Contents))
		for _, v := range result.Contents {
			stats.StorageBytes += v.Size
		}
	}
	if s.Cluster != nil {
		stats.NodeCount = len(s.Cluster.Members())
		stats.PendingReplication = int64(s.Cluster.QueueDepth())
	} else {
		stats.NodeCount = 1
	}
	return writeJSON(w, http.StatusOK, stats)
}

type bucketSummary struct {
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	ObjectCount  int64  `json:"object_count"`
	StorageBytes int64  `json:"storage_bytes"`
}

func (s *Server) listBuckets(ctx context.Context, w http.ResponseWriter) error {
	buckets, err := s.Meta.ListBuckets(ctx, "")
	if err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	out := make([]bucketSummary, 0, len(buckets))
	for _, b := range buckets {
		sum := s.summarize(ctx, b.Name)
		sum.Owner = b.Owner
		out = append(out, sum)
	}
	return writeJSON(w, http.StatusOK, out)
}

func (s *Server) bucketStats(ctx context.Context, w http.ResponseWriter, name string) error {
	if _, err := s.Meta.GetBucket(ctx, name); err != nil {
		return writeStatus(w, http.StatusNotFound)
	}
	return writeJSON(w, http.StatusOK, s.summarize(ctx, name))
}

func (s *Server) summarize(ctx context.Context, name string) bucketSummary {
	sum := bucketSummary{Name: name}
	result, err := s.Meta.ListObjects(ctx, metastore.ListQuery{Bucket: name, MaxKeys: 1 << 20})
	if err != nil {
		return sum
	}
	sum.ObjectCount = int64(len(result.Contents))
	for _, v := range result.Contents {
		sum.StorageBytes += v.Size
	}
	return sum
}

// --- credentials ---

type createUserRequest struct {
	Principal string `json:"principal"`
}

func (s *Server) listUsers(ctx context.Context, w http.ResponseWriter) error {
	creds, err := s.Meta.ListCredentials(ctx)
	if err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	return writeJSON(w, http.StatusOK, redactAll(creds))
}

func (s *Server) getUser(ctx context.Context, w http.ResponseWriter, ak string) error {
	c, err := s.Meta.GetCredentials(ctx, ak)
	if err != nil {
		return writeStatus(w, http.StatusNotFound)
	}
	return writeJSON(w, http.StatusOK, redact(c))
}

func (s *Server) createUser(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeStatus(w, http.StatusBadRequest)
	}
	c := &types.Credentials{
		AccessKeyID:     uuid.NewString(),
		SecretAccessKey: uuid.NewString() + uuid.NewString(),
		Principal:       req.Principal,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.Meta.PutCredentials(ctx, c); err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	return writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteUser(ctx context.Context, w http.ResponseWriter, ak string) error {
	if err := s.Meta.DeleteCredentials(ctx, ak); err != nil {
		return writeStatus(w, http.StatusNotFound)
	}
	return writeStatus(w, http.StatusOK)
}

func (s *Server) setUserDisabled(ctx context.Context, w http.ResponseWriter, ak string, disabled bool) error {
	c, err := s.Meta.GetCredentials(ctx, ak)
	if err != nil {
		return writeStatus(w, http.StatusNotFound)
	}
	c.Disabled = disabled
	if err := s.Meta.PutCredentials(ctx, c); err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	return writeStatus(w, http.StatusOK)
}

// redact strips the secret key before a credential ever leaves the admin
// surface in a listing or fetch response; it is only ever returned in
// full at creation time, the one moment the operator needs to copy it.
func redact(c *types.Credentials) *types.Credentials {
	cp := *c
	cp.SecretAccessKey = ""
	return &cp
}

func redactAll(in []*types.Credentials) []*types.Credentials {
	out := make([]*types.Credentials, len(in))
	for i, c := range in {
		out[i] = redact(c)
	}
	return out
}

// --- cluster status ---

type clusterStatusResponse struct {
	Enabled   bool                 `json:"enabled"`
	Role      types.NodeRole       `json:"role,omitempty"`
	PrimaryID string               `json:"primary_id,omitempty"`
	Members   []*types.ClusterNode `json:"members,omitempty"`
}

func (s *Server) clusterStatus(w http.ResponseWriter) error {
	if s.Cluster == nil {
		return writeJSON(w, http.StatusOK, clusterStatusResponse{Enabled: false})
	}
	return writeJSON(w, http.StatusOK, clusterStatusResponse{
		Enabled:   true,
		Role:      s.Cluster.NodeRole(),
		PrimaryID: s.Cluster.PrimaryID(),
		Members:   s.Cluster.Members(),
	})
}

// --- replication rules ---

func (s *Server) listReplicationRules(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	rules, err := s.Meta.ListReplicationRules(ctx, r.URL.Query().Get("bucket"))
	if err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	return writeJSON(w, http.StatusOK, rules)
}

func (s *Server) createReplicationRule(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var rule types.ReplicationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		return writeStatus(w, http.StatusBadRequest)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := s.Meta.PutReplicationRule(ctx, &rule); err != nil {
		return writeStatus(w, http.StatusInternalServerError)
	}
	return writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) deleteReplicationRule(ctx context.Context, w http.ResponseWriter, id string) error {
	if err := s.Meta.DeleteReplicationRule(ctx, id); err != nil {
		return writeStatus(w, http.StatusNotFound)
	}
	return writeStatus(w, http.StatusOK)
}

// --- LDAP ---

func (s *Server) ldapStatus(w http.ResponseWriter) error {
	if s.LDAP == nil {
		return writeJSON(w, http.StatusOK, auth.LDAPStatus{})
	}
	return writeJSON(w, http.StatusOK, s.LDAP.Status())
}

func (s *Server) ldapConfig(w http.ResponseWriter) error {
	if s.LDAP == nil {
		return writeStatus(w, http.StatusNotFound)
	}
	return writeJSON(w, http.StatusOK, s.LDAP.Status())
}

func (s *Server) ldapTestConnection(w http.ResponseWriter) error {
	if s.LDAP == nil {
		return writeStatus(w, http.StatusNotFound)
	}
	if err := s.LDAP.TestConnection(); err != nil {
		return writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type ldapSearchRequest struct {
	Username string `json:"username"`
}

func (s *Server) ldapTestSearch(w http.ResponseWriter, r *http.Request) error {
	if s.LDAP == nil {
		return writeStatus(w, http.StatusNotFound)
	}
	var req ldapSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeStatus(w, http.StatusBadRequest)
	}
	dn, attrs, err := s.LDAP.SearchUser(req.Username)
	if err != nil {
		return writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"dn": dn, "attributes": attrs})
}

type ldapAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) ldapTestAuth(w http.ResponseWriter, r *http.Request) error {
	if s.LDAP == nil {
		return writeStatus(w, http.StatusNotFound)
	}
	var req ldapAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeStatus(w, http.StatusBadRequest)
	}
	if err := s.LDAP.Authenticate(req.Username, req.Password); err != nil {
		return writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) ldapClearCache(w http.ResponseWriter) error {
	if s.LDAP == nil {
		return writeStatus(w, http.StatusNotFound)
	}
	s.LDAP.ClearCache()
	return writeStatus(w, http.StatusOK)
}

// --- server info/health ---

type serverInfo struct {
	Version string `json:"version"`
}

func (s *Server) serverInfo(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, serverInfo{Version: s.Version})
}

type healthResponse struct {
	Storage  string `json:"storage"`
	Metadata string `json:"metadata"`
}

// serverHealth probes the metadata store the cheapest way available — a
// bucket listing — since Store has no dedicated ping method; storage
// reachability is inferred from the same call succeeding, since every
// backend's bucket listing already depends on its underlying store being
// up.
func (s *Server) serverHealth(ctx context.Context, w http.ResponseWriter) error {
	status := healthResponse{Storage: "ok", Metadata: "ok"}
	httpStatus := http.StatusOK
	if _, err := s.Meta.ListBuckets(ctx, ""); err != nil {
		status.Metadata = "unreachable"
		status.Storage = "unknown"
		httpStatus = http.StatusServiceUnavailable
	}
	return writeJSON(w, httpStatus, status)
}
