package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestAdminServer(t *testing.T) (*Server, metastore.Store) {
	t.Helper()
	meta, err := metastore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	return &Server{Meta: meta, RootAccessKey: "root", RootSecretKey: "rootsecret", Version: "test"}, meta
}

func authed(req *http.Request) *http.Request {
	req.SetBasicAuth("root", "rootsecret")
	return req
}

func TestAdminRequestsWithoutBasicAuthAreRejected(t *testing.T) {
	s, _ := newTestAdminServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRequestsWithWrongCredentialsAreRejected(t *testing.T) {
	s, _ := newTestAdminServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.SetBasicAuth("root", "wrong")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatsReflectsBucketAndObjectCounts(t *testing.T) {
	s, meta := newTestAdminServer(t)
	require.NoError(t, meta.CreateBucket(t.Context(), &types.Bucket{Name: "b1"}))
	require.NoError(t, meta.PutObjectVersion(t.Context(), &types.ObjectVersion{Bucket: "b1", Key: "k", VersionID: "v1", IsLatest: true, Size: 42}))

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats types.ClusterStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.BucketCount)
	require.EqualValues(t, 1, stats.ObjectCount)
	require.EqualValues(t, 42, stats.StorageBytes)
}

func TestCreateUserThenListRedactsSecretOnList(t *testing.T) {
	s, _ := newTestAdminServer(t)

	createReq := authed(httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(`{"principal":"alice"}`)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, createReq)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created types.Credentials
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SecretAccessKey)

	listReq := authed(httptest.NewRequest(http.MethodGet, "/api/v1/users", nil))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, listReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []types.Credentials
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Empty(t, listed[0].SecretAccessKey)
}

func TestDisableUserThenEnableRoundTrip(t *testing.T) {
	s, meta := newTestAdminServer(t)
	require.NoError(t, meta.PutCredentials(t.Context(), &types.Credentials{AccessKeyID: "ak1", SecretAccessKey: "sk1"}))

	disableReq := authed(httptest.NewRequest(http.MethodPost, "/api/v1/users/ak1/disable", nil))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, disableReq)
	require.Equal(t, http.StatusOK, rec.Code)

	c, err := meta.GetCredentials(t.Context(), "ak1")
	require.NoError(t, err)
	require.True(t, c.Disabled)

	enableReq := authed(httptest.NewRequest(http.MethodPost, "/api/v1/users/ak1/enable", nil))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, enableReq)
	require.Equal(t, http.StatusOK, rec.Code)

	c, err = meta.GetCredentials(t.Context(), "ak1")
	require.NoError(t, err)
	require.False(t, c.Disabled)
}

func TestDeleteUserRemovesCredential(t *testing.T) {
	s, meta := newTestAdminServer(t)
	require.NoError(t, meta.PutCredentials(t.Context(), &types.Credentials{AccessKeyID: "ak2", SecretAccessKey: "sk2"}))

	req := authed(httptest.NewRequest(http.MethodDelete, "/api/v1/users/ak2", nil))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := meta.GetCredentials(t.Context(), "ak2")
	require.Error(t, err)
}

func TestReplicationRuleCreateListDelete(t *testing.T) {
	s, _ := newTestAdminServer(t)

	createReq := authed(httptest.NewRequest(http.MethodPost, "/api/v1/replication/rules",
		strings.NewReader(`{"bucket":"b1","prefix":"logs/","enabled":true}`)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, createReq)
	require.Equal(t, http.StatusCreated, rec.Code)

	var rule types.ReplicationRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	require.NotEmpty(t, rule.ID)

	listReq := authed(httptest.NewRequest(http.MethodGet, "/api/v1/replication/rules?bucket=b1", nil))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, listReq)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), rule.ID)

	delReq := authed(httptest.NewRequest(http.MethodDelete, "/api/v1/replication/rules/"+rule.ID, nil))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, delReq)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLDAPEndpointsWithoutClientConfiguredReportDisabled(t *testing.T) {
	s, _ := newTestAdminServer(t)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/ldap/status", nil))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"enabled":false`)
}

func TestServerHealthReportsOK(t *testing.T) {
	s, _ := newTestAdminServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/server/health", nil))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"storage":"ok"`)
}
