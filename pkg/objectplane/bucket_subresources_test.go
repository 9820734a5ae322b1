package objectplane

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketVersioningRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	get := httptest.NewRequest(http.MethodGet, "/bkt?versioning", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "Enabled")

	put := httptest.NewRequest(http.MethodPut, "/bkt?versioning", newReadCloserFromString(
		`<VersioningConfiguration><Status>Enabled</Status></VersioningConfiguration>`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get = httptest.NewRequest(http.MethodGet, "/bkt?versioning", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Enabled")
}

func TestBucketLifecycleRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	getAbsent := httptest.NewRequest(http.MethodGet, "/bkt?lifecycle", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getAbsent)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NoSuchLifecycleConfiguration")

	put := httptest.NewRequest(http.MethodPut, "/bkt?lifecycle", newReadCloserFromString(
		`<LifecycleConfiguration><Rule><ID>expire-logs</ID><Status>Enabled</Status>`+
			`<Filter><Prefix>logs/</Prefix></Filter><Expiration><Days>30</Days></Expiration></Rule>`+
			`</LifecycleConfiguration>`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt?lifecycle", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "expire-logs")
	require.Contains(t, rec.Body.String(), "logs/")

	del := httptest.NewRequest(http.MethodDelete, "/bkt?lifecycle", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt?lifecycle", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBucketPolicyRoundTripIsJSON(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	getAbsent := httptest.NewRequest(http.MethodGet, "/bkt?policy", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getAbsent)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NoSuchBucketPolicy")

	policy := `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":["*"],"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::bkt/*"]}]}`
	put := httptest.NewRequest(http.MethodPut, "/bkt?policy", newReadCloserFromString(policy))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt?policy", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), `"s3:GetObject"`)

	del := httptest.NewRequest(http.MethodDelete, "/bkt?policy", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt?policy", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBucketPolicyMalformedJSONRejected(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	put := httptest.NewRequest(http.MethodPut, "/bkt?policy", newReadCloserFromString("not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "MalformedPolicy")
}

func TestBucketCORSIsAcceptedButNeverPersisted(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	put := httptest.NewRequest(http.MethodPut, "/bkt?cors", newReadCloserFromString(
		`<CORSConfiguration><CORSRule><AllowedMethod>GET</AllowedMethod><AllowedOrigin>*</AllowedOrigin></CORSRule></CORSConfiguration>`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt?cors", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NoSuchCORSConfiguration")
}

func TestBucketObjectLockConfiguration(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	getAbsent := httptest.NewRequest(http.MethodGet, "/bkt?object-lock", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getAbsent)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "ObjectLockConfigurationNotFoundError")

	put := httptest.NewRequest(http.MethodPut, "/bkt?object-lock", newReadCloserFromString(
		`<ObjectLockConfiguration><ObjectLockEnabled>Enabled</ObjectLockEnabled>`+
			`<Rule><DefaultRetention><Mode>GOVERNANCE</Mode></DefaultRetention></Rule></ObjectLockConfiguration>`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt?object-lock", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "GOVERNANCE")
}

func TestHeadBucket(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/bkt", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/absent", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListObjectsV1UsesMarkerShape(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/a", newReadCloserFromString("a")))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<Marker>")
	require.NotContains(t, rec.Body.String(), "KeyCount")
}

func TestListObjectVersionsBucket(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v1")))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt?versions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ListVersionsResult")
	require.Contains(t, rec.Body.String(), "<Key>k</Key>")
}
