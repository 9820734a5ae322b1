package objectplane

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectTaggingRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v")))

	getEmpty := httptest.NewRequest(http.MethodGet, "/bkt/k?tagging", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getEmpty)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "<Tag>")

	put := httptest.NewRequest(http.MethodPut, "/bkt/k?tagging", newReadCloserFromString(
		`<Tagging><TagSet><Tag><Key>env</Key><Value>prod</Value></Tag></TagSet></Tagging>`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt/k?tagging", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<Key>env</Key>")
	require.Contains(t, rec.Body.String(), "<Value>prod</Value>")

	del := httptest.NewRequest(http.MethodDelete, "/bkt/k?tagging", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt/k?tagging", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "<Tag>")
}

func TestObjectRetentionRequiresExistingRetentionForGet(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v")))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt/k?retention", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	put := httptest.NewRequest(http.MethodPut, "/bkt/k?retention", newReadCloserFromString(
		`<Retention><Mode>GOVERNANCE</Mode><RetainUntilDate>2030-01-01T00:00:00.000Z</RetainUntilDate></Retention>`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt/k?retention", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "2030-01-01T00:00:00.000Z")
}

func TestObjectLegalHoldRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v")))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt/k?legal-hold", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "OFF")

	put := httptest.NewRequest(http.MethodPut, "/bkt/k?legal-hold", newReadCloserFromString(
		`<LegalHold><Status>ON</Status></LegalHold>`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt/k?legal-hold", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ON")
}

func TestObjectACLReportsOwnerFullControl(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v")))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bkt/k?acl", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "FULL_CONTROL")
}
