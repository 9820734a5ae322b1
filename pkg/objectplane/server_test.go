package objectplane

import (
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/warren-s3/pkg/blobstore"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	meta, err := metastore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.NewFSStore(t.TempDir(), "")
	require.NoError(t, err)

	return &Server{Meta: meta, Blobs: blobs, Owner: "test-owner"}
}

func TestCreateBucketAndListBuckets(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/my-bucket", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "my-bucket")
}

func TestPutGetObjectRoundTrip(t *testing.T) {
	s := newTestServer(t)

	put := httptest.NewRequest(http.MethodPut, "/bkt", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	body := "hello world"
	putObj := httptest.NewRequest(http.MethodPut, "/bkt/key.txt", newReadCloserFromString(body))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, putObj)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	getObj := httptest.NewRequest(http.MethodGet, "/bkt/key.txt", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, getObj)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, body, rec.Body.String())
	require.Equal(t, etag, rec.Header().Get("ETag"))
}

func TestGetObjectRange(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	body := "0123456789"
	putObj := httptest.NewRequest(http.MethodPut, "/bkt/ranged.txt", newReadCloserFromString(body))
	s.ServeHTTP(httptest.NewRecorder(), putObj)

	getObj := httptest.NewRequest(http.MethodGet, "/bkt/ranged.txt", nil)
	getObj.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getObj)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "2345", rec.Body.String())
}

func TestDeleteObjectOnUnversionedBucketHardDeletes(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v")))

	del := httptest.NewRequest(http.MethodDelete, "/bkt/k", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt/k", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusNotFound, rec.Code)

	versions, err := s.Meta.ListObjectVersions(get.Context(), "bkt", "k")
	require.NoError(t, err)
	require.Empty(t, versions, "hard delete on an Unversioned bucket must leave no version row behind")
}

func TestDeleteObjectOnVersionedBucketInsertsDeleteMarker(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	enableVersioning := httptest.NewRequest(http.MethodPut, "/bkt?versioning", newReadCloserFromString(
		`<VersioningConfiguration><Status>Enabled</Status></VersioningConfiguration>`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, enableVersioning)
	require.Equal(t, http.StatusOK, rec.Code)

	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/k", newReadCloserFromString("v")))

	del := httptest.NewRequest(http.MethodDelete, "/bkt/k", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/bkt/k", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusNotFound, rec.Code)

	versions, err := s.Meta.ListObjectVersions(get.Context(), "bkt", "k")
	require.NoError(t, err)
	require.Len(t, versions, 2, "original version plus delete marker must both survive")
}

func TestGetObjectSuffixRange(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	body := "0123456789"
	putObj := httptest.NewRequest(http.MethodPut, "/bkt/ranged.txt", newReadCloserFromString(body))
	s.ServeHTTP(httptest.NewRecorder(), putObj)

	getObj := httptest.NewRequest(http.MethodGet, "/bkt/ranged.txt", nil)
	getObj.Header.Set("Range", "bytes=-3")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getObj)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "789", rec.Body.String())
	require.Equal(t, "bytes 7-9/10", rec.Header().Get("Content-Range"))
}

func TestGetObjectSuffixRangeLargerThanObjectServesWholeBody(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/small.txt", newReadCloserFromString("abc")))

	getObj := httptest.NewRequest(http.MethodGet, "/bkt/small.txt", nil)
	getObj.Header.Set("Range", "bytes=-100")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, getObj)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "abc", rec.Body.String())
}

func TestCopyObjectSharesBlobRefAndDefaultsToSourceMetadata(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	put := httptest.NewRequest(http.MethodPut, "/bkt/src.txt", newReadCloserFromString("payload"))
	put.Header.Set("Content-Type", "text/plain")
	put.Header.Set("X-Amz-Meta-Owner", "alice")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)

	copyReq := httptest.NewRequest(http.MethodPut, "/bkt/dst.txt", nil)
	copyReq.Header.Set("X-Amz-Copy-Source", "/bkt/src.txt")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, copyReq)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "CopyObjectResult")

	srcVer, err := s.Meta.GetObjectVersion(copyReq.Context(), "bkt", "src.txt", "")
	require.NoError(t, err)
	dstVer, err := s.Meta.GetObjectVersion(copyReq.Context(), "bkt", "dst.txt", "")
	require.NoError(t, err)
	require.Equal(t, srcVer.BlobRef, dstVer.BlobRef, "copy must reuse the content-addressed blob, not re-upload")
	require.Equal(t, srcVer.ETag, dstVer.ETag)
	require.Equal(t, "alice", dstVer.Metadata["Owner"])

	get := httptest.NewRequest(http.MethodGet, "/bkt/dst.txt", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "payload", rec.Body.String())
}

func TestCopyObjectReplaceMetadataDirective(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	put := httptest.NewRequest(http.MethodPut, "/bkt/src.txt", newReadCloserFromString("payload"))
	put.Header.Set("X-Amz-Meta-Owner", "alice")
	s.ServeHTTP(httptest.NewRecorder(), put)

	copyReq := httptest.NewRequest(http.MethodPut, "/bkt/dst.txt", nil)
	copyReq.Header.Set("X-Amz-Copy-Source", "/bkt/src.txt")
	copyReq.Header.Set("X-Amz-Metadata-Directive", "REPLACE")
	copyReq.Header.Set("X-Amz-Meta-Owner", "bob")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, copyReq)
	require.Equal(t, http.StatusOK, rec.Code)

	dstVer, err := s.Meta.GetObjectVersion(copyReq.Context(), "bkt", "dst.txt", "")
	require.NoError(t, err)
	require.Equal(t, "bob", dstVer.Metadata["Owner"])
}

func TestSSECRoundTripAndWrongKeyRejected(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	keyB64 := base64.StdEncoding.EncodeToString(key)
	sum := md5.Sum(key)
	keyMD5 := base64.StdEncoding.EncodeToString(sum[:])

	put := httptest.NewRequest(http.MethodPut, "/bkt/secret.txt", newReadCloserFromString("top secret"))
	put.Header.Set("X-Amz-Server-Side-Encryption-Customer-Algorithm", "AES256")
	put.Header.Set("X-Amz-Server-Side-Encryption-Customer-Key", keyB64)
	put.Header.Set("X-Amz-Server-Side-Encryption-Customer-Key-Md5", keyMD5)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, put)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "AES256", rec.Header().Get("x-amz-server-side-encryption-customer-algorithm"))

	getOK := httptest.NewRequest(http.MethodGet, "/bkt/secret.txt", nil)
	getOK.Header.Set("X-Amz-Server-Side-Encryption-Customer-Algorithm", "AES256")
	getOK.Header.Set("X-Amz-Server-Side-Encryption-Customer-Key", keyB64)
	getOK.Header.Set("X-Amz-Server-Side-Encryption-Customer-Key-Md5", keyMD5)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, getOK)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "top secret", rec.Body.String())

	getNoKey := httptest.NewRequest(http.MethodGet, "/bkt/secret.txt", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, getNoKey)
	require.Equal(t, http.StatusForbidden, rec.Code)

	wrongKey := make([]byte, 32)
	for i := range wrongKey {
		wrongKey[i] = byte(255 - i)
	}
	getWrongKey := httptest.NewRequest(http.MethodGet, "/bkt/secret.txt", nil)
	getWrongKey.Header.Set("X-Amz-Server-Side-Encryption-Customer-Algorithm", "AES256")
	getWrongKey.Header.Set("X-Amz-Server-Side-Encryption-Customer-Key", base64.StdEncoding.EncodeToString(wrongKey))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, getWrongKey)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteObjectsBatchDeletesOnlyListedKeys(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/a", newReadCloserFromString("a")))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/b", newReadCloserFromString("b")))

	// A request for an already-absent key must not error: DeleteObjects,
	// like single-object DELETE, is idempotent.
	body := `<Delete><Object><Key>a</Key></Object><Object><Key>missing</Key></Object></Delete>`
	req := httptest.NewRequest(http.MethodPost, "/bkt?delete", newReadCloserFromString(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<Key>a</Key>")

	get := httptest.NewRequest(http.MethodGet, "/bkt/a", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusNotFound, rec.Code)

	getB := httptest.NewRequest(http.MethodGet, "/bkt/b", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, getB)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteObjectsQuietSuppressesDeletedEntries(t *testing.T) {
	s := newTestServer(t)
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt", nil))
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/bkt/a", newReadCloserFromString("a")))

	body := `<Delete><Quiet>true</Quiet><Object><Key>a</Key></Object></Delete>`
	req := httptest.NewRequest(http.MethodPost, "/bkt?delete", newReadCloserFromString(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "<Deleted>")
}

func TestGetNonexistentBucketReturnsNoSuchBucket(t *testing.T) {
	s := newTestServer(t)
	get := httptest.NewRequest(http.MethodGet, "/absent/key", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, get)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NoSuchBucket")
}

type readCloserFromString struct{ io.Reader }

func (readCloserFromString) Close() error { return nil }

func newReadCloserFromString(s string) io.ReadCloser {
	return readCloserFromString{Reader: newStringReader(s)}
}

func newStringReader(s string) io.Reader {
	return &stringReader{s: s}
}

type stringReader struct {
	s string
	i int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}
