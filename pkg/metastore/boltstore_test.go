package metastore

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := &types.Bucket{Name: "photos", Owner: "alice", CreatedAt: time.Now()}
	require.NoError(t, s.CreateBucket(ctx, b))

	got, err := s.GetBucket(ctx, "photos")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Owner)

	require.ErrorIs(t, s.CreateBucket(ctx, b), ErrConflict)
}

func TestPutObjectVersionFlipsPreviousLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBucket(ctx, &types.Bucket{Name: "b"}))

	v1 := &types.ObjectVersion{Bucket: "b", Key: "k", VersionID: "v1", IsLatest: true, LastModified: time.Now()}
	require.NoError(t, s.PutObjectVersion(ctx, v1))

	v2 := &types.ObjectVersion{Bucket: "b", Key: "k", VersionID: "v2", IsLatest: true, LastModified: time.Now().Add(time.Second)}
	require.NoError(t, s.PutObjectVersion(ctx, v2))

	got1, err := s.GetObjectVersion(ctx, "b", "k", "v1")
	require.NoError(t, err)
	require.False(t, got1.IsLatest)

	latest, err := s.GetObjectVersion(ctx, "b", "k", "")
	require.NoError(t, err)
	require.Equal(t, "v2", latest.VersionID)
}

func TestListObjectsWithDelimiter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBucket(ctx, &types.Bucket{Name: "b"}))

	keys := []string{"a/1.txt", "a/2.txt", "b.txt"}
	for _, k := range keys {
		require.NoError(t, s.PutObjectVersion(ctx, &types.ObjectVersion{
			Bucket: "b", Key: k, VersionID: "v1", IsLatest: true, LastModified: time.Now(),
		}))
	}

	result, err := s.ListObjects(ctx, ListQuery{Bucket: "b", Delimiter: "/"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a/"}, result.CommonPrefixes)
	require.Len(t, result.Contents, 1)
	require.Equal(t, "b.txt", result.Contents[0].Key)
}

func TestListObjectsExcludesDeleteMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBucket(ctx, &types.Bucket{Name: "b"}))

	require.NoError(t, s.PutObjectVersion(ctx, &types.ObjectVersion{
		Bucket: "b", Key: "k", VersionID: "v1", IsLatest: true, LastModified: time.Now(),
	}))
	require.NoError(t, s.PutObjectVersion(ctx, &types.ObjectVersion{
		Bucket: "b", Key: "k", VersionID: "v2", IsLatest: true, IsDeleteMarker: true, LastModified: time.Now().Add(time.Second),
	}))

	result, err := s.ListObjects(ctx, ListQuery{Bucket: "b"})
	require.NoError(t, err)
	require.Empty(t, result.Contents)
}

func TestPromoteLatestAfterDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBucket(ctx, &types.Bucket{Name: "b"}))

	require.NoError(t, s.PutObjectVersion(ctx, &types.ObjectVersion{
		Bucket: "b", Key: "k", VersionID: "v1", IsLatest: false, LastModified: time.Now(),
	}))
	require.NoError(t, s.PutObjectVersion(ctx, &types.ObjectVersion{
		Bucket: "b", Key: "k", VersionID: "v2", IsLatest: true, LastModified: time.Now().Add(time.Second),
	}))

	require.NoError(t, s.DeleteObjectVersion(ctx, "b", "k", "v2"))

	promoted, err := s.PromoteLatest(ctx, "b", "k")
	require.NoError(t, err)
	require.Equal(t, "v1", promoted.VersionID)
	require.True(t, promoted.IsLatest)
}

func TestMultipartUploadLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBucket(ctx, &types.Bucket{Name: "b"}))

	u := &types.MultipartUpload{Bucket: "b", Key: "big.bin", UploadID: "u1", Initiated: time.Now()}
	require.NoError(t, s.CreateMultipartUpload(ctx, u))

	require.NoError(t, s.PutMultipartPart(ctx, "b", "big.bin", "u1", types.MultipartPart{PartNumber: 2, ETag: "e2"}))
	require.NoError(t, s.PutMultipartPart(ctx, "b", "big.bin", "u1", types.MultipartPart{PartNumber: 1, ETag: "e1"}))

	got, err := s.GetMultipartUpload(ctx, "b", "big.bin", "u1")
	require.NoError(t, err)
	require.Len(t, got.Parts, 2)
	require.Equal(t, 1, got.Parts[0].PartNumber)

	require.NoError(t, s.DeleteMultipartUpload(ctx, "b", "big.bin", "u1"))
	_, err = s.GetMultipartUpload(ctx, "b", "big.bin", "u1")
	require.ErrorIs(t, err, ErrNotFound)
}
