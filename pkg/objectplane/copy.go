package objectplane

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/warren-s3/pkg/objerr"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/google/uuid"
)

// copyObject implements PUT with an x-amz-copy-source header. The blob
// store is content-addressed, so the destination version points straight
// at the source version's BlobRef instead of re-uploading the bytes — the
// same dedup property FSStore.Put already relies on for identical content
// uploaded under different keys.
func (s *Server) copyObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObject"); err != nil {
		return err
	}
	srcBucket, srcKey, srcVersionID, err := parseCopySource(r.Header.Get("X-Amz-Copy-Source"))
	if err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, srcBucket, principal, "s3:GetObject"); err != nil {
		return err
	}
	srcVer, err := s.Meta.GetObjectVersion(ctx, srcBucket, srcKey, srcVersionID)
	if err != nil || srcVer.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}

	version := &types.ObjectVersion{
		Bucket:       bucket,
		Key:          key,
		VersionID:    uuid.NewString(),
		IsLatest:     true,
		Size:         srcVer.Size,
		ETag:         srcVer.ETag,
		ContentType:  srcVer.ContentType,
		StorageClass: srcVer.StorageClass,
		Tags:         srcVer.Tags,
		Metadata:     srcVer.Metadata,
		Encryption:   srcVer.Encryption,
		LastModified: time.Now().UTC(),
		BlobRef:      srcVer.BlobRef,
	}
	if r.Header.Get("X-Amz-Metadata-Directive") == "REPLACE" {
		version.ContentType = orDefault(r.Header.Get("Content-Type"), version.ContentType)
		version.Metadata = parseUserMetadata(r.Header)
	}
	if err := s.Meta.PutObjectVersion(ctx, version); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventObjectCreated, Bucket: bucket, Key: key, VersionID: version.VersionID})
	return s.writeXML(w, http.StatusOK, copyObjectResult{
		Xmlns: xmlNS, ETag: "\"" + version.ETag + "\"", LastModified: formatS3Time(version.LastModified),
	})
}

// parseCopySource splits an x-amz-copy-source header into bucket, key,
// and an optional versionId query parameter. AWS SDKs URL-encode the
// header; a bare "/bucket/key" form is accepted too.
func parseCopySource(header string) (bucket, key, versionID string, err error) {
	header = strings.TrimPrefix(header, "/")
	if decoded, derr := url.QueryUnescape(header); derr == nil {
		header = decoded
	}
	path := header
	if idx := strings.Index(header, "?"); idx >= 0 {
		path = header[:idx]
		q, _ := url.ParseQuery(header[idx+1:])
		versionID = q.Get("versionId")
	}
	idx := strings.Index(path, "/")
	if idx < 0 {
		return "", "", "", objerr.New(objerr.InvalidArgument, "malformed x-amz-copy-source")
	}
	return path[:idx], path[idx+1:], versionID, nil
}

// parseUserMetadata collects x-amz-meta-* request headers, which Go's net/http
// canonicalizes to "X-Amz-Meta-*", into the plain map ObjectVersion.Metadata
// carries.
func parseUserMetadata(header http.Header) map[string]string {
	const prefix = "X-Amz-Meta-"
	var md map[string]string
	for k, v := range header {
		if len(v) == 0 || !strings.HasPrefix(k, prefix) {
			continue
		}
		if md == nil {
			md = make(map[string]string)
		}
		md[k[len(prefix):]] = v[0]
	}
	return md
}

func writeUserMetadata(w http.ResponseWriter, md map[string]string) {
	for k, v := range md {
		w.Header().Set("X-Amz-Meta-"+k, v)
	}
}
