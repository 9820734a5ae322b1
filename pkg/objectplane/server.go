// Package objectplane is the S3 wire-protocol HTTP server: request
// dispatch, SigV4 verification, and the handlers for every operation
// spec.md §6 lists. Dispatch is a flat method/path/query table, the same
// shape as the teacher's cobra command tree generalized from CLI
// subcommands to HTTP routes — no reflection-based router is used because
// none of the example repos import one.
package objectplane

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/warren-s3/pkg/blobstore"
	"github.com/cuemby/warren-s3/pkg/crypto"
	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/objerr"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/google/uuid"
)

// EventPublisher hands a replication event to the cluster package's
// in-memory queue. The object plane never blocks on replication: it
// publishes and moves on, the seam spec.md §9 calls out to avoid a cyclic
// dependency between object plane and replicator.
type EventPublisher interface {
	Publish(ev types.ReplicationEvent)
}

// Server implements the S3 object-plane HTTP surface.
type Server struct {
	Meta        metastore.Store
	Blobs       blobstore.Store
	MasterKey   *crypto.MasterKey // nil if SSE-S3 disabled
	Events      EventPublisher
	NodeRole    func() types.NodeRole
	Owner       string           // root account display name, stamped on new buckets
	Credentials CredentialLookup // nil disables SigV4 verification (anonymous access)
}

// ServeHTTP is the single entry point; every request gets a request ID
// attached to its logger and stamped on every response, matching the
// x-amz-request-id contract.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := log.WithRequestID(requestID)
	w.Header().Set("x-amz-request-id", requestID)

	principal, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, objerr.New(objerr.SignatureDoesNotMatch, err.Error()), requestID)
		return
	}

	if err := s.dispatch(w, r, requestID, principal); err != nil {
		s.writeError(w, err, requestID)
		logger.Error().Err(err).Msg("request failed")
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, requestID, principal string) error {
	bucket, key, ok := splitPath(r.URL.Path)
	if !ok {
		return objerr.New(objerr.InvalidArgument, "malformed request path")
	}

	ctx := r.Context()
	q := r.URL.Query()

	switch {
	case bucket == "" && r.Method == http.MethodGet:
		return s.listBuckets(ctx, w, requestID)

	// --- bucket subresources (must precede the generic bucket verbs) ---

	case key == "" && r.Method == http.MethodPut && q.Has("policy"):
		return s.putBucketPolicy(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("policy"):
		return s.getBucketPolicy(ctx, w, bucket, principal)
	case key == "" && r.Method == http.MethodDelete && q.Has("policy"):
		return s.deleteBucketPolicy(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut && q.Has("acl"):
		return s.putBucketACL(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("acl"):
		return s.getBucketACL(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut && q.Has("versioning"):
		return s.putBucketVersioning(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("versioning"):
		return s.getBucketVersioning(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut && q.Has("lifecycle"):
		return s.putBucketLifecycle(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("lifecycle"):
		return s.getBucketLifecycle(ctx, w, bucket, principal)
	case key == "" && r.Method == http.MethodDelete && q.Has("lifecycle"):
		return s.deleteBucketLifecycle(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut && q.Has("cors"):
		return s.putBucketCORS(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("cors"):
		return s.getBucketCORS(ctx, w, bucket, principal)
	case key == "" && r.Method == http.MethodDelete && q.Has("cors"):
		return s.deleteBucketCORS(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut && q.Has("notification"):
		return s.putBucketNotification(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("notification"):
		return s.getBucketNotification(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut && q.Has("object-lock"):
		return s.putBucketObjectLock(ctx, w, r, bucket, principal)
	case key == "" && r.Method == http.MethodGet && q.Has("object-lock"):
		return s.getBucketObjectLock(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodGet && q.Has("versions"):
		return s.listObjectVersionsBucket(ctx, w, bucket, q, principal)

	case key == "" && r.Method == http.MethodGet && q.Has("uploads"):
		return s.listMultipartUploadsBucket(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPost && q.Has("delete"):
		return s.deleteObjects(ctx, w, r, bucket, principal)

	case key == "" && r.Method == http.MethodHead:
		return s.headBucket(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodPut:
		return s.createBucket(ctx, w, r, bucket, principal)

	case key == "" && r.Method == http.MethodDelete:
		return s.deleteBucket(ctx, w, bucket, principal)

	case key == "" && r.Method == http.MethodGet && q.Get("list-type") == "2":
		return s.listObjectsV2(ctx, w, bucket, q, principal)

	case key == "" && r.Method == http.MethodGet:
		return s.listObjectsV1(ctx, w, bucket, q, principal)

	// --- multipart upload lifecycle ---

	case key != "" && r.Method == http.MethodPost && q.Has("uploads"):
		return s.initiateMultipartUpload(ctx, w, r, bucket, key)

	case key != "" && r.Method == http.MethodPost && q.Has("uploadId"):
		return s.completeMultipartUpload(ctx, w, r, bucket, key, q.Get("uploadId"))

	case key != "" && r.Method == http.MethodPut && q.Has("uploadId") && q.Has("partNumber"):
		return s.uploadPart(ctx, w, r, bucket, key, q.Get("uploadId"), q.Get("partNumber"))

	case key != "" && r.Method == http.MethodDelete && q.Has("uploadId"):
		return s.abortMultipartUpload(ctx, w, bucket, key, q.Get("uploadId"))

	case key != "" && r.Method == http.MethodGet && q.Has("uploadId"):
		return s.listParts(ctx, w, bucket, key, q.Get("uploadId"))

	// --- object subresources ---

	case key != "" && r.Method == http.MethodGet && q.Has("tagging"):
		return s.getObjectTagging(ctx, w, bucket, key, q.Get("versionId"), principal)
	case key != "" && r.Method == http.MethodPut && q.Has("tagging"):
		return s.putObjectTagging(ctx, w, r, bucket, key, q.Get("versionId"), principal)
	case key != "" && r.Method == http.MethodDelete && q.Has("tagging"):
		return s.deleteObjectTagging(ctx, w, bucket, key, q.Get("versionId"), principal)

	case key != "" && r.Method == http.MethodGet && q.Has("acl"):
		return s.getObjectACL(ctx, w, bucket, key, q.Get("versionId"), principal)
	case key != "" && r.Method == http.MethodPut && q.Has("acl"):
		return s.putObjectACL(ctx, w, r, bucket, key, q.Get("versionId"), principal)

	case key != "" && r.Method == http.MethodGet && q.Has("retention"):
		return s.getObjectRetention(ctx, w, bucket, key, q.Get("versionId"), principal)
	case key != "" && r.Method == http.MethodPut && q.Has("retention"):
		return s.putObjectRetention(ctx, w, r, bucket, key, q.Get("versionId"), principal)

	case key != "" && r.Method == http.MethodGet && q.Has("legal-hold"):
		return s.getObjectLegalHold(ctx, w, bucket, key, q.Get("versionId"), principal)
	case key != "" && r.Method == http.MethodPut && q.Has("legal-hold"):
		return s.putObjectLegalHold(ctx, w, r, bucket, key, q.Get("versionId"), principal)

	case key != "" && r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		return s.copyObject(ctx, w, r, bucket, key, principal)

	case key != "" && r.Method == http.MethodPut:
		return s.putObject(ctx, w, r, bucket, key, principal)

	case key != "" && r.Method == http.MethodGet:
		return s.getObject(ctx, w, r, bucket, key, q.Get("versionId"), principal)

	case key != "" && r.Method == http.MethodHead:
		return s.headObject(ctx, w, bucket, key, q.Get("versionId"))

	case key != "" && r.Method == http.MethodDelete:
		return s.deleteObject(ctx, w, bucket, key, q.Get("versionId"), principal)

	default:
		return objerr.New(objerr.MethodNotAllowed, "unsupported method/path combination")
	}
}

func splitPath(p string) (bucket, key string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", "", true
	}
	idx := strings.Index(p, "/")
	if idx < 0 {
		return p, "", true
	}
	return p[:idx], p[idx+1:], true
}

func (s *Server) requirePrimary() error {
	if s.NodeRole == nil {
		return nil
	}
	if s.NodeRole() != types.RolePrimary {
		return objerr.New(objerr.AccessDenied, "this node is not the cluster Primary; writes must target the Primary")
	}
	return nil
}

// --- buckets ---

func (s *Server) listBuckets(ctx context.Context, w http.ResponseWriter, requestID string) error {
	buckets, err := s.Meta.ListBuckets(ctx, "")
	if err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	resp := listAllMyBucketsResult{
		Xmlns: xmlNS,
		Owner: xmlOwner{ID: s.Owner, DisplayName: s.Owner},
	}
	for _, b := range buckets {
		resp.Buckets = append(resp.Buckets, xmlBucket{Name: b.Name, CreationDate: formatS3Time(b.CreatedAt)})
	}
	return s.writeXML(w, http.StatusOK, resp)
}

func (s *Server) createBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if err := validateBucketName(bucket); err != nil {
		return err
	}
	b := &types.Bucket{
		Name:             bucket,
		Owner:            principal,
		CreatedAt:        time.Now().UTC(),
		VersioningStatus: types.VersioningDisabled,
	}
	if err := s.Meta.CreateBucket(ctx, b); err != nil {
		if err == metastore.ErrConflict {
			return objerr.New(objerr.BucketAlreadyExists, "bucket already exists")
		}
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventBucketCreated, Bucket: bucket})
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) deleteBucket(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:DeleteBucket"); err != nil {
		return err
	}
	listing, err := s.Meta.ListObjects(ctx, metastore.ListQuery{Bucket: bucket, MaxKeys: 1})
	if err == nil && len(listing.Contents) > 0 {
		return objerr.New(objerr.BucketNotEmpty, "bucket is not empty")
	}
	if err := s.Meta.DeleteBucket(ctx, bucket); err != nil {
		if err == metastore.ErrNotFound {
			return objerr.New(objerr.NoSuchBucket, "no such bucket")
		}
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventBucketDeleted, Bucket: bucket})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) headBucket(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:ListBucket"); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func validateBucketName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return objerr.New(objerr.InvalidArgument, "bucket name must be between 3 and 63 characters")
	}
	return nil
}

// checkBucketAccess fetches the bucket and authorizes principal for action
// against it, translating a missing bucket into NoSuchBucket. It returns
// the fetched bucket so callers that need its fields (VersioningStatus,
// Policy, ACL, Lifecycle, ...) don't issue a second GetBucket.
func (s *Server) checkBucketAccess(ctx context.Context, bucket, principal, action string) (*types.Bucket, error) {
	b, err := s.Meta.GetBucket(ctx, bucket)
	if err != nil {
		return nil, objerr.New(objerr.NoSuchBucket, "no such bucket")
	}
	if err := s.authorize(b, principal, action, "arn:aws:s3:::"+bucket); err != nil {
		return nil, err
	}
	return b, nil
}

// --- listing ---

func (s *Server) listObjectsV2(ctx context.Context, w http.ResponseWriter, bucket string, q map[string][]string, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:ListBucket"); err != nil {
		return err
	}
	get := queryGetter(q)
	maxKeys, _ := strconv.Atoi(get("max-keys"))
	result, err := s.Meta.ListObjects(ctx, metastore.ListQuery{
		Bucket:            bucket,
		Prefix:            get("prefix"),
		Delimiter:         get("delimiter"),
		MaxKeys:           maxKeys,
		ContinuationToken: get("continuation-token"),
	})
	if err != nil {
		if err == metastore.ErrNotFound {
			return objerr.New(objerr.NoSuchBucket, "no such bucket")
		}
		return objerr.New(objerr.InternalError, err.Error())
	}
	resp := listBucketResult{
		Xmlns:                 xmlNS,
		Name:                  bucket,
		Prefix:                result.Prefix,
		Delimiter:             result.Delimiter,
		MaxKeys:               result.MaxKeys,
		KeyCount:              len(result.Contents),
		IsTruncated:           result.IsTruncated,
		ContinuationToken:     result.ContinuationToken,
		NextContinuationToken: result.NextContinuationToken,
	}
	for _, c := range result.Contents {
		resp.Contents = append(resp.Contents, xmlContent{
			Key:          c.Key,
			LastModified: formatS3Time(c.LastModified),
			ETag:         "\"" + c.ETag + "\"",
			Size:         c.Size,
			StorageClass: orDefault(c.StorageClass, "STANDARD"),
		})
	}
	for _, p := range result.CommonPrefixes {
		resp.CommonPrefixes = append(resp.CommonPrefixes, xmlCommonPrefix{Prefix: p})
	}
	return s.writeXML(w, http.StatusOK, resp)
}

// listObjectsV1 is the legacy (pre-2016) listing shape: Marker/NextMarker
// instead of continuation tokens, no KeyCount. The underlying cursor is
// the same one ListObjectsV2 uses — Marker is passed straight through as
// the metastore's opaque ContinuationToken.
func (s *Server) listObjectsV1(ctx context.Context, w http.ResponseWriter, bucket string, q map[string][]string, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:ListBucket"); err != nil {
		return err
	}
	get := queryGetter(q)
	maxKeys, _ := strconv.Atoi(get("max-keys"))
	result, err := s.Meta.ListObjects(ctx, metastore.ListQuery{
		Bucket:            bucket,
		Prefix:            get("prefix"),
		Delimiter:         get("delimiter"),
		MaxKeys:           maxKeys,
		ContinuationToken: get("marker"),
	})
	if err != nil {
		if err == metastore.ErrNotFound {
			return objerr.New(objerr.NoSuchBucket, "no such bucket")
		}
		return objerr.New(objerr.InternalError, err.Error())
	}
	resp := listBucketResultV1{
		Xmlns:       xmlNS,
		Name:        bucket,
		Prefix:      result.Prefix,
		Marker:      get("marker"),
		NextMarker:  result.NextContinuationToken,
		MaxKeys:     result.MaxKeys,
		Delimiter:   result.Delimiter,
		IsTruncated: result.IsTruncated,
	}
	for _, c := range result.Contents {
		resp.Contents = append(resp.Contents, xmlContent{
			Key:          c.Key,
			LastModified: formatS3Time(c.LastModified),
			ETag:         "\"" + c.ETag + "\"",
			Size:         c.Size,
			StorageClass: orDefault(c.StorageClass, "STANDARD"),
		})
	}
	for _, p := range result.CommonPrefixes {
		resp.CommonPrefixes = append(resp.CommonPrefixes, xmlCommonPrefix{Prefix: p})
	}
	return s.writeXML(w, http.StatusOK, resp)
}

func queryGetter(q map[string][]string) func(string) string {
	return func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// --- objects ---

func (s *Server) putObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObject"); err != nil {
		return err
	}

	custKey, custMD5, err := sseCustomerKey(r)
	if err != nil {
		return err
	}

	switch {
	case custKey != nil:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		sum := md5.Sum(data)
		etag := hex.EncodeToString(sum[:])
		ciphertext, err := custKey.Seal(data)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		encInfo := &types.EncryptionInfo{Algorithm: types.SSEC, CustomerMD5: custMD5}
		ref, _, err := s.Blobs.Put(bytes.NewReader(ciphertext))
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		return s.finishPutObject(ctx, w, r, bucket, key, ref, int64(len(data)), etag, encInfo)

	case s.MasterKey != nil:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		sum := md5.Sum(data)
		etag := hex.EncodeToString(sum[:])
		dek, err := crypto.GenerateDEK()
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		ciphertext, err := crypto.SealObject(dek, data)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		wrapped, err := s.MasterKey.WrapDEK(dek)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		encInfo := &types.EncryptionInfo{Algorithm: types.SSES3, WrappedDEK: wrapped}
		ref, _, err := s.Blobs.Put(bytes.NewReader(ciphertext))
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		return s.finishPutObject(ctx, w, r, bucket, key, ref, int64(len(data)), etag, encInfo)

	default:
		hasher := md5.New()
		ref, size, err := s.Blobs.Put(io.TeeReader(r.Body, hasher))
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		etag := hex.EncodeToString(hasher.Sum(nil))
		return s.finishPutObject(ctx, w, r, bucket, key, ref, size, etag, nil)
	}
}

func (s *Server) finishPutObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, ref string, size int64, etag string, enc *types.EncryptionInfo) error {
	version := &types.ObjectVersion{
		Bucket:       bucket,
		Key:          key,
		VersionID:    uuid.NewString(),
		IsLatest:     true,
		Size:         size,
		ETag:         etag,
		ContentType:  r.Header.Get("Content-Type"),
		Metadata:     parseUserMetadata(r.Header),
		LastModified: time.Now().UTC(),
		BlobRef:      ref,
		Encryption:   enc,
	}
	if err := s.Meta.PutObjectVersion(ctx, version); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventObjectCreated, Bucket: bucket, Key: key, VersionID: version.VersionID})
	w.Header().Set("ETag", "\""+etag+"\"")
	switch {
	case enc == nil:
	case enc.Algorithm == types.SSES3:
		w.Header().Set("x-amz-server-side-encryption", "AES256")
	case enc.Algorithm == types.SSEC:
		w.Header().Set("x-amz-server-side-encryption-customer-algorithm", "AES256")
		w.Header().Set("x-amz-server-side-encryption-customer-key-MD5", enc.CustomerMD5)
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) getObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, versionID, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetObject"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}

	var plaintext []byte
	encrypted := ver.Encryption != nil && ver.Encryption.Algorithm != types.SSENone
	if encrypted {
		reader, err := s.Blobs.Open(ver.BlobRef)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		ciphertext, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		switch ver.Encryption.Algorithm {
		case types.SSES3:
			if s.MasterKey == nil {
				return objerr.New(objerr.InternalError, "object is encrypted but no master key is configured")
			}
			dek, derr := s.MasterKey.UnwrapDEK(ver.Encryption.WrappedDEK)
			if derr != nil {
				return objerr.New(objerr.InternalError, derr.Error())
			}
			plaintext, err = crypto.OpenObject(dek, ciphertext)
		case types.SSEC:
			custKey, custMD5, cerr := sseCustomerKey(r)
			if cerr != nil {
				return cerr
			}
			if custKey == nil || custMD5 != ver.Encryption.CustomerMD5 {
				return objerr.New(objerr.AccessDenied, "this object requires the matching SSE-C customer key")
			}
			plaintext, err = custKey.Open(ciphertext)
		default:
			return objerr.New(objerr.InternalError, "unknown encryption algorithm")
		}
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
	}

	w.Header().Set("ETag", "\""+ver.ETag+"\"")
	w.Header().Set("Content-Type", orDefault(ver.ContentType, "application/octet-stream"))
	writeUserMetadata(w, ver.Metadata)

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		offset, length, rerr := parseRange(rangeHeader, ver.Size)
		if rerr != nil {
			return objerr.New(objerr.InvalidRange, rerr.Error())
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, ver.Size))
		w.WriteHeader(http.StatusPartialContent)
		if encrypted {
			_, err = w.Write(plaintext[offset : offset+length])
			return err
		}
		reader, err := s.Blobs.OpenRange(ver.BlobRef, offset, length)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		defer reader.Close()
		_, err = io.Copy(w, reader)
		return err
	}

	if encrypted {
		_, err = w.Write(plaintext)
		return err
	}
	reader, err := s.Blobs.Open(ver.BlobRef)
	if err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	defer reader.Close()
	_, err = io.Copy(w, reader)
	return err
}

func (s *Server) headObject(ctx context.Context, w http.ResponseWriter, bucket, key, versionID string) error {
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	w.Header().Set("ETag", "\""+ver.ETag+"\"")
	w.Header().Set("Content-Length", strconv.FormatInt(ver.Size, 10))
	w.Header().Set("Content-Type", orDefault(ver.ContentType, "application/octet-stream"))
	writeUserMetadata(w, ver.Metadata)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) deleteObject(ctx context.Context, w http.ResponseWriter, bucket, key, versionID, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	bkt, err := s.checkBucketAccess(ctx, bucket, principal, "s3:DeleteObject")
	if err != nil {
		return err
	}
	if err := s.deleteOneObject(ctx, bkt, key, versionID); err != nil {
		return err
	}
	s.publish(types.ReplicationEvent{Type: types.EventObjectDeleted, Bucket: bucket, Key: key})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// deleteOneObject is the shared delete path for a single DELETE request
// and each entry of a batch DeleteObjects request. A specific versionId
// always hard-deletes that row. Without a versionId, an Unversioned
// bucket hard-deletes the current version and best-effort purges its
// blob; Enabled/Suspended buckets insert a delete marker instead, the
// same way S3 keeps object history.
func (s *Server) deleteOneObject(ctx context.Context, bkt *types.Bucket, key, versionID string) error {
	bucket := bkt.Name
	if versionID != "" {
		if err := s.Meta.DeleteObjectVersion(ctx, bucket, key, versionID); err != nil && err != metastore.ErrNotFound {
			return objerr.New(objerr.InternalError, err.Error())
		}
		if _, err := s.Meta.PromoteLatest(ctx, bucket, key); err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		return nil
	}

	if bkt.VersioningStatus == types.VersioningDisabled {
		ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, "")
		if err != nil {
			if err == metastore.ErrNotFound {
				return nil
			}
			return objerr.New(objerr.InternalError, err.Error())
		}
		if ver.IsDeleteMarker {
			return nil
		}
		if ver.BlobRef != "" {
			_ = s.Blobs.Delete(ver.BlobRef)
		}
		if err := s.Meta.DeleteObjectVersion(ctx, bucket, key, ver.VersionID); err != nil && err != metastore.ErrNotFound {
			return objerr.New(objerr.InternalError, err.Error())
		}
		return nil
	}

	marker := &types.ObjectVersion{
		Bucket: bucket, Key: key, VersionID: uuid.NewString(),
		IsLatest: true, IsDeleteMarker: true, LastModified: time.Now().UTC(),
	}
	if err := s.Meta.PutObjectVersion(ctx, marker); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	return nil
}

func (s *Server) publish(ev types.ReplicationEvent) {
	if s.Events == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.Events.Publish(ev)
}

// --- SSE-C header handling ---

// sseCustomerKey parses and validates the x-amz-server-side-encryption-
// customer-* request headers. It returns a nil key (and no error) when the
// headers are simply absent — SSE-C is opt-in per request.
func sseCustomerKey(r *http.Request) (*crypto.CustomerKey, string, error) {
	alg := r.Header.Get("X-Amz-Server-Side-Encryption-Customer-Algorithm")
	if alg == "" {
		return nil, "", nil
	}
	if alg != "AES256" {
		return nil, "", objerr.New(objerr.InvalidArgument, "unsupported SSE-C algorithm")
	}
	key, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Amz-Server-Side-Encryption-Customer-Key"))
	if err != nil || len(key) != 32 {
		return nil, "", objerr.New(objerr.InvalidArgument, "SSE-C customer key must be a base64-encoded 32-byte AES-256 key")
	}
	sum := md5.Sum(key)
	gotMD5 := base64.StdEncoding.EncodeToString(sum[:])
	if want := r.Header.Get("X-Amz-Server-Side-Encryption-Customer-Key-Md5"); want != "" && want != gotMD5 {
		return nil, "", objerr.New(objerr.InvalidArgument, "SSE-C customer key MD5 does not match the supplied key")
	}
	return &crypto.CustomerKey{Key: key}, gotMD5, nil
}

// --- response helpers ---

func (s *Server) writeXML(w http.ResponseWriter, status int, v interface{}) error {
	body, err := marshalXML(v)
	if err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

func (s *Server) writeError(w http.ResponseWriter, err error, requestID string) {
	oe, ok := err.(*objerr.Error)
	if !ok {
		oe = objerr.New(objerr.InternalError, err.Error())
	}
	oe.RequestID = requestID
	body, marshalErr := marshalXML(xmlError{Code: oe.Kind.Code(), Message: oe.Message, RequestID: requestID})
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(oe.Kind.HTTPStatus())
	if marshalErr == nil {
		_, _ = w.Write(body)
	}
}

// parseRange parses an HTTP Range header of the three forms S3 accepts:
// "bytes=start-end", "bytes=start-" (to EOF), and "bytes=-n" (the last n
// bytes). The empty start form is only valid as a suffix-length range.
func parseRange(header string, size int64) (offset, length int64, err error) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed Range header")
	}

	if parts[0] == "" {
		n, serr := strconv.ParseInt(parts[1], 10, 64)
		if serr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed suffix-length Range")
		}
		if n > size {
			n = size
		}
		return size - n, n, nil
	}

	start, serr := strconv.ParseInt(parts[0], 10, 64)
	if serr != nil {
		return 0, 0, fmt.Errorf("malformed Range start")
	}
	var end int64
	if parts[1] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("malformed Range end")
		}
	}
	if start < 0 || end >= size || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}
	return start, end - start + 1, nil
}
