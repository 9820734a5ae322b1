package objectplane

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/warren-s3/pkg/objerr"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/google/uuid"
)

func (s *Server) initiateMultipartUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.Meta.GetBucket(ctx, bucket); err != nil {
		return objerr.New(objerr.NoSuchBucket, "no such bucket")
	}
	upload := &types.MultipartUpload{
		Bucket:      bucket,
		Key:         key,
		UploadID:    uuid.NewString(),
		Initiated:   time.Now().UTC(),
		ContentType: r.Header.Get("Content-Type"),
	}
	if err := s.Meta.CreateMultipartUpload(ctx, upload); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	return s.writeXML(w, http.StatusOK, initiateMultipartUploadResult{
		Xmlns: xmlNS, Bucket: bucket, Key: key, UploadID: upload.UploadID,
	})
}

func (s *Server) uploadPart(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, uploadID, partNumberStr string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	partNumber, err := strconv.Atoi(partNumberStr)
	if err != nil || partNumber < 1 || partNumber > 10000 {
		return objerr.New(objerr.InvalidArgument, "partNumber must be between 1 and 10000")
	}
	if _, err := s.Meta.GetMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return objerr.New(objerr.NoSuchUpload, "no such upload")
	}

	hasher := md5.New()
	ref, size, err := s.Blobs.Put(io.TeeReader(r.Body, hasher))
	if err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	etag := hex.EncodeToString(hasher.Sum(nil))
	part := types.MultipartPart{
		PartNumber:   partNumber,
		ETag:         etag,
		Size:         size,
		LastModified: time.Now().UTC(),
		BlobRef:      ref,
	}
	if err := s.Meta.PutMultipartPart(ctx, bucket, key, uploadID, part); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.Header().Set("ETag", "\""+etag+"\"")
	w.WriteHeader(http.StatusOK)
	return nil
}

// completeMultipartUpload assembles the parts by concatenating their
// blobs through the blob store's Put (re-hashing the concatenation under
// a fresh content address) and computes the synthetic S3 multipart ETag:
// hex(md5(concat(md5(part) for part in order))) + "-" + partCount.
func (s *Server) completeMultipartUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, uploadID string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	upload, err := s.Meta.GetMultipartUpload(ctx, bucket, key, uploadID)
	if err != nil {
		return objerr.New(objerr.NoSuchUpload, "no such upload")
	}

	var reqBody completeMultipartUpload
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidArgument, "could not read request body")
	}
	if err := xml.Unmarshal(body, &reqBody); err != nil {
		return objerr.New(objerr.InvalidArgument, "malformed CompleteMultipartUpload body")
	}

	byNumber := make(map[int]types.MultipartPart, len(upload.Parts))
	for _, p := range upload.Parts {
		byNumber[p.PartNumber] = p
	}

	ordered := make([]types.MultipartPart, 0, len(reqBody.Parts))
	lastNumber := 0
	for _, want := range reqBody.Parts {
		if want.PartNumber <= lastNumber {
			return objerr.New(objerr.InvalidPartOrder, "parts must be listed in ascending order")
		}
		lastNumber = want.PartNumber
		p, ok := byNumber[want.PartNumber]
		if !ok || "\""+p.ETag+"\"" != want.ETag {
			return objerr.New(objerr.InvalidPart, fmt.Sprintf("part %d not found or ETag mismatch", want.PartNumber))
		}
		ordered = append(ordered, p)
	}
	if len(ordered) == 0 {
		return objerr.New(objerr.InvalidArgument, "no parts supplied")
	}

	pr, pw := io.Pipe()
	go func() {
		var err error
		for _, p := range ordered {
			var rc io.ReadCloser
			rc, err = s.Blobs.Open(p.BlobRef)
			if err != nil {
				break
			}
			_, err = io.Copy(pw, rc)
			rc.Close()
			if err != nil {
				break
			}
		}
		pw.CloseWithError(err)
	}()

	ref, size, err := s.Blobs.Put(pr)
	if err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}

	hasher := md5.New()
	for _, p := range ordered {
		sum, decodeErr := hex.DecodeString(p.ETag)
		if decodeErr != nil {
			return objerr.New(objerr.InternalError, decodeErr.Error())
		}
		hasher.Write(sum)
	}
	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(hasher.Sum(nil)), len(ordered))

	version := &types.ObjectVersion{
		Bucket:       bucket,
		Key:          key,
		VersionID:    uuid.NewString(),
		IsLatest:     true,
		Size:         size,
		ETag:         etag,
		ContentType:  upload.ContentType,
		LastModified: time.Now().UTC(),
		BlobRef:      ref,
		Encryption:   upload.Encryption,
	}
	if err := s.Meta.PutObjectVersion(ctx, version); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	if err := s.Meta.DeleteMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventObjectCreated, Bucket: bucket, Key: key, VersionID: version.VersionID})

	return s.writeXML(w, http.StatusOK, completeMultipartUploadResult{
		Xmlns: xmlNS, Bucket: bucket, Key: key, ETag: "\"" + etag + "\"",
	})
}

func (s *Server) abortMultipartUpload(ctx context.Context, w http.ResponseWriter, bucket, key, uploadID string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	upload, err := s.Meta.GetMultipartUpload(ctx, bucket, key, uploadID)
	if err != nil {
		return objerr.New(objerr.NoSuchUpload, "no such upload")
	}
	for _, p := range upload.Parts {
		_ = s.Blobs.Delete(p.BlobRef)
	}
	if err := s.Meta.DeleteMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) listParts(ctx context.Context, w http.ResponseWriter, bucket, key, uploadID string) error {
	upload, err := s.Meta.GetMultipartUpload(ctx, bucket, key, uploadID)
	if err != nil {
		return objerr.New(objerr.NoSuchUpload, "no such upload")
	}
	parts := make([]types.MultipartPart, len(upload.Parts))
	copy(parts, upload.Parts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	resp := listPartsResult{Xmlns: xmlNS, Bucket: bucket, Key: key, UploadID: uploadID}
	for _, p := range parts {
		resp.Parts = append(resp.Parts, xmlPart{
			PartNumber:   p.PartNumber,
			LastModified: formatS3Time(p.LastModified),
			ETag:         "\"" + p.ETag + "\"",
			Size:         p.Size,
		})
	}
	return s.writeXML(w, http.StatusOK, resp)
}
