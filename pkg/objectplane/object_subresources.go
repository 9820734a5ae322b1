package objectplane

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/warren-s3/pkg/objerr"
	"github.com/cuemby/warren-s3/pkg/types"
)

// --- tagging ---

func (s *Server) getObjectTagging(ctx context.Context, w http.ResponseWriter, bucket, key, versionID, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetObjectTagging"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	resp := tagging{Xmlns: xmlNS}
	for k, v := range ver.Tags {
		resp.TagSet = append(resp.TagSet, xmlTag{Key: k, Value: v})
	}
	return s.writeXML(w, http.StatusOK, resp)
}

func (s *Server) putObjectTagging(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, versionID, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObjectTagging"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	var req tagging
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &req); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed Tagging")
	}
	tags := make(map[string]string, len(req.TagSet))
	for _, t := range req.TagSet {
		tags[t.Key] = t.Value
	}
	ver.Tags = tags
	if err := s.Meta.PutObjectVersion(ctx, ver); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) deleteObjectTagging(ctx context.Context, w http.ResponseWriter, bucket, key, versionID, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObjectTagging"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	ver.Tags = nil
	if err := s.Meta.PutObjectVersion(ctx, ver); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- ACL ---
//
// spec.md models access control at the bucket (policy + ACL), not per
// object version, so a per-object grant list has no backing field. GET
// reports the owner's implicit FULL_CONTROL grant; PUT is accepted and
// discarded rather than left unrouted.

func (s *Server) getObjectACL(ctx context.Context, w http.ResponseWriter, bucket, key, versionID, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetObjectAcl")
	if err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	resp := accessControlPolicy{Xmlns: xmlNS, Owner: xmlOwner{ID: b.Owner, DisplayName: b.Owner}}
	resp.AccessControlList = append(resp.AccessControlList, xmlGrant{
		Grantee:    xmlGrantee{Type: "CanonicalUser", Xsi: "http://www.w3.org/2001/XMLSchema-instance", ID: b.Owner, DisplayName: b.Owner},
		Permission: string(types.PermissionFullControl),
	})
	return s.writeXML(w, http.StatusOK, resp)
}

func (s *Server) putObjectACL(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, versionID, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObjectAcl"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	_, _ = io.Copy(io.Discard, r.Body)
	w.WriteHeader(http.StatusOK)
	return nil
}

// --- retention ---

func (s *Server) getObjectRetention(ctx context.Context, w http.ResponseWriter, bucket, key, versionID, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetObjectRetention")
	if err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	if ver.RetainUntil == nil {
		return objerr.New(objerr.InvalidRequest, "this object has no retention configured")
	}
	mode := string(b.ObjectLockMode)
	if mode == "" {
		mode = "GOVERNANCE"
	}
	return s.writeXML(w, http.StatusOK, retention{Xmlns: xmlNS, Mode: mode, RetainUntilDate: formatS3Time(*ver.RetainUntil)})
}

func (s *Server) putObjectRetention(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, versionID, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObjectRetention"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	var req retention
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &req); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed Retention")
	}
	t, perr := time.Parse("2006-01-02T15:04:05.000Z", req.RetainUntilDate)
	if perr != nil {
		return objerr.New(objerr.InvalidArgument, "malformed RetainUntilDate")
	}
	ver.RetainUntil = &t
	if err := s.Meta.PutObjectVersion(ctx, ver); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// --- legal hold ---

func (s *Server) getObjectLegalHold(ctx context.Context, w http.ResponseWriter, bucket, key, versionID, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetObjectLegalHold"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	status := "OFF"
	if ver.LegalHold {
		status = "ON"
	}
	return s.writeXML(w, http.StatusOK, legalHold{Xmlns: xmlNS, Status: status})
}

func (s *Server) putObjectLegalHold(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key, versionID, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutObjectLegalHold"); err != nil {
		return err
	}
	ver, err := s.Meta.GetObjectVersion(ctx, bucket, key, versionID)
	if err != nil || ver.IsDeleteMarker {
		return objerr.New(objerr.NoSuchKey, "no such key")
	}
	var req legalHold
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &req); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed LegalHold")
	}
	ver.LegalHold = req.Status == "ON"
	if err := s.Meta.PutObjectVersion(ctx, ver); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusOK)
	return nil
}
