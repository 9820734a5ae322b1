package objectplane

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"

	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/objerr"
	"github.com/cuemby/warren-s3/pkg/types"
)

// --- versioning ---

func (s *Server) getBucketVersioning(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetBucketVersioning")
	if err != nil {
		return err
	}
	status := ""
	if b.VersioningStatus != types.VersioningDisabled {
		status = string(b.VersioningStatus)
	}
	return s.writeXML(w, http.StatusOK, versioningConfiguration{Xmlns: xmlNS, Status: status})
}

func (s *Server) putBucketVersioning(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketVersioning")
	if err != nil {
		return err
	}
	var cfg versioningConfiguration
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &cfg); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed VersioningConfiguration")
	}
	switch cfg.Status {
	case "Enabled":
		b.VersioningStatus = types.VersioningEnabled
	case "Suspended":
		b.VersioningStatus = types.VersioningSuspended
	default:
		return objerr.New(objerr.InvalidArgument, "Status must be Enabled or Suspended")
	}
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventMetadataUpdated, Bucket: bucket})
	w.WriteHeader(http.StatusOK)
	return nil
}

// --- lifecycle ---

func (s *Server) getBucketLifecycle(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetLifecycleConfiguration")
	if err != nil {
		return err
	}
	if b.Lifecycle == nil || len(b.Lifecycle.Rules) == 0 {
		return objerr.New(objerr.NoSuchLifecycleConfiguration, "the bucket has no lifecycle configuration")
	}
	resp := lifecycleConfiguration{Xmlns: xmlNS}
	for _, rule := range b.Lifecycle.Rules {
		xr := xmlLifecycleRule{ID: rule.ID, Status: enabledStatus(rule.Enabled)}
		if rule.Prefix != "" {
			xr.Filter = &lifecycleRuleFilter{Prefix: rule.Prefix}
		}
		if rule.ExpirationDays > 0 {
			xr.Expiration = &lifecycleExpiration{Days: rule.ExpirationDays}
		}
		if rule.NoncurrentExpirationDays > 0 {
			xr.NoncurrentVersionExpiration = &lifecycleExpiration{Days: rule.NoncurrentExpirationDays}
		}
		if rule.AbortIncompleteUploadDays > 0 {
			xr.AbortIncompleteMultipartUpload = &lifecycleAbortIncompleteUpload{DaysAfterInitiation: rule.AbortIncompleteUploadDays}
		}
		resp.Rules = append(resp.Rules, xr)
	}
	return s.writeXML(w, http.StatusOK, resp)
}

func (s *Server) putBucketLifecycle(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutLifecycleConfiguration")
	if err != nil {
		return err
	}
	var cfg lifecycleConfiguration
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &cfg); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed LifecycleConfiguration")
	}
	rules := make([]types.LifecycleRule, 0, len(cfg.Rules))
	for _, xr := range cfg.Rules {
		rule := types.LifecycleRule{ID: xr.ID, Enabled: xr.Status == "Enabled"}
		if xr.Filter != nil {
			rule.Prefix = xr.Filter.Prefix
		}
		if xr.Expiration != nil {
			rule.ExpirationDays = xr.Expiration.Days
		}
		if xr.NoncurrentVersionExpiration != nil {
			rule.NoncurrentExpirationDays = xr.NoncurrentVersionExpiration.Days
		}
		if xr.AbortIncompleteMultipartUpload != nil {
			rule.AbortIncompleteUploadDays = xr.AbortIncompleteMultipartUpload.DaysAfterInitiation
		}
		rules = append(rules, rule)
	}
	b.Lifecycle = &types.LifecycleConfig{Rules: rules}
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventMetadataUpdated, Bucket: bucket})
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) deleteBucketLifecycle(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutLifecycleConfiguration")
	if err != nil {
		return err
	}
	b.Lifecycle = nil
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func enabledStatus(enabled bool) string {
	if enabled {
		return "Enabled"
	}
	return "Disabled"
}

// --- policy (JSON, matching S3's actual bucket policy wire format) ---

func (s *Server) getBucketPolicy(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetBucketPolicy")
	if err != nil {
		return err
	}
	if b.Policy == nil {
		return objerr.New(objerr.NoSuchBucketPolicy, "the bucket policy does not exist")
	}
	body, err := json.Marshal(b.Policy)
	if err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}

func (s *Server) putBucketPolicy(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketPolicy")
	if err != nil {
		return err
	}
	var doc types.PolicyDocument
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return objerr.New(objerr.MalformedPolicy, "malformed policy document")
	}
	b.Policy = &doc
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventMetadataUpdated, Bucket: bucket})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) deleteBucketPolicy(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:DeleteBucketPolicy")
	if err != nil {
		return err
	}
	b.Policy = nil
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- ACL ---

func (s *Server) getBucketACL(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetBucketAcl")
	if err != nil {
		return err
	}
	resp := accessControlPolicy{Xmlns: xmlNS, Owner: xmlOwner{ID: b.Owner, DisplayName: b.Owner}}
	if b.ACL != nil {
		for _, g := range b.ACL.Grants {
			resp.AccessControlList = append(resp.AccessControlList, xmlGrant{
				Grantee:    xmlGrantee{Type: "CanonicalUser", Xsi: "http://www.w3.org/2001/XMLSchema-instance", ID: g.Grantee, DisplayName: g.Grantee},
				Permission: string(g.Permission),
			})
		}
	}
	return s.writeXML(w, http.StatusOK, resp)
}

func (s *Server) putBucketACL(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketAcl")
	if err != nil {
		return err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	acl := &types.ACL{Owner: b.Owner}
	if len(body) > 0 {
		var req accessControlPolicy
		if err := xml.Unmarshal(body, &req); err != nil {
			return objerr.New(objerr.MalformedXML, "malformed AccessControlPolicy")
		}
		for _, g := range req.AccessControlList {
			acl.Grants = append(acl.Grants, types.ACLGrant{Grantee: g.Grantee.ID, Permission: types.ACLPermission(g.Permission)})
		}
	}
	if canned := r.Header.Get("X-Amz-Acl"); canned != "" {
		acl.Grants = append(acl.Grants, cannedACLGrants(canned)...)
	}
	b.ACL = acl
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	s.publish(types.ReplicationEvent{Type: types.EventMetadataUpdated, Bucket: bucket})
	w.WriteHeader(http.StatusOK)
	return nil
}

func cannedACLGrants(canned string) []types.ACLGrant {
	switch canned {
	case "public-read":
		return []types.ACLGrant{{Grantee: "AllUsers", Permission: types.PermissionRead}}
	case "public-read-write":
		return []types.ACLGrant{
			{Grantee: "AllUsers", Permission: types.PermissionRead},
			{Grantee: "AllUsers", Permission: types.PermissionWrite},
		}
	default:
		return nil
	}
}

// --- CORS ---
//
// Bucket.CORS isn't part of the domain model: the object plane has no
// browser-facing preflight path to enforce rules against, so CORS config
// is routed and validated but never persisted.

func (s *Server) getBucketCORS(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetBucketCORS"); err != nil {
		return err
	}
	return objerr.New(objerr.NoSuchCORSConfiguration, "the bucket has no CORS configuration")
}

func (s *Server) putBucketCORS(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketCORS"); err != nil {
		return err
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	var cfg corsConfiguration
	if err := xml.Unmarshal(body, &cfg); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed CORSConfiguration")
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) deleteBucketCORS(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketCORS"); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- notification ---
//
// Same story as CORS: routed and accepted so a client's GET/PUT round
// trips cleanly, but there is no event-notification delivery path behind
// it yet.

func (s *Server) getBucketNotification(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetBucketNotification"); err != nil {
		return err
	}
	return s.writeXML(w, http.StatusOK, notificationConfiguration{Xmlns: xmlNS})
}

func (s *Server) putBucketNotification(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketNotification"); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, r.Body)
	w.WriteHeader(http.StatusOK)
	return nil
}

// --- object lock ---

func (s *Server) getBucketObjectLock(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:GetBucketObjectLockConfiguration")
	if err != nil {
		return err
	}
	if b.ObjectLockMode == types.ObjectLockNone {
		return objerr.New(objerr.ObjectLockConfigurationNotFoundError, "object lock configuration does not exist")
	}
	return s.writeXML(w, http.StatusOK, objectLockConfiguration{
		Xmlns:             xmlNS,
		ObjectLockEnabled: "Enabled",
		Rule: &objectLockRule{
			DefaultRetention: objectLockDefaultRetention{Mode: string(b.ObjectLockMode)},
		},
	})
}

func (s *Server) putBucketObjectLock(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	b, err := s.checkBucketAccess(ctx, bucket, principal, "s3:PutBucketObjectLockConfiguration")
	if err != nil {
		return err
	}
	var cfg objectLockConfiguration
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &cfg); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed ObjectLockConfiguration")
	}
	mode := types.ObjectLockNone
	if cfg.Rule != nil {
		switch cfg.Rule.DefaultRetention.Mode {
		case "GOVERNANCE":
			mode = types.ObjectLockGovernance
		case "COMPLIANCE":
			mode = types.ObjectLockCompliance
		}
	}
	b.ObjectLockMode = mode
	if err := s.Meta.UpdateBucket(ctx, b); err != nil {
		return objerr.New(objerr.InternalError, err.Error())
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// --- ListObjectVersions (bucket ?versions) ---

func (s *Server) listObjectVersionsBucket(ctx context.Context, w http.ResponseWriter, bucket string, q map[string][]string, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:ListBucketVersions"); err != nil {
		return err
	}
	get := queryGetter(q)
	result, err := s.Meta.ListObjects(ctx, metastore.ListQuery{Bucket: bucket, Prefix: get("prefix"), Delimiter: get("delimiter")})
	if err != nil {
		if err == metastore.ErrNotFound {
			return objerr.New(objerr.NoSuchBucket, "no such bucket")
		}
		return objerr.New(objerr.InternalError, err.Error())
	}
	resp := listVersionsResult{
		Xmlns: xmlNS, Name: bucket, Prefix: result.Prefix, KeyMarker: get("key-marker"),
		MaxKeys: result.MaxKeys, IsTruncated: result.IsTruncated,
	}
	// ListObjects only surfaces keys whose latest version is not a delete
	// marker; walk each such key's full history to report every version
	// and delete marker. Keys whose latest version is a delete marker are
	// not listed.
	seen := make(map[string]bool, len(result.Contents))
	for _, c := range result.Contents {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		versions, err := s.Meta.ListObjectVersions(ctx, bucket, c.Key)
		if err != nil {
			return objerr.New(objerr.InternalError, err.Error())
		}
		for _, v := range versions {
			xv := xmlObjectVersion{
				Key: v.Key, VersionID: v.VersionID, IsLatest: v.IsLatest,
				LastModified: formatS3Time(v.LastModified), ETag: "\"" + v.ETag + "\"",
				Size: v.Size, StorageClass: orDefault(v.StorageClass, "STANDARD"),
			}
			if v.IsDeleteMarker {
				resp.DeleteMarkers = append(resp.DeleteMarkers, xv)
			} else {
				resp.Versions = append(resp.Versions, xv)
			}
		}
	}
	return s.writeXML(w, http.StatusOK, resp)
}

// --- ListMultipartUploads (bucket ?uploads) ---

func (s *Server) listMultipartUploadsBucket(ctx context.Context, w http.ResponseWriter, bucket, principal string) error {
	if _, err := s.checkBucketAccess(ctx, bucket, principal, "s3:ListMultipartUploads"); err != nil {
		return err
	}
	uploads, err := s.Meta.ListMultipartUploads(ctx, bucket)
	if err != nil {
		if err == metastore.ErrNotFound {
			return objerr.New(objerr.NoSuchBucket, "no such bucket")
		}
		return objerr.New(objerr.InternalError, err.Error())
	}
	resp := listMultipartUploadsResult{Xmlns: xmlNS, Bucket: bucket}
	for _, u := range uploads {
		resp.Uploads = append(resp.Uploads, xmlMultipartUpload{Key: u.Key, UploadID: u.UploadID, Initiated: formatS3Time(u.Initiated)})
	}
	return s.writeXML(w, http.StatusOK, resp)
}

// --- DeleteObjects (POST ?delete) ---

func (s *Server) deleteObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, principal string) error {
	if err := s.requirePrimary(); err != nil {
		return err
	}
	bkt, err := s.checkBucketAccess(ctx, bucket, principal, "s3:DeleteObject")
	if err != nil {
		return err
	}
	var req deleteRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return objerr.New(objerr.InvalidRequest, err.Error())
	}
	if err := xml.Unmarshal(body, &req); err != nil {
		return objerr.New(objerr.MalformedXML, "malformed Delete request")
	}

	resp := deleteResult{Xmlns: xmlNS}
	for _, obj := range req.Objects {
		if err := s.deleteOneObject(ctx, bkt, obj.Key, obj.VersionID); err != nil {
			code, msg := objerr.InternalError.Code(), err.Error()
			if oe, ok := err.(*objerr.Error); ok {
				code, msg = oe.Kind.Code(), oe.Message
			}
			resp.Errors = append(resp.Errors, xmlDeleteError{Key: obj.Key, Code: code, Message: msg})
			continue
		}
		s.publish(types.ReplicationEvent{Type: types.EventObjectDeleted, Bucket: bucket, Key: obj.Key})
		if !req.Quiet {
			resp.Deleted = append(resp.Deleted, xmlDeletedObject{Key: obj.Key, VersionID: obj.VersionID})
		}
	}
	return s.writeXML(w, http.StatusOK, resp)
}
