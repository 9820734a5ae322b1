package objectplane

import (
	"bytes"
	"io"
	"net/http"

	"github.com/cuemby/warren-s3/pkg/auth"
	"github.com/cuemby/warren-s3/pkg/crypto"
	"github.com/cuemby/warren-s3/pkg/objerr"
	"github.com/cuemby/warren-s3/pkg/types"
)

// CredentialLookup is set once at server construction time; it is the
// auth package's metastore-backed SigningKey adapter.
type CredentialLookup = crypto.SigningKey

// authenticate verifies the request's SigV4 signature, trying the
// Authorization header form first and falling back to the presigned
// query-string form, matching the precedence the wire protocol's own
// client libraries use.
func (s *Server) authenticate(r *http.Request) (principal string, err error) {
	if s.Credentials == nil {
		return "anonymous", nil
	}

	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signed := crypto.SignedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header,
		Body:   body,
	}

	if r.Header.Get("Authorization") != "" {
		return crypto.VerifyHeaderAuth(signed, s.Credentials)
	}
	if r.URL.Query().Get("X-Amz-Signature") != "" {
		return crypto.VerifyPresignedAuth(signed, s.Credentials)
	}
	return "", objerr.New(objerr.AccessDenied, "request is not signed")
}

// authorize checks the bucket's policy (if any) for the given action and
// resource, then the bucket's ACL (if any). A bucket with neither a policy
// nor an ACL admits only its owner — spec.md's auth model treats an absent
// policy as "owner only", not "world readable".
func (s *Server) authorize(bucket *types.Bucket, principal, action, resource string) error {
	if principal == bucket.Owner {
		return nil
	}
	if bucket.Policy != nil && auth.Evaluate(bucket.Policy, auth.Request{
		Principal: principal, Action: action, Resource: resource,
	}) {
		return nil
	}
	if bucket.ACL != nil && auth.EvaluateACL(bucket.ACL, principal, aclPermissionFor(action)) {
		return nil
	}
	return objerr.New(objerr.AccessDenied, "access denied")
}

func aclPermissionFor(action string) types.ACLPermission {
	switch action {
	case "s3:GetObject", "s3:ListBucket", "s3:GetBucketLocation":
		return types.PermissionRead
	case "s3:PutObject", "s3:DeleteObject":
		return types.PermissionWrite
	default:
		return types.PermissionFullControl
	}
}
