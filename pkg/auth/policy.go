// Package auth evaluates bucket policies and ACLs against a requested
// action, and adapts the metadata store's credential table into the
// crypto package's SigV4 SigningKey lookup.
//
// Evaluation order is grounded on hafiz-core::types::policy::PolicyDocument::evaluate:
// an explicit Deny anywhere in the statement list wins outright; absent
// that, an explicit Allow wins; absent both, the default is Deny.
package auth

import (
	"context"
	"strings"

	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/types"
)

// Request is the (principal, action, resource) triple policy evaluation
// checks against a PolicyDocument.
type Request struct {
	Principal string
	Action    string // e.g. "s3:GetObject"
	Resource  string // e.g. "arn:aws:s3:::bucket/key"
}

// decision is the outcome of evaluating one statement.
type decision int

const (
	noMatch decision = iota
	allow
	explicitDeny
)

// Evaluate walks every statement in doc and returns true iff the request
// is allowed: a single ExplicitDeny anywhere short-circuits to false;
// otherwise any Allow makes it true; no match at all is false (default
// deny).
func Evaluate(doc *types.PolicyDocument, req Request) bool {
	if doc == nil {
		return false
	}
	sawAllow := false
	for _, stmt := range doc.Statement {
		switch evaluateStatement(stmt, req) {
		case explicitDeny:
			return false
		case allow:
			sawAllow = true
		}
	}
	return sawAllow
}

func evaluateStatement(stmt types.PolicyStatement, req Request) decision {
	if !matchesAny(stmt.Action, req.Action) {
		return noMatch
	}
	if !matchesAny(stmt.Resource, req.Resource) {
		return noMatch
	}
	if len(stmt.Principal) > 0 && !matchesAny(stmt.Principal, req.Principal) {
		return noMatch
	}
	if stmt.Effect == types.EffectDeny {
		return explicitDeny
	}
	return allow
}

// matchesAny reports whether value matches any pattern in patterns, where
// patterns may use "*" as a full wildcard or a trailing "prefix*" match —
// the same coarse wildcard semantics hafiz's PolicyStatement::matches uses
// (condition-block evaluation is intentionally not implemented, matching
// the original, which also leaves it a TODO).
func matchesAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if matchOne(p, value) {
			return true
		}
	}
	return false
}

func matchOne(pattern, value string) bool {
	if pattern == "*" || pattern == "s3:*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// EvaluateACL checks a coarse grant list alongside (not instead of)
// PolicyDocument evaluation: any grant naming the principal (or "*", the
// canned "AllUsers" grantee) at or above the requested permission allows
// the request.
func EvaluateACL(acl *types.ACL, principal string, want types.ACLPermission) bool {
	if acl == nil {
		return false
	}
	if acl.Owner == principal {
		return true
	}
	for _, g := range acl.Grants {
		if g.Grantee != principal && g.Grantee != "*" {
			continue
		}
		if g.Permission == types.PermissionFullControl || g.Permission == want {
			return true
		}
	}
	return false
}

// CredentialLookup adapts the metastore's credential table into the
// crypto package's SigningKey function, so SigV4 verification never
// touches the metastore directly.
func CredentialLookup(ctx context.Context, store metastore.Store) func(accessKeyID string) (string, bool) {
	return func(accessKeyID string) (string, bool) {
		creds, err := store.GetCredentials(ctx, accessKeyID)
		if err != nil || creds.Disabled {
			return "", false
		}
		return creds.SecretAccessKey, true
	}
}
