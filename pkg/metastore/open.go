package metastore

import "strings"

// Open selects a Store implementation by connection-string scheme: a bare
// path or "bbolt://" prefix opens the embedded backend; "warren-meta://"
// dials a shared metaserver. This is the match-dispatched façade spec.md
// §9 calls for — callers never branch on backend again after Open.
func Open(connStr string) (Store, error) {
	switch {
	case strings.HasPrefix(connStr, "warren-meta://"):
		return NewHTTPStore("http://" + strings.TrimPrefix(connStr, "warren-meta://")), nil
	case strings.HasPrefix(connStr, "bbolt://"):
		return NewBoltStore(strings.TrimPrefix(connStr, "bbolt://"))
	default:
		return NewBoltStore(connStr)
	}
}
