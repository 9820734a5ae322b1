package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap"
)

// LDAPConfig configures an optional external directory as a secondary
// credential source for the admin surface's /ldap/* endpoints. Mirrors
// the fields the teacher's small-explicit-struct config style favors.
type LDAPConfig struct {
	Enabled       bool
	URL           string // e.g. "ldap://directory.internal:389"
	BindDN        string
	BindPassword  string
	UserBaseDN    string
	UserFilter    string // e.g. "(uid=%s)"
	Timeout       time.Duration
	CacheTTLSecs  int // 0 disables caching
}

// cachedUser is one entry in LDAPClient's user-lookup cache, grounded on
// original_source's LdapClient user cache (reduces directory round
// trips for repeated lookups of the same username within CacheTTLSecs).
type cachedUser struct {
	dn        string
	attrs     map[string][]string
	cachedAt  time.Time
}

// LDAPStatus is the payload for GET /api/v1/ldap/status.
type LDAPStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// LDAPClient wraps github.com/go-ldap/ldap for the admin surface's
// connection test, username search, and bind-as-user authentication
// test endpoints. Each call opens and closes its own connection rather
// than pooling one, matching the low call volume of an admin-only,
// human-driven surface.
type LDAPClient struct {
	cfg LDAPConfig

	mu    sync.RWMutex
	cache map[string]cachedUser
}

// NewLDAPClient returns a client; it does not dial until a method is called.
func NewLDAPClient(cfg LDAPConfig) *LDAPClient {
	return &LDAPClient{cfg: cfg, cache: make(map[string]cachedUser)}
}

// ClearCache backs POST /api/v1/ldap/clear-cache.
func (c *LDAPClient) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cachedUser)
}

func (c *LDAPClient) cacheLookup(username string) (cachedUser, bool) {
	if c.cfg.CacheTTLSecs <= 0 {
		return cachedUser{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.cache[username]
	if !ok || time.Since(u.cachedAt) > time.Duration(c.cfg.CacheTTLSecs)*time.Second {
		return cachedUser{}, false
	}
	return u, true
}

func (c *LDAPClient) cacheStore(username string, u cachedUser) {
	if c.cfg.CacheTTLSecs <= 0 {
		return
	}
	u.cachedAt = time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[username] = u
}

func (c *LDAPClient) dial() (*ldap.Conn, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("ldap: no url configured")
	}
	conn, err := ldap.DialURL(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ldap: dial %s: %w", c.cfg.URL, err)
	}
	if c.cfg.Timeout > 0 {
		conn.SetTimeout(c.cfg.Timeout)
	}
	return conn, nil
}

// TestConnection backs POST /api/v1/ldap/test-connection: dial and, if
// a bind DN is configured, bind with it.
func (c *LDAPClient) TestConnection() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if c.cfg.BindDN == "" {
		return nil
	}
	if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		return fmt.Errorf("ldap: service bind failed: %w", err)
	}
	return nil
}

// SearchUser backs POST /api/v1/ldap/test-search: binds as the service
// account, then searches UserBaseDN for a single entry matching
// UserFilter with username substituted in.
func (c *LDAPClient) SearchUser(username string) (dn string, attrs map[string][]string, err error) {
	if cached, ok := c.cacheLookup(username); ok {
		return cached.dn, cached.attrs, nil
	}

	conn, err := c.dial()
	if err != nil {
		return "", nil, err
	}
	defer conn.Close()

	if c.cfg.BindDN != "" {
		if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
			return "", nil, fmt.Errorf("ldap: service bind failed: %w", err)
		}
	}

	filter := c.cfg.UserFilter
	if filter == "" {
		filter = "(uid=%s)"
	}
	req := ldap.NewSearchRequest(
		c.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		fmt.Sprintf(filter, ldap.EscapeFilter(username)),
		nil, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return "", nil, fmt.Errorf("ldap: search failed: %w", err)
	}
	if len(res.Entries) == 0 {
		return "", nil, fmt.Errorf("ldap: no entry for %q", username)
	}
	entry := res.Entries[0]
	out := make(map[string][]string, len(entry.Attributes))
	for _, a := range entry.Attributes {
		out[a.Name] = a.Values
	}
	c.cacheStore(username, cachedUser{dn: entry.DN, attrs: out})
	return entry.DN, out, nil
}

// Authenticate backs POST /api/v1/ldap/test-auth: resolves username to
// a DN via SearchUser, then attempts to bind as that DN with password.
// A successful bind is the entire test; no session or token is issued.
func (c *LDAPClient) Authenticate(username, password string) error {
	dn, _, err := c.SearchUser(username)
	if err != nil {
		return err
	}
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Bind(dn, password); err != nil {
		return fmt.Errorf("ldap: user bind failed: %w", err)
	}
	return nil
}

// Status backs GET /api/v1/ldap/status, collapsing TestConnection's
// error into a flat, JSON-friendly report.
func (c *LDAPClient) Status() LDAPStatus {
	st := LDAPStatus{Enabled: c.cfg.Enabled}
	if !c.cfg.Enabled {
		return st
	}
	if err := c.TestConnection(); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Connected = true
	return st
}
