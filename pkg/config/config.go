// Package config loads the node's configuration tree from a YAML file and
// applies WARREN_S3_* environment variable overrides, mirroring the
// section layout and precedence (file, then env) of hafiz-core::config,
// the Rust prototype this project was distilled from, rendered in the
// teacher's small-explicit-struct style rather than a reflection-based
// binder.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full node configuration tree.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	TLS        TLSConfig        `yaml:"tls"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Logging    LoggingConfig    `yaml:"logging"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	LDAP       LDAPConfig       `yaml:"ldap"`
}

type ServerConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	AdminPort      int    `yaml:"admin_port"`
	Workers        int    `yaml:"workers"`
	MaxConnections int    `yaml:"max_connections"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs"`
}

type TLSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	CAFile      string `yaml:"ca_file"`
	MinVersion  string `yaml:"min_version"`
	HSTSEnabled bool   `yaml:"hsts_enabled"`
	HSTSMaxAge  int    `yaml:"hsts_max_age"`
}

func (t TLSConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.enabled")
	}
	return nil
}

type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	TempDir       string `yaml:"temp_dir"`
	MaxObjectSize int64  `yaml:"max_object_size"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MinConnections int    `yaml:"min_connections"`
}

type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RootAccessKey string `yaml:"root_access_key"`
	RootSecretKey string `yaml:"root_secret_key"`
}

type EncryptionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SSES3Enabled  bool   `yaml:"sse_s3_enabled"`
	SSECEnabled   bool   `yaml:"sse_c_enabled"`
	MasterKey     string `yaml:"master_key"`
	MasterKeyFile string `yaml:"master_key_file"`
	MasterKeyEnv  string `yaml:"master_key_env"`
}

// ResolveMasterKey follows the direct-key, then file, then env priority
// order hafiz-core::config::EncryptionConfig::get_master_key documents,
// returning the raw 32-byte key.
func (e EncryptionConfig) ResolveMasterKey() ([]byte, error) {
	hexKey := e.MasterKey
	if hexKey == "" && e.MasterKeyFile != "" {
		data, err := os.ReadFile(e.MasterKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read master_key_file: %w", err)
		}
		hexKey = string(data)
	}
	if hexKey == "" && e.MasterKeyEnv != "" {
		hexKey = os.Getenv(e.MasterKeyEnv)
	}
	if hexKey == "" {
		if !e.Enabled {
			return nil, nil
		}
		return nil, fmt.Errorf("encryption enabled but no master key source configured")
	}
	return decodeHexKey(hexKey)
}

func decodeHexKey(s string) ([]byte, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("master key must be 64 hex characters (32 bytes), got %d", len(s))
	}
	out := make([]byte, 32)
	for i := 0; i < 32; i++ {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid hex in master key: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "pretty" or "json"
}

type LifecycleConfig struct {
	SweepIntervalSecs int `yaml:"sweep_interval_secs"`
}

type ClusterConfig struct {
	NodeID            string        `yaml:"node_id"`
	Name              string        `yaml:"name"`
	ClusterEndpoint   string        `yaml:"cluster_endpoint"`
	Seeds             []string      `yaml:"seeds"`
	RaftDir           string        `yaml:"raft_dir"`
	Weight            uint32        `yaml:"weight"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	NodeTimeout       time.Duration `yaml:"node_timeout"`
	MaxConcurrent     int           `yaml:"max_concurrent_replication"`
	RetryBaseMillis   int           `yaml:"retry_base_millis"`
	MaxRetries        int           `yaml:"max_retries"`
	SyncQuorumWaitSecs int          `yaml:"sync_quorum_wait_secs"`
}

// LDAPConfig configures the optional external-directory secondary
// credential source exposed through the admin surface's /ldap/* routes.
type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	UserBaseDN   string `yaml:"user_base_dn"`
	UserFilter   string `yaml:"user_filter"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs"`
}

// Default returns the baseline config, mirroring hafiz-core::config's
// per-section Default impls (port 9000/admin 9001, root credentials
// "minioadmin"/"minioadmin", etc).
func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddress:        "0.0.0.0",
			Port:               9000,
			AdminPort:          9001,
			Workers:            runtime.NumCPU(),
			MaxConnections:     10000,
			RequestTimeoutSecs: 300,
		},
		TLS: TLSConfig{MinVersion: "TLS1.2", HSTSEnabled: true, HSTSMaxAge: 31536000},
		Storage: StorageConfig{
			DataDir: "/data/warren-s3",
			TempDir: "/tmp/warren-s3",
		},
		Database: DatabaseConfig{
			URL:            "bbolt:///data/warren-s3/catalog.db",
			MaxConnections: 100,
			MinConnections: 5,
		},
		Auth: AuthConfig{
			Enabled:       true,
			RootAccessKey: "minioadmin",
			RootSecretKey: "minioadmin",
		},
		Encryption: EncryptionConfig{SSES3Enabled: true, SSECEnabled: true},
		Logging:    LoggingConfig{Level: "info", Format: "pretty"},
		Lifecycle:  LifecycleConfig{SweepIntervalSecs: 3600},
		Cluster: ClusterConfig{
			Name:               "warren-s3",
			ClusterEndpoint:    "0.0.0.0:9100",
			RaftDir:            "/data/warren-s3/raft",
			Weight:             1,
			HeartbeatInterval:  5 * time.Second,
			NodeTimeout:        15 * time.Second,
			MaxConcurrent:      8,
			RetryBaseMillis:    500,
			MaxRetries:         5,
			SyncQuorumWaitSecs: 10,
		},
		LDAP: LDAPConfig{UserFilter: "(uid=%s)", TimeoutSecs: 10, CacheTTLSecs: 300},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// WARREN_S3_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.TLS.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	strOverride(&cfg.Server.BindAddress, "WARREN_S3_BIND_ADDRESS")
	intOverride(&cfg.Server.Port, "WARREN_S3_PORT")
	intOverride(&cfg.Server.AdminPort, "WARREN_S3_ADMIN_PORT")
	strOverride(&cfg.Storage.DataDir, "WARREN_S3_DATA_DIR")
	strOverride(&cfg.Database.URL, "WARREN_S3_METADATA_URL")
	strOverride(&cfg.Auth.RootAccessKey, "WARREN_S3_ROOT_ACCESS_KEY")
	strOverride(&cfg.Auth.RootSecretKey, "WARREN_S3_ROOT_SECRET_KEY")
	strOverride(&cfg.Logging.Level, "WARREN_S3_LOG_LEVEL")
	strOverride(&cfg.TLS.CertFile, "WARREN_S3_TLS_CERT")
	strOverride(&cfg.TLS.KeyFile, "WARREN_S3_TLS_KEY")
	strOverride(&cfg.Encryption.MasterKey, "WARREN_S3_ENCRYPTION_KEY")
	boolOverride(&cfg.Encryption.SSES3Enabled, "WARREN_S3_SSE_S3_ENABLED")
	boolOverride(&cfg.Encryption.SSECEnabled, "WARREN_S3_SSE_C_ENABLED")
	if seeds := os.Getenv("WARREN_S3_CLUSTER_SEEDS"); seeds != "" {
		cfg.Cluster.Seeds = splitCSV(seeds)
	}
	strOverride(&cfg.Cluster.NodeID, "WARREN_S3_NODE_ID")
	strOverride(&cfg.Cluster.ClusterEndpoint, "WARREN_S3_CLUSTER_ENDPOINT")
	strOverride(&cfg.LDAP.URL, "WARREN_S3_LDAP_URL")
}

func strOverride(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intOverride(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func boolOverride(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
