package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warren-s3/pkg/admin"
	"github.com/cuemby/warren-s3/pkg/auth"
	"github.com/cuemby/warren-s3/pkg/blobstore"
	"github.com/cuemby/warren-s3/pkg/cluster"
	"github.com/cuemby/warren-s3/pkg/config"
	"github.com/cuemby/warren-s3/pkg/crypto"
	"github.com/cuemby/warren-s3/pkg/log"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/objectplane"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the object-plane, admin, and cluster listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file (overrides --config on root)")
}

func runServe(cfg config.Config) error {
	meta, err := metastore.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}

	blobs, err := blobstore.NewFSStore(cfg.Storage.DataDir, cfg.Storage.TempDir)
	if err != nil {
		return fmt.Errorf("open blobstore: %w", err)
	}

	var masterKey *crypto.MasterKey
	if cfg.Encryption.Enabled {
		key, err := cfg.Encryption.ResolveMasterKey()
		if err != nil {
			return fmt.Errorf("resolve master key: %w", err)
		}
		if key != nil {
			masterKey, err = crypto.NewMasterKey(key)
			if err != nil {
				return fmt.Errorf("load master key: %w", err)
			}
		}
	}

	clusterCfg := cluster.Config{
		NodeID:            cfg.Cluster.NodeID,
		APIEndpoint:       fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		ClusterEndpoint:   cfg.Cluster.ClusterEndpoint,
		ClusterName:       cfg.Cluster.Name,
		Seeds:             cfg.Cluster.Seeds,
		RaftDir:           cfg.Cluster.RaftDir,
		Version:           Version,
		Weight:            cfg.Cluster.Weight,
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		NodeTimeout:       cfg.Cluster.NodeTimeout,
		MaxConcurrent:     cfg.Cluster.MaxConcurrent,
		RetryBase:         time.Duration(cfg.Cluster.RetryBaseMillis) * time.Millisecond,
		MaxRetries:        cfg.Cluster.MaxRetries,
		SyncQuorumWait:    time.Duration(cfg.Cluster.SyncQuorumWaitSecs) * time.Second,
	}

	clstr, err := cluster.New(clusterCfg, meta, blobs, cluster.NewHTTPTransport())
	if err != nil {
		return fmt.Errorf("init cluster: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := clstr.Start(ctx); err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	defer clstr.Stop()

	var credLookup objectplane.CredentialLookup
	if cfg.Auth.Enabled {
		credLookup = auth.CredentialLookup(ctx, meta)
	}

	planeServer := &objectplane.Server{
		Meta:        meta,
		Blobs:       blobs,
		MasterKey:   masterKey,
		Events:      clstr,
		NodeRole:    clstr.NodeRole,
		Owner:       cfg.Auth.RootAccessKey,
		Credentials: credLookup,
	}

	var ldapClient *auth.LDAPClient
	if cfg.LDAP.Enabled {
		ldapClient = auth.NewLDAPClient(auth.LDAPConfig{
			Enabled:      cfg.LDAP.Enabled,
			URL:          cfg.LDAP.URL,
			BindDN:       cfg.LDAP.BindDN,
			BindPassword: cfg.LDAP.BindPassword,
			UserBaseDN:   cfg.LDAP.UserBaseDN,
			UserFilter:   cfg.LDAP.UserFilter,
			Timeout:      time.Duration(cfg.LDAP.TimeoutSecs) * time.Second,
			CacheTTLSecs: cfg.LDAP.CacheTTLSecs,
		})
	}

	adminServer := &admin.Server{
		Meta:          meta,
		Cluster:       clstr,
		LDAP:          ldapClient,
		RootAccessKey: cfg.Auth.RootAccessKey,
		RootSecretKey: cfg.Auth.RootSecretKey,
		Version:       Version,
	}

	clusterServer := &cluster.Server{Cluster: clstr}

	planeAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	adminAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.AdminPort)

	planeHTTP := &http.Server{Addr: planeAddr, Handler: planeServer}
	adminHTTP := &http.Server{Addr: adminAddr, Handler: adminServer}
	clusterHTTP := &http.Server{Addr: cfg.Cluster.ClusterEndpoint, Handler: clusterServer}

	errCh := make(chan error, 3)
	go func() { errCh <- listenAndServe(planeHTTP, "object plane", planeAddr) }()
	go func() { errCh <- listenAndServe(adminHTTP, "admin", adminAddr) }()
	go func() { errCh <- listenAndServe(clusterHTTP, "cluster", cfg.Cluster.ClusterEndpoint) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		log.Errorf("listener error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	planeHTTP.Shutdown(shutdownCtx)
	adminHTTP.Shutdown(shutdownCtx)
	clusterHTTP.Shutdown(shutdownCtx)

	return nil
}

func listenAndServe(srv *http.Server, name, addr string) error {
	log.Info(fmt.Sprintf("%s listening on %s", name, addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
