package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/warren-s3/pkg/config"
	"github.com/cuemby/warren-s3/pkg/metastore"
	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bootstrap or back up the embedded catalog database",
	Long: `migrate ensures a node's catalog.db has every bucket the current
schema expects, backing up any existing file first, and seeds the root
credential from config if the catalog has none yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runMigrate(cfg, dryRun)
	},
}

func init() {
	migrateCmd.Flags().String("config", "", "Path to YAML config file")
	migrateCmd.Flags().Bool("dry-run", false, "Show what would change without writing anything")
}

func runMigrate(cfg config.Config, dryRun bool) error {
	dbPath := filepath.Join(cfg.Storage.DataDir, "catalog.db")
	if _, err := os.Stat(dbPath); err == nil {
		backupPath := dbPath + ".backup"
		fmt.Printf("Existing catalog found at %s\n", dbPath)
		if dryRun {
			fmt.Printf("[dry run] would back up to %s\n", backupPath)
		} else {
			if err := copyFile(dbPath, backupPath); err != nil {
				return fmt.Errorf("backup catalog: %w", err)
			}
			fmt.Printf("✓ backed up to %s\n", backupPath)
		}
	}

	if dryRun {
		fmt.Println("[dry run] would open/create catalog and ensure schema buckets")
		return nil
	}

	store, err := metastore.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()
	fmt.Println("✓ catalog schema up to date")

	ctx := context.Background()
	if _, err := store.GetCredentials(ctx, cfg.Auth.RootAccessKey); err != nil {
		root := &types.Credentials{
			AccessKeyID:     cfg.Auth.RootAccessKey,
			SecretAccessKey: cfg.Auth.RootSecretKey,
			Principal:       "root",
			CreatedAt:       time.Now().UTC(),
		}
		if err := store.PutCredentials(ctx, root); err != nil {
			return fmt.Errorf("seed root credential: %w", err)
		}
		fmt.Printf("✓ seeded root credential %s\n", cfg.Auth.RootAccessKey)
	} else {
		fmt.Println("✓ root credential already present")
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
