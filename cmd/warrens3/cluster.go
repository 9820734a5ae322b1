package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/warren-s3/pkg/types"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage cluster membership",
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node's cluster endpoint to a running seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, _ := cmd.Flags().GetString("seed")
		name, _ := cmd.Flags().GetString("cluster-name")
		nodeID, _ := cmd.Flags().GetString("node-id")
		addr, _ := cmd.Flags().GetString("address")

		body, err := json.Marshal(struct {
			ClusterName string             `json:"cluster_name"`
			Node        *types.ClusterNode `json:"node"`
		}{
			ClusterName: name,
			Node:        &types.ClusterNode{ID: nodeID, Address: addr, JoinedAt: time.Now().UTC()},
		})
		if err != nil {
			return err
		}

		resp, err := http.Post("http://"+seed+"/cluster/join", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("contact seed %s: %w", seed, err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("seed rejected join: %s", data)
		}
		fmt.Printf("✓ joined cluster %q via seed %s\n", name, seed)
		fmt.Println(string(data))
		return nil
	},
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display cluster status from a node's admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin")
		accessKey, _ := cmd.Flags().GetString("access-key")
		secretKey, _ := cmd.Flags().GetString("secret-key")

		req, err := http.NewRequest(http.MethodGet, "http://"+adminAddr+"/api/v1/cluster/status", nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(accessKey, secretKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("contact admin API %s: %w", adminAddr, err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("admin API returned %d: %s", resp.StatusCode, data)
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterJoinCmd)
	clusterCmd.AddCommand(clusterStatusCmd)

	clusterJoinCmd.Flags().String("seed", "", "Address of an existing cluster member (host:port)")
	clusterJoinCmd.Flags().String("cluster-name", "warren-s3", "Cluster name to join")
	clusterJoinCmd.Flags().String("node-id", "", "This node's ID")
	clusterJoinCmd.Flags().String("address", "", "This node's cluster-endpoint address (host:port)")
	clusterJoinCmd.MarkFlagRequired("seed")
	clusterJoinCmd.MarkFlagRequired("node-id")
	clusterJoinCmd.MarkFlagRequired("address")

	clusterStatusCmd.Flags().String("admin", "127.0.0.1:9001", "Admin API address")
	clusterStatusCmd.Flags().String("access-key", "minioadmin", "Root access key")
	clusterStatusCmd.Flags().String("secret-key", "minioadmin", "Root secret key")
}
