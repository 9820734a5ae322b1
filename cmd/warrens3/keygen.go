package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a master encryption key or a root credential pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		what, _ := cmd.Flags().GetString("type")
		switch what {
		case "master-key":
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate master key: %w", err)
			}
			fmt.Println(hex.EncodeToString(key))
		case "credentials":
			fmt.Printf("access_key: %s\n", uuid.NewString())
			fmt.Printf("secret_key: %s%s\n", uuid.NewString(), uuid.NewString())
		default:
			return fmt.Errorf("--type must be one of: master-key, credentials")
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().String("type", "master-key", "What to generate: master-key or credentials")
}
