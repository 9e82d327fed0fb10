package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-door/agentdoor/internal/adapter/inbound/gateway"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-key]",
	Short: "Generate an Argon2id hash for ADMIN_API_KEY_HASH",
	Long: `Generate an Argon2id hash of an admin API key for use as
AGENTDOOR_ADMIN_API_KEY_HASH, so the raw key never needs to live in the
environment of the running process.

Example:
  agentdoor hash-key "my-admin-key"

Security note: the key will appear in shell history. Consider clearing
history after use, or pass it via a variable: agentdoor hash-key "$KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := gateway.HashAdminKey(args[0])
		if err != nil {
			return fmt.Errorf("hash admin key: %w", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
