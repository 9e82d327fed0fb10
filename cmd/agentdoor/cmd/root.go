// Package cmd provides the CLI commands for Agent Door.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-door/agentdoor/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "agentdoor",
	Short: "Agent Door - multi-tenant agent gateway",
	Long: `Agent Door exposes a uniform agent protocol surface for arbitrary
third-party HTTP/JSON APIs. Register a remote API with its OpenAPI
descriptor and an upstream base URL; Agent Door derives capabilities from
the spec and mounts them under /<slug>/.well-known/agents/....

Configuration is environment-variable only. Every setting is read on
startup with the AGENTDOOR_ prefix (AGENTDOOR_PORT, AGENTDOOR_ADMIN_API_KEY,
AGENTDOOR_BASE_URL, ...); set AGENTDOOR_CONFIG_FILE to also layer a YAML
file underneath the environment.

Commands:
  serve        Start the gateway server
  hash-key     Generate an Argon2id hash for ADMIN_API_KEY_HASH
  config-dump  Print the resolved configuration and exit
  version      Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
