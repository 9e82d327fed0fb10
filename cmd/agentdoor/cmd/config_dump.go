package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agent-door/agentdoor/internal/config"
)

var configDumpCmd = &cobra.Command{
	Use:   "config-dump",
	Short: "Print the resolved configuration and exit",
	Long: `Load configuration from the environment (and AGENTDOOR_CONFIG_FILE
if set), apply defaults, validate, and print the result as YAML. The
admin API key itself is redacted; only whether it's configured is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		redacted := *cfg
		if redacted.AdminAPIKey != "" {
			redacted.AdminAPIKey = "***"
		}
		if redacted.AdminAPIKeyHash != "" {
			redacted.AdminAPIKeyHash = "***"
		}

		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(&redacted)
	},
}

func init() {
	rootCmd.AddCommand(configDumpCmd)
}
