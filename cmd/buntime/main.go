package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zommehq/buntime/cmd/buntime/commands"
	"github.com/zommehq/buntime/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "buntime",
	Short: "buntime - multi-tenant application runtime",
	Long: `buntime - a worker-pool dispatch core for multi-tenant apps.

buntime installs apps and plugins into content-addressed directories,
dispatches incoming HTTP requests to a pool of per-app worker
processes, and exposes an admin API for operating the pool.

Available commands:
  serve   - Start the buntime HTTP server
  app     - Manage installed apps
  plugin  - Manage installed plugins
  version - Show buntime version information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetVerbosity(verbosity)
		if cmd.Name() != "serve" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AppCmd)
	rootCmd.AddCommand(commands.PluginCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
