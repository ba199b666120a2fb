package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// PluginCmd groups plugin lifecycle operations against the install
// registry's plugin directories. Grounded on cmd/qntx/commands/db.go's
// parent-plus-subcommand shape, same as AppCmd.
var PluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage installed plugins",
	Long:  `plugin — install, remove, and list the plugins buntime loads at startup.`,
}

var pluginInstallCmd = &cobra.Command{
	Use:   "install [archive]",
	Short: "Install a plugin from a local archive or --url",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPluginInstall,
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name> <version>",
	Short: "Remove an installed plugin version",
	Args:  cobra.ExactArgs(2),
	RunE:  runPluginRemove,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE:  runPluginList,
}

func init() {
	PluginCmd.AddCommand(pluginInstallCmd, pluginRemoveCmd, pluginListCmd)
	pluginInstallCmd.Flags().String("url", "", "Fetch the archive from this URL instead of a local file")
}

func runPluginInstall(cmd *cobra.Command, args []string) error {
	reg, _, err := openRegistry()
	if err != nil {
		return err
	}

	if url, _ := cmd.Flags().GetString("url"); url != "" {
		if err := reg.InstallPluginFromURL(filepath.Base(url), url); err != nil {
			return fmt.Errorf("install failed: %w", err)
		}
		pterm.Success.Printf("installed from %s\n", url)
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("either an archive path or --url is required")
	}

	archivePath := args[0]
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	label := filepath.Base(archivePath)
	if err := reg.InstallPlugin(label, f); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}
	pterm.Success.Printf("installed %s\n", label)
	return nil
}

func runPluginRemove(cmd *cobra.Command, args []string) error {
	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	if err := reg.RemovePlugin(args[0], args[1]); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	pterm.Success.Printf("removed %s@%s\n", args[0], args[1])
	return nil
}

func runPluginList(cmd *cobra.Command, args []string) error {
	_, cfg, err := openRegistry()
	if err != nil {
		return err
	}
	return listInstalled(cfg.PluginDirs)
}
