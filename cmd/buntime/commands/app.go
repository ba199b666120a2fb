package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/zommehq/buntime/internal/config"
	"github.com/zommehq/buntime/internal/registry"
	"github.com/zommehq/buntime/internal/workerpool"
)

// AppCmd groups app lifecycle operations against the install registry.
// Grounded on cmd/qntx/commands/db.go's parent-plus-subcommand shape.
var AppCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage installed apps",
	Long:  `app — install, remove, and list the apps buntime dispatches requests to.`,
}

var appInstallCmd = &cobra.Command{
	Use:   "install [archive]",
	Short: "Install an app from a local archive or --url",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAppInstall,
}

var appRemoveCmd = &cobra.Command{
	Use:   "remove <name> <version>",
	Short: "Remove an installed app version",
	Args:  cobra.ExactArgs(2),
	RunE:  runAppRemove,
}

var appListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed apps",
	RunE:  runAppList,
}

func init() {
	AppCmd.AddCommand(appInstallCmd, appRemoveCmd, appListCmd)
	appInstallCmd.Flags().String("url", "", "Fetch the archive from this URL instead of a local file")
}

func openRegistry() (*registry.Registry, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	reg, err := registry.New(cfg.WorkerDirs, cfg.PluginDirs, workerpool.DefaultWorkerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build registry: %w", err)
	}
	return reg, cfg, nil
}

func runAppInstall(cmd *cobra.Command, args []string) error {
	reg, _, err := openRegistry()
	if err != nil {
		return err
	}

	if url, _ := cmd.Flags().GetString("url"); url != "" {
		if err := reg.InstallAppFromURL(filepath.Base(url), url); err != nil {
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
	if err := reg.InstallApp(label, f); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}
	pterm.Success.Printf("installed %s\n", label)
	return nil
}

func runAppRemove(cmd *cobra.Command, args []string) error {
	reg, _, err := openRegistry()
	if err != nil {
		return err
	}
	if err := reg.RemoveApp(args[0], args[1]); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	pterm.Success.Printf("removed %s@%s\n", args[0], args[1])
	return nil
}

func runAppList(cmd *cobra.Command, args []string) error {
	_, cfg, err := openRegistry()
	if err != nil {
		return err
	}
	return listInstalled(cfg.WorkerDirs)
}

// listInstalled walks each `<root>/<name>/<version>/` layout and
// prints what it finds; shared by app list and plugin list.
func listInstalled(roots []string) error {
	found := false
	for _, root := range roots {
		names, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, nameEntry := range names {
			if !nameEntry.IsDir() {
				continue
			}
			versions, err := os.ReadDir(filepath.Join(root, nameEntry.Name()))
			if err != nil {
				continue
			}
			for _, versionEntry := range versions {
				if !versionEntry.IsDir() {
					continue
				}
				found = true
				pterm.Printf("%s@%s\n", nameEntry.Name(), versionEntry.Name())
			}
		}
	}
	if !found {
		pterm.Info.Println("nothing installed")
	}
	return nil
}
