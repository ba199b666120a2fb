package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/zommehq/buntime/internal/config"
	"github.com/zommehq/buntime/internal/logger"
	"github.com/zommehq/buntime/internal/version"
)

// printStartupBanner prints the server's startup summary, in the vein
// of the teacher's printStartupBanner.
func printStartupBanner(cfg *config.Config, verbosity int) {
	info := version.Get()

	pterm.Printf("%s\n", pterm.LightCyan("buntime"))
	pterm.Printf("  Version:   %s (commit %s)\n", info.Version, info.Short())
	pterm.Printf("  Built:     %s\n", info.BuildTime)
	pterm.Printf("  Verbosity: %s\n", logger.LevelName(verbosity))
	pterm.Printf("  Port:      %s\n", pterm.Green(fmt.Sprintf("%d", cfg.Port)))
	pterm.Printf("  Pool size: %s\n", pterm.Green(fmt.Sprintf("%d", cfg.PoolSize)))
	pterm.Printf("  Worker dirs: %v\n", cfg.WorkerDirs)
	pterm.Printf("  Plugin dirs: %v\n", cfg.PluginDirs)
	pterm.Printf("  Admin prefix: %s\n", cfg.Admin.Prefix)

	pterm.Info.Println("Press Ctrl+C to stop")
}
