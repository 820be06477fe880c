package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storykit status",
	Long: `Show the current status of storykit, including:
- Configuration file location
- Cache database location
- Backend target
- Pending wardrobe change and current outfit

Examples:
  storykit status`,
	GroupID: groupSetup,
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleTitle.Render("storykit Status"))
	fmt.Fprintln(out, strings.Repeat("-", 40))

	printStatusConfig(out, a)
	return printWardrobe(cmd, out, a)
}

func printStatusConfig(out io.Writer, a *app.App) {
	cfg, paths := a.Config(), a.Paths()

	fmt.Fprintf(out, "\n%s\n", styleTitle.Render("Configuration:"))
	configFile := paths.ConfigFile()
	if configPath != "" {
		configFile = configPath
	}
	if _, err := os.Stat(configFile); err == nil {
		fmt.Fprintf(out, "  File:     %s\n", configFile)
	} else {
		fmt.Fprintf(out, "  File:     %s (not found, using defaults)\n", configFile)
	}
	fmt.Fprintf(out, "  Backend:  %s\n", cfg.Backend.Target)
	fmt.Fprintf(out, "  Prefetch: %s\n", formatBool(cfg.Reader.Prefetch))

	fmt.Fprintf(out, "\n%s\n", styleTitle.Render("Storage:"))
	dbFile := cfg.DBPath(paths)
	if info, err := os.Stat(dbFile); err == nil {
		fmt.Fprintf(out, "  Database: %s (%s)\n", dbFile, formatSize(info.Size()))
	} else {
		fmt.Fprintf(out, "  Database: %s (not created)\n", dbFile)
	}
	fmt.Fprintf(out, "  Images:   %s\n", cfg.ImageCacheDir(paths))
	fmt.Fprintf(out, "  Catalog:  %s\n", cfg.CatalogPath(paths))
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
