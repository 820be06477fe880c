package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set storykit configuration values.

Without arguments, lists all configuration keys.
With one argument, shows the value of that key.
With two arguments, sets the key to the value.

Configuration is stored in ~/.config/storykit/config.yaml (XDG compliant).
Every key can be overridden with an environment variable, for example
STORYKIT_WARDROBE_STALE_AFTER_MINS for wardrobe.stale_after_mins.

Keys are in the format: section.key
Sections: log, backend, wardrobe, reader, storage, telemetry

Examples:
  storykit config                              # List all keys
  storykit config backend.target               # Get backend.target
  storykit config wardrobe.progress_threshold 80`,
	GroupID: groupSetup,
	Args:    cobra.MaximumNArgs(2),
	RunE:    runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, paths, err := loadConfig()
	if err != nil {
		return err
	}
	file := configPath
	if file == "" {
		file = paths.ConfigFile()
	}
	out := cmd.OutOrStdout()

	switch len(args) {
	case 0:
		return listConfig(out, cfg, file)
	case 1:
		return getConfig(out, cfg, args[0])
	default:
		return setConfig(out, cfg, paths, file, args[0], args[1])
	}
}

func listConfig(out io.Writer, cfg *config.Config, file string) error {
	fmt.Fprintln(out, styleTitle.Render("Configuration Keys"))
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintln(out)

	var failedKeys []string
	for _, key := range config.ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			failedKeys = append(failedKeys, key)
			continue
		}
		if value == "" {
			value = styleDim.Render("(not set)")
		}
		fmt.Fprintf(out, "  %s = %s\n", styleKey.Render(key), value)
	}

	if len(failedKeys) > 0 {
		fmt.Fprintf(out, "\n%s Failed to retrieve keys: %s\n", styleWarn.Render("Warning:"), strings.Join(failedKeys, ", "))
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config file: %s\n", file)
	return nil
}

func getConfig(out io.Writer, cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}
	if value == "" {
		fmt.Fprintln(out, styleDim.Render("(not set)"))
	} else {
		fmt.Fprintln(out, value)
	}
	return nil
}

func setConfig(out io.Writer, cfg *config.Config, paths *config.Paths, file, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := cfg.SaveToFile(file); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s = %s\n", styleKey.Render(key), value)
	fmt.Fprintf(out, "Saved to: %s\n", file)
	return nil
}
