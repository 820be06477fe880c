package cmd

import (
	"os"
	"runtime"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Terminal styles. Rendering degrades to plain text when colors are off.
var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleKey     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	stylePage    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	styleCaption = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// colorMode is set by the --color flag: auto, always, or never.
var colorMode = "auto"

func applyColorMode() {
	switch colorMode {
	case "always":
		lipgloss.SetColorProfile(termenv.ANSI256)
	case "never":
		lipgloss.SetColorProfile(termenv.Ascii)
	default:
		if shouldDisableColors() {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	}
}

func shouldDisableColors() bool {
	// Check NO_COLOR environment variable (https://no-color.org/)
	if os.Getenv("NO_COLOR") != "" {
		return true
	}

	if os.Getenv("TERM") == "dumb" {
		return true
	}

	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("TERM_PROGRAM") != "" {
			return false
		}
		return os.Getenv("ANSICON") == "" && os.Getenv("ConEmuANSI") != "ON"
	}

	return false
}

// termWidth returns the output width, falling back to $COLUMNS and then 80.
func termWidth() int {
	if w := termWidthIoctl(); w > 0 {
		return w
	}
	if w, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && w > 0 {
		return w
	}
	return 80
}

func formatBool(b bool) string {
	if b {
		return styleOK.Render("enabled")
	}
	return styleDim.Render("disabled")
}
