// Package theme provides the Lip Gloss color palette and reusable styles
// for the mosaic console. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Node kind colors.
var (
	ColorAgent     = lipgloss.Color("#a855f7")
	ColorTopic     = lipgloss.Color("#3b82f6")
	ColorConnector = lipgloss.Color("#10b981")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// Terminal session state colors.
var (
	ColorStarting     = lipgloss.Color("#7c3aed")
	ColorConnected    = lipgloss.Color("#16a34a")
	ColorDisconnected = lipgloss.Color("#d97706")
	ColorStopped      = lipgloss.Color("#4b5563")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// Reusable styles.
var (
	StyleHeader = lipgloss.NewStyle().Foreground(ColorBright).Bold(true)
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleBanner = lipgloss.NewStyle().Foreground(ColorDimmed).Italic(true)
	StyleError  = lipgloss.NewStyle().Foreground(ColorDanger)
	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// KindColor returns the color for a node kind string.
func KindColor(kind string) lipgloss.Color {
	switch kind {
	case "agent":
		return ColorAgent
	case "topic":
		return ColorTopic
	case "connector":
		return ColorConnector
	default:
		return ColorDefault
	}
}
