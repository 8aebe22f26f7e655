package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single steel-blue accent; red and amber are reserved
// for errors and warnings.
const (
	ColorAccent    = "75"  // steel blue
	ColorAccentDim = "67"  // dimmed accent for labels
	ColorWhite     = "255" // headers
	ColorGray      = "245" // secondary text
	ColorDarkGray  = "238" // separators
	ColorRed       = "196" // errors
	ColorAmber     = "220" // warnings
)

// Styles holds the lipgloss styles used by the styled renderers.
type Styles struct {
	Header    lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
	Stage     lipgloss.Style
	Progress  lipgloss.Style
	Sparkline lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmber)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentDim)),
		Progress:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Sparkline: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns an unstyled set for NO_COLOR and dumb terminals.
func NoColorStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle(),
		Success:   lipgloss.NewStyle(),
		Warning:   lipgloss.NewStyle(),
		Error:     lipgloss.NewStyle(),
		Dim:       lipgloss.NewStyle(),
		Stage:     lipgloss.NewStyle(),
		Progress:  lipgloss.NewStyle(),
		Sparkline: lipgloss.NewStyle(),
		Label:     lipgloss.NewStyle(),
	}
}

// GetStyles selects the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
