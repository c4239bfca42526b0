// Package ui provides terminal styling and the progress view for the hydroai CLI.
package ui

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Water     = lipgloss.Color("#1f78b4")
	DeepWater = lipgloss.Color("#0b3c5d")
	Land      = lipgloss.Color("#6a994e")
	Sand      = lipgloss.Color("#e9c46a")
	Mist      = lipgloss.Color("#8d99ae")
	Paper     = lipgloss.Color("#f2f2f2")

	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#6a994e")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Theme holds the current color scheme.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{Foreground: DeepWater, Primary: Water, Accent: Land, Muted: Mist, Border: Mist}
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{Foreground: Paper, Primary: Sand, Accent: Water, Muted: Mist, Border: Mist, IsDark: true}
}

// DetectTheme picks the dark theme when COLORFGBG reports a dark background
// or HYDROAI_DARK_MODE=1.
func DetectTheme() Theme {
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil && ((bg >= 0 && bg <= 6) || bg == 8) {
			return DarkTheme()
		}
	}
	if os.Getenv("HYDROAI_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds the styled components.
type Styles struct {
	Theme Theme

	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Box      lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
}

// NewStyles creates Styles for theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Subtitle: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Label: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Width(22),

		Value: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Box: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(Info),
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// Field is a label/value pair in a summary panel.
type Field struct {
	Label string
	Value string
}

// Panel renders a titled box of aligned fields.
func (s Styles) Panel(title string, fields []Field) string {
	var sb strings.Builder
	sb.WriteString(s.Title.Render(title))
	for _, f := range fields {
		sb.WriteString("\n")
		sb.WriteString(s.Label.Render(f.Label))
		sb.WriteString(s.Value.Render(f.Value))
	}
	return s.Box.Render(sb.String())
}

// Check renders a success line.
func (s Styles) Check(format string, args ...any) string {
	return s.Success.Render("✓") + " " + fmt.Sprintf(format, args...)
}

// Warn renders a warning line.
func (s Styles) Warn(format string, args ...any) string {
	return s.Warning.Render("!") + " " + fmt.Sprintf(format, args...)
}

// Fail renders an error line.
func (s Styles) Fail(format string, args ...any) string {
	return s.Error.Render("✗") + " " + fmt.Sprintf(format, args...)
}
