// Package styles is the shared lipgloss palette for the watch client.
// The threat ladder drives it: chrome stays low-contrast so a CRITICAL
// row is the loudest thing on screen.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Honey amber anchors the chrome. The ladder runs green through
	// yellow and orange into red.
	Accent     = lipgloss.Color("#D7A02B")
	MutedColor = lipgloss.Color("#7D8590")
	Bright     = lipgloss.Color("#E6EDF3")

	calm   = lipgloss.Color("#3FB950")
	watch  = lipgloss.Color("#D29922")
	hot    = lipgloss.Color("#F0883E")
	alarm  = lipgloss.Color("#F85149")
	onRed  = lipgloss.Color("#1C2128")
	redBed = lipgloss.Color("#DA3633")

	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Accent).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	StatusOK = lipgloss.NewStyle().
			Foreground(calm).
			Bold(true)

	StatusWarning = lipgloss.NewStyle().
			Foreground(watch).
			Bold(true)

	StatusError = lipgloss.NewStyle().
			Foreground(alarm).
			Bold(true)

	levelLow = lipgloss.NewStyle().
			Foreground(calm)

	levelMedium = lipgloss.NewStyle().
			Foreground(watch)

	levelHigh = lipgloss.NewStyle().
			Foreground(hot).
			Bold(true)

	levelCritical = lipgloss.NewStyle().
			Foreground(onRed).
			Background(redBed).
			Bold(true)

	TabActive = lipgloss.NewStyle().
			Foreground(onRed).
			Background(Accent).
			Padding(0, 2).
			Bold(true)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Accent).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(MutedColor)

	TableRowSelected = lipgloss.NewStyle().
				Foreground(Bright).
				Background(lipgloss.Color("#30363D"))

	MetricCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(1, 2).
			Width(22)

	MetricValue = lipgloss.NewStyle().
			Bold(true).
			Foreground(Accent)

	MetricLabel = lipgloss.NewStyle().
			Foreground(MutedColor)
)

// Level maps a threat level name onto the ladder. Unknown names render
// like LOW so a malformed event stays visible instead of styled loud.
func Level(level string) lipgloss.Style {
	switch level {
	case "CRITICAL":
		return levelCritical
	case "HIGH":
		return levelHigh
	case "MEDIUM":
		return levelMedium
	default:
		return levelLow
	}
}
