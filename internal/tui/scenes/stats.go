package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lurecage/internal/tui/api"
	"lurecage/internal/tui/styles"
)

// StatsScene displays store, model, and fan-out statistics.
type StatsScene struct {
	client     *api.Client
	stats      *api.Stats
	err        string
	width      int
	height     int
	loading    bool
	lastUpdate time.Time
}

// statsMsg carries updated stats
type statsMsg struct {
	stats *api.Stats
	err   string
}

// NewStatsScene creates a new stats scene
func NewStatsScene(client *api.Client) *StatsScene {
	return &StatsScene{
		client:  client,
		loading: true,
	}
}

// Init initializes the stats scene - fetches initial data
func (s *StatsScene) Init() tea.Cmd {
	return s.fetchStats()
}

// fetchStats fetches stats from the API
func (s *StatsScene) fetchStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := s.client.GetStats()
		if err != nil {
			return statsMsg{err: err.Error()}
		}
		return statsMsg{stats: stats}
	}
}

// TickCmd returns a command that ticks every interval
func (s *StatsScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "stats", Time: t}
	})
}

// Update handles messages for the stats scene
func (s *StatsScene) Update(msg tea.Msg) (*StatsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		return s, nil

	case statsMsg:
		s.loading = false
		s.stats = msg.stats
		s.err = msg.err
		s.lastUpdate = time.Now()
		return s, nil

	case TickMsg:
		if msg.Scene == "stats" {
			return s, s.fetchStats()
		}
		return s, nil
	}
	return s, nil
}

// View renders the stats scene
func (s *StatsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("Statistics"))
	b.WriteString("\n")

	if s.err != "" {
		b.WriteString(styles.StatusError.Render("✗ " + s.err))
		b.WriteString("\n")
		return b.String()
	}
	if s.loading || s.stats == nil {
		b.WriteString(styles.Muted.Render("Loading..."))
		b.WriteString("\n")
		return b.String()
	}

	cards := lipgloss.JoinHorizontal(lipgloss.Top,
		metricCard("Sessions", fmt.Sprintf("%d", s.stats.Store.TotalSessions)),
		metricCard("Active", fmt.Sprintf("%d", s.stats.Store.ActiveSessions)),
		metricCard("Commands", fmt.Sprintf("%d", s.stats.Store.TotalExchanges)),
		metricCard("Mean Score", fmt.Sprintf("%.3f", s.stats.Store.MeanScore)),
	)
	b.WriteString(cards)
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("Threat levels"))
	b.WriteString("\n")
	for _, level := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"} {
		count := s.stats.Store.LevelCounts[level]
		b.WriteString(fmt.Sprintf("  %s %d\n",
			styles.Level(level).Render(fmt.Sprintf("%-9s", level)), count))
	}
	b.WriteString("\n")

	b.WriteString(styles.Subtitle.Render("Model"))
	b.WriteString("\n")
	if s.stats.Model.Trained {
		b.WriteString(fmt.Sprintf("  %s  version %d · %d samples · trained %s\n",
			styles.StatusOK.Render("● trained"),
			s.stats.Model.Version,
			s.stats.Model.SampleCount,
			s.stats.Model.TrainedAt.Local().Format("15:04:05")))
	} else {
		b.WriteString("  " + styles.StatusWarning.Render("○ untrained") +
			styles.Muted.Render("  scores default to 0 until the first fit") + "\n")
	}
	b.WriteString("\n")

	b.WriteString(styles.Subtitle.Render("Fan-out"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %d subscribers · %d published · %d dropped\n",
		s.stats.Broadcast.Subscribers,
		s.stats.Broadcast.Published,
		s.stats.Broadcast.Dropped))

	b.WriteString("\n")
	b.WriteString(styles.Muted.Render("updated " + s.lastUpdate.Format("15:04:05")))
	return b.String()
}

func metricCard(label, value string) string {
	return styles.MetricCard.Render(
		styles.MetricLabel.Render(label) + "\n" + styles.MetricValue.Render(value))
}
