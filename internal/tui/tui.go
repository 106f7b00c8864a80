// Package tui provides a terminal user interface for watching the
// honeypot backend.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lurecage/internal/tui/api"
	"lurecage/internal/tui/scenes"
	"lurecage/internal/tui/styles"
)

// Scene represents the current view
type Scene int

const (
	SceneSessions Scene = iota
	SceneLive
	SceneStats
)

// Model is the main TUI model
type Model struct {
	client *api.Client

	// Current scene
	scene Scene

	// Scene models - only the active one receives ticks
	sessions *scenes.SessionsScene
	live     *scenes.LiveScene
	stats    *scenes.StatsScene

	// Window dimensions
	width  int
	height int

	// Whether we're quitting
	quitting bool
}

// New creates a new TUI model
func New(baseURL string) *Model {
	client := api.NewClient(baseURL)

	return &Model{
		client:   client,
		scene:    SceneSessions,
		sessions: scenes.NewSessionsScene(client),
		live:     scenes.NewLiveScene(client),
		stats:    scenes.NewStatsScene(client),
	}
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	// The live scene connects immediately so no events are missed while
	// another tab is active; only the active scene gets a ticker.
	return tea.Batch(
		m.sessions.Init(),
		m.live.Init(),
		m.getActiveSceneTickCmd(),
	)
}

// getActiveSceneTickCmd returns the tick command for the active scene only
func (m *Model) getActiveSceneTickCmd() tea.Cmd {
	switch m.scene {
	case SceneSessions:
		return m.sessions.TickCmd()
	case SceneLive:
		return m.live.TickCmd()
	case SceneStats:
		return m.stats.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.live.Close()
			return m, tea.Quit

		case "1":
			if m.scene != SceneSessions {
				m.scene = SceneSessions
				cmds = append(cmds, m.sessions.Init(), m.sessions.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneLive {
				m.scene = SceneLive
				cmds = append(cmds, m.live.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "3":
			if m.scene != SceneStats {
				m.scene = SceneStats
				cmds = append(cmds, m.stats.Init(), m.stats.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			m.scene = (m.scene + 1) % 3
			cmds = append(cmds, m.getActiveSceneTickCmd())
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessions, _ = m.sessions.Update(msg)
		m.live, _ = m.live.Update(msg)
		m.stats, _ = m.stats.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Only the active scene gets its next tick scheduled
		var cmd tea.Cmd
		switch m.scene {
		case SceneSessions:
			m.sessions, cmd = m.sessions.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.sessions.TickCmd())
		case SceneLive:
			m.live, cmd = m.live.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.live.TickCmd())
		case SceneStats:
			m.stats, cmd = m.stats.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			cmds = append(cmds, m.stats.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	// Stream messages must reach the live scene even when another tab
	// is showing, otherwise the feed stalls. Everything else goes to
	// the active scene.
	var cmd tea.Cmd
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		m.live, cmd = m.live.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	switch m.scene {
	case SceneSessions:
		m.sessions, cmd = m.sessions.Update(msg)
	case SceneLive:
		if _, isKey := msg.(tea.KeyMsg); isKey {
			m.live, cmd = m.live.Update(msg)
		}
	case SceneStats:
		m.stats, cmd = m.stats.Update(msg)
	}
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current view
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneSessions:
		b.WriteString(m.sessions.View())
	case SceneLive:
		b.WriteString(m.live.View())
	case SceneStats:
		b.WriteString(m.stats.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Sessions", "1", SceneSessions},
		{"Live", "2", SceneLive},
		{"Stats", "3", SceneStats},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	header := lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)

	return header
}

func (m *Model) renderFooter() string {
	help := " [1-3] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [q] Quit "
	return styles.Help.Render(help)
}

// Run starts the TUI application
func Run(baseURL string) error {
	m := New(baseURL)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
