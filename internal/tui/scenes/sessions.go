// Package scenes provides TUI scenes for the lurecage watch client.
package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lurecage/internal/tui/api"
	"lurecage/internal/tui/styles"
)

// TickMsg is sent on each tick - exported for use by parent model
type TickMsg struct {
	Scene string
	Time  time.Time
}

// SessionsScene displays captured attacker sessions.
type SessionsScene struct {
	client     *api.Client
	sessions   []api.Session
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

// sessionsMsg carries updated sessions
type sessionsMsg struct {
	sessions []api.Session
	err      string
}

// NewSessionsScene creates a new sessions scene
func NewSessionsScene(client *api.Client) *SessionsScene {
	return &SessionsScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init initializes the sessions scene
func (s *SessionsScene) Init() tea.Cmd {
	return s.fetchSessions()
}

// fetchSessions fetches sessions from the API
func (s *SessionsScene) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		resp, err := s.client.GetSessions()
		if err != nil {
			return sessionsMsg{err: err.Error()}
		}
		return sessionsMsg{sessions: resp.Sessions}
	}
}

// TickCmd returns a command that ticks every interval
func (s *SessionsScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "sessions", Time: t}
	})
}

// Update handles messages for the sessions scene
func (s *SessionsScene) Update(msg tea.Msg) (*SessionsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		s.maxRows = max(5, s.height-12)
		return s, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if s.cursor > 0 {
				s.cursor--
				if s.cursor < s.offset {
					s.offset = s.cursor
				}
			}
		case "down", "j":
			if s.cursor < len(s.sessions)-1 {
				s.cursor++
				if s.cursor >= s.offset+s.maxRows {
					s.offset = s.cursor - s.maxRows + 1
				}
			}
		case "pgup":
			s.cursor = max(0, s.cursor-s.maxRows)
			s.offset = max(0, s.offset-s.maxRows)
		case "pgdown":
			s.cursor = min(len(s.sessions)-1, s.cursor+s.maxRows)
			s.offset = min(max(0, len(s.sessions)-s.maxRows), s.offset+s.maxRows)
		case "r":
			s.loading = true
			return s, s.fetchSessions()
		}
		return s, nil

	case sessionsMsg:
		s.loading = false
		s.sessions = msg.sessions
		s.err = msg.err
		s.lastUpdate = time.Now()
		if s.cursor >= len(s.sessions) {
			s.cursor = max(0, len(s.sessions)-1)
		}
		return s, nil

	case TickMsg:
		if msg.Scene == "sessions" {
			return s, s.fetchSessions()
		}
		return s, nil
	}
	return s, nil
}

// View renders the sessions scene
func (s *SessionsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("Captured Sessions"))
	b.WriteString("\n")

	if s.err != "" {
		b.WriteString(styles.StatusError.Render("✗ " + s.err))
		b.WriteString("\n")
		return b.String()
	}
	if s.loading {
		b.WriteString(styles.Muted.Render("Loading..."))
		b.WriteString("\n")
		return b.String()
	}
	if len(s.sessions) == 0 {
		b.WriteString(styles.Muted.Render("No sessions captured yet."))
		b.WriteString("\n")
		return b.String()
	}

	header := fmt.Sprintf("  %-19s  %-21s  %-8s  %5s  %8s", "STARTED", "SOURCE", "STATE", "CMDS", "MAX")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	end := min(len(s.sessions), s.offset+s.maxRows)
	for i := s.offset; i < end; i++ {
		sess := s.sessions[i]
		state := "active"
		if sess.EndedAt != nil {
			state = "closed"
		}
		level, score := peakThreat(sess.Exchanges)
		row := fmt.Sprintf("  %-19s  %-21s  %-8s  %5d  %8s",
			sess.StartedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(sess.SourceAddr, 21),
			state,
			len(sess.Exchanges),
			fmt.Sprintf("%.2f", score),
		)
		if i == s.cursor {
			b.WriteString(styles.TableRowSelected.Render(row))
		} else {
			b.WriteString(styles.Level(level).Render(row))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(styles.Muted.Render(fmt.Sprintf("%d sessions · updated %s · [r] refresh",
		len(s.sessions), s.lastUpdate.Format("15:04:05"))))
	return b.String()
}

// peakThreat returns the highest level and score across exchanges.
func peakThreat(exchanges []api.Exchange) (string, float64) {
	level := "LOW"
	rank := 0
	score := 0.0
	for _, ex := range exchanges {
		if r := levelRank(ex.Level); r > rank {
			rank = r
			level = ex.Level
		}
		if ex.Score > score {
			score = ex.Score
		}
	}
	return level, score
}

func levelRank(level string) int {
	switch level {
	case "CRITICAL":
		return 3
	case "HIGH":
		return 2
	case "MEDIUM":
		return 1
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
