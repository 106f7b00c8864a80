package scenes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lurecage/internal/tui/api"
	"lurecage/internal/tui/styles"
)

const liveBufferSize = 200

// LiveScene tails the backend event stream.
type LiveScene struct {
	client  *api.Client
	stream  *api.Stream
	entries []api.Event
	err     string
	width   int
	height  int
	maxRows int
	paused  bool
}

// streamOpenedMsg carries a freshly opened stream
type streamOpenedMsg struct {
	stream *api.Stream
	err    string
}

// streamEventMsg carries one live event; closed reports a dropped stream
type streamEventMsg struct {
	event  api.Event
	closed bool
}

// NewLiveScene creates a new live stream scene
func NewLiveScene(client *api.Client) *LiveScene {
	return &LiveScene{
		client:  client,
		maxRows: 15,
	}
}

// Init connects to the event stream
func (l *LiveScene) Init() tea.Cmd {
	return l.connect()
}

// connect opens the SSE stream
func (l *LiveScene) connect() tea.Cmd {
	return func() tea.Msg {
		stream, err := l.client.OpenStream()
		if err != nil {
			return streamOpenedMsg{err: err.Error()}
		}
		return streamOpenedMsg{stream: stream}
	}
}

// waitEvent blocks until the next stream event arrives
func (l *LiveScene) waitEvent() tea.Cmd {
	stream := l.stream
	return func() tea.Msg {
		ev, ok := <-stream.C
		if !ok {
			return streamEventMsg{closed: true}
		}
		return streamEventMsg{event: ev}
	}
}

// TickCmd returns a command that ticks every interval. The live scene
// only uses it to retry a dropped connection.
func (l *LiveScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "live", Time: t}
	})
}

// Close tears down the stream connection.
func (l *LiveScene) Close() {
	if l.stream != nil {
		l.stream.Close()
		l.stream = nil
	}
}

// Update handles messages for the live scene
func (l *LiveScene) Update(msg tea.Msg) (*LiveScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		l.width = msg.Width
		l.height = msg.Height
		l.maxRows = max(5, l.height-10)
		return l, nil

	case tea.KeyMsg:
		if msg.String() == "p" {
			l.paused = !l.paused
		}
		return l, nil

	case streamOpenedMsg:
		if msg.err != "" {
			l.err = msg.err
			return l, nil
		}
		l.err = ""
		l.stream = msg.stream
		return l, l.waitEvent()

	case streamEventMsg:
		if msg.closed {
			l.stream = nil
			l.err = "stream disconnected"
			return l, nil
		}
		if !l.paused {
			l.entries = append(l.entries, msg.event)
			if len(l.entries) > liveBufferSize {
				l.entries = l.entries[len(l.entries)-liveBufferSize:]
			}
		}
		return l, l.waitEvent()

	case TickMsg:
		if msg.Scene == "live" && l.stream == nil {
			return l, l.connect()
		}
		return l, nil
	}
	return l, nil
}

// View renders the live scene
func (l *LiveScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("Live Feed"))
	b.WriteString("\n")

	if l.err != "" {
		b.WriteString(styles.StatusError.Render("✗ " + l.err))
		b.WriteString(styles.Muted.Render("  (retrying)"))
		b.WriteString("\n\n")
	}

	if len(l.entries) == 0 {
		b.WriteString(styles.Muted.Render("Waiting for activity..."))
		b.WriteString("\n")
		return b.String()
	}

	start := max(0, len(l.entries)-l.maxRows)
	for _, ev := range l.entries[start:] {
		b.WriteString(renderEvent(ev))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	status := fmt.Sprintf("%d events buffered · [p] pause", len(l.entries))
	if l.paused {
		status = styles.StatusWarning.Render("PAUSED") + styles.Muted.Render(" · [p] resume")
		b.WriteString(status)
		return b.String()
	}
	b.WriteString(styles.Muted.Render(status))
	return b.String()
}

// renderEvent renders one feed line
func renderEvent(ev api.Event) string {
	ts := ev.Timestamp.Local().Format("15:04:05")

	switch ev.Kind {
	case "session_opened":
		return fmt.Sprintf("%s  %s  %s",
			styles.Muted.Render(ts),
			styles.StatusOK.Render("▶ connect"),
			ev.SourceAddr)
	case "session_closed":
		return fmt.Sprintf("%s  %s  %s",
			styles.Muted.Render(ts),
			styles.Muted.Render("■ disconnect"),
			ev.SourceAddr)
	case "exchange_appended":
		if ev.Exchange == nil {
			return styles.Muted.Render(ts)
		}
		return fmt.Sprintf("%s  %s  %s  %s",
			styles.Muted.Render(ts),
			styles.Level(ev.Exchange.Level).Render(fmt.Sprintf("%-8s %.2f", ev.Exchange.Level, ev.Exchange.Score)),
			styles.Muted.Render(ev.SourceAddr),
			truncate(ev.Exchange.Command, 60))
	default:
		return fmt.Sprintf("%s  %s", styles.Muted.Render(ts), ev.Kind)
	}
}
