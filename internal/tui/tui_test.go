package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lurecage/internal/tui/api"
	"lurecage/internal/tui/scenes"
	"lurecage/internal/tui/styles"
)

// keyMsg builds a tea.KeyMsg for the given key string.
func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestNewModel(t *testing.T) {
	m := New("http://localhost:8080")
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.scene != SceneSessions {
		t.Errorf("default scene = %v, want SceneSessions", m.scene)
	}
	if m.sessions == nil || m.live == nil || m.stats == nil {
		t.Error("scene models not initialized")
	}
	if m.quitting {
		t.Error("new model already quitting")
	}
}

func TestModelInitReturnsCommand(t *testing.T) {
	m := New("http://localhost:8080")
	if m.Init() == nil {
		t.Error("Init() returned nil command")
	}
}

func TestUpdateSceneSwitching(t *testing.T) {
	m := New("http://localhost:8080")

	updated, _ := m.Update(keyMsg("2"))
	if updated.(*Model).scene != SceneLive {
		t.Errorf("scene after '2' = %v, want SceneLive", updated.(*Model).scene)
	}

	updated, _ = updated.(*Model).Update(keyMsg("3"))
	if updated.(*Model).scene != SceneStats {
		t.Errorf("scene after '3' = %v, want SceneStats", updated.(*Model).scene)
	}

	updated, _ = updated.(*Model).Update(keyMsg("1"))
	if updated.(*Model).scene != SceneSessions {
		t.Errorf("scene after '1' = %v, want SceneSessions", updated.(*Model).scene)
	}
}

func TestUpdateTabCyclesThroughScenes(t *testing.T) {
	m := New("http://localhost:8080")

	want := []Scene{SceneLive, SceneStats, SceneSessions}
	var model tea.Model = m
	for i, expected := range want {
		model, _ = model.(*Model).Update(keyMsg("tab"))
		if model.(*Model).scene != expected {
			t.Errorf("tab press %d: scene = %v, want %v", i+1, model.(*Model).scene, expected)
		}
	}
}

func TestUpdateQuit(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := New("http://localhost:8080")
		updated, cmd := m.Update(keyMsg(key))
		if !updated.(*Model).quitting {
			t.Errorf("%q did not set quitting", key)
		}
		if cmd == nil {
			t.Errorf("%q returned nil command, want tea.Quit", key)
		}
	}
}

func TestUpdateWindowSize(t *testing.T) {
	m := New("http://localhost:8080")
	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	if updated.(*Model).width != 120 || updated.(*Model).height != 40 {
		t.Errorf("dimensions = %dx%d", updated.(*Model).width, updated.(*Model).height)
	}
	if cmd != nil {
		t.Error("WindowSizeMsg returned a command")
	}
}

func TestViewWhenQuittingIsEmpty(t *testing.T) {
	m := New("http://localhost:8080")
	m.quitting = true
	if m.View() != "" {
		t.Error("quitting view not empty")
	}
}

func TestViewContainsTabLabels(t *testing.T) {
	m := New("http://localhost:8080")
	view := m.View()
	for _, label := range []string{"Sessions", "Live", "Stats"} {
		if !strings.Contains(view, label) {
			t.Errorf("view missing tab label %q", label)
		}
	}
}

func TestViewContainsFooterHelp(t *testing.T) {
	m := New("http://localhost:8080")
	if !strings.Contains(m.View(), "[q] Quit") {
		t.Error("view missing quit help")
	}
}

func TestTickRoutedToActiveSceneOnly(t *testing.T) {
	m := New("http://localhost:8080")
	m.scene = SceneStats

	_, cmd := m.Update(scenes.TickMsg{Scene: "stats", Time: time.Now()})
	if cmd == nil {
		t.Error("tick on active scene returned no follow-up command")
	}
}

// API client tests

func TestClientGetHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
	}))
	defer srv.Close()

	health, err := api.NewClient(srv.URL).GetHealth()
	if err != nil {
		t.Fatalf("GetHealth() error = %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q", health.Status)
	}
}

func TestClientGetSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"count":1,"sessions":[{"id":"5f8a4f0e-1f7b-4f39-9f1e-6d3f2a2b1c0d","source_addr":"203.0.113.4:51000","exchanges":[{"command":"ls","level":"LOW","score":0.31}]}]}`)
	}))
	defer srv.Close()

	resp, err := api.NewClient(srv.URL).GetSessions()
	if err != nil {
		t.Fatalf("GetSessions() error = %v", err)
	}
	if resp.Count != 1 || len(resp.Sessions) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Sessions[0].SourceAddr != "203.0.113.4:51000" {
		t.Errorf("source = %q", resp.Sessions[0].SourceAddr)
	}
	if resp.Sessions[0].Exchanges[0].Command != "ls" {
		t.Errorf("command = %q", resp.Sessions[0].Exchanges[0].Command)
	}
}

func TestClientGetStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stats" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"store":{"total_sessions":4,"active_sessions":1,"total_exchanges":17,"level_counts":{"HIGH":2},"mean_score":0.42},"model":{"trained":true,"version":3,"sample_count":120},"broadcast":{"subscribers":2,"published":17,"dropped":0}}`)
	}))
	defer srv.Close()

	stats, err := api.NewClient(srv.URL).GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Store.TotalSessions != 4 || stats.Store.LevelCounts["HIGH"] != 2 {
		t.Errorf("store = %+v", stats.Store)
	}
	if !stats.Model.Trained || stats.Model.Version != 3 {
		t.Errorf("model = %+v", stats.Model)
	}
}

func TestClientNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := api.NewClient(srv.URL).GetSessions(); err == nil {
		t.Error("GetSessions() accepted 500")
	}
	if _, err := api.NewClient(srv.URL).GetStats(); err == nil {
		t.Error("GetStats() accepted 500")
	}
}

func TestClientConnectionFailure(t *testing.T) {
	client := api.NewClient("http://127.0.0.1:1")
	if _, err := client.GetSessions(); err == nil {
		t.Error("GetSessions() succeeded against closed port")
	}
}

func TestClientOpenStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: session_opened\ndata: {\"kind\":\"session_opened\",\"source_addr\":\"203.0.113.4:50000\"}\n\n")
		flusher.Flush()
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	stream, err := api.NewClient(srv.URL).OpenStream()
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer stream.Close()

	select {
	case ev := <-stream.C:
		if ev.Kind != "session_opened" || ev.SourceAddr != "203.0.113.4:50000" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

// Scene tests

func TestScenesConstructAndTick(t *testing.T) {
	client := api.NewClient("http://localhost:8080")

	if scenes.NewSessionsScene(client).TickCmd() == nil {
		t.Error("sessions TickCmd nil")
	}
	if scenes.NewLiveScene(client).TickCmd() == nil {
		t.Error("live TickCmd nil")
	}
	if scenes.NewStatsScene(client).TickCmd() == nil {
		t.Error("stats TickCmd nil")
	}
}

func TestSessionsSceneWindowSize(t *testing.T) {
	s := scenes.NewSessionsScene(api.NewClient("http://localhost:8080"))
	s, _ = s.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	if s == nil {
		t.Fatal("Update returned nil scene")
	}
}

func TestSceneViewsRenderWithoutData(t *testing.T) {
	client := api.NewClient("http://localhost:8080")

	if v := scenes.NewLiveScene(client).View(); !strings.Contains(v, "Live Feed") {
		t.Errorf("live view = %q", v)
	}
	if v := scenes.NewStatsScene(client).View(); !strings.Contains(v, "Loading") {
		t.Errorf("stats view = %q", v)
	}
	if v := scenes.NewSessionsScene(client).View(); !strings.Contains(v, "Captured Sessions") {
		t.Errorf("sessions view = %q", v)
	}
}

// Styles tests

func TestLevelStyleMapping(t *testing.T) {
	for _, level := range []string{"LOW", "MEDIUM", "HIGH", "CRITICAL", "unknown"} {
		out := styles.Level(level).Render("x")
		if out == "" {
			t.Errorf("Level(%q) rendered empty", level)
		}
	}
}

func TestStylesRenderContent(t *testing.T) {
	if !strings.Contains(styles.Title.Render("hello"), "hello") {
		t.Error("Title style lost its content")
	}
	if !strings.Contains(styles.StatusError.Render("down"), "down") {
		t.Error("StatusError style lost its content")
	}
}
