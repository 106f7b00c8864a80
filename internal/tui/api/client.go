// Package api provides the HTTP client for connecting to the lurecage
// backend.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client handles API communication with the honeypot backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Exchange is one captured command with its score.
type Exchange struct {
	Command      string    `json:"command"`
	Response     string    `json:"response"`
	Timestamp    time.Time `json:"timestamp"`
	Score        float64   `json:"score"`
	Level        string    `json:"level"`
	ModelVersion uint64    `json:"model_version"`
	Keywords     []string  `json:"keywords"`
	Truncated    bool      `json:"truncated"`
}

// Session is one captured attacker session.
type Session struct {
	ID         string     `json:"id"`
	SourceAddr string     `json:"source_addr"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	Exchanges  []Exchange `json:"exchanges"`
}

// SessionsResponse is the session list payload.
type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Count    int       `json:"count"`
}

// Stats is the combined stats payload.
type Stats struct {
	Store struct {
		TotalSessions  int               `json:"total_sessions"`
		ActiveSessions int               `json:"active_sessions"`
		TotalExchanges uint64            `json:"total_exchanges"`
		LevelCounts    map[string]uint64 `json:"level_counts"`
		MeanScore      float64           `json:"mean_score"`
		LastActivity   time.Time         `json:"last_activity"`
		Evicted        uint64            `json:"evicted"`
	} `json:"store"`
	Model struct {
		Trained     bool      `json:"trained"`
		Version     uint64    `json:"version"`
		TrainedAt   time.Time `json:"trained_at"`
		SampleCount int       `json:"sample_count"`
	} `json:"model"`
	Broadcast struct {
		Subscribers int    `json:"subscribers"`
		Published   uint64 `json:"published"`
		Dropped     uint64 `json:"dropped"`
	} `json:"broadcast"`
}

// Event is one live feed entry from the stream endpoint.
type Event struct {
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	SourceAddr string    `json:"source_addr"`
	Timestamp  time.Time `json:"timestamp"`
	Exchange   *Exchange `json:"exchange"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetHealth fetches health status.
func (c *Client) GetHealth() (*HealthResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &health, nil
}

// GetSessions fetches the session list.
func (c *Client) GetSessions() (*SessionsResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/v1/sessions")
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var sessions SessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &sessions, nil
}

// GetSession fetches a single session with its full exchange history.
func (c *Client) GetSession(id string) (*Session, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/v1/sessions/" + id)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &session, nil
}

// GetStats fetches combined backend statistics.
func (c *Client) GetStats() (*Stats, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/v1/stats")
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &stats, nil
}

// Stream is a live event feed. C is closed when the connection drops;
// the caller decides whether to reconnect.
type Stream struct {
	C      <-chan Event
	cancel context.CancelFunc
}

// Close tears down the stream connection.
func (s *Stream) Close() {
	s.cancel()
}

// OpenStream connects to the server-sent event feed. Events arrive on
// the returned Stream's channel until the connection drops or Close is
// called.
func (c *Client) OpenStream() (*Stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}

	// The stream is long-lived, so it bypasses the short client timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Stream{C: ch, cancel: cancel}, nil
}
