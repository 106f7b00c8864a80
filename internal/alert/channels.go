package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lurecage/internal/schema"
)

// maxTelegramMessage is the Telegram Bot API message length limit.
const maxTelegramMessage = 4096

// TelegramChannel sends alerts to a Telegram chat via the Bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert *Alert) error {
	text := fmt.Sprintf(`%s <b>Honeypot Alert</b>
🌍 <b>Source IP:</b> <code>%s</code>
🔍 <b>Threat Level:</b> %s
💻 <b>Attempted Command:</b>
<pre>%s</pre>
📊 <b>Anomaly Score:</b> %.3f
⏰ <b>Time:</b> %s`,
		levelEmoji(alert.Level),
		escapeHTML(alert.SourceAddr),
		alert.Level,
		sanitizeCommand(alert.Command),
		alert.Score,
		alert.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"),
	)

	if len(text) > maxTelegramMessage {
		text = text[:maxTelegramMessage-3] + "..."
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SendTest sends a configuration check message.
func (t *TelegramChannel) SendTest(ctx context.Context) error {
	return t.Send(ctx, &Alert{
		SourceAddr: "test",
		Command:    "configuration test, no attacker involved",
		Level:      schema.ThreatLow,
		Timestamp:  time.Now().UTC(),
	})
}

func levelEmoji(level schema.ThreatLevel) string {
	switch level {
	case schema.ThreatCritical:
		return "🚨"
	case schema.ThreatHigh:
		return "🟠"
	case schema.ThreatMedium:
		return "🟡"
	case schema.ThreatLow:
		return "🟢"
	}
	return "⚠️"
}

// sanitizeCommand makes attacker input safe for HTML display and caps
// its length.
func sanitizeCommand(command string) string {
	safe := escapeHTML(command)
	if len(safe) > 500 {
		safe = safe[:500] + "... [truncated]"
	}
	return safe
}

func escapeHTML(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}

// WebhookChannel posts the alert as JSON to an arbitrary HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a new webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SlackChannel sends alerts to Slack via an incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a new Slack channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert *Alert) error {
	payload := map[string]interface{}{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]interface{}{
			{
				"color": s.levelColor(alert.Level),
				"title": fmt.Sprintf("[%s] Honeypot activity from %s", alert.Level, alert.SourceAddr),
				"text":  fmt.Sprintf("```%s```", alert.Command),
				"fields": []map[string]interface{}{
					{"title": "Threat Level", "value": string(alert.Level), "short": true},
					{"title": "Anomaly Score", "value": fmt.Sprintf("%.3f", alert.Score), "short": true},
					{"title": "Session", "value": alert.SessionID.String(), "short": false},
				},
				"footer": "lurecage",
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *SlackChannel) levelColor(level schema.ThreatLevel) string {
	switch level {
	case schema.ThreatCritical:
		return "#FF0000"
	case schema.ThreatHigh:
		return "#FFA500"
	case schema.ThreatMedium:
		return "#FFFF00"
	case schema.ThreatLow:
		return "#00FF00"
	}
	return "#808080"
}
