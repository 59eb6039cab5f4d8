package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// webhookPayload is the JSON body posted for every alert.
type webhookPayload struct {
	Source  string `json:"source"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Symbol  string `json:"symbol,omitempty"`
	Kind    string `json:"kind,omitempty"`
	TS      string `json:"ts"`
	Text    string `json:"text"` // pre-rendered for chat webhooks (Slack, Mattermost)
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewWebhookNotifier(url string, log *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.Named("webhook"),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(webhookPayload{
		Source:  "tradebot",
		Level:   string(a.Level),
		Title:   a.Title,
		Message: a.Message,
		Symbol:  a.Symbol,
		Kind:    a.Kind,
		TS:      a.when().Format(time.RFC3339Nano),
		Text:    fmt.Sprintf("[%s] %s\n%s", a.Level, a.Title, plainText(a)),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	w.log.Debug("alert sent", zap.String("title", a.Title), zap.String("level", string(a.Level)))
	return nil
}
