package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTelegramAPI is the Telegram Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

var levelMarks = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// TelegramNotifier posts alerts to one chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
	log      *zap.Logger
}

func NewTelegramNotifier(botToken, chatID string, log *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   DefaultTelegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.Named("telegram"),
	}
}

// telegramText renders a as MarkdownV2: bold title, message, then the
// symbol/kind lines and the UTC time in monospace.
func telegramText(a Alert) string {
	mark, ok := levelMarks[a.Level]
	if !ok {
		mark = levelMarks[AlertInfo]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", mark, escapeMarkdown(a.Title), escapeMarkdown(a.Message))
	for _, line := range details(a) {
		b.WriteString("\n" + escapeMarkdown(line))
	}
	fmt.Fprintf(&b, "\n`%s`", a.when().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

func (t *TelegramNotifier) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     telegramText(a),
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	// The Bot API reports rejections as {"ok":false,"description":"..."}.
	var reply struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &reply)
	if resp.StatusCode != http.StatusOK || !reply.OK {
		if reply.Description == "" {
			reply.Description = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, reply.Description)
	}

	t.log.Debug("alert sent", zap.String("title", a.Title), zap.String("symbol", a.Symbol))
	return nil
}

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	const reserved = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
