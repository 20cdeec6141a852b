package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scenario-trader/internal/config"
)

const telegramMaxLength = 4096

// TelegramNotifier sends notifications via Telegram bot. The bot is
// authorized on first use so a missing network does not fail startup.
type TelegramNotifier struct {
	botToken string
	chatID   int64
	endpoint string
	enabled  bool

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		endpoint: tgbotapi.APIEndpoint,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != 0,
	}
}

// WithEndpoint overrides the Bot API endpoint (format as tgbotapi.APIEndpoint).
func (t *TelegramNotifier) WithEndpoint(endpoint string) *TelegramNotifier {
	t.endpoint = endpoint
	return t
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) bot() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.api != nil {
		return t.api, nil
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.botToken, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	t.api = api
	return api, nil
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	api, err := t.bot()
	if err != nil {
		return err
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title()), escapeHTML(n.Message))
	for _, part := range splitMessage(text, telegramMaxLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := api.Send(msg); err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// splitMessage breaks text into chunks of at most max bytes, on line
// boundaries where possible.
func splitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > max {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, line[:max])
			line = line[max:]
		}
		if current.Len()+len(line) > max {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
