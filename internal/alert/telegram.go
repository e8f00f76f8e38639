package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"walletd/internal/core"
	pkghttp "walletd/pkg/http"
)

const DefaultTelegramAPI = "https://api.telegram.org"

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *pkghttp.Client
}

// NewTelegramChannel targets apiURL, or the public bot API when empty
func NewTelegramChannel(apiURL, botToken, chatID string) *TelegramChannel {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   pkghttp.NewClientWithOptions(strings.TrimSuffix(apiURL, "/"), 5*time.Second, nil, pkghttp.Options{MaxRetries: 1}),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert Alert) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch alert.Level {
	case core.NotifySuccess:
		icon = "✅"
	case core.NotifyError:
		icon = "❌"
	case core.NotifyProgress:
		icon = "⏳"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", icon, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       b.String(),
		"parse_mode": "Markdown",
	}

	if _, err := t.client.Post(ctx, "/bot"+t.botToken+"/sendMessage", payload); err != nil {
		// The token is part of the path and would otherwise end up in logs.
		return errors.New("telegram delivery failed: " + strings.ReplaceAll(err.Error(), t.botToken, "[REDACTED]"))
	}
	return nil
}
