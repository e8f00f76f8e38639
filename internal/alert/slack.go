package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"walletd/internal/core"
	pkghttp "walletd/pkg/http"
)

// WebhookChannel posts Slack-compatible attachments to an incoming webhook
type WebhookChannel struct {
	client *pkghttp.Client
}

func NewWebhookChannel(webhookURL string) *WebhookChannel {
	return &WebhookChannel{
		client: pkghttp.NewClientWithOptions(webhookURL, 5*time.Second, nil, pkghttp.Options{MaxRetries: 1}),
	}
}

func (s *WebhookChannel) Name() string {
	return "webhook"
}

func levelColor(level core.NotificationLevel) string {
	switch level {
	case core.NotifySuccess:
		return "#36a64f"
	case core.NotifyError:
		return "#ff0000"
	case core.NotifyProgress:
		return "#439fe0"
	}
	return "#cccccc"
}

func (s *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	if s.client.BaseURL() == "" {
		return nil
	}

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": alert.Fields[k],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   levelColor(alert.Level),
				"pretext": fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "walletd " + alert.Channel,
			},
		},
	}

	if _, err := s.client.Post(ctx, "", payload); err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	return nil
}
