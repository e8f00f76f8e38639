package alert

import (
	"context"

	"walletd/internal/core"
)

// LogChannel writes alerts to the daemon log
type LogChannel struct {
	logger core.ILogger
}

func NewLogChannel(logger core.ILogger) *LogChannel {
	return &LogChannel{logger: logger.WithField("component", "notifications")}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert Alert) error {
	fields := []interface{}{"id", alert.ID, "level", alert.Level, "channel", alert.Channel, "message", alert.Message}
	for k, v := range alert.Fields {
		fields = append(fields, k, v)
	}
	if alert.Level == core.NotifyError {
		l.logger.Warn(alert.Title, fields...)
	} else {
		l.logger.Info(alert.Title, fields...)
	}
	return nil
}
