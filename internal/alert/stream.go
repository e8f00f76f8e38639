package alert

import (
	"context"
	"errors"

	"walletd/pkg/liveserver"
)

// Broadcaster is the notification stream the UI subscribes to
type Broadcaster interface {
	Broadcast(msg liveserver.Message) bool
}

// StreamChannel pushes alerts onto the live notification stream
type StreamChannel struct {
	out Broadcaster
}

func NewStreamChannel(out Broadcaster) *StreamChannel {
	return &StreamChannel{out: out}
}

func (s *StreamChannel) Name() string {
	return "stream"
}

func (s *StreamChannel) Send(ctx context.Context, alert Alert) error {
	ok := s.out.Broadcast(liveserver.NewNotificationMessage(liveserver.Notification{
		ID:        alert.ID,
		Level:     string(alert.Level),
		Channel:   alert.Channel,
		Title:     alert.Title,
		Message:   alert.Message,
		Fields:    alert.Fields,
		Timestamp: alert.Timestamp,
	}))
	if !ok {
		return errors.New("stream queue full")
	}
	return nil
}
