package liveserver

import "time"

// Message is one frame on the notification stream
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	TypeNotification = "notification"
	TypeRefillStatus = "refill_status"
	TypeBalance      = "balance"
)

// replayed types are sent to a client as soon as it connects
var replayed = map[string]bool{
	TypeRefillStatus: true,
	TypeBalance:      true,
}

// Notification is the wire form of a user-facing notification
type Notification struct {
	ID        string            `json:"id"`
	Level     string            `json:"level"`
	Channel   string            `json:"channel,omitempty"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Balance is the wire form of a wallet balance change
type Balance struct {
	TotalSats int64            `json:"total_sats"`
	PerMint   map[string]int64 `json:"per_mint,omitempty"`
}

func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data}
}

func NewNotificationMessage(n Notification) Message {
	return NewMessage(TypeNotification, n)
}

func NewRefillStatusMessage(status interface{}) Message {
	return NewMessage(TypeRefillStatus, status)
}

func NewBalanceMessage(b Balance) Message {
	return NewMessage(TypeBalance, b)
}
