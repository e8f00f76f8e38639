// Package alert fans user-facing notifications out to delivery channels.
package alert

import (
	"context"
	"sync"
	"time"

	"walletd/internal/core"
	"walletd/pkg/concurrency"
	"walletd/pkg/telemetry"

	"github.com/google/uuid"
)

// Alert is a notification stamped for delivery
type Alert struct {
	ID        string
	Level     core.NotificationLevel
	Channel   string
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}

type AlertChannel interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

type route struct {
	ch     AlertChannel
	levels map[core.NotificationLevel]bool
}

func (r route) accepts(level core.NotificationLevel) bool {
	return len(r.levels) == 0 || r.levels[level]
}

// Manager implements core.INotifier. Deliveries run on the pool and never
// block or fail the caller.
type Manager struct {
	routes  []route
	pool    *concurrency.WorkerPool
	timeout time.Duration
	logger  core.ILogger
	mu      sync.RWMutex
}

func NewManager(pool *concurrency.WorkerPool, logger core.ILogger) *Manager {
	return &Manager{
		pool:    pool,
		timeout: 10 * time.Second,
		logger:  logger.WithField("component", "alert_manager"),
	}
}

// AddChannel registers ch for the given levels, or for every level when none
// are given.
func (m *Manager) AddChannel(ch AlertChannel, levels ...core.NotificationLevel) {
	r := route{ch: ch}
	if len(levels) > 0 {
		r.levels = make(map[core.NotificationLevel]bool, len(levels))
		for _, l := range levels {
			r.levels[l] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, r)
	m.logger.Info("Added alert channel", "name", ch.Name(), "levels", levels)
}

func (m *Manager) Notify(ctx context.Context, n core.Notification) {
	alert := Alert{
		ID:        uuid.New().String(),
		Level:     n.Level,
		Channel:   n.Channel,
		Title:     n.Title,
		Message:   n.Message,
		Fields:    n.Fields,
		Timestamp: time.Now(),
	}

	m.mu.RLock()
	routes := append([]route(nil), m.routes...)
	m.mu.RUnlock()

	// Delivery outlives the caller's context.
	base := context.WithoutCancel(ctx)
	for _, r := range routes {
		if !r.accepts(n.Level) {
			continue
		}
		ch := r.ch
		err := m.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(base, m.timeout)
			defer cancel()
			if err := ch.Send(sendCtx, alert); err != nil {
				m.logger.Error("Failed to send alert", "channel", ch.Name(), "error", err)
			}
		})
		if err != nil {
			telemetry.GetGlobalMetrics().RecordNotificationDropped(ctx)
			m.logger.Warn("Alert dropped", "channel", ch.Name(), "title", n.Title, "error", err)
		}
	}
}
