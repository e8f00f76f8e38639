// Package liveserver streams notifications and status changes to UI clients
// over websocket.
package liveserver

import (
	"context"
	"sort"
	"sync"
)

const subscriberBuffer = 64

// Subscriber is one stream connection's outbound queue
type Subscriber struct {
	id   string
	out  chan Message
	mu   sync.Mutex
	done bool
}

func NewSubscriber(id string) *Subscriber {
	return &Subscriber{id: id, out: make(chan Message, subscriberBuffer)}
}

// Messages closes when the hub drops the subscriber
func (s *Subscriber) Messages() <-chan Message {
	return s.out
}

// offer queues msg unless the subscriber is closed or its queue is full
func (s *Subscriber) offer(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.out)
	}
}

// Logger is the subset of core.ILogger the hub and server use
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub fans every message out to all subscribers without blocking. A
// subscriber whose queue is full is dropped. The latest balance and refill
// status are replayed to each new subscriber.
type Hub struct {
	logger Logger

	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	latest  map[string]Message
	stopped bool
}

func NewHub(logger Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
		latest: make(map[string]Message),
	}
}

// Run blocks until ctx is done, then closes every subscriber. Later
// subscriptions are closed immediately.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for s := range h.subs {
		s.close()
	}
	h.subs = make(map[*Subscriber]struct{})
}

func (h *Hub) Subscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		s.close()
		return
	}
	h.subs[s] = struct{}{}

	types := make([]string, 0, len(h.latest))
	for t := range h.latest {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		s.offer(h.latest[t])
	}
	h.info("Stream subscriber added", "client_id", s.id, "total_clients", len(h.subs))
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.close()
	h.info("Stream subscriber removed", "client_id", s.id, "total_clients", len(h.subs))
}

// Broadcast offers msg to every subscriber. It reports false once the hub
// has stopped.
func (h *Hub) Broadcast(msg Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	if replayed[msg.Type] {
		h.latest[msg.Type] = msg
	}
	for s := range h.subs {
		if s.offer(msg) {
			continue
		}
		delete(h.subs, s)
		s.close()
		if h.logger != nil {
			h.logger.Warn("Dropped slow stream subscriber", "client_id", s.id)
		}
	}
	return true
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) info(msg string, kv ...interface{}) {
	if h.logger != nil {
		h.logger.Info(msg, kv...)
	}
}
