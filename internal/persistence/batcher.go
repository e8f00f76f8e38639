// Package persistence coalesces conversation mutations into whole-snapshot writes.
package persistence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"walletd/internal/core"
	"walletd/pkg/telemetry"
)

// DefaultDelay is the trailing-edge debounce window
const DefaultDelay = 500 * time.Millisecond

// Batcher holds the latest value of every conversation and writes the full
// set after mutations settle. Every write is the whole snapshot, never a delta.
type Batcher struct {
	store  core.IConversationStore
	delay  time.Duration
	logger core.ILogger

	// flushMu serializes writes so two snapshots never race to the store.
	flushMu sync.Mutex

	mu       sync.Mutex
	snapshot map[string]core.Conversation

	// dirty maps an id to the mutation sequence that last touched it. Entries
	// are cleared after a write only when no newer mutation arrived meanwhile.
	dirty      map[string]uint64
	removedSeq uint64
	seq        uint64
	timer      *time.Timer
	closed     bool
}

func NewBatcher(store core.IConversationStore, delay time.Duration, logger core.ILogger) *Batcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Batcher{
		store:    store,
		delay:    delay,
		logger:   logger.WithField("component", "persistence_batcher"),
		snapshot: make(map[string]core.Conversation),
		dirty:    make(map[string]uint64),
	}
}

// Initialize replaces the snapshot wholesale without writing
func (b *Batcher) Initialize(items []core.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = make(map[string]core.Conversation, len(items))
	for _, c := range items {
		b.snapshot[c.ID] = c
	}
}

// QueueUpdate upserts one conversation and restarts the debounce window
func (b *Batcher) QueueUpdate(item core.Conversation) {
	b.QueueBatchUpdate([]core.Conversation{item})
}

// QueueBatchUpdate upserts several conversations under one debounce window
func (b *Batcher) QueueBatchUpdate(items []core.Conversation) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range items {
		b.seq++
		b.snapshot[c.ID] = c
		b.dirty[c.ID] = b.seq
	}
	b.resetTimerLocked()
}

// RemoveConversation drops id from the snapshot. The removal is written even
// if nothing else changes afterwards.
func (b *Batcher) RemoveConversation(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.snapshot[id]; !ok {
		if _, dirty := b.dirty[id]; !dirty {
			return
		}
	}
	delete(b.snapshot, id)
	delete(b.dirty, id)
	b.seq++
	b.removedSeq = b.seq
	if b.timer == nil {
		b.resetTimerLocked()
	}
}

// Flush writes the snapshot if anything is pending
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.dirty) == 0 && b.removedSeq == 0 {
		b.stopTimerLocked()
		b.mu.Unlock()
		return nil
	}
	items := sortedSnapshot(b.snapshot)
	written := make(map[string]uint64, len(b.dirty))
	for id, s := range b.dirty {
		written[id] = s
	}
	removedSeq := b.removedSeq
	b.stopTimerLocked()
	b.mu.Unlock()

	start := time.Now()
	err := b.store.SaveConversations(ctx, items)
	telemetry.GetGlobalMetrics().RecordFlush(ctx, time.Since(start), err)
	if err != nil {
		b.logger.Error("Failed to write conversations", "count", len(items), "error", err)
		return fmt.Errorf("failed to write conversations: %w", err)
	}

	b.mu.Lock()
	for id, s := range written {
		if b.dirty[id] == s {
			delete(b.dirty, id)
		}
	}
	if b.removedSeq == removedSeq {
		b.removedSeq = 0
	}
	b.mu.Unlock()

	b.logger.Debug("Conversations written", "count", len(items), "took", time.Since(start))
	return nil
}

// Clear discards pending work without writing
func (b *Batcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = make(map[string]uint64)
	b.removedSeq = 0
	b.stopTimerLocked()
}

// Snapshot returns the current conversations in write order
func (b *Batcher) Snapshot() []core.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedSnapshot(b.snapshot)
}

// Pending returns the ids awaiting a write
func (b *Batcher) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.dirty))
	for id := range b.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops scheduling and performs a final flush
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.stopTimerLocked()
	b.mu.Unlock()
	return b.Flush(ctx)
}

func (b *Batcher) resetTimerLocked() {
	if b.closed {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.onTimer)
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batcher) onTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Errors are logged in Flush; dirty ids wait for the next mutation.
	_ = b.Flush(ctx)
}

// sortedSnapshot orders numerically descending when every id is an integer
// (millisecond timestamps), otherwise lexicographically descending.
func sortedSnapshot(m map[string]core.Conversation) []core.Conversation {
	items := make([]core.Conversation, 0, len(m))
	numeric := true
	keys := make(map[string]int64, len(m))
	for id, c := range m {
		items = append(items, c)
		if !numeric {
			continue
		}
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			numeric = false
			continue
		}
		keys[id] = n
	}

	if numeric {
		sort.Slice(items, func(i, j int) bool { return keys[items[i].ID] > keys[items[j].ID] })
	} else {
		sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	}
	return items
}
