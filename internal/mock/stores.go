package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"walletd/internal/core"
)

// MockSettingsStore is an in-memory JSON settings store. Err fails every
// call; FailWrites fails only PutSetting.
type MockSettingsStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	writeErr error
	readGate chan struct{}
	Err      error
}

func NewMockSettingsStore() *MockSettingsStore {
	return &MockSettingsStore{data: make(map[string][]byte)}
}

// FailWrites makes every later PutSetting return err. nil restores writes.
func (m *MockSettingsStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// HoldReads blocks GetSetting until the returned release func is called
func (m *MockSettingsStore) HoldReads() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.readGate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.readGate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MockSettingsStore) GetSetting(ctx context.Context, key string, dst interface{}) (bool, error) {
	m.mu.Lock()
	gate := m.readGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *MockSettingsStore) PutSetting(ctx context.Context, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

// MockCredentialSource serves a fixed credential list
type MockCredentialSource struct {
	mu    sync.Mutex
	creds []core.Credential
}

func NewMockCredentialSource(creds ...core.Credential) *MockCredentialSource {
	return &MockCredentialSource{creds: creds}
}

func (m *MockCredentialSource) Set(creds ...core.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = creds
}

func (m *MockCredentialSource) Credentials() []core.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Credential(nil), m.creds...)
}

// MockConversationStore records every snapshot written
type MockConversationStore struct {
	mu     sync.Mutex
	writes [][]core.Conversation
	Err    error
}

func (m *MockConversationStore) SaveConversations(ctx context.Context, conversations []core.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.writes = append(m.writes, append([]core.Conversation(nil), conversations...))
	return nil
}

func (m *MockConversationStore) LoadConversations(ctx context.Context) ([]core.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.writes) == 0 {
		return nil, nil
	}
	return m.writes[len(m.writes)-1], nil
}

func (m *MockConversationStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Writes returns all snapshots written so far
func (m *MockConversationStore) Writes() [][]core.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]core.Conversation(nil), m.writes...)
}

// MockPendingQuoteStore is an in-memory pending-quote ledger
type MockPendingQuoteStore struct {
	mu     sync.Mutex
	quotes map[string]core.PendingQuote
}

func NewMockPendingQuoteStore() *MockPendingQuoteStore {
	return &MockPendingQuoteStore{quotes: make(map[string]core.PendingQuote)}
}

func (m *MockPendingQuoteStore) AddPendingQuote(ctx context.Context, q core.PendingQuote) error {
	if q.QuoteID == "" {
		return errors.New("empty quote id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.QuoteID] = q
	return nil
}

func (m *MockPendingQuoteStore) ListPendingQuotes(ctx context.Context) ([]core.PendingQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.PendingQuote, 0, len(m.quotes))
	for _, q := range m.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockPendingQuoteStore) RemovePendingQuote(ctx context.Context, quoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, quoteID)
	return nil
}

// MockNotifier records notifications
type MockNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (m *MockNotifier) Notify(ctx context.Context, n core.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

func (m *MockNotifier) Sent() []core.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Notification(nil), m.sent...)
}

// MockLogger discards everything
type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

// MockTopupClient records top-ups and fails with Err when set
type MockTopupClient struct {
	mu     sync.Mutex
	Err    error
	tokens []string
}

func (m *MockTopupClient) Topup(ctx context.Context, cred core.Credential, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	return m.Err
}

func (m *MockTopupClient) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}
