package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"walletd/internal/core"
	pkghttp "walletd/pkg/http"

	"github.com/robfig/cron/v3"
)

type walletInfo struct {
	Balance int64 `json:"balance"`
}

// Syncer refreshes credential balances on a cron schedule
type Syncer struct {
	source   *Source
	schedule string
	timeout  time.Duration
	logger   core.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	clients map[string]*pkghttp.Client
}

// NewSyncer creates a syncer. schedule is a cron spec such as "@every 30s".
func NewSyncer(source *Source, schedule string, timeout time.Duration, logger core.ILogger) *Syncer {
	if schedule == "" {
		schedule = "@every 30s"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Syncer{
		source:   source,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.WithField("component", "credential_sync"),
		clients:  make(map[string]*pkghttp.Client),
	}
}

// Start runs one sync immediately, then on schedule until ctx is done
func (s *Syncer) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.SyncOnce(ctx) }); err != nil {
		return err
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	s.SyncOnce(ctx)
	c.Start()
	s.logger.Info("Credential sync started", "schedule", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sync to finish
func (s *Syncer) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// SyncOnce refreshes every credential's balance
func (s *Syncer) SyncOnce(ctx context.Context) {
	for _, cred := range s.source.Credentials() {
		s.syncOne(ctx, cred)
	}
}

func (s *Syncer) syncOne(ctx context.Context, cred core.Credential) {
	if cred.BaseURL == "" || cred.Key == "" {
		return
	}
	body, err := s.client(cred).Get(ctx, "v1/wallet/info", nil)
	if err != nil {
		var apiErr *pkghttp.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			if !cred.Invalid {
				s.logger.Warn("Credential rejected by server, marking invalid", "credential", cred.ID)
				cred.Invalid = true
				s.source.Update(cred)
			}
			return
		}
		s.logger.Warn("Credential sync failed", "credential", cred.ID, "error", err)
		return
	}

	var info walletInfo
	if err := json.Unmarshal(body, &info); err != nil {
		s.logger.Warn("Credential sync returned malformed body", "credential", cred.ID, "error", err)
		return
	}

	if info.Balance == cred.BalanceMsats && !cred.Invalid && !cred.SyncedAt.IsZero() {
		return
	}
	cred.BalanceMsats = info.Balance
	cred.Invalid = false
	cred.SyncedAt = time.Now()
	s.source.Update(cred)
	s.logger.Debug("Credential balance updated", "credential", cred.ID, "balance_msats", info.Balance)
}

func (s *Syncer) client(cred core.Credential) *pkghttp.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cred.ID + "|" + cred.BaseURL + "|" + cred.Key
	if c, ok := s.clients[key]; ok {
		return c
	}
	c := pkghttp.NewClientWithOptions(normalizeBaseURL(cred.BaseURL), s.timeout,
		pkghttp.BearerSigner{Token: cred.Key}, pkghttp.Options{MaxRetries: 1})
	s.clients[key] = c
	return c
}
