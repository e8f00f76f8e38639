package main

import (
	"context"
	"fmt"
	"time"

	"walletd/internal/alert"
	"walletd/internal/api"
	"walletd/internal/auth"
	"walletd/internal/bootstrap"
	"walletd/internal/config"
	"walletd/internal/core"
	"walletd/internal/credentials"
	"walletd/internal/infrastructure/health"
	"walletd/internal/mint"
	"walletd/internal/nwc"
	"walletd/internal/payment"
	"walletd/internal/persistence"
	"walletd/internal/refill"
	"walletd/internal/store"
	"walletd/internal/wallet"
	"walletd/pkg/concurrency"
	apperrors "walletd/pkg/errors"
	"walletd/pkg/liveserver"
	"walletd/pkg/telemetry"
)

const statusBroadcastInterval = 2 * time.Second

// daemon owns every long-lived component
type daemon struct {
	cfg    *config.Config
	logger core.ILogger

	store        *store.SQLiteStore
	wallet       *wallet.Wallet
	bridge       *nwc.Bridge
	syncer       *credentials.Syncer
	orchestrator *refill.Orchestrator
	batcher      *persistence.Batcher
	hub          *liveserver.Hub
	refillPool   *concurrency.WorkerPool
	alertPool    *concurrency.WorkerPool
	admin        *api.Server
	grpcHealth   *api.HealthServer
}

func build(cfg *config.Config, logger core.ILogger) (*daemon, error) {
	ctx := context.Background()
	d := &daemon{cfg: cfg, logger: logger}

	st, err := store.NewSQLiteStore(cfg.App.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	d.store = st

	issuer := mint.NewBridgeIssuer(cfg.Mint.IssuerURL, cfg.Mint.IssuerToken.Value(), cfg.Mint.Timeout())
	mintClient := mint.NewClient(issuer, cfg.Mint.Timeout(), logger)

	d.wallet = wallet.New(st, mintClient, cfg.Wallet.ActiveMint, logger)
	if err := d.wallet.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("wallet: %w", err)
	}
	mintClient.UseLedger(d.wallet)

	d.bridge = nwc.NewBridge(nwc.Config{
		URL:            cfg.Wallet.BridgeURL,
		Token:          cfg.Wallet.BridgeToken.Value(),
		RequestTimeout: cfg.Wallet.RequestTimeout(),
	}, logger)

	executor := payment.NewExecutor(d.bridge, mintClient, payment.Config{
		PollAttempts: cfg.Mint.PollAttempts,
		PollInterval: cfg.Mint.PollInterval(),
	}, logger)
	reclaimer := payment.NewReclaimer(executor, st, d.wallet, logger)

	initial := make([]core.Credential, 0, len(cfg.Credentials.Keys))
	for _, k := range cfg.Credentials.Keys {
		initial = append(initial, core.Credential{ID: k.ID, Key: k.Key.Value(), BaseURL: k.BaseURL})
	}
	source := credentials.NewSource(initial)
	d.syncer = credentials.NewSyncer(source, cfg.Credentials.SyncSchedule, cfg.Credentials.Timeout(), logger)
	topup := credentials.NewTopupClient(cfg.Topup.Timeout(), logger)

	d.hub = liveserver.NewHub(logger)
	stream := liveserver.NewServer(d.hub, logger, cfg.Server.AllowedOrigins, liveserver.Limits{
		MaxConnections: cfg.Server.MaxStreamConnections,
	})
	stream.SetProduction(cfg.Server.Production)

	d.alertPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  cfg.Notifications.Workers,
		MaxCapacity: cfg.Notifications.QueueSize,
		NonBlocking: true,
	}, logger)
	alerts := buildAlerts(cfg, d.alertPool, d.hub, logger)

	workers := cfg.Refill.Workers
	if workers <= 0 {
		workers = len(refill.Channels)
	}
	d.refillPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "refill",
		MaxWorkers:  workers,
		MaxCapacity: len(refill.Channels),
		NonBlocking: true,
	}, logger)

	d.orchestrator = refill.NewOrchestrator(refill.Deps{
		Settings:    st,
		Credentials: source,
		Wallet:      d.wallet,
		Connector:   d.bridge,
		Payer:       executor,
		Mint:        mintClient,
		Topup:       topup,
		Notifier:    alerts,
		Quotes:      reclaimer,
		Pool:        d.refillPool,
	}, refill.Options{
		CheckInterval: cfg.Refill.CheckInterval(),
		Cooldown:      cfg.Refill.Cooldown(),
		TickInterval:  cfg.Refill.Tick(),
	}, logger)

	d.wallet.OnBalanceChange(func(total int64) {
		d.hub.Broadcast(liveserver.NewBalanceMessage(liveserver.Balance{
			TotalSats: total,
			PerMint:   telemetry.GetGlobalMetrics().GetWalletBalances(),
		}))
		// Listeners run on the mutating goroutine; checks must not block it.
		go d.orchestrator.NotifyBalanceChanged()
	})
	source.OnChange(func([]core.Credential) {
		go d.orchestrator.NotifyCredentialsChanged()
	})

	var convStore core.IConversationStore = st
	if cfg.Persistence.Backend == "file" {
		convStore = store.NewFileConversationStore(cfg.Persistence.FilePath)
	}
	d.batcher = persistence.NewBatcher(convStore, cfg.Persistence.Debounce(), logger)
	existing, err := convStore.LoadConversations(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("conversations: %w", err)
	}
	d.batcher.Initialize(existing)

	hm := health.NewHealthManager(logger)
	hm.Register("store", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return st.Ping(pingCtx)
	})
	if cfg.Wallet.BridgeURL != "" {
		hm.RegisterOptional("nwc", func() error {
			if !d.bridge.IsConnected() {
				return apperrors.ErrWalletNotConnected
			}
			return nil
		})
	}

	adminKeys := make([]string, 0, len(cfg.Server.AdminKeys))
	for _, k := range cfg.Server.AdminKeys {
		adminKeys = append(adminKeys, k.Value())
	}

	d.admin = api.NewServer(cfg.Server.Addr, api.Deps{
		Health:  hm,
		Refill:  d.orchestrator,
		Batcher: d.batcher,
		Pools:   []*concurrency.WorkerPool{d.refillPool, d.alertPool},
		Stream:  stream,
		Auth:    auth.NewAPIKeyValidator(adminKeys, 0, logger),
	}, logger)
	if cfg.Server.GRPCAddr != "" {
		d.grpcHealth = api.NewHealthServer(cfg.Server.GRPCAddr, hm, 0, logger)
	}

	logger.Info("walletd assembled",
		"active_mint", cfg.Wallet.ActiveMint,
		"balance", core.FormatSats(d.wallet.Balance()),
		"credentials", len(initial),
		"persistence", cfg.Persistence.Backend)
	return d, nil
}

func buildAlerts(cfg *config.Config, pool *concurrency.WorkerPool, hub *liveserver.Hub, logger core.ILogger) *alert.Manager {
	m := alert.NewManager(pool, logger)
	m.AddChannel(alert.NewLogChannel(logger))
	m.AddChannel(alert.NewStreamChannel(hub))

	n := cfg.Notifications
	if url := n.WebhookURL.Value(); url != "" {
		m.AddChannel(alert.NewWebhookChannel(url), core.NotifySuccess, core.NotifyError)
	}
	if token := n.TelegramBotToken.Value(); token != "" && n.TelegramChatID != "" {
		m.AddChannel(alert.NewTelegramChannel(n.TelegramAPIURL, token, n.TelegramChatID), core.NotifySuccess, core.NotifyError)
	}
	return m
}

func (d *daemon) runners() []bootstrap.Runner {
	rs := []bootstrap.Runner{
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			d.hub.Run(ctx)
			return nil
		}),
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			if err := d.syncer.Start(ctx); err != nil {
				return fmt.Errorf("credential sync: %w", err)
			}
			<-ctx.Done()
			d.syncer.Stop()
			return nil
		}),
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			if err := d.orchestrator.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return d.orchestrator.Stop()
		}),
		bootstrap.RunnerFunc(d.broadcastStatus),
		d.admin,
	}
	if d.cfg.Wallet.BridgeURL != "" {
		rs = append(rs, bootstrap.RunnerFunc(func(ctx context.Context) error {
			d.bridge.Start()
			<-ctx.Done()
			d.bridge.Stop()
			return nil
		}))
	}
	if d.grpcHealth != nil {
		rs = append(rs, d.grpcHealth)
	}
	return rs
}

// broadcastStatus keeps the stream's replayed refill status current
func (d *daemon) broadcastStatus(ctx context.Context) error {
	ticker := time.NewTicker(statusBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.hub.Broadcast(liveserver.NewRefillStatusMessage(d.orchestrator.Status()))
		}
	}
}

func (d *daemon) close(ctx context.Context) {
	if err := d.batcher.Close(ctx); err != nil {
		d.logger.Error("Final conversation flush failed", "error", err, "pending", d.batcher.Pending())
	}
	d.refillPool.Stop()
	d.alertPool.Stop()
	if err := d.store.Close(); err != nil {
		d.logger.Warn("Failed to close store", "error", err)
	}
}
