package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/config"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/faq"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/flow"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/gateway"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/genai"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/idempotency"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/messaging"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/ratelimit"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/responder"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/router"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/scheduler"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/store"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/tenant"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/twiliowhatsapp"
	"github.com/bilLkarkariy/bbta-saas-sub000/internal/whatsapp"
	"github.com/redis/go-redis/v9"
)

// App is the wired engine. Close releases everything it opened.
type App struct {
	Store     store.Store
	Tenants   *tenant.Directory
	Gateway   *gateway.Gateway
	Server    *Server
	Transport messaging.Service
	Scheduler *scheduler.Scheduler

	closers []func() error
}

// Run builds the engine from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Transport != nil {
		if err := app.Transport.Start(ctx); err != nil {
			return fmt.Errorf("start transport: %w", err)
		}
		app.Gateway.Start(ctx, app.Transport)
	}
	return app.Server.ListenAndServe(ctx)
}

// Build wires every component described by cfg without starting them.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	st, err := store.New(buildStoreOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.Store = st
	app.closers = append(app.closers, st.Close)

	if cfg.TenantsFile != "" {
		profiles, err := tenant.LoadProfiles(cfg.TenantsFile)
		if err != nil {
			return nil, err
		}
		if err := tenant.Seed(ctx, st, profiles); err != nil {
			return nil, err
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		app.closers = append(app.closers, rdb.Close)
	}

	limiter, err := buildLimiter(cfg, rdb)
	if err != nil {
		return nil, err
	}
	deduper, err := buildDeduper(cfg, rdb, st)
	if err != nil {
		return nil, err
	}

	provider := buildProvider(cfg)

	app.Tenants = tenant.NewDirectory(st,
		tenant.WithTTL(cfg.TenantCacheTTL),
		tenant.WithNegativeTTL(cfg.TenantNegativeTTL),
		tenant.WithMaxEntries(cfg.TenantCacheMaxEntries),
	)

	engine := flow.NewEngine(flow.NewStateManager(st))
	if err := flow.RegisterDefaults(engine, st); err != nil {
		return nil, fmt.Errorf("register flows: %w", err)
	}

	var serverOpts []Option
	var sender messaging.Sender = messaging.NopSender
	switch cfg.Transport {
	case config.TransportTwilio:
		svc, err := buildTwilioService(cfg)
		if err != nil {
			return nil, err
		}
		app.Transport = svc
		sender = svc
		app.closers = append(app.closers, svc.Stop)
		serverOpts = append(serverOpts, WithTwilioWebhook(svc))
	case config.TransportWhatsApp:
		svc, closeClient, err := buildWhatsAppService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.Transport = svc
		sender = svc
		app.closers = append(app.closers, svc.Stop, closeClient)
	default:
		slog.Warn("api.Build: no transport configured, replies are discarded")
	}

	app.Gateway, err = gateway.New(gateway.Deps{
		Store:     st,
		Tenants:   app.Tenants,
		Flows:     engine,
		Sender:    sender,
		Deduper:   deduper,
		Limiter:   limiter,
		Router:    router.New(provider),
		FAQ:       faq.NewMatcher(provider),
		Responder: responder.New(provider, responder.WithHistoryLimit(cfg.HistoryLimit)),
	},
		gateway.WithSendTimeout(cfg.SendTimeout),
		gateway.WithHistoryLimit(cfg.HistoryLimit),
	)
	if err != nil {
		return nil, err
	}

	app.Scheduler = scheduler.NewScheduler()
	app.closers = append(app.closers, func() error { app.Scheduler.Stop(); return nil })
	if err := scheduleMaintenance(ctx, cfg, app.Scheduler, st, sender, deduper); err != nil {
		return nil, err
	}

	serverOpts = append(serverOpts, WithAddr(cfg.APIAddr), WithPublicURL(cfg.PublicURL))
	app.Server = NewServer(app.Gateway, app.Tenants, serverOpts...)

	ok = true
	slog.Info("api.Build: engine wired", "transport", cfg.Transport, "dedup", cfg.DedupBackend, "redis", rdb != nil, "provider", provider != nil)
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildStoreOptions(cfg *config.Config) []store.Option {
	if cfg.InMemory || cfg.DatabaseURL == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(cfg.DatabaseURL) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(cfg.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", cfg.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(cfg.DatabaseURL)}
}

// buildProvider returns nil without an API key; every component then falls
// back to its deterministic path.
func buildProvider(cfg *config.Config) genai.Provider {
	client, err := genai.NewClient(
		genai.WithAPIKey(cfg.OpenAIKey),
		genai.WithBaseURL(cfg.OpenAIBaseURL),
		genai.WithTierModel(models.Tier1, cfg.ModelTier1),
		genai.WithTierModel(models.Tier2, cfg.ModelTier2),
		genai.WithTierModel(models.Tier3, cfg.ModelTier3),
		genai.WithTimeout(cfg.CompletionTimeout),
	)
	if err != nil {
		slog.Warn("api.Build: completion provider disabled", "error", err)
		return nil
	}
	return client
}

func buildLimiter(cfg *config.Config, rdb *redis.Client) (*ratelimit.Limiter, error) {
	if rdb != nil {
		return ratelimit.NewRedis(cfg.RateLimit, rdb)
	}
	return ratelimit.NewMemory(cfg.RateLimit)
}

func buildDeduper(cfg *config.Config, rdb *redis.Client, st store.Store) (idempotency.Deduper, error) {
	switch cfg.DedupBackend {
	case config.DedupRedis:
		if rdb == nil {
			return nil, errors.New("redis dedup requires REDIS_URL")
		}
		return idempotency.NewRedisDeduper(rdb, cfg.DedupTTL), nil
	case config.DedupStore:
		return idempotency.NewStoreDeduper(st, cfg.DedupTTL), nil
	default:
		return idempotency.NewMemoryDeduper(cfg.DedupMaxEntries, cfg.DedupTTL), nil
	}
}

func buildTwilioService(cfg *config.Config) (*messaging.TwilioService, error) {
	client, err := twiliowhatsapp.NewClient(
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromNumber(cfg.TwilioFromNumber),
	)
	if err != nil {
		return nil, fmt.Errorf("twilio client: %w", err)
	}
	var opts []messaging.TwilioOption
	if cfg.TwilioValidateSignature {
		opts = append(opts, messaging.WithSignatureValidation(client))
	}
	return messaging.NewTwilioService(client, opts...), nil
}

func buildWhatsAppService(ctx context.Context, cfg *config.Config) (*messaging.WhatsAppService, func() error, error) {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDBDSN)}
	if cfg.WhatsAppQROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsAppQROutput))
	}
	if cfg.WhatsAppNumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(ctx, waOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("whatsapp client: %w", err)
	}
	closeClient := func() error { client.Disconnect(); return nil }
	return messaging.NewWhatsAppService(client), closeClient, nil
}

// scheduleMaintenance registers the failed-send sweep and, for store-backed
// dedup, the purge of expired inbound records.
func scheduleMaintenance(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, st store.Store, sender messaging.Sender, deduper idempotency.Deduper) error {
	resender := messaging.NewResender(st, sender,
		messaging.WithMaxAttempts(cfg.ResendMaxAttempts),
		messaging.WithSendTimeout(cfg.SendTimeout),
	)
	if err := sched.AddContextJob(ctx, cfg.RetrySchedule, "resend-failed", time.Minute, func(ctx context.Context) error {
		_, err := resender.Sweep(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("schedule resend sweep %q: %w", cfg.RetrySchedule, err)
	}

	if sd, ok := deduper.(*idempotency.StoreDeduper); ok {
		if err := sched.AddContextJob(ctx, cfg.PurgeSchedule, "purge-dedup", time.Minute, func(ctx context.Context) error {
			_, err := sd.Purge(time.Now())
			return err
		}); err != nil {
			return fmt.Errorf("schedule dedup purge %q: %w", cfg.PurgeSchedule, err)
		}
	}
	return nil
}
