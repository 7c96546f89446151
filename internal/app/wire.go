package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/moltenlava16/kalshi-arbitrage/internal/cache/redis"
	"github.com/moltenlava16/kalshi-arbitrage/internal/config"
	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/notify"
	"github.com/moltenlava16/kalshi-arbitrage/internal/platform/kalshi"
	"github.com/moltenlava16/kalshi-arbitrage/internal/store/postgres"
)

// Dependencies bundles the external collaborators the run modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Markets      *marketRegistry
	Attempts     domain.AttemptStore
	Opps         domain.OpportunityStore
	LedgerStore  domain.LedgerStore
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	Events       domain.EventSink
	Notifier     *notify.Notifier
	Signer       *kalshi.Signer
	KalshiClient *kalshi.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function to call on
// shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Markets = newMarketRegistry(postgres.NewMarketStore(pool))
	deps.Attempts = postgres.NewAttemptStore(pool)
	deps.Opps = postgres.NewOpportunityStore(pool)
	deps.LedgerStore = postgres.NewLedgerStore(pool)

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Events = redis.NewEventBus(redisClient, "kalshibot:events", "kalshibot:events:stream")

	pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: read rsa key: %w", err)
	}
	signer, err := kalshi.NewSigner(cfg.Kalshi.ApiKeyID, pemBytes)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: kalshi signer: %w", err)
	}
	deps.Signer = signer
	deps.KalshiClient = kalshi.NewClient(cfg.Kalshi.BaseURL, signer, deps.RateLimiter, logger)

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
