// Package app wires configuration, storage and services into a running
// loyalty engine. Binaries under cmd/ share it.
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipt-rewards/internal/async"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/events"
	"github.com/joseph-ayodele/receipt-rewards/internal/export"
	"github.com/joseph-ayodele/receipt-rewards/internal/ingest"
	"github.com/joseph-ayodele/receipt-rewards/internal/receipts"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository/memstore"
	"github.com/joseph-ayodele/receipt-rewards/internal/rewards"
	"github.com/joseph-ayodele/receipt-rewards/internal/server"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

// MemoryDSN selects the in-process store instead of a database.
const MemoryDSN = "memory"

// App holds every long-lived component of the engine.
type App struct {
	Config   *common.Config
	DB       *repository.DB
	Repos    repository.Repositories
	Rules    *settings.Provider
	Sink     events.Sink
	Rewards  *rewards.Manager
	Receipts *receipts.Service
	Exports  *export.Service
	Queue    *async.SubmissionQueue
	Ingestor *ingest.FSIngestor
	Loyalty  *server.LoyaltyService

	logger *slog.Logger
}

// New opens storage, loads the rules and builds the services. A rules file
// that cannot be loaded is logged and left to the periodic refresh; until
// then receipts are held for review.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	var src settings.Source = settings.StaticSource(settings.Defaults())
	if cfg.Rules.File != "" {
		src = settings.FileSource{Path: cfg.Rules.File}
	}
	a.Rules = settings.NewProvider(src, logger)
	if _, err := a.Rules.Refresh(ctx); err != nil {
		logger.Warn("starting without rules snapshot", "rules_file", cfg.Rules.File, "error", err)
	}

	a.Sink = events.NewLogSink(logger)
	a.Rewards = rewards.NewManager(a.Repos.Rewards, a.Repos.Customers, logger, rewards.WithSink(a.Sink))
	a.Receipts = receipts.NewService(a.Repos, a.Rules, a.Rewards, logger,
		receipts.WithTimeout(cfg.Pipeline.Timeout),
		receipts.WithSink(a.Sink),
	)
	a.Exports = export.NewService(a.Repos, logger)
	a.Queue = async.NewSubmissionQueue(a.Receipts, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithJobTimeout(2*cfg.Pipeline.Timeout),
		async.WithResultFunc(a.report),
	)
	a.Ingestor = ingest.NewFSIngestor(a.Queue, a.Repos.Customers, logger)
	a.Loyalty = server.NewLoyaltyService(a.Receipts, a.Rewards, a.Rules, a.Repos, logger)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	dsn := strings.TrimSpace(a.Config.Database.DSN)
	if dsn == MemoryDSN {
		a.logger.Info("using in-memory store")
		a.Repos = memstore.New().Repositories()
		return nil
	}
	db, err := repository.Open(ctx, repository.Config{
		DSN:              dsn,
		MaxConns:         a.Config.Database.MaxConns,
		MinConns:         a.Config.Database.MinConns,
		MaxConnLifetime:  a.Config.Database.MaxConnLifetime,
		MaxConnIdleTime:  a.Config.Database.MaxConnIdleTime,
		DialTimeout:      a.Config.Database.DialTimeout,
		StatementTimeout: a.Config.Database.StatementTimeout,
	}, a.logger)
	if err != nil {
		return err
	}
	if a.Config.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db.Driver); err != nil {
			repository.Close(db, a.logger)
			return common.WrapError(err, "migrate schema")
		}
		a.logger.Info("schema migrated")
	}
	a.DB = db
	a.Repos = repository.NewSQLRepositories(db.Driver, a.logger)
	return nil
}

func (a *App) report(job async.Job, res *receipts.Result, err error) {
	if err != nil {
		a.logger.Warn("queued submission failed", "job_id", job.ID, "source", job.Source, "error", err)
		return
	}
	if res.Verdict.RewardEarned != nil && *res.Verdict.RewardEarned {
		a.logger.Info("queued submission earned reward", "job_id", job.ID, "customer_id", res.Receipt.CustomerID)
	}
}

// HealthChecks returns the dependency checks served on /healthz.
func (a *App) HealthChecks() map[string]server.HealthFunc {
	checks := map[string]server.HealthFunc{
		"rules": func(context.Context) error {
			_, err := a.Rules.Current()
			return err
		},
	}
	if a.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return repository.HealthCheck(ctx, a.DB, time.Second, a.logger)
		}
	}
	return checks
}

// RefreshRules reloads the rules every interval until ctx is done.
func (a *App) RefreshRules(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = a.Rules.Refresh(ctx)
		}
	}
}

// SweepExpired expires overdue rewards every interval until ctx is done.
func (a *App) SweepExpired(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.Rewards.ExpireDue(ctx, 500)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("expiry sweep", "expired", n)
			}
		}
	}
}

// Close drains the queue and releases storage.
func (a *App) Close(ctx context.Context) {
	if a.Queue != nil {
		a.Queue.Shutdown(ctx)
	}
	repository.Close(a.DB, a.logger)
}
