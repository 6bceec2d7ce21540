package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fx-price-feeder/internal/alerting"
	"fx-price-feeder/internal/api"
	"fx-price-feeder/internal/config"
	"fx-price-feeder/internal/crosscheck"
	"fx-price-feeder/internal/feeder"
	"fx-price-feeder/internal/metrics"
	"fx-price-feeder/internal/monitor"
	"fx-price-feeder/internal/oracle"
	"fx-price-feeder/internal/provider"
	"fx-price-feeder/internal/report"
	"fx-price-feeder/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProviders() (*provider.Registry, *provider.Cache) {
	p := a.Config.Providers

	cache := provider.NewCache(p.Cache.TTL, p.Cache.Path, a.Logger)

	registry := provider.NewRegistry(map[provider.Kind]provider.Provider{
		provider.KindMarket: provider.NewMarket(provider.MarketOptions{
			BaseURL: p.Market.BaseURL,
			APIKey:  p.Market.APIKey,
			Timeout: p.Market.RequestTimeout,
		}, a.Logger),
		provider.KindBackup: provider.NewBackup(provider.BackupOptions{
			BaseURL: p.Backup.BaseURL,
			APIKey:  p.Backup.Token,
			Timeout: p.Backup.RequestTimeout,
		}, a.Logger),
		provider.KindGold: provider.NewGold(provider.GoldOptions{
			BaseURL: p.Gold.BaseURL,
			APIKey:  p.Gold.AccessToken,
			Timeout: p.Gold.RequestTimeout,
		}, a.Logger),
		provider.KindCache: provider.NewCacheProvider(cache, a.Logger),
	})

	return registry, cache
}

func (a *App) newChecker() *crosscheck.Checker {
	return crosscheck.New(crosscheck.Options{
		BaseURL:             a.Config.CrossCheck.BaseURL,
		Timeout:             a.Config.CrossCheck.RequestTimeout,
		FXThresholdPct:      a.Config.CrossCheck.FXThresholdPct,
		BullionThresholdPct: a.Config.CrossCheck.BullionThresholdPct,
		Overrides:           a.Config.CrossCheck.Overrides,
	}, a.Logger)
}

// newOracle returns nil when no RPC endpoint is configured: every run is
// then a dry run.
func (a *App) newOracle() (oracle.Client, error) {
	if a.Config.Oracle.RPCURL == "" {
		return nil, nil
	}
	client, err := oracle.New(oracle.Options{
		RPCURL:          a.Config.Oracle.RPCURL,
		ContractAddress: a.Config.Oracle.ContractAddress,
		PrivateKey:      a.Config.Oracle.PrivateKey,
		ChainID:         a.Config.Oracle.ChainID,
		Timeout:         a.Config.Oracle.RequestTimeout,
		BatchEnabled:    a.Config.Oracle.BatchEnabled,
		GasLimit:        a.Config.Oracle.GasLimit,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Webhook.Enabled {
		return nil
	}
	return alerting.NewWebhookNotifier(a.Config.Webhook.URL, a.Config.Webhook.RequestTimeout, a.Logger)
}

func (a *App) newReportWriter() *report.Writer {
	return report.NewWriter(a.Config.Reports.Dir, a.Config.Reports.Retention, a.Logger)
}

func (a *App) newFeeder(committer oracle.Client) (*feeder.Feeder, error) {
	registry, cache := a.newProviders()
	return feeder.New(a.Config.AssetUniverse(), registry, cache, committer, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// RunOptions carry CLI overrides for the daemon.
type RunOptions struct {
	Once      bool
	DryRun    bool
	Symbols   []string
	Timestamp int64
}

// Run executes the long-running monitoring daemon.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store != nil {
		unlock, acquired, lockErr := store.TryAdvisoryLock(ctx, a.Config.Monitor.AdvisoryLockKey)
		if lockErr != nil {
			return lockErr
		}
		if !acquired {
			return errors.New("another fxfeedd instance holds the advisory lock")
		}
		defer unlock()
	}

	committer, err := a.newOracle()
	if err != nil {
		return err
	}
	fd, err := a.newFeeder(committer)
	if err != nil {
		return err
	}

	m := metrics.New()

	// Assign through the interface only when a pool exists so the monitor
	// sees a true nil and skips persistence.
	var recorder monitor.CycleRecorder
	if store != nil {
		recorder = store
	}

	mon := monitor.New(monitor.Options{
		Interval:          a.Config.Monitor.Interval,
		Jitter:            a.Config.Monitor.Jitter,
		AlertCeiling:      a.Config.Monitor.AlertCeiling,
		Commit:            a.Config.Monitor.Commit && !opts.DryRun,
		SafeMode:          a.Config.Monitor.SafeMode,
		Once:              opts.Once,
		Symbols:           opts.Symbols,
		TimestampOverride: opts.Timestamp,
		SkipThreshold:     a.Config.Monitor.SkipThreshold,
		PauseCooldown:     a.Config.Monitor.PauseCooldown,
		BackoffCeiling:    a.Config.Monitor.BackoffCeiling,
		VerifyCommand:     a.Config.Monitor.VerifyCommand,
	}, fd, a.newChecker(), a.newReportWriter(), a.newNotifier(), recorder, m, a.Logger)

	apiErrCh := make(chan error, 1)
	if a.Config.API.Enabled {
		srv := api.NewServer(a.Config.API, a.newReportWriter(), mon, m, a.Logger)
		go func() {
			apiErrCh <- srv.Start(ctx)
		}()
	}

	a.Logger.Info().Msg("starting price feed monitor")
	err = mon.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	if a.Config.API.Enabled {
		cancel()
		select {
		case apiErr := <-apiErrCh:
			if apiErr != nil && !errors.Is(apiErr, context.Canceled) {
				return apiErr
			}
		case <-time.After(10 * time.Second):
			a.Logger.Warn().Msg("status API did not shut down in time")
		}
	}

	a.Logger.Info().Msg("price feed monitor stopped")
	return nil
}

// FeedOptions configure a single manual feed cycle.
type FeedOptions struct {
	Symbols   []string
	Commit    bool
	Timestamp int64
}

// CheckOptions configure the standalone cross-check command.
type CheckOptions struct {
	Symbols []string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting breach history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
