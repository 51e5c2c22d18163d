package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dexalign/internal/alerting"
	"dexalign/internal/config"
	"dexalign/internal/execution"
	"dexalign/internal/fetcher"
	"dexalign/internal/httpapi"
	"dexalign/internal/scheduler"
	"dexalign/internal/service"
	"dexalign/internal/storage"
	"dexalign/internal/version"
	"dexalign/internal/watchdog"
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

func (a *App) newFetchers() (fetcher.CEXQuoteFetcher, fetcher.DEXQuoteFetcher) {
	cex := fetcher.NewCEX(fetcher.CEXOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)

	dex := fetcher.NewDex(fetcher.DexOptions{
		RPCURL:         a.Config.Dex.RPCURL,
		RouterAddress:  a.Config.Dex.RouterAddress,
		USDTAddress:    a.Config.Dex.USDTAddress,
		WNativeAddress: a.Config.Dex.WNativeAddress,
		ProbeSizesUSDT: a.Config.Dex.ProbeSizesUSDT,
		Timeout:        a.Config.Dex.RequestTimeout,
	}, a.Logger)

	return cex, dex
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
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

// Run starts the decision loop, the watchdog loop, and both HTTP listeners,
// and blocks until a signal or a fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	notifier := a.newNotifier()

	engine := execution.New(a.Config.Execution, store, store, nil, a.Logger)
	if err := engine.Reconcile(ctx); err != nil {
		return err
	}

	cex, dex := a.newFetchers()
	svc := service.New(a.Config, cex, dex, engine, notifier, a.Logger)

	monitor := watchdog.New(a.Config.Watchdog, alerting.NewRestartNotifier(notifier, a.Logger), a.Logger)

	decisionLoop := scheduler.New(scheduler.Options{
		Name:         "decision_loop",
		Interval:     a.Config.Scheduler.Interval,
		TickTimeout:  a.Config.Scheduler.TickTimeout,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	watchdogLoop := scheduler.New(scheduler.Options{
		Name:        "watchdog_loop",
		Interval:    a.Config.Watchdog.PollInterval,
		TickTimeout: a.Config.Watchdog.PollInterval,
	}, a.Logger)

	executionAPI := httpapi.NewExecutionAPI(a.Config.Server.ExecutionAddr, engine, store, a.Logger)
	watchdogAPI := httpapi.NewWatchdogAPI(a.Config.Server.WatchdogAddr, monitor, a.Logger)

	a.Logger.Info().
		Str("version", version.String()).
		Str("mode", a.Config.Execution.Mode).
		Bool("kill_switch", a.Config.Execution.KillSwitch).
		Int("symbols", len(a.Config.Symbols)).
		Int("watched_services", len(a.Config.Watchdog.Services)).
		Msg("starting dexalign")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return decisionLoop.Run(groupCtx, svc.Tick) })
	group.Go(func() error { return watchdogLoop.Run(groupCtx, monitor.Poll) })
	group.Go(func() error { return executionAPI.Run(groupCtx) })
	group.Go(func() error { return watchdogAPI.Run(groupCtx) })

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("dexalign stopped")
	return nil
}

// ExportOptions hold parameters for exporting decision history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Symbol string
}
