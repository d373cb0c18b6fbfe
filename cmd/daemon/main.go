// SPDX-License-Identifier: MIT

// Command daemon runs the quoteflow service: the quote engine, the durable
// workflow workers, the SLA monitor and the ops API, all over one sqlite
// database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/silasqian/quoteflow/internal/api"
	"github.com/silasqian/quoteflow/internal/compliance"
	"github.com/silasqian/quoteflow/internal/config"
	"github.com/silasqian/quoteflow/internal/costtable"
	qflog "github.com/silasqian/quoteflow/internal/log"
	"github.com/silasqian/quoteflow/internal/persistence/sqlite"
	"github.com/silasqian/quoteflow/internal/quote"
	"github.com/silasqian/quoteflow/internal/reply"
	"github.com/silasqian/quoteflow/internal/resilience"
	"github.com/silasqian/quoteflow/internal/workflow"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCfg := qflog.Config{Level: cfg.Log.Level, Version: version}
	if cfg.Log.Format == "console" {
		logCfg.Output = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	qflog.Configure(logCfg)
	logger := qflog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sqlite.Open(filepath.Join(cfg.DataDir, "quoteflow.db"), sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := workflow.NewStore(db, workflow.StoreConfig{
		MaxAttempts: cfg.Workflow.MaxAttempts,
		BaseBackoff: cfg.Workflow.BaseBackoff,
		MaxBackoff:  cfg.Workflow.MaxBackoff,
	}, qflog.WithComponent("store"))
	if err != nil {
		return err
	}

	repo, err := costtable.NewRepository(cfg.Quote.CostTableDir)
	if err != nil {
		return fmt.Errorf("load cost tables: %w", err)
	}
	logger.Info().Int("rates", repo.Len()).Str("dir", cfg.Quote.CostTableDir).Msg("cost tables loaded")

	profile := quote.ProfileNormal
	if cfg.Quote.PricingProfile == "member" {
		profile = quote.ProfileMember
	}

	providers := []quote.Provider{}
	if cfg.Quote.RemoteURL != "" {
		providers = append(providers, quote.NewRemoteProvider(
			cfg.Quote.RemoteURL, cfg.Quote.RemoteAPIKeyEnv, cfg.Quote.RemoteTimeout, nil, profile))
	} else {
		logger.Warn().Msg("no remote cost source configured, quoting from tables only")
	}
	providers = append(providers,
		quote.NewCostTableProvider(repo, nil, profile),
		quote.NewRuleTableProvider(),
	)

	breaker := resilience.NewCircuitBreaker("remote_quote",
		cfg.Quote.BreakerThreshold, cfg.Quote.BreakerReset)

	engineOpts := []quote.EngineOption{quote.WithAudit(store)}
	if cfg.Redis.Addr != "" {
		shared, err := quote.NewRedisCache(quote.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, qflog.WithComponent("redis"))
		if err != nil {
			return fmt.Errorf("shared cache: %w", err)
		}
		defer func() { _ = shared.Close() }()
		engineOpts = append(engineOpts, quote.WithSharedCache(shared))
	}

	engine := quote.NewEngine(quote.EngineConfig{
		TTL:            cfg.Quote.TTL,
		MaxStale:       cfg.Quote.MaxStale,
		SafetyMargin:   cfg.Quote.SafetyMargin,
		RemoteAttempts: cfg.Quote.RemoteAttempts,
	}, providers, breaker, quote.NewCache(time.Minute), qflog.WithComponent("quote"), engineOpts...)

	policy := compliance.NewPolicy(compliance.Config{
		BlockedKeywords:     cfg.Compliance.BlockedKeywords,
		WarnKeywords:        cfg.Compliance.WarnKeywords,
		PerSessionPerMinute: cfg.Compliance.PerSessionPerMinute,
		Burst:               cfg.Compliance.Burst,
	}, qflog.WithComponent("compliance"))

	dispatcher := reply.LogDispatcher{Logger: qflog.WithComponent("dispatch")}

	monitor := workflow.NewMonitor(workflow.SLAConfig{
		Window:              cfg.SLA.Window,
		Interval:            cfg.SLA.Interval,
		FirstResponseP95Max: cfg.SLA.FirstResponseP95Max,
		QuoteSuccessMin:     cfg.SLA.QuoteSuccessMin,
		Stability:           cfg.SLA.Stability,
		MinSamples:          cfg.SLA.MinSamples,
	}, store, qflog.WithComponent("sla"))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := repo.Watch(ctx, qflog.WithComponent("costtable")); err != nil &&
			!errors.Is(err, context.Canceled) {
			// Hot reload is best effort; the loaded tables keep serving.
			logger.Warn().Err(err).Msg("cost table watch stopped")
		}
		return nil
	})

	for i := 0; i < cfg.Workflow.Workers; i++ {
		worker := workflow.NewWorker(workflow.WorkerConfig{
			Owner:         fmt.Sprintf("worker-%d", i),
			PollInterval:  cfg.Workflow.PollInterval,
			BatchSize:     cfg.Workflow.BatchSize,
			Lease:         cfg.Workflow.Lease,
			FollowupAfter: cfg.Workflow.FollowupAfter,
		}, store, engine, policy, dispatcher, qflog.WithComponent("worker"))
		g.Go(func() error { return worker.Run(ctx) })
	}

	g.Go(func() error { return monitor.Run(ctx) })

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(store, monitor, cfg.API.RateLimitPerMinute, qflog.WithComponent("api")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Listen).Msg("ops api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
