package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pvpedge/verifier/internal/config"
	"github.com/pvpedge/verifier/internal/engine"
	"github.com/pvpedge/verifier/internal/erp"
	"github.com/pvpedge/verifier/internal/evidence"
	"github.com/pvpedge/verifier/internal/ingest"
	"github.com/pvpedge/verifier/internal/ledger"
	"github.com/pvpedge/verifier/internal/metrics"
	"github.com/pvpedge/verifier/internal/ops"
	"github.com/pvpedge/verifier/internal/plc"
	"github.com/pvpedge/verifier/internal/report"
	"github.com/pvpedge/verifier/internal/repository"
	"github.com/pvpedge/verifier/internal/scanner"
	signaler "github.com/pvpedge/verifier/internal/signal"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	metrics.Register()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Verdict journal.
	pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("creating DB pool: %v", err)
	}
	defer repository.Close(pool, logger)
	if err := repository.HealthCheck(ctx, pool, 3*time.Second); err != nil {
		log.Fatalf("DB health failed: %v", err)
	}
	journal := repository.NewVerdictRepository(pool, logger)
	if err := journal.Migrate(ctx); err != nil {
		log.Fatalf("applying journal schema: %v", err)
	}
	lastSeq, err := journal.NextEventSeq(ctx)
	if err != nil {
		log.Fatalf("reading event watermark: %v", err)
	}

	// Remote ledger cache.
	erpClient, err := erp.NewClient(cfg.ERP.BaseURL, logger,
		erp.WithTimeout(cfg.ERP.Timeout))
	if err != nil {
		log.Fatalf("building ERP client: %v", err)
	}
	cache := ledger.NewCache(cfg.Ledger.MaxAge)
	refresher := ledger.NewRefresher(cache, erpClient, cfg.Ledger.RefreshInterval, logger)

	// Trigger and read ingestion.
	reader := scanner.NewClient(scanner.Config{
		Addr:           cfg.Scanner.Addr,
		Separator:      cfg.Scanner.Separator,
		NoReadToken:    cfg.Scanner.NoReadToken,
		ReconnectDelay: cfg.Scanner.ReconnectDelay,
	}, logger)
	seq := ingest.NewSequenceAt(lastSeq)
	correlator := ingest.NewCorrelator(ingest.Config{
		Window:     cfg.Ingest.Window,
		Pipelining: cfg.Ingest.Pipelining,
		QueueSize:  cfg.Ingest.QueueSize,
	}, seq, reader.Reads(), logger)

	// Line controller.
	bus := plc.NewGateway(cfg.PLC.Addr, cfg.PLC.CallTimeout, logger)
	defer func() { _ = bus.Close() }()
	watcher := plc.NewTriggerWatcher(bus, plc.WatcherConfig{
		PollInterval: cfg.PLC.PollInterval,
		CallTimeout:  cfg.PLC.CallTimeout,
		TriggerTag:   cfg.PLC.TriggerTag,
		ResetTags:    []string{cfg.PLC.OkTag, cfg.PLC.NokTag, cfg.PLC.ReviewTag, cfg.PLC.AckTag},
	}, correlator.Trigger, logger)
	sig := signaler.New(bus, signaler.Config{
		OkTag:       cfg.PLC.OkTag,
		NokTag:      cfg.PLC.NokTag,
		ReviewTag:   cfg.PLC.ReviewTag,
		AckTag:      cfg.PLC.AckTag,
		AckDeadline: cfg.Signal.AckDeadline,
		AckPoll:     cfg.Signal.AckPoll,
	}, logger)

	// Evidence spool and upload.
	spool, err := evidence.OpenStore(cfg.Evidence.DBPath)
	if err != nil {
		log.Fatalf("opening evidence spool: %v", err)
	}
	defer func() { _ = spool.Close() }()
	uploads := evidence.NewUploadQueue(spool, cfg.Evidence.BaseURL, logger,
		evidence.WithWorkers(cfg.Evidence.Workers),
		evidence.WithQueueSize(cfg.Evidence.QueueSize),
		evidence.WithUploadTimeout(cfg.Evidence.UploadTimeout),
		evidence.WithRetry(cfg.Evidence.MaxAttempts, cfg.Evidence.InitialBackoff),
	)
	drops, err := evidence.StartWatcher(ctx, evidence.WatchConfig{
		Dir:      cfg.Evidence.SpoolDir,
		Debounce: cfg.Evidence.Debounce,
	}, logger)
	if err != nil {
		log.Fatalf("watching evidence spool dir: %v", err)
	}
	evCorrelator := evidence.NewCorrelator(spool, uploads, drops, logger)

	// Reporting relay.
	reportClient, err := report.NewClient(cfg.Report.BaseURL, logger,
		report.WithTimeout(cfg.Report.Timeout))
	if err != nil {
		log.Fatalf("building report client: %v", err)
	}
	relay := report.NewRelay(journal, reportClient, report.Config{
		Interval:       cfg.Report.Interval,
		BatchSize:      cfg.Report.BatchSize,
		MaxAttempts:    cfg.Report.MaxAttempts,
		InitialBackoff: cfg.Report.InitialBackoff,
		PlantCode:      cfg.Report.PlantCode,
		WrapperEnabled: cfg.Report.WrapperEnabled,
	}, logger)

	// Decision loop.
	eng := engine.New(correlator.Events(), cache, journal, sig, evCorrelator, logger)

	// Ops surface.
	opsSrv := ops.NewServer(ops.Config{
		Addr:          cfg.Ops.Addr,
		PLCStaleAfter: 5 * cfg.PLC.PollInterval,
	}, pool, cache, refresher, journal, spool, watcher.LastPoll, logger)

	log.Infow("pvpedged starting",
		"event_watermark", lastSeq,
		"refresh_interval", cfg.Ledger.RefreshInterval,
		"correlation_window", cfg.Ingest.Window,
		"ack_deadline", cfg.Signal.AckDeadline,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { return reader.Run(gctx) })
	g.Go(func() error { return correlator.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return evCorrelator.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return opsSrv.Run(gctx) })

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	uploads.Shutdown(drainCtx)

	if err != nil && err != context.Canceled {
		return err
	}
	log.Info("pvpedged stopped")
	return nil
}

// buildLogger constructs the daemon logger from config.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
