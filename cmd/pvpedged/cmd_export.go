package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/config"
	"github.com/pvpedge/verifier/internal/evidence"
	"github.com/pvpedge/verifier/internal/export"
	"github.com/pvpedge/verifier/internal/repository"
)

var (
	exportFrom string
	exportTo   string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the verdict journal to an XLSX workbook",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "start date YYYY-MM-DD (inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "end date YYYY-MM-DD (inclusive)")
	exportCmd.Flags().StringVar(&exportOut, "out", "verdicts.xlsx", "output file path")
	_ = exportCmd.MarkFlagRequired("from")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn (DB_URL) is required")
	}

	from, err := time.ParseInLocation("2006-01-02", exportFrom, time.UTC)
	if err != nil {
		return fmt.Errorf("parse --from: %w", err)
	}
	to := time.Now().UTC()
	if exportTo != "" {
		day, err := time.ParseInLocation("2006-01-02", exportTo, time.UTC)
		if err != nil {
			return fmt.Errorf("parse --to: %w", err)
		}
		to = day.AddDate(0, 0, 1) // inclusive end date
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	pool, err := repository.Open(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        2,
		MinConns:        1,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer repository.Close(pool, logger)

	journal := repository.NewVerdictRepository(pool, logger)
	rows, err := journal.ListVerdicts(ctx, from, to)
	if err != nil {
		return err
	}

	// Evidence column is best effort: the spool may live on another box.
	var kinds map[int64][]constants.PhotoKind
	if spool, err := evidence.OpenStore(cfg.Evidence.DBPath); err == nil {
		kinds, err = spool.PhotoKinds(ctx, from, to)
		if err != nil {
			logger.Warn("reading photo kinds", zap.Error(err))
		}
		_ = spool.Close()
	} else {
		logger.Warn("evidence spool unavailable", zap.Error(err))
	}

	out, err := export.ExportVerdictsXLSX(rows, kinds, logger)
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportOut, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Printf("Exported %d verdicts to %s\n", len(rows), exportOut)
	return nil
}
