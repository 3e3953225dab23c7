package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/metrics"
	"github.com/pvpedge/verifier/internal/repository"
)

// Outbox is the slice of the verdict journal the relay works: due PENDING
// rows in, delivery state transitions out.
type Outbox interface {
	DueReports(ctx context.Context, now time.Time, limit int) ([]repository.VerdictRow, error)
	MarkReportSent(ctx context.Context, eventSeq int64, at time.Time) error
	MarkReportRetry(ctx context.Context, eventSeq int64, nextAt time.Time, lastErr string) error
	MarkReportFailed(ctx context.Context, eventSeq int64, lastErr string) error
	ReportBacklog(ctx context.Context) (pending, failed int64, err error)
}

// Config holds relay scheduling and retry settings.
type Config struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	PlantCode      string
	WrapperEnabled bool
}

// Relay forwards journaled verdicts to the central system. The journal is
// the queue: rows stay PENDING with a due time until delivery succeeds or
// the retry budget runs out, so nothing is lost across restarts and the
// decision path never waits on the network.
type Relay struct {
	outbox Outbox
	client *Client
	cfg    Config
	logger *zap.Logger
}

func NewRelay(outbox Outbox, client *Client, cfg Config, logger *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Relay{outbox: outbox, client: client, cfg: cfg, logger: logger}
}

// Run works the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce delivers one batch of due rows.
func (r *Relay) RunOnce(ctx context.Context) {
	rows, err := r.outbox.DueReports(ctx, time.Now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("report.outbox.failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		r.deliver(ctx, row)
	}

	pending, _, err := r.outbox.ReportBacklog(ctx)
	if err == nil {
		metrics.ReportBacklog.Set(float64(pending))
	}
}

// deliver runs one attempt for one row and records the outcome.
func (r *Relay) deliver(ctx context.Context, row repository.VerdictRow) {
	attempt := row.ReportAttempts + 1
	payload := BuildPayload(row, r.cfg.PlantCode, r.cfg.WrapperEnabled)

	err := r.client.Send(ctx, payload)
	if err == nil {
		metrics.ReportsTotal.WithLabelValues("ok").Inc()
		if err := r.outbox.MarkReportSent(ctx, row.EventSeq, time.Now()); err != nil {
			r.logger.Error("report.mark_sent.failed", zap.Int64("event_seq", row.EventSeq), zap.Error(err))
		}
		r.logger.Info("report.sent",
			zap.Int64("event_seq", row.EventSeq),
			zap.String("outcome", string(row.Outcome)),
			zap.Int("attempt", attempt),
		)
		return
	}

	switch {
	case !Retryable(err):
		metrics.ReportsTotal.WithLabelValues("rejected").Inc()
		r.logger.Error("report.rejected", zap.Int64("event_seq", row.EventSeq), zap.Error(err))
		if err := r.outbox.MarkReportFailed(ctx, row.EventSeq, err.Error()); err != nil {
			r.logger.Error("report.mark_failed.failed", zap.Int64("event_seq", row.EventSeq), zap.Error(err))
		}
	case attempt >= r.cfg.MaxAttempts:
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		r.logger.Error("report.exhausted",
			zap.Int64("event_seq", row.EventSeq),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		if err := r.outbox.MarkReportFailed(ctx, row.EventSeq, err.Error()); err != nil {
			r.logger.Error("report.mark_failed.failed", zap.Int64("event_seq", row.EventSeq), zap.Error(err))
		}
	default:
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		backoff := r.cfg.InitialBackoff * (1 << (attempt - 1))
		r.logger.Warn("report.retry",
			zap.Int64("event_seq", row.EventSeq),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := r.outbox.MarkReportRetry(ctx, row.EventSeq, time.Now().Add(backoff), err.Error()); err != nil {
			r.logger.Error("report.mark_retry.failed", zap.Int64("event_seq", row.EventSeq), zap.Error(err))
		}
	}
}
