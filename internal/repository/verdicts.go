package repository

import (
	"context"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
)

//go:embed schema.sql
var schemaSQL string

// VerdictRow is one journal row, including its reporting state.
type VerdictRow struct {
	EventSeq       int64
	TraceID        uuid.UUID
	Outcome        constants.Outcome
	Reason         constants.Reason
	EAN            string
	HULabel        string
	PalletCode     string
	MatchedOrder   string
	MatchedBatch   string
	MatchedHU      string
	LedgerAge      time.Duration
	LedgerRev      int64
	TriggeredAt    time.Time
	DecidedAt      time.Time
	SignalAcked    *bool
	SignalAt       *time.Time
	ReportState    constants.ReportState
	ReportAttempts int
	ReportNextAt   time.Time
	ReportError    string
	ReportedAt     *time.Time
}

// VerdictRepository is the journal: every verdict lands here before it is
// signaled, and the reporting relay works the PENDING rows as its outbox.
type VerdictRepository interface {
	Migrate(ctx context.Context) error
	NextEventSeq(ctx context.Context) (int64, error)
	InsertVerdict(ctx context.Context, v entity.Verdict) error
	MarkSignal(ctx context.Context, eventSeq int64, acked bool, at time.Time) error
	DueReports(ctx context.Context, now time.Time, limit int) ([]VerdictRow, error)
	MarkReportSent(ctx context.Context, eventSeq int64, at time.Time) error
	MarkReportRetry(ctx context.Context, eventSeq int64, nextAt time.Time, lastErr string) error
	MarkReportFailed(ctx context.Context, eventSeq int64, lastErr string) error
	ListVerdicts(ctx context.Context, from, to time.Time) ([]VerdictRow, error)
	OutcomeCounts(ctx context.Context) (map[constants.Outcome]int64, error)
	ReportBacklog(ctx context.Context) (pending, failed int64, err error)
}

type verdictRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewVerdictRepository(pool *pgxpool.Pool, logger *zap.Logger) VerdictRepository {
	return &verdictRepository{pool: pool, logger: logger}
}

// Migrate applies the embedded schema. All statements are idempotent.
func (r *verdictRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		r.logger.Error("failed to apply schema", zap.Error(err))
		return err
	}
	return nil
}

// NextEventSeq returns the journal's high-water mark, used to seed the
// event sequence so IDs stay unique across restarts.
func (r *verdictRepository) NextEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(event_seq), 0) FROM verdicts`).Scan(&seq)
	if err != nil {
		r.logger.Error("failed to read event watermark", zap.Error(err))
		return 0, err
	}
	return seq, nil
}

func (r *verdictRepository) InsertVerdict(ctx context.Context, v entity.Verdict) error {
	var matchedOrder, matchedBatch, matchedHU string
	if v.Matched != nil {
		matchedOrder = v.Matched.Order
		matchedBatch = v.Matched.Batch
		matchedHU = v.Matched.HULabel
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verdicts (
			event_seq, trace_id, outcome, reason,
			ean, hu_label, pallet_code,
			matched_order, matched_batch, matched_hu,
			ledger_age_ms, ledger_rev, triggered_at, decided_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (event_seq) DO NOTHING`,
		v.EventSeq, v.TraceID, string(v.Outcome), string(v.Reason),
		v.EAN, v.HULabel, v.PalletCode,
		matchedOrder, matchedBatch, matchedHU,
		v.LedgerAge.Milliseconds(), v.LedgerRev, v.TriggerAt, v.DecidedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert verdict", zap.Int64("event_seq", v.EventSeq), zap.Error(err))
		return err
	}
	return nil
}

func (r *verdictRepository) MarkSignal(ctx context.Context, eventSeq int64, acked bool, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE verdicts SET signal_acked = $2, signal_at = $3 WHERE event_seq = $1`,
		eventSeq, acked, at,
	)
	if err != nil {
		r.logger.Error("failed to mark signal", zap.Int64("event_seq", eventSeq), zap.Error(err))
	}
	return err
}

const verdictColumns = `
	event_seq, trace_id, outcome, reason,
	ean, hu_label, pallet_code,
	matched_order, matched_batch, matched_hu,
	ledger_age_ms, ledger_rev, triggered_at, decided_at,
	signal_acked, signal_at,
	report_state, report_attempts, report_next_at, report_error, reported_at`

func scanVerdictRows(rows pgx.Rows) ([]VerdictRow, error) {
	defer rows.Close()
	var out []VerdictRow
	for rows.Next() {
		var v VerdictRow
		var outcome, reason, state string
		var ageMS int64
		if err := rows.Scan(
			&v.EventSeq, &v.TraceID, &outcome, &reason,
			&v.EAN, &v.HULabel, &v.PalletCode,
			&v.MatchedOrder, &v.MatchedBatch, &v.MatchedHU,
			&ageMS, &v.LedgerRev, &v.TriggeredAt, &v.DecidedAt,
			&v.SignalAcked, &v.SignalAt,
			&state, &v.ReportAttempts, &v.ReportNextAt, &v.ReportError, &v.ReportedAt,
		); err != nil {
			return nil, err
		}
		v.Outcome = constants.Outcome(outcome)
		v.Reason = constants.Reason(reason)
		v.ReportState = constants.ReportState(state)
		v.LedgerAge = time.Duration(ageMS) * time.Millisecond
		out = append(out, v)
	}
	return out, rows.Err()
}

// DueReports returns pending rows whose next attempt is due, oldest first.
func (r *verdictRepository) DueReports(ctx context.Context, now time.Time, limit int) ([]VerdictRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+verdictColumns+`
		FROM verdicts
		WHERE report_state = $1 AND report_next_at <= $2
		ORDER BY event_seq
		LIMIT $3`,
		string(constants.ReportPending), now, limit,
	)
	if err != nil {
		r.logger.Error("failed to list due reports", zap.Error(err))
		return nil, err
	}
	return scanVerdictRows(rows)
}

func (r *verdictRepository) MarkReportSent(ctx context.Context, eventSeq int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE verdicts
		SET report_state = $2, reported_at = $3, report_error = ''
		WHERE event_seq = $1`,
		eventSeq, string(constants.ReportSent), at,
	)
	if err != nil {
		r.logger.Error("failed to mark report sent", zap.Int64("event_seq", eventSeq), zap.Error(err))
	}
	return err
}

func (r *verdictRepository) MarkReportRetry(ctx context.Context, eventSeq int64, nextAt time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE verdicts
		SET report_attempts = report_attempts + 1, report_next_at = $2, report_error = $3
		WHERE event_seq = $1`,
		eventSeq, nextAt, lastErr,
	)
	if err != nil {
		r.logger.Error("failed to mark report retry", zap.Int64("event_seq", eventSeq), zap.Error(err))
	}
	return err
}

func (r *verdictRepository) MarkReportFailed(ctx context.Context, eventSeq int64, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE verdicts
		SET report_state = $2, report_attempts = report_attempts + 1, report_error = $3
		WHERE event_seq = $1`,
		eventSeq, string(constants.ReportFailed), lastErr,
	)
	if err != nil {
		r.logger.Error("failed to mark report failed", zap.Int64("event_seq", eventSeq), zap.Error(err))
	}
	return err
}

// ListVerdicts returns journal rows decided inside [from, to), oldest first.
func (r *verdictRepository) ListVerdicts(ctx context.Context, from, to time.Time) ([]VerdictRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+verdictColumns+`
		FROM verdicts
		WHERE decided_at >= $1 AND decided_at < $2
		ORDER BY event_seq`,
		from, to,
	)
	if err != nil {
		r.logger.Error("failed to list verdicts", zap.Error(err))
		return nil, err
	}
	return scanVerdictRows(rows)
}

func (r *verdictRepository) OutcomeCounts(ctx context.Context) (map[constants.Outcome]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT outcome, COUNT(*) FROM verdicts GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[constants.Outcome]int64{}
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[constants.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

func (r *verdictRepository) ReportBacklog(ctx context.Context) (pending, failed int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE report_state = $1),
			COUNT(*) FILTER (WHERE report_state = $2)
		FROM verdicts`,
		string(constants.ReportPending), string(constants.ReportFailed),
	).Scan(&pending, &failed)
	return pending, failed, err
}
