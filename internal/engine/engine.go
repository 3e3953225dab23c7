package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/ledger"
	"github.com/pvpedge/verifier/internal/metrics"
)

// Journal persists verdicts before they are signaled.
type Journal interface {
	InsertVerdict(ctx context.Context, v entity.Verdict) error
	MarkSignal(ctx context.Context, eventSeq int64, acked bool, at time.Time) error
}

// Signaler raises the actuator output for a verdict and waits for the
// controller to acknowledge it.
type Signaler interface {
	Signal(ctx context.Context, v entity.Verdict) error
}

// VerdictSink is notified after each journaled verdict. Implementations
// must not block; the evidence correlator queues internally.
type VerdictSink interface {
	VerdictReady(eventSeq int64)
}

// Engine consumes closed windows in order and turns each into exactly one
// journaled, signaled verdict. Everything past the actuator ack happens off
// this loop: reporting works the journal, evidence linkage is queued.
type Engine struct {
	events   <-chan entity.LineEvent
	cache    *ledger.Cache
	journal  Journal
	signaler Signaler
	sink     VerdictSink
	logger   *zap.Logger
}

func New(events <-chan entity.LineEvent, cache *ledger.Cache, journal Journal, signaler Signaler, sink VerdictSink, logger *zap.Logger) *Engine {
	return &Engine{
		events:   events,
		cache:    cache,
		journal:  journal,
		signaler: signaler,
		sink:     sink,
		logger:   logger,
	}
}

// Run processes events until the channel closes or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.events:
			if !ok {
				return nil
			}
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev entity.LineEvent) {
	start := time.Now()
	snap := e.cache.Snapshot()
	v := Decide(ev, snap, e.cache.MaxAge(), start)

	metrics.VerdictsTotal.WithLabelValues(string(v.Outcome)).Inc()
	metrics.LedgerAgeSeconds.Set(v.LedgerAge.Seconds())

	logFields := []zap.Field{
		zap.Int64("event_seq", v.EventSeq),
		zap.String("trace_id", v.TraceID.String()),
		zap.String("outcome", string(v.Outcome)),
		zap.String("reason", string(v.Reason)),
		zap.String("hu_label", v.HULabel),
	}
	e.logger.Info("engine.verdict", logFields...)

	// Journal first: a verdict that was signaled but never recorded would
	// silently vanish from reporting. If the journal is down the pallet
	// still gets its signal; the gap is logged loudly.
	if err := e.journal.InsertVerdict(ctx, v); err != nil {
		e.logger.Error("engine.journal.failed", append(logFields, zap.Error(err))...)
	}
	metrics.DecisionDuration.Observe(time.Since(start).Seconds())

	if err := e.signaler.Signal(ctx, v); err != nil {
		// Escalated, never retried: the pallet has physically moved on.
		e.logger.Error("engine.signal.failed", append(logFields, zap.Error(err))...)
		if err := e.journal.MarkSignal(ctx, v.EventSeq, false, time.Now()); err != nil {
			e.logger.Error("engine.journal.mark_signal_failed", zap.Int64("event_seq", v.EventSeq), zap.Error(err))
		}
	} else {
		metrics.SignalDuration.Observe(time.Since(v.DecidedAt).Seconds())
		if err := e.journal.MarkSignal(ctx, v.EventSeq, true, time.Now()); err != nil {
			e.logger.Error("engine.journal.mark_signal_failed", zap.Int64("event_seq", v.EventSeq), zap.Error(err))
		}
	}

	if e.sink != nil {
		e.sink.VerdictReady(v.EventSeq)
	}
}
