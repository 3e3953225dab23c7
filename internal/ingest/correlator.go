package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/metrics"
	"github.com/pvpedge/verifier/internal/scanner"
)

// Anomaly reasons, logged and counted but never turned into events.
const (
	anomalySpuriousRead     = "spurious_read"
	anomalyLateRead         = "late_read_discarded"
	anomalyTriggerWhileOpen = "trigger_while_open"
	anomalyWindowOverflow   = "window_overflow"
)

// maxOpenWindows bounds pipelined windows to the conveyor section between
// trigger and reader. Beyond that the oldest window cannot produce a read
// anymore and is closed.
const maxOpenWindows = 8

// Config holds correlation settings.
type Config struct {
	// Window is how long after a trigger a read may still claim the event.
	Window time.Duration
	// Pipelining allows overlapping windows. Off means a second trigger
	// force-closes the open window as a no-read.
	Pipelining bool
	// QueueSize is the depth of the ordered event channel.
	QueueSize int
}

type window struct {
	seq      int64
	trace    uuid.UUID
	openedAt time.Time
	deadline time.Time
}

// Correlator pairs pallet triggers with reader output. A single goroutine
// owns all window state; triggers and reads arrive over channels. Each
// trigger produces exactly one LineEvent, in trigger order.
type Correlator struct {
	cfg    Config
	seq    *Sequence
	reads  <-chan scanner.Read
	logger *zap.Logger

	triggers chan time.Time
	out      chan entity.LineEvent
}

func NewCorrelator(cfg Config, seq *Sequence, reads <-chan scanner.Read, logger *zap.Logger) *Correlator {
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Correlator{
		cfg:      cfg,
		seq:      seq,
		reads:    reads,
		logger:   logger,
		triggers: make(chan time.Time, 8),
		out:      make(chan entity.LineEvent, cfg.QueueSize),
	}
}

// Trigger records a rising edge of the pallet-position tag. Safe to call
// from the PLC watcher goroutine.
func (c *Correlator) Trigger(at time.Time) {
	c.triggers <- at
}

// Events is the ordered stream of closed windows. Closed when Run returns.
func (c *Correlator) Events() <-chan entity.LineEvent { return c.out }

// Run owns the window state until ctx is done. Any window still open at
// shutdown is flushed as a no-read.
func (c *Correlator) Run(ctx context.Context) error {
	defer close(c.out)

	var open []window
	var prevDeadline time.Time

	var timer *time.Timer
	var timerC <-chan time.Time
	rearm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
		if len(open) > 0 {
			d := time.Until(open[0].deadline)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	closeOldest := func(scan *entity.ScanEvent) bool {
		w := open[0]
		open = open[1:]
		prevDeadline = w.deadline
		ev := entity.LineEvent{Seq: w.seq, TraceID: w.trace, TriggerAt: w.openedAt, Scan: scan}
		select {
		case c.out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Flush still-open windows as no-reads, best effort.
			for len(open) > 0 {
				w := open[0]
				open = open[1:]
				select {
				case c.out <- entity.LineEvent{Seq: w.seq, TraceID: w.trace, TriggerAt: w.openedAt}:
				default:
				}
			}
			return ctx.Err()

		case at := <-c.triggers:
			if len(open) > 0 && !c.cfg.Pipelining {
				c.anomaly(anomalyTriggerWhileOpen, zap.Int64("event_seq", open[0].seq))
				if !closeOldest(nil) {
					return ctx.Err()
				}
			}
			if len(open) >= maxOpenWindows {
				c.anomaly(anomalyWindowOverflow, zap.Int64("event_seq", open[0].seq))
				if !closeOldest(nil) {
					return ctx.Err()
				}
			}
			w := window{
				seq:      c.seq.Next(),
				trace:    uuid.New(),
				openedAt: at,
				deadline: at.Add(c.cfg.Window),
			}
			open = append(open, w)
			c.logger.Debug("ingest.window.open",
				zap.Int64("event_seq", w.seq),
				zap.String("trace_id", w.trace.String()),
			)
			rearm()

		case r, ok := <-c.reads:
			if !ok {
				c.reads = nil
				continue
			}
			if len(open) == 0 {
				if r.At.Before(prevDeadline) {
					c.anomaly(anomalyLateRead, zap.String("raw", r.Raw))
				} else {
					c.anomaly(anomalySpuriousRead, zap.String("raw", r.Raw))
				}
				continue
			}
			// First read wins; a failed decode still closes the window.
			if !closeOldest(r.Scan) {
				return ctx.Err()
			}
			rearm()

		case <-timerC:
			c.logger.Debug("ingest.window.expired", zap.Int64("event_seq", open[0].seq))
			if !closeOldest(nil) {
				return ctx.Err()
			}
			rearm()
		}
	}
}

func (c *Correlator) anomaly(reason string, fields ...zap.Field) {
	metrics.IngestAnomaliesTotal.WithLabelValues(reason).Inc()
	c.logger.Warn("ingest.anomaly", append([]zap.Field{zap.String("reason", reason)}, fields...)...)
}
