package signal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/metrics"
	"github.com/pvpedge/verifier/internal/plc"
)

// AckTimeoutError reports that the controller did not latch an output
// before the deadline. Fatal for the event: the pallet has moved past the
// actuator, so the signal is never retried.
type AckTimeoutError struct {
	Tag     string
	Elapsed time.Duration
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("actuator ack timeout: tag %s not acknowledged after %s", e.Tag, e.Elapsed)
}

// Config holds output tag names and the ack handshake settings.
type Config struct {
	OkTag     string
	NokTag    string
	ReviewTag string
	AckTag    string

	// AckDeadline runs from verdict creation: time already spent
	// journaling counts against it.
	AckDeadline time.Duration
	AckPoll     time.Duration
}

// Signaler raises exactly one output tag per verdict and waits for the
// controller's acknowledge bit.
type Signaler struct {
	bus    plc.TagBus
	cfg    Config
	logger *zap.Logger
}

func New(bus plc.TagBus, cfg Config, logger *zap.Logger) *Signaler {
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = 2 * time.Second
	}
	if cfg.AckPoll <= 0 {
		cfg.AckPoll = 50 * time.Millisecond
	}
	return &Signaler{bus: bus, cfg: cfg, logger: logger}
}

// Signal clears all outputs, raises the tag for the verdict's outcome and
// polls the ack bit until the controller latches it or the deadline passes.
func (s *Signaler) Signal(ctx context.Context, v entity.Verdict) error {
	tag := s.tagFor(v.Outcome)
	deadline := v.DecidedAt.Add(s.cfg.AckDeadline)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Neutral state first so the controller sees a clean transition.
	for _, t := range []string{s.cfg.OkTag, s.cfg.NokTag, s.cfg.ReviewTag, s.cfg.AckTag} {
		if err := s.bus.WriteTag(ctx, t, 0); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	if err := s.bus.WriteTag(ctx, tag, 1); err != nil {
		return fmt.Errorf("raise %s: %w", tag, err)
	}
	s.logger.Debug("signal.raised",
		zap.Int64("event_seq", v.EventSeq),
		zap.String("tag", tag),
	)

	t := time.NewTicker(s.cfg.AckPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			metrics.ActuatorTimeoutsTotal.Inc()
			return &AckTimeoutError{Tag: tag, Elapsed: time.Since(v.DecidedAt)}
		case <-t.C:
			ack, err := s.bus.ReadTag(ctx, s.cfg.AckTag)
			if err != nil {
				if ctx.Err() != nil {
					metrics.ActuatorTimeoutsTotal.Inc()
					return &AckTimeoutError{Tag: tag, Elapsed: time.Since(v.DecidedAt)}
				}
				s.logger.Warn("signal.ack.read_failed", zap.Error(err))
				continue
			}
			if ack != 0 {
				s.logger.Debug("signal.acked",
					zap.Int64("event_seq", v.EventSeq),
					zap.String("tag", tag),
					zap.Duration("elapsed", time.Since(v.DecidedAt)),
				)
				return nil
			}
		}
	}
}

// tagFor maps an outcome to its output. Indeterminate and no-read both go
// to the review lane; neither is evidence of a bad label, so they must not
// trip the reject output.
func (s *Signaler) tagFor(o constants.Outcome) string {
	switch o {
	case constants.OutcomeOK:
		return s.cfg.OkTag
	case constants.OutcomeNOK:
		return s.cfg.NokTag
	default:
		return s.cfg.ReviewTag
	}
}
