package plc

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/metrics"
)

// WatcherConfig holds trigger polling settings.
type WatcherConfig struct {
	PollInterval time.Duration
	CallTimeout  time.Duration
	TriggerTag   string
	ResetTags    []string // output tags cleared when the pallet leaves
}

// TriggerWatcher polls the pallet-position tag and reports rising edges.
// On the falling edge it clears the output tags so the next pallet starts
// from a neutral signal state.
type TriggerWatcher struct {
	bus       TagBus
	cfg       WatcherConfig
	onTrigger func(at time.Time)
	logger    *zap.Logger

	last     int
	lastPoll atomic.Int64 // unix nanos of the last successful poll
}

func NewTriggerWatcher(bus TagBus, cfg WatcherConfig, onTrigger func(at time.Time), logger *zap.Logger) *TriggerWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 500 * time.Millisecond
	}
	return &TriggerWatcher{bus: bus, cfg: cfg, onTrigger: onTrigger, logger: logger}
}

// LastPoll is when the trigger tag was last read successfully.
func (w *TriggerWatcher) LastPoll() time.Time {
	n := w.lastPoll.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run polls until ctx is done.
func (w *TriggerWatcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.poll(ctx)
		}
	}
}

func (w *TriggerWatcher) poll(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	v, err := w.bus.ReadTag(callCtx, w.cfg.TriggerTag)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("plc.trigger.poll_failed", zap.Error(err))
		}
		return
	}
	w.lastPoll.Store(time.Now().UnixNano())

	switch {
	case v != 0 && w.last == 0:
		at := time.Now()
		metrics.TriggersTotal.Inc()
		w.logger.Info("plc.trigger.rising", zap.Time("at", at))
		w.onTrigger(at)
	case v == 0 && w.last != 0:
		w.logger.Debug("plc.trigger.falling")
		w.resetOutputs(ctx)
	}
	w.last = v
}

// resetOutputs clears every output tag. Failures are logged and the rest of
// the tags are still attempted; the signaler clears outputs again before it
// raises the next verdict.
func (w *TriggerWatcher) resetOutputs(ctx context.Context) {
	for _, tag := range w.cfg.ResetTags {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		err := w.bus.WriteTag(callCtx, tag, 0)
		cancel()
		if err != nil && ctx.Err() == nil {
			w.logger.Warn("plc.trigger.reset_failed", zap.String("tag", tag), zap.Error(err))
		}
	}
}
