package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/metrics"
)

// enqueuer hands a linked, pending photo to the upload workers.
type enqueuer interface {
	Enqueue(rec entity.EvidenceRecord)
}

// Correlator binds spooled photos to journaled verdicts. Photos and
// verdicts arrive in either order: whichever side lands first parks in the
// spool, and linkage releases the photo to the uploader exactly once.
type Correlator struct {
	store  *Store
	queue  enqueuer
	files  <-chan string
	ready  chan int64
	logger *zap.Logger
}

func NewCorrelator(store *Store, queue enqueuer, files <-chan string, logger *zap.Logger) *Correlator {
	return &Correlator{
		store:  store,
		queue:  queue,
		files:  files,
		ready:  make(chan int64, 256),
		logger: logger,
	}
}

// VerdictReady notifies the correlator that the verdict for eventSeq is
// journaled. Called from the decision loop; never blocks. If the buffer is
// ever full the linkage is deferred to the startup rescan.
func (c *Correlator) VerdictReady(eventSeq int64) {
	select {
	case c.ready <- eventSeq:
	default:
		c.logger.Warn("evidence.ready.dropped", zap.Int64("event_seq", eventSeq))
	}
}

// Run consumes camera drops and verdict notifications until ctx is done.
// Interrupted uploads from a previous run are re-queued first.
func (c *Correlator) Run(ctx context.Context) error {
	backlog, err := c.store.PendingUploads(ctx, 1000)
	if err != nil {
		return fmt.Errorf("rescan spool: %w", err)
	}
	for _, rec := range backlog {
		c.queue.Enqueue(rec)
	}
	if len(backlog) > 0 {
		c.logger.Info("evidence.rescan", zap.Int("requeued", len(backlog)))
	}
	c.refreshBacklogGauge(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-c.files:
			if !ok {
				return nil
			}
			c.ingestFile(ctx, path)
			c.refreshBacklogGauge(ctx)
		case seq := <-c.ready:
			recs, err := c.store.MarkVerdictReady(ctx, seq, time.Now())
			if err != nil {
				c.logger.Error("evidence.link.failed", zap.Int64("event_seq", seq), zap.Error(err))
				continue
			}
			for _, rec := range recs {
				c.queue.Enqueue(rec)
			}
			c.refreshBacklogGauge(ctx)
		}
	}
}

func (c *Correlator) refreshBacklogGauge(ctx context.Context) {
	pending, _, err := c.store.Backlog(ctx)
	if err != nil {
		return
	}
	metrics.EvidenceBacklog.Set(float64(pending))
}

// ingestFile swallows one dropped JPEG into the spool and removes it from
// disk. A file whose name does not carry an event and photo kind is left in
// place for the operator.
func (c *Correlator) ingestFile(ctx context.Context, path string) {
	seq, kind, err := ParseSpoolName(path)
	if err != nil {
		c.logger.Warn("evidence.drop.unrecognized", zap.String("path", path), zap.Error(err))
		return
	}
	body, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("evidence.drop.unreadable", zap.String("path", path), zap.Error(err))
		return
	}
	if len(body) == 0 {
		// Still being written; the watcher debounce will re-emit it.
		return
	}

	rec, err := c.store.InsertPhoto(ctx, seq, kind, filepath.Base(path), time.Now(), body)
	if err != nil {
		c.logger.Error("evidence.spool.failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil {
		c.logger.Warn("evidence.drop.remove_failed", zap.String("path", path), zap.Error(err))
	}
	c.logger.Debug("evidence.spooled",
		zap.Int64("event_seq", seq),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(body)),
	)

	linked, err := c.store.Linked(ctx, seq)
	if err != nil {
		c.logger.Error("evidence.link.check_failed", zap.Int64("event_seq", seq), zap.Error(err))
		return
	}
	if linked && rec.State == constants.UploadPending {
		c.queue.Enqueue(rec)
	}
}

// ParseSpoolName extracts the event sequence and photo kind from a camera
// drop named "<eventSeq>_<KIND>.jpg".
func ParseSpoolName(path string) (int64, constants.PhotoKind, error) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	seqStr, kindStr, ok := strings.Cut(name, "_")
	if !ok {
		return 0, "", fmt.Errorf("no event separator in %q", name)
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil || seq <= 0 {
		return 0, "", fmt.Errorf("bad event sequence in %q", name)
	}
	kind := constants.PhotoKind(strings.ToUpper(kindStr))
	if !constants.KnownPhotoKind(kind) {
		return 0, "", fmt.Errorf("unknown photo kind %q", kindStr)
	}
	return seq, kind, nil
}
