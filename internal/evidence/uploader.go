package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/metrics"
)

// errNotOK is a 200 whose envelope flags the upload as rejected.
var errNotOK = errors.New("evidence: response not ok")

// UploadQueue delivers spooled photos to the central photo API with a
// bounded worker pool. Each photo gets a fixed number of attempts with
// exponential backoff; exhaustion parks it FAILED in the spool.
type UploadQueue struct {
	store   *Store
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger

	workers        int
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration

	ch   chan entity.EvidenceRecord
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// UploadOption configures an UploadQueue.
type UploadOption func(*UploadQueue)

func WithWorkers(n int) UploadOption {
	return func(q *UploadQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) UploadOption {
	return func(q *UploadQueue) {
		if n > 0 {
			q.ch = make(chan entity.EvidenceRecord, n)
		}
	}
}

func WithUploadTimeout(d time.Duration) UploadOption {
	return func(q *UploadQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithRetry(maxAttempts int, initialBackoff time.Duration) UploadOption {
	return func(q *UploadQueue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		if initialBackoff > 0 {
			q.initialBackoff = initialBackoff
		}
	}
}

func WithUploadHTTPClient(c *http.Client) UploadOption {
	return func(q *UploadQueue) {
		if c != nil {
			q.httpc = c
		}
	}
}

// NewUploadQueue starts the workers immediately.
func NewUploadQueue(store *Store, baseURL string, logger *zap.Logger, opts ...UploadOption) *UploadQueue {
	q := &UploadQueue{
		store:          store,
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpc:          &http.Client{},
		logger:         logger,
		workers:        2,
		timeout:        15 * time.Second,
		maxAttempts:    4,
		initialBackoff: time.Second,
		ch:             make(chan entity.EvidenceRecord, 128),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *UploadQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("evidence.worker.started", zap.Int("worker_id", workerID))
				for rec := range q.ch {
					q.process(rec)
				}
				q.logger.Info("evidence.worker.stopped", zap.Int("worker_id", workerID))
			}(i + 1)
		}
	})
}

// Enqueue hands a photo to the workers. After shutdown it is a no-op; the
// next startup rescan picks the row up again.
func (q *UploadQueue) Enqueue(rec entity.EvidenceRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- rec:
	default:
		q.logger.Warn("evidence.queue.full",
			zap.Int64("event_seq", rec.EventSeq),
			zap.String("kind", string(rec.Kind)),
		)
	}
}

// Shutdown stops accepting photos and drains the workers.
func (q *UploadQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()
	select {
	case <-ctx.Done():
		q.logger.Warn("evidence.shutdown.interrupted")
	case <-done:
		q.logger.Info("evidence.queue.drained")
	}
}

// process runs the full retry budget for one photo.
func (q *UploadQueue) process(rec entity.EvidenceRecord) {
	body, err := q.store.PhotoBody(context.Background(), rec.ID)
	if err != nil {
		q.logger.Error("evidence.upload.load_failed", zap.Int64("photo_id", rec.ID), zap.Error(err))
		return
	}
	if rec.Attempts >= q.maxAttempts {
		if err := q.store.MarkUploadFailed(context.Background(), rec.ID, "retry budget exhausted"); err != nil {
			q.logger.Error("evidence.upload.mark_failed", zap.Int64("photo_id", rec.ID), zap.Error(err))
		}
		return
	}

	for attempt := rec.Attempts + 1; attempt <= q.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err = q.upload(ctx, rec, body)
		cancel()

		if err == nil {
			metrics.EvidenceUploadsTotal.WithLabelValues("ok").Inc()
			if err := q.store.MarkUploaded(context.Background(), rec.ID, time.Now()); err != nil {
				q.logger.Error("evidence.upload.mark_failed", zap.Int64("photo_id", rec.ID), zap.Error(err))
			}
			q.logger.Info("evidence.upload.ok",
				zap.Int64("event_seq", rec.EventSeq),
				zap.String("kind", string(rec.Kind)),
				zap.Int("attempt", attempt),
			)
			return
		}

		metrics.EvidenceUploadsTotal.WithLabelValues("error").Inc()
		if !retryableUpload(err) || attempt >= q.maxAttempts {
			break
		}
		if markErr := q.store.MarkUploadAttempt(context.Background(), rec.ID, err.Error()); markErr != nil {
			q.logger.Error("evidence.upload.mark_failed", zap.Int64("photo_id", rec.ID), zap.Error(markErr))
		}
		backoff := q.initialBackoff * (1 << (attempt - 1))
		q.logger.Warn("evidence.upload.retry",
			zap.Int64("event_seq", rec.EventSeq),
			zap.String("kind", string(rec.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		time.Sleep(backoff)
	}

	metrics.EvidenceUploadsTotal.WithLabelValues("failed").Inc()
	if markErr := q.store.MarkUploadFailed(context.Background(), rec.ID, err.Error()); markErr != nil {
		q.logger.Error("evidence.upload.mark_failed", zap.Int64("photo_id", rec.ID), zap.Error(markErr))
	}
	q.logger.Error("evidence.upload.exhausted",
		zap.Int64("event_seq", rec.EventSeq),
		zap.String("kind", string(rec.Kind)),
		zap.Error(err),
	)
}

// upload posts one image as multipart form data: the event reference and
// photo kind as fields, the image as the "photo" part.
func (q *UploadQueue) upload(ctx context.Context, rec entity.EvidenceRecord, body []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("pvpEdgeHandlingUnitId", strconv.FormatInt(rec.EventSeq, 10)); err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	if err := mw.WriteField("photoType", string(rec.Kind)); err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="photo"; filename="%s"`, strings.ToLower(string(rec.Kind))+".jpg"))
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(body); err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/api/photos/upload", &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := q.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post photo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return &uploadStatusError{status: resp.StatusCode}
	}
	var env struct {
		OK json.RawMessage `json:"ok"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || !okFlag(env.OK) {
		return errNotOK
	}
	return nil
}

type uploadStatusError struct {
	status int
}

func (e *uploadStatusError) Error() string {
	return fmt.Sprintf("evidence: status %d", e.status)
}

// retryableUpload: transport errors and server-side trouble get the backoff
// schedule; a rejected payload will not improve on retry.
func retryableUpload(err error) bool {
	var se *uploadStatusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return !errors.Is(err, errNotOK)
}

// okFlag coerces the envelope flag the same way the order bridge does: bool
// true or the string "true".
func okFlag(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}
