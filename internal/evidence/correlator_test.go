package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
)

type fakeQueue struct {
	ch chan entity.EvidenceRecord
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ch: make(chan entity.EvidenceRecord, 16)}
}

func (q *fakeQueue) Enqueue(rec entity.EvidenceRecord) { q.ch <- rec }

func (q *fakeQueue) next(t *testing.T) entity.EvidenceRecord {
	t.Helper()
	select {
	case rec := <-q.ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no record enqueued")
		return entity.EvidenceRecord{}
	}
}

func TestParseSpoolName(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantSeq  int64
		wantKind constants.PhotoKind
		wantErr  bool
	}{
		{name: "reader", path: "/spool/17_READER.jpg", wantSeq: 17, wantKind: constants.PhotoReader},
		{name: "wrapped cam keeps underscores", path: "31_WRAPPED_CAM_2.jpeg", wantSeq: 31, wantKind: constants.PhotoWrappedCam2},
		{name: "lowercase kind", path: "5_cam_1.jpg", wantSeq: 5, wantKind: constants.PhotoCam1},
		{name: "no separator", path: "17.jpg", wantErr: true},
		{name: "bad sequence", path: "abc_READER.jpg", wantErr: true},
		{name: "unknown kind", path: "17_SELFIE.jpg", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, kind, err := ParseSpoolName(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeq, seq)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestCorrelatorPhotoThenVerdict(t *testing.T) {
	store := openTestStore(t)
	queue := newFakeQueue()
	dir := t.TempDir()

	path := filepath.Join(dir, "12_READER.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	files := make(chan string, 1)
	files <- path

	c := NewCorrelator(store, queue, files, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = c.Run(ctx) }()

	// The drop is spooled and removed, but not uploadable yet.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, queue.ch)

	c.VerdictReady(12)
	rec := queue.next(t)
	assert.Equal(t, int64(12), rec.EventSeq)
	assert.Equal(t, constants.PhotoReader, rec.Kind)

	cancel()
	<-done
}

func TestCorrelatorVerdictThenPhoto(t *testing.T) {
	store := openTestStore(t)
	queue := newFakeQueue()
	dir := t.TempDir()

	files := make(chan string, 1)
	c := NewCorrelator(store, queue, files, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = c.Run(ctx) }()

	c.VerdictReady(12)
	// No photo yet: nothing to release.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, queue.ch)

	path := filepath.Join(dir, "12_CAM_1.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
	files <- path

	rec := queue.next(t)
	assert.Equal(t, int64(12), rec.EventSeq)
	assert.Equal(t, constants.PhotoCam1, rec.Kind)

	cancel()
	<-done
}

func TestCorrelatorRescanRequeuesPending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// A linked pending photo left over from a previous run.
	_, err := store.InsertPhoto(ctx, 3, constants.PhotoCam2, "3_CAM_2.jpg", time.Now(), []byte("jpeg"))
	require.NoError(t, err)
	_, err = store.MarkVerdictReady(ctx, 3, time.Now())
	require.NoError(t, err)

	queue := newFakeQueue()
	c := NewCorrelator(store, queue, make(chan string), zap.NewNop())
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = c.Run(runCtx) }()

	rec := queue.next(t)
	assert.Equal(t, int64(3), rec.EventSeq)

	cancel()
	<-done
}

func TestCorrelatorIgnoresUnrecognizedDrop(t *testing.T) {
	store := openTestStore(t)
	queue := newFakeQueue()
	dir := t.TempDir()

	path := filepath.Join(dir, "notes.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))

	files := make(chan string, 1)
	files <- path

	c := NewCorrelator(store, queue, files, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = c.Run(ctx) }()

	// The file is left on disk for the operator and nothing is queued.
	time.Sleep(100 * time.Millisecond)
	_, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Empty(t, queue.ch)

	cancel()
	<-done
}
