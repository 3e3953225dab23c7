package evidence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvpedge/verifier/constants"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertPhotoDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertPhoto(ctx, 42, constants.PhotoReader, "42_READER.jpg", time.Now(), []byte("jpeg-1"))
	require.NoError(t, err)
	assert.Equal(t, constants.UploadPending, first.State)
	assert.Equal(t, int64(6), first.Size)

	// Same (event, kind) dropped again: the original row wins.
	again, err := s.InsertPhoto(ctx, 42, constants.PhotoReader, "42_READER.jpg", time.Now(), []byte("jpeg-2-longer"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Size, again.Size)

	body, err := s.PhotoBody(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-1"), body)
}

func TestLinkagePhotoFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPhoto(ctx, 7, constants.PhotoCam1, "7_CAM_1.jpg", time.Now(), []byte("x"))
	require.NoError(t, err)

	// Nothing uploadable before the verdict lands.
	pending, err := s.PendingUploads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	released, err := s.MarkVerdictReady(ctx, 7, time.Now())
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, rec.ID, released[0].ID)
}

func TestLinkageVerdictFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	released, err := s.MarkVerdictReady(ctx, 7, time.Now())
	require.NoError(t, err)
	assert.Empty(t, released)

	rec, err := s.InsertPhoto(ctx, 7, constants.PhotoCam1, "7_CAM_1.jpg", time.Now(), []byte("x"))
	require.NoError(t, err)

	// Photo is born linked: the verdict was already there.
	pending, err := s.PendingUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)

	linked, err := s.Linked(ctx, 7)
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestLinkageIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertPhoto(ctx, 9, constants.PhotoCam2, "9_CAM_2.jpg", time.Now(), []byte("x"))
	require.NoError(t, err)

	released, err := s.MarkVerdictReady(ctx, 9, time.Now())
	require.NoError(t, err)
	assert.Len(t, released, 1)

	// A second notification releases the same still-pending photo again,
	// never a different state.
	released, err = s.MarkVerdictReady(ctx, 9, time.Now())
	require.NoError(t, err)
	assert.Len(t, released, 1)
}

func TestUploadStateTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPhoto(ctx, 3, constants.PhotoWrappedCam1, "3_WRAPPED_CAM_1.jpg", time.Now(), []byte("blob"))
	require.NoError(t, err)
	_, err = s.MarkVerdictReady(ctx, 3, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.MarkUploadAttempt(ctx, rec.ID, "status 500"))
	pending, failed, err := s.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, int64(0), failed)

	require.NoError(t, s.MarkUploaded(ctx, rec.ID, time.Now()))
	pending, failed, err = s.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, int64(0), failed)

	// Uploaded blobs are dropped from the spool.
	body, err := s.PhotoBody(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestPhotoKinds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)

	_, err := s.InsertPhoto(ctx, 11, constants.PhotoCam1, "11_CAM_1.jpg", at, []byte("x"))
	require.NoError(t, err)
	_, err = s.InsertPhoto(ctx, 11, constants.PhotoReader, "11_READER.jpg", at.Add(time.Second), []byte("x"))
	require.NoError(t, err)
	_, err = s.InsertPhoto(ctx, 12, constants.PhotoCam2, "12_CAM_2.jpg", at.Add(2*time.Hour), []byte("x"))
	require.NoError(t, err)

	kinds, err := s.PhotoKinds(ctx, at, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[int64][]constants.PhotoKind{
		11: {constants.PhotoCam1, constants.PhotoReader},
	}, kinds)
}

func TestMarkUploadFailedIsTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPhoto(ctx, 4, constants.PhotoReader, "4_READER.jpg", time.Now(), []byte("blob"))
	require.NoError(t, err)
	_, err = s.MarkVerdictReady(ctx, 4, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.MarkUploadFailed(ctx, rec.ID, "status 400"))

	pending, failed, err := s.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, int64(1), failed)

	// Failed photos never come back as pending work.
	uploads, err := s.PendingUploads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, uploads)

	// The blob stays for manual recovery.
	body, err := s.PhotoBody(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), body)
}
