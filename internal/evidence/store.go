package evidence

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
)

//go:embed schema.sql
var schemaSQL string

// Store is the local photo spool. Camera drops are swallowed into it as
// blobs so a crash between capture and upload loses nothing; the uploader
// works PENDING rows and the linked flag gates them on a journaled verdict.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the spool database at path. WAL mode keeps
// reads open while the correlator writes; a single connection avoids
// SQLITE_BUSY on the one-writer workload.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect spool: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply spool schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the spool database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertPhoto spools one captured image. A duplicate (event, kind) pair is
// ignored and the existing row returned, so a re-dropped file cannot fork
// the evidence for an event. The row is born linked when the verdict is
// already journaled.
func (s *Store) InsertPhoto(ctx context.Context, eventSeq int64, kind constants.PhotoKind, filename string, capturedAt time.Time, body []byte) (entity.EvidenceRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (event_seq, kind, filename, size, captured_at, body, linked)
		VALUES (?, ?, ?, ?, ?, ?,
			EXISTS (SELECT 1 FROM verdict_ready WHERE event_seq = ?))
		ON CONFLICT (event_seq, kind) DO NOTHING`,
		eventSeq, string(kind), filename, len(body), capturedAt.UnixMilli(), body, eventSeq,
	)
	if err != nil {
		return entity.EvidenceRecord{}, fmt.Errorf("insert photo: %w", err)
	}
	return s.photoByKey(ctx, eventSeq, kind)
}

// MarkVerdictReady records that the verdict for eventSeq is journaled and
// links any photos already spooled for it. Idempotent: attaching evidence
// before or after the verdict ends in the same linked state. Returns the
// pending photos released for upload by this call.
func (s *Store) MarkVerdictReady(ctx context.Context, eventSeq int64, at time.Time) ([]entity.EvidenceRecord, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO verdict_ready (event_seq, ready_at) VALUES (?, ?)
		ON CONFLICT (event_seq) DO NOTHING`,
		eventSeq, at.UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("mark verdict ready: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE photos SET linked = 1 WHERE event_seq = ? AND linked = 0`,
		eventSeq,
	); err != nil {
		return nil, fmt.Errorf("link photos: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE event_seq = ? AND state = ? AND linked = 1
		ORDER BY id`,
		eventSeq, string(constants.UploadPending),
	)
	if err != nil {
		return nil, fmt.Errorf("list linked photos: %w", err)
	}
	return scanPhotoRows(rows)
}

// Linked reports whether the verdict for eventSeq has been marked ready.
func (s *Store) Linked(ctx context.Context, eventSeq int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verdict_ready WHERE event_seq = ?`, eventSeq,
	).Scan(&n)
	return n > 0, err
}

// PendingUploads returns linked photos still waiting for upload, oldest
// first. Used to recover the backlog after a restart.
func (s *Store) PendingUploads(ctx context.Context, limit int) ([]entity.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE state = ? AND linked = 1
		ORDER BY id
		LIMIT ?`,
		string(constants.UploadPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending uploads: %w", err)
	}
	return scanPhotoRows(rows)
}

// PhotoBody returns the spooled image bytes for one photo row.
func (s *Store) PhotoBody(ctx context.Context, id int64) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM photos WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("photo body %d: %w", id, err)
	}
	return body, nil
}

// MarkUploaded records a delivered photo and drops its blob: the central
// system owns the image now and the spool should not grow unbounded.
func (s *Store) MarkUploaded(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE photos
		SET state = ?, uploaded_at = ?, last_error = '', body = x''
		WHERE id = ?`,
		string(constants.UploadUploaded), at.UnixMilli(), id,
	)
	return err
}

// MarkUploadAttempt bumps the attempt counter after a failed try.
func (s *Store) MarkUploadAttempt(ctx context.Context, id int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE photos SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		lastErr, id,
	)
	return err
}

// MarkUploadFailed parks a photo in the terminal FAILED state. The blob is
// kept so an operator can still recover the image by hand.
func (s *Store) MarkUploadFailed(ctx context.Context, id int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE photos
		SET state = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ?`,
		string(constants.UploadFailed), lastErr, id,
	)
	return err
}

// PhotoKinds returns the photo kinds spooled per event for events in
// [from, to), by capture time. Used by the shift export.
func (s *Store) PhotoKinds(ctx context.Context, from, to time.Time) (map[int64][]constants.PhotoKind, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_seq, kind
		FROM photos
		WHERE captured_at >= ? AND captured_at < ?
		ORDER BY event_seq, kind`,
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list photo kinds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[int64][]constants.PhotoKind{}
	for rows.Next() {
		var seq int64
		var kind string
		if err := rows.Scan(&seq, &kind); err != nil {
			return nil, err
		}
		out[seq] = append(out[seq], constants.PhotoKind(kind))
	}
	return out, rows.Err()
}

// Backlog returns how many photos are still pending and how many failed
// durably. Surfaced on the status endpoint.
func (s *Store) Backlog(ctx context.Context) (pending, failed int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(state = ?), 0),
			COALESCE(SUM(state = ?), 0)
		FROM photos`,
		string(constants.UploadPending), string(constants.UploadFailed),
	).Scan(&pending, &failed)
	return pending, failed, err
}

const photoColumns = `id, event_seq, kind, filename, size, captured_at, state, attempts, last_error, uploaded_at`

func (s *Store) photoByKey(ctx context.Context, eventSeq int64, kind constants.PhotoKind) (entity.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos WHERE event_seq = ? AND kind = ?`,
		eventSeq, string(kind),
	)
	if err != nil {
		return entity.EvidenceRecord{}, err
	}
	recs, err := scanPhotoRows(rows)
	if err != nil {
		return entity.EvidenceRecord{}, err
	}
	if len(recs) == 0 {
		return entity.EvidenceRecord{}, sql.ErrNoRows
	}
	return recs[0], nil
}

func scanPhotoRows(rows *sql.Rows) ([]entity.EvidenceRecord, error) {
	defer func() { _ = rows.Close() }()
	var out []entity.EvidenceRecord
	for rows.Next() {
		var r entity.EvidenceRecord
		var kind, state string
		var capturedMS int64
		var uploadedMS *int64
		if err := rows.Scan(
			&r.ID, &r.EventSeq, &kind, &r.Filename, &r.Size,
			&capturedMS, &state, &r.Attempts, &r.LastError, &uploadedMS,
		); err != nil {
			return nil, err
		}
		r.Kind = constants.PhotoKind(kind)
		r.State = constants.UploadState(state)
		r.CapturedAt = time.UnixMilli(capturedMS)
		if uploadedMS != nil {
			t := time.UnixMilli(*uploadedMS)
			r.UploadedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
