package entity

import (
	"time"

	"github.com/pvpedge/verifier/constants"
)

// EvidenceRecord describes one spooled photo. The image bytes live in the
// spool store and are fetched separately for upload.
type EvidenceRecord struct {
	ID         int64
	EventSeq   int64
	Kind       constants.PhotoKind
	Filename   string
	Size       int64
	CapturedAt time.Time
	State      constants.UploadState
	Attempts   int
	LastError  string
	UploadedAt *time.Time
}
