package ledger

import (
	"time"

	"github.com/pvpedge/verifier/internal/entity"
)

type key struct {
	ean    string
	pallet string
}

// Snapshot is an immutable view of the expected-record ledger. A snapshot
// never changes after publication, so lookups are safe from any goroutine
// without locking. Records are keyed by handling-unit label; the first
// record seen for a label wins, matching the bridge's conflict rule.
type Snapshot struct {
	records map[string]entity.ExpectedRecord // by HU label
	byKey   map[key][]string                 // (ean, pallet) -> HU labels
	byEAN   map[string][]string              // ean -> HU labels
	rev     int64                            // highest source ID merged
	takenAt time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		records: map[string]entity.ExpectedRecord{},
		byKey:   map[key][]string{},
		byEAN:   map[string][]string{},
	}
}

// NewSnapshot builds a snapshot from recs, confirmed at the given time.
// Used to seed a cache outside the refresh loop.
func NewSnapshot(recs []entity.ExpectedRecord, confirmedAt time.Time) *Snapshot {
	return emptySnapshot().merge(recs, confirmedAt)
}

// Revision is the ledger watermark: the highest source row ID merged so far.
func (s *Snapshot) Revision() int64 { return s.rev }

// Len is the number of expected records in the snapshot.
func (s *Snapshot) Len() int { return len(s.records) }

// TakenAt is when the snapshot was last confirmed against the source.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Age is the time since the snapshot was confirmed. A snapshot that was
// never confirmed reports an age measured from the zero time.
func (s *Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.takenAt) }

// CandidatesFor returns the expected records for a scanned EAN. When the
// scan carried a pallet code the match is exact on (ean, pallet); otherwise
// every record with the EAN is a candidate.
func (s *Snapshot) CandidatesFor(ean, pallet string) []entity.ExpectedRecord {
	var labels []string
	if pallet != "" {
		labels = s.byKey[key{ean: ean, pallet: pallet}]
	} else {
		labels = s.byEAN[ean]
	}
	if len(labels) == 0 {
		return nil
	}
	out := make([]entity.ExpectedRecord, 0, len(labels))
	for _, l := range labels {
		out = append(out, s.records[l])
	}
	return out
}

// Lookup returns the expected record for a handling-unit label.
func (s *Snapshot) Lookup(huLabel string) (entity.ExpectedRecord, bool) {
	r, ok := s.records[huLabel]
	return r, ok
}

// merge returns a new snapshot with recs folded in, copy-on-write. The
// receiver is left untouched. An already-known HU label is skipped; the
// watermark still advances past it. confirmedAt becomes the new TakenAt
// even for an empty recs, since an empty successful fetch means the ledger
// is current.
func (s *Snapshot) merge(recs []entity.ExpectedRecord, confirmedAt time.Time) *Snapshot {
	next := &Snapshot{
		records: make(map[string]entity.ExpectedRecord, len(s.records)+len(recs)),
		rev:     s.rev,
		takenAt: confirmedAt,
	}
	for l, r := range s.records {
		next.records[l] = r
	}
	for _, r := range recs {
		if r.ID > next.rev {
			next.rev = r.ID
		}
		if _, exists := next.records[r.HULabel]; exists {
			continue
		}
		next.records[r.HULabel] = r
	}

	next.byKey = make(map[key][]string, len(next.records))
	next.byEAN = make(map[string][]string, len(next.records))
	for l, r := range next.records {
		k := key{ean: r.EAN, pallet: r.PalletCode}
		next.byKey[k] = append(next.byKey[k], l)
		next.byEAN[r.EAN] = append(next.byEAN[r.EAN], l)
	}
	return next
}
