package engine

import (
	"time"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/ledger"
)

// Decide applies the verification rules to one closed window against a
// ledger snapshot. Pure: no I/O, no retries, deterministic for a given
// snapshot. Rule order: no usable read, then snapshot staleness, then the
// label lookup.
func Decide(ev entity.LineEvent, snap *ledger.Snapshot, maxAge time.Duration, now time.Time) entity.Verdict {
	v := entity.Verdict{
		EventSeq:  ev.Seq,
		TraceID:   ev.TraceID,
		LedgerAge: snap.Age(now),
		LedgerRev: snap.Revision(),
		TriggerAt: ev.TriggerAt,
		DecidedAt: now,
	}

	if ev.NoRead() {
		v.Outcome = constants.OutcomeNoRead
		v.Reason = constants.ReasonNoRead
		return v
	}

	v.EAN = ev.Scan.EAN
	v.HULabel = ev.Scan.HULabel
	v.PalletCode = ev.Scan.PalletCode

	// A stale ledger cannot clear or condemn a pallet.
	if v.LedgerAge > maxAge {
		v.Outcome = constants.OutcomeIndeterminate
		v.Reason = constants.ReasonLedgerStale
		return v
	}

	cands := snap.CandidatesFor(ev.Scan.EAN, ev.Scan.PalletCode)
	if len(cands) == 0 {
		v.Outcome = constants.OutcomeNOK
		v.Reason = constants.ReasonUnknownLabel
		return v
	}
	for i := range cands {
		if cands[i].HULabel == ev.Scan.HULabel {
			matched := cands[i]
			v.Outcome = constants.OutcomeOK
			v.Reason = constants.ReasonMatched
			v.Matched = &matched
			return v
		}
	}

	// The product is expected here but the handling unit is not the one
	// announced: the classic swapped-pallet case.
	expected := cands[0]
	v.Outcome = constants.OutcomeNOK
	v.Reason = constants.ReasonHUMismatch
	v.Matched = &expected
	return v
}
