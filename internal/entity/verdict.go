package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/pvpedge/verifier/constants"
)

// Verdict is the decision for one line event. Verdicts are produced in
// trigger order, one per event, and journaled before signaling.
type Verdict struct {
	EventSeq   int64
	TraceID    uuid.UUID
	Outcome    constants.Outcome
	Reason     constants.Reason
	EAN        string
	HULabel    string
	PalletCode string

	// Matched is the record that confirmed an OK. For HU_MISMATCH it is the
	// expected record found for the scanned EAN. Nil otherwise.
	Matched *ExpectedRecord

	// Ledger snapshot observed at decision time.
	LedgerAge time.Duration
	LedgerRev int64

	TriggerAt time.Time
	DecidedAt time.Time
}
