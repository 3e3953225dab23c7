package constants

// Outcome is the canonical verdict for a correlated line event.
type Outcome string

// Stable values (store these exact strings in DB and report payloads).
const (
	OutcomeOK            Outcome = "OK"            // label matches an expected handling unit
	OutcomeNOK           Outcome = "NOK"           // label unknown or on the wrong pallet
	OutcomeIndeterminate Outcome = "INDETERMINATE" // ledger too stale to decide
	OutcomeNoRead        Outcome = "NO_READ"       // window closed without a usable read
)

// Reason qualifies an outcome.
type Reason string

const (
	ReasonMatched      Reason = "MATCHED"
	ReasonHUMismatch   Reason = "HU_MISMATCH"   // EAN expected here, handling unit label differs
	ReasonUnknownLabel Reason = "UNKNOWN_LABEL" // no expected record for the label
	ReasonLedgerStale  Reason = "LEDGER_STALE"
	ReasonNoRead       Reason = "NO_READ"
)
