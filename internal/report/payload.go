package report

import (
	"time"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/repository"
)

// Payload is the handling-units/save body the central system accepts. Field
// names are the central API's contract; do not rename.
type Payload struct {
	PvpEdgeID             int64  `json:"pvpEdgeId"`
	PlantCode             string `json:"plantCode"`
	EAN                   string `json:"ean,omitempty"`
	HandlingUnitLabelCode string `json:"handlingUnitLabelCode"`
	Outcome               string `json:"outcome"`
	LabelConfirmed        bool   `json:"labelConfirmed"`
	Wrapped               bool   `json:"wrapped"`
	WrapperEnabled        bool   `json:"wrapperEnabled"`
	ReaderEnabled         bool   `json:"readerEnabled"`
	ScanTimestamp         string `json:"scanTimestamp"`
	TraceID               string `json:"traceId"`
}

// BuildPayload maps one journal row to the wire payload. Only an OK verdict
// confirms the label; a no-read reports the reader as disabled so the
// central side can tell a decode failure from a mismatch.
func BuildPayload(row repository.VerdictRow, plantCode string, wrapperEnabled bool) Payload {
	return Payload{
		PvpEdgeID:             row.EventSeq,
		PlantCode:             plantCode,
		EAN:                   row.EAN,
		HandlingUnitLabelCode: row.HULabel,
		Outcome:               string(row.Outcome),
		LabelConfirmed:        row.Outcome == constants.OutcomeOK,
		Wrapped:               wrapperEnabled,
		WrapperEnabled:        wrapperEnabled,
		ReaderEnabled:         row.Outcome != constants.OutcomeNoRead,
		ScanTimestamp:         toZulu(row.TriggeredAt),
		TraceID:               row.TraceID.String(),
	}
}

// toZulu renders a timestamp the way the central API expects it: UTC,
// second precision, trailing Z.
func toZulu(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
