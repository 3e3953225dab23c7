package entity

import (
	"time"

	"github.com/google/uuid"
)

// ScanEvent is one successfully decoded label read from the reader.
type ScanEvent struct {
	Raw        string    `json:"raw"`
	EAN        string    `json:"ean"`
	HULabel    string    `json:"handlingUnitLabelCode"`
	PalletCode string    `json:"palletNumber,omitempty"`
	At         time.Time `json:"at"`
}

// LineEvent is one closed correlation window: a pallet trigger plus at most
// one winning read. Scan is nil when the window closed without a usable read.
type LineEvent struct {
	Seq       int64
	TraceID   uuid.UUID
	TriggerAt time.Time
	Scan      *ScanEvent
}

// NoRead reports whether the window closed without a usable read.
func (e LineEvent) NoRead() bool { return e.Scan == nil }
