package scanner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pvpedge/verifier/internal/entity"
)

// ErrMalformed marks a reader payload that is not a valid composite label.
var ErrMalformed = errors.New("scanner: malformed label")

// ParseLabel splits a raw composite code into its label fields. The layout
// is EAN<sep>HU[<sep>PALLET]; the pallet segment is optional. Labels print
// the separator as ASCII GS on some lines, so GS is accepted alongside the
// configured separator.
func ParseLabel(raw, sep string, at time.Time) (*entity.ScanEvent, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	normalized := strings.ReplaceAll(raw, "\x1d", sep)
	parts := strings.Split(normalized, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: %d fields in %q", ErrMalformed, len(parts), raw)
	}

	ean, hu := parts[0], parts[1]
	if !validEAN(ean) {
		return nil, fmt.Errorf("%w: bad ean %q", ErrMalformed, ean)
	}
	if hu == "" {
		return nil, fmt.Errorf("%w: empty handling unit label in %q", ErrMalformed, raw)
	}

	ev := &entity.ScanEvent{Raw: raw, EAN: ean, HULabel: hu, At: at}
	if len(parts) == 3 {
		ev.PalletCode = parts[2]
	}
	return ev, nil
}

// validEAN accepts GTIN-8, UPC-A, EAN-13 and GTIN-14 digit strings.
func validEAN(s string) bool {
	switch len(s) {
	case 8, 12, 13, 14:
	default:
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
