package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/constants"
	"github.com/pvpedge/verifier/internal/repository"
)

// ExportVerdictsXLSX renders journal rows into a shift handover workbook,
// one row per verdict, oldest first. kinds maps an event to the photo kinds
// spooled for it; nil is fine when the spool is absent.
func ExportVerdictsXLSX(rows []repository.VerdictRow, kinds map[int64][]constants.PhotoKind, logger *zap.Logger) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Verdicts"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Event",
		"Decided At",
		"Outcome",
		"Reason",
		"EAN",
		"HU Label",
		"Pallet",
		"Order",
		"Batch",
		"Signal",
		"Report",
		"Evidence",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.EventSeq)
		write(2, r.DecidedAt.UTC().Format("2006-01-02 15:04:05"))
		write(3, string(r.Outcome))
		write(4, string(r.Reason))
		write(5, r.EAN)
		write(6, r.HULabel)
		write(7, r.PalletCode)
		write(8, r.MatchedOrder)
		write(9, r.MatchedBatch)
		write(10, signalLabel(r))
		write(11, string(r.ReportState))
		write(12, kindsLabel(kinds[r.EventSeq]))
	}

	_ = f.SetColWidth(sheet, "A", "A", 10) // event
	_ = f.SetColWidth(sheet, "B", "B", 20) // decided at
	_ = f.SetColWidth(sheet, "C", "D", 16) // outcome, reason
	_ = f.SetColWidth(sheet, "E", "F", 20) // ean, hu
	_ = f.SetColWidth(sheet, "G", "I", 14) // pallet, order, batch
	_ = f.SetColWidth(sheet, "J", "K", 12) // signal, report
	_ = f.SetColWidth(sheet, "L", "L", 28) // evidence

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	logger.Info("export.xlsx.ok",
		zap.Int("rows", len(rows)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

// signalLabel renders the actuator handshake state for one row.
func signalLabel(r repository.VerdictRow) string {
	switch {
	case r.SignalAcked == nil:
		return ""
	case *r.SignalAcked:
		return "ACKED"
	default:
		return "TIMEOUT"
	}
}

func kindsLabel(kinds []constants.PhotoKind) string {
	if len(kinds) == 0 {
		return ""
	}
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
