/**
 * Finalize History Export
 *
 * Renders finalize history rows as an XLSX workbook.
 */

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/xuri/excelize/v2"
)

// HistorySheet is the worksheet holding the rows
const HistorySheet = "Finalize History"

var historyHeaders = []string{
	"Finalized At",
	"Job",
	"Entry",
	"Record Type",
	"Record Number",
	"Finalized By",
	"Committed At",
	"Record ID",
	"Source File",
	"Fields",
}

// Exporter produces XLSX bytes
type Exporter struct {
	logger *logging.Logger
}

// NewExporter creates an exporter
func NewExporter(logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Exporter{logger: logger}
}

// HistoryXLSX writes one row per history entry, in the given order
func (e *Exporter) HistoryXLSX(rows []fusion.HistoryEntry) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the history sheet
	if err := f.SetSheetName(f.GetSheetName(0), HistorySheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range historyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(HistorySheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(HistorySheet, 1, 1, style)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v interface{}) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(HistorySheet, cell, v)
		}

		write(1, r.FinalizedAt.UTC().Format("2006-01-02 15:04:05"))
		write(2, r.OCRJobID)
		write(3, r.EntryIndex)
		write(4, string(r.RecordType))
		write(5, deref(r.RecordNumber))
		write(6, r.FinalizedBy)
		if r.CommittedAt != nil {
			write(7, r.CommittedAt.UTC().Format("2006-01-02 15:04:05"))
		}
		if r.CreatedRecordID != nil {
			write(8, *r.CreatedRecordID)
		}
		write(9, deref(r.SourceFilename))
		write(10, fieldsSummary(r.Payload))
	}

	_ = f.SetColWidth(HistorySheet, "A", "A", 20)
	_ = f.SetColWidth(HistorySheet, "B", "C", 8)
	_ = f.SetColWidth(HistorySheet, "D", "F", 16)
	_ = f.SetColWidth(HistorySheet, "G", "G", 20)
	_ = f.SetColWidth(HistorySheet, "H", "H", 10)
	_ = f.SetColWidth(HistorySheet, "I", "I", 32)
	_ = f.SetColWidth(HistorySheet, "J", "J", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("Exported finalize history",
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func fieldsSummary(p fusion.Payload) string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		if p[k] == "" {
			continue
		}
		parts = append(parts, k+": "+p[k])
	}
	return strings.Join(parts, "; ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
