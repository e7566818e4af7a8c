/**
 * Table-compatible output for form extraction
 *
 * Downstream column mapping consumes the same shape as generic table
 * extraction: one row per record entry, one column per field key.
 */

package forms

import (
	"sort"
	"strings"

	"github.com/adverant/nexus/recordfusion/internal/layout"
	"github.com/adverant/nexus/recordfusion/internal/vision"
)

// Result is the table-compatible extraction output
type Result struct {
	LayoutID        string         `json:"layout_id"`
	ExtractionMode  Mode           `json:"extraction_mode"`
	DataRows        int            `json:"data_rows"`
	ColumnsDetected int            `json:"columns_detected"`
	Tables          []Table        `json:"tables"`
	LayoutResult    *layout.Result `json:"layoutResult,omitempty"`
}

// Table represents an extracted table
type Table struct {
	TableIndex  int           `json:"table_index"`
	ColumnCount int           `json:"column_count"`
	RowCount    int           `json:"row_count"`
	Headers     []TableHeader `json:"headers"`
	Rows        []TableRow    `json:"rows"`
}

// TableHeader names one column
type TableHeader struct {
	ColumnIndex int    `json:"column_index"`
	Text        string `json:"text"`
	ColumnKey   string `json:"column_key"`
}

// TableRow represents one record entry. EntryIndex is the position of the
// entry among the configured regions and stays put when earlier regions are empty.
type TableRow struct {
	RowIndex   int         `json:"row_index"`
	EntryIndex int         `json:"entry_index"`
	YCenter    float64     `json:"y_center"`
	EntryID    string      `json:"entry_id,omitempty"`
	Cells      []TableCell `json:"cells"`
}

// TableCell represents one field value
type TableCell struct {
	ColumnIndex int         `json:"column_index"`
	ColumnKey   string      `json:"column_key"`
	Content     string      `json:"content"`
	Confidence  float64     `json:"confidence"`
	BBox        *vision.Box `json:"bbox,omitempty"`
}

// Row returns the fields of row i keyed by column, skipping empty cells
func (r Result) Row(i int) map[string]string {
	out := map[string]string{}
	if len(r.Tables) == 0 || i < 0 || i >= len(r.Tables[0].Rows) {
		return out
	}
	for _, c := range r.Tables[0].Rows[i].Cells {
		if c.Content != "" {
			out[c.ColumnKey] = c.Content
		}
	}
	return out
}

// toTable reshapes extractor output. Rows follow entryIDs when given (entries
// without fields are omitted), otherwise sorted entry ids. Columns follow
// fieldOrder, then any other keys alphabetically.
func toTable(res layout.Result, mode Mode, entryIDs []string, fieldOrder []string) Result {
	entries := map[string]map[string]layout.FieldExtraction{}
	for _, fe := range res.Fields {
		if fe.EntryID == "" {
			continue
		}
		if entries[fe.EntryID] == nil {
			entries[fe.EntryID] = map[string]layout.FieldExtraction{}
		}
		entries[fe.EntryID][fe.FieldKey] = fe
	}

	// Callers that do not prefix fields with an entry get one synthetic entry
	if len(entries) == 0 && len(res.Fields) > 0 {
		single := map[string]layout.FieldExtraction{}
		for composite, fe := range res.Fields {
			key := fe.FieldKey
			if key == "" {
				key = composite
			}
			single[key] = fe
		}
		entries[layout.DefaultEntryID] = single
		entryIDs = nil
	}

	columns := columnKeys(entries, fieldOrder)

	var ordered []string
	position := map[string]int{}
	if entryIDs != nil {
		for i, id := range entryIDs {
			if _, ok := entries[id]; ok {
				ordered = append(ordered, id)
				position[id] = i
			}
		}
	} else {
		for id := range entries {
			ordered = append(ordered, id)
		}
		sort.Strings(ordered)
		for i, id := range ordered {
			position[id] = i
		}
	}

	headers := make([]TableHeader, len(columns))
	for i, key := range columns {
		headers[i] = TableHeader{ColumnIndex: i, Text: strings.ReplaceAll(key, "_", " "), ColumnKey: key}
	}

	rows := make([]TableRow, 0, len(ordered))
	for _, id := range ordered {
		fields := entries[id]
		cells := make([]TableCell, len(columns))
		for ci, key := range columns {
			cell := TableCell{ColumnIndex: ci, ColumnKey: key}
			if fe, ok := fields[key]; ok {
				box := fe.BBoxUnionNormalized
				cell.Content = fe.ExtractedText
				cell.Confidence = fe.AvgConfidence
				cell.BBox = &box
			}
			cells[ci] = cell
		}
		rows = append(rows, TableRow{RowIndex: len(rows), EntryIndex: position[id], EntryID: id, Cells: cells})
	}

	layoutResult := res
	return Result{
		LayoutID:        "form_extractor_" + string(mode),
		ExtractionMode:  mode,
		DataRows:        len(rows),
		ColumnsDetected: len(columns),
		Tables: []Table{{
			TableIndex:  0,
			ColumnCount: len(columns),
			RowCount:    len(rows),
			Headers:     headers,
			Rows:        rows,
		}},
		LayoutResult: &layoutResult,
	}
}

func columnKeys(entries map[string]map[string]layout.FieldExtraction, fieldOrder []string) []string {
	present := map[string]bool{}
	for _, fields := range entries {
		for key := range fields {
			present[key] = true
		}
	}

	columns := make([]string, 0, len(present))
	for _, key := range fieldOrder {
		if present[key] {
			columns = append(columns, key)
			delete(present, key)
		}
	}
	var rest []string
	for key := range present {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	return append(columns, rest...)
}
