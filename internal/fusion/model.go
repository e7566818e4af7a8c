/**
 * Fusion draft and finalize history models
 *
 * Payload and bbox are decoded once at the boundary into typed values;
 * the lifecycle never sees raw JSON strings.
 */

package fusion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/layout"
	"github.com/adverant/nexus/recordfusion/internal/vision"
)

// RecordType names the target record table
type RecordType string

const (
	RecordBaptism  RecordType = "baptism"
	RecordMarriage RecordType = "marriage"
	RecordFuneral  RecordType = "funeral"
)

// Supported reports whether commit has a field mapping for t
func (t RecordType) Supported() bool {
	switch t {
	case RecordBaptism, RecordMarriage, RecordFuneral:
		return true
	}
	return false
}

// Payload maps field keys to values. Scalars of any JSON type are accepted
// and stored as text; null values are dropped.
type Payload map[string]string

// UnmarshalJSON implements json.Unmarshaler
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("payload must be an object: %w", err)
	}

	out := make(Payload, len(raw))
	for key, value := range raw {
		text, present, err := scalarText(value)
		if err != nil {
			return fmt.Errorf("payload field %s: %w", key, err)
		}
		if present {
			out[key] = text
		}
	}
	*p = out
	return nil
}

func scalarText(value json.RawMessage) (string, bool, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false, err
	}

	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case json.Number:
		return t.String(), true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	default:
		return "", false, fmt.Errorf("expected a scalar value")
	}
}

// Keys returns the payload keys in sorted order
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FieldBox is per-field geometry recorded by the review UI
type FieldBox struct {
	BBox       *vision.Box `json:"bbox,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
}

// BBox is the bounding-box metadata stored with a draft
type BBox struct {
	EntryBbox   *layout.Rect               `json:"entryBbox,omitempty"`
	EntryAreas  []layout.EntryArea         `json:"entryAreas,omitempty"`
	Selections  map[string]json.RawMessage `json:"selections,omitempty"`
	FieldBboxes map[string]FieldBox        `json:"fieldBboxes,omitempty"`
}

// Draft is one persisted page entry
type Draft struct {
	ID                int64      `json:"id"`
	OCRJobID          int64      `json:"ocr_job_id"`
	EntryIndex        int        `json:"entry_index"`
	RecordType        RecordType `json:"record_type"`
	RecordNumber      *string    `json:"record_number"`
	Payload           Payload    `json:"payload"`
	BBox              *BBox      `json:"bbox"`
	Status            Status     `json:"status"`
	CommittedRecordID *int64     `json:"committed_record_id"`
	ChurchID          int64      `json:"church_id"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// EntryKey is the key used by the listing conveniences
func (d Draft) EntryKey() string {
	return fmt.Sprintf("entry-%d", d.EntryIndex)
}

// DraftInput is the content written by autosave and batch save
type DraftInput struct {
	ChurchID     int64
	JobID        int64
	EntryIndex   int
	RecordType   RecordType
	RecordNumber *string
	Payload      Payload
	BBox         *BBox
	CreatedBy    string
}

// DraftFilter selects drafts of one job
type DraftFilter struct {
	ChurchID     int64
	JobID        int64
	Statuses     []Status
	RecordType   RecordType
	EntryIndexes []int
}

// HistoryEntry is a finalize snapshot
type HistoryEntry struct {
	ID              int64      `json:"id"`
	OCRJobID        int64      `json:"ocr_job_id"`
	EntryIndex      int        `json:"entry_index"`
	RecordType      RecordType `json:"record_type"`
	RecordNumber    *string    `json:"record_number"`
	Payload         Payload    `json:"payload"`
	CreatedRecordID *int64     `json:"created_record_id"`
	FinalizedBy     string     `json:"finalized_by"`
	FinalizedAt     time.Time  `json:"finalized_at"`
	CommittedAt     *time.Time `json:"committed_at"`
	SourceFilename  *string    `json:"source_filename"`
}

// HistoryFilter selects finalize history rows
type HistoryFilter struct {
	RecordType RecordType
	Days       int
	Limit      int
	Since      time.Time
}

const (
	DefaultHistoryDays  = 30
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Normalize fills defaults and caps the limit
func (f HistoryFilter) Normalize(now time.Time) HistoryFilter {
	if f.Days <= 0 {
		f.Days = DefaultHistoryDays
	}
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	f.Since = now.AddDate(0, 0, -f.Days)
	return f
}

// FinalizeInput is what the store needs to finalize a job's entries
type FinalizeInput struct {
	ChurchID       int64
	JobID          int64
	EntryIndexes   []int
	FinalizedBy    string
	SourceFilename *string
}
