package fusion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// LowFieldConfidence flags reviewer-confirmed fields that OCR read poorly
const LowFieldConfidence = 0.6

// DraftValidation is the pre-commit check of one draft
type DraftValidation struct {
	ID            int64      `json:"id"`
	EntryIndex    int        `json:"entry_index"`
	RecordType    RecordType `json:"record_type"`
	RecordNumber  *string    `json:"record_number"`
	MissingFields []string   `json:"missing_fields"`
	Warnings      []string   `json:"warnings"`
	Payload       Payload    `json:"payload"`
}

// ValidationSummary counts validation outcomes
type ValidationSummary struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Warnings int `json:"warnings"`
}

// ValidationReport covers every open draft of a job
type ValidationReport struct {
	Valid    bool              `json:"valid"`
	Error    string            `json:"error,omitempty"`
	ChurchID int64             `json:"church_id"`
	Drafts   []DraftValidation `json:"drafts"`
	Summary  ValidationSummary `json:"summary"`
}

// Validate checks required fields and flags suspicious values on drafts
// that have not been finalized yet
func (s *Service) Validate(ctx context.Context, churchID, jobID int64) (*ValidationReport, error) {
	drafts, err := s.store.ListDrafts(ctx, DraftFilter{
		ChurchID: churchID,
		JobID:    jobID,
		Statuses: FromStates(EventFinalize),
	})
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{ChurchID: churchID, Drafts: []DraftValidation{}}
	if len(drafts) == 0 {
		report.Error = "No drafts to validate"
		return report, nil
	}

	for _, d := range drafts {
		v := ValidateDraft(d)
		report.Drafts = append(report.Drafts, v)
		report.Summary.Total++
		report.Summary.Warnings += len(v.Warnings)
		if len(v.MissingFields) == 0 {
			report.Summary.Valid++
		} else {
			report.Summary.Invalid++
		}
	}
	report.Valid = report.Summary.Invalid == 0
	return report, nil
}

// ValidateDraft checks one draft
func ValidateDraft(d Draft) DraftValidation {
	v := DraftValidation{
		ID:            d.ID,
		EntryIndex:    d.EntryIndex,
		RecordType:    d.RecordType,
		RecordNumber:  d.RecordNumber,
		MissingFields: []string{},
		Warnings:      []string{},
		Payload:       d.Payload,
	}

	if !d.RecordType.Supported() {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Unsupported record_type: %s", d.RecordType))
	}
	for _, field := range requiredFields[d.RecordType] {
		if strings.TrimSpace(d.Payload[field]) == "" {
			v.MissingFields = append(v.MissingFields, field)
		}
	}

	if d.BBox != nil {
		names := make([]string, 0, len(d.BBox.FieldBboxes))
		for name := range d.BBox.FieldBboxes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := d.BBox.FieldBboxes[name].Confidence
			if c != nil && *c > 0 && *c < LowFieldConfidence {
				v.Warnings = append(v.Warnings, fmt.Sprintf("Low OCR confidence on %s", name))
			}
		}
	}

	for _, key := range d.Payload.Keys() {
		if utf8.RuneCountInString(d.Payload[key]) == 1 {
			v.Warnings = append(v.Warnings, fmt.Sprintf("%s appears incomplete", key))
		}
	}
	return v
}
