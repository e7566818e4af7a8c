package fusion

import (
	"fmt"
	"time"
)

// recordColumns is the fixed payload-to-column mapping per record type
var recordColumns = map[RecordType][]string{
	RecordBaptism: {
		"child_name", "date_of_birth", "place_of_birth", "father_name", "mother_name",
		"address", "date_of_baptism", "godparents", "performed_by", "notes",
	},
	RecordMarriage: {
		"groom_name", "bride_name", "date_of_marriage", "place_of_marriage",
		"witnesses", "officiant", "notes",
	},
	RecordFuneral: {
		"deceased_name", "date_of_death", "date_of_funeral", "date_of_burial",
		"place_of_burial", "age_at_death", "cause_of_death", "next_of_kin",
		"officiant", "notes",
	},
}

// requiredFields must be non-blank before a draft is considered valid
var requiredFields = map[RecordType][]string{
	RecordBaptism:  {"child_name"},
	RecordMarriage: {"groom_name", "bride_name"},
	RecordFuneral:  {"deceased_name"},
}

// RecordColumns returns the mapped columns for t, empty when unsupported
func RecordColumns(t RecordType) []string {
	cols := recordColumns[t]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// AuditNote is the note appended to every committed record
func AuditNote(at time.Time) string {
	return fmt.Sprintf("Finalized via Review & Finalize on %02d/%02d/%d", int(at.Month()), at.Day(), at.Year())
}

// MapRecordFields maps a draft payload to the record columns of t. Columns
// without a value are omitted; notes always carries the audit note.
func MapRecordFields(t RecordType, payload Payload, at time.Time) map[string]string {
	fields := make(map[string]string, len(recordColumns[t]))
	for _, col := range recordColumns[t] {
		if v := payload[col]; v != "" {
			fields[col] = v
		}
	}

	if t == RecordBaptism && fields["mother_name"] == "" {
		if v := payload["parents_name"]; v != "" {
			fields["mother_name"] = v
		}
	}

	note := AuditNote(at)
	if existing := payload["notes"]; existing != "" {
		note = existing + "\n" + note
	}
	fields["notes"] = note
	return fields
}
