package fusion

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
)

func TestTransition(t *testing.T) {
	testCases := []struct {
		name    string
		from    Status
		event   Event
		want    Status
		wantErr bool
	}{
		{"autosave creates draft", "", EventAutosave, StatusDraft, false},
		{"autosave keeps draft", StatusDraft, EventAutosave, StatusDraft, false},
		{"autosave keeps in_review", StatusInReview, EventAutosave, StatusInReview, false},
		{"autosave after finalize", StatusFinalized, EventAutosave, StatusFinalized, true},
		{"autosave after commit", StatusCommitted, EventAutosave, StatusCommitted, true},
		{"review from draft", StatusDraft, EventReadyForReview, StatusInReview, false},
		{"review from in_review", StatusInReview, EventReadyForReview, StatusInReview, true},
		{"finalize from draft", StatusDraft, EventFinalize, StatusFinalized, false},
		{"finalize from in_review", StatusInReview, EventFinalize, StatusFinalized, false},
		{"refinalize", StatusFinalized, EventFinalize, StatusFinalized, true},
		{"commit finalized", StatusFinalized, EventCommit, StatusCommitted, false},
		{"commit draft", StatusDraft, EventCommit, StatusDraft, true},
		{"commit twice", StatusCommitted, EventCommit, StatusCommitted, true},
		{"bbox on finalized", StatusFinalized, EventEditBBox, StatusFinalized, false},
		{"bbox on committed", StatusCommitted, EventEditBBox, StatusCommitted, true},
		{"finalize missing draft", "", EventFinalize, "", true},
		{"unknown event", StatusDraft, Event("delete"), StatusDraft, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.from, tc.event)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !apperrors.Is(err, apperrors.ErrIllegalTransition) {
				t.Errorf("expected illegal transition error, got %v", err)
			}
			if got != tc.want {
				t.Errorf("status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTransitionNeverMovesBackward(t *testing.T) {
	events := []Event{EventAutosave, EventReadyForReview, EventFinalize, EventCommit, EventEditBBox}
	for from := range rank {
		for _, ev := range events {
			to, err := Transition(from, ev)
			if err == nil && Before(to, from) {
				t.Errorf("%s on %s moved back to %s", ev, from, to)
			}
		}
	}
}

func TestFromStatesReturnsCopy(t *testing.T) {
	a := FromStates(EventAutosave)
	a[0] = StatusCommitted
	if FromStates(EventAutosave)[0] != StatusDraft {
		t.Error("guard list leaked")
	}
}

func TestPayloadUnmarshal(t *testing.T) {
	var p Payload
	err := json.Unmarshal([]byte(`{"child_name":"Anna","age_at_death":81,"baptized":true,"notes":null}`), &p)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := Payload{"child_name": "Anna", "age_at_death": "81", "baptized": "true"}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("payload = %v, want %v", p, want)
	}

	if err := json.Unmarshal([]byte(`{"godparents":["a","b"]}`), &p); err == nil {
		t.Error("nested values should be rejected")
	}
	if err := json.Unmarshal([]byte(`"child_name=Anna"`), &p); err == nil {
		t.Error("non-object payload should be rejected")
	}
}

func TestMapRecordFields(t *testing.T) {
	at := time.Date(2026, time.March, 4, 15, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		rt      RecordType
		payload Payload
		want    map[string]string
	}{
		{
			name:    "baptism parents fallback",
			rt:      RecordBaptism,
			payload: Payload{"child_name": "Anna", "parents_name": "Maria", "unmapped": "x"},
			want: map[string]string{
				"child_name":  "Anna",
				"mother_name": "Maria",
				"notes":       "Finalized via Review & Finalize on 03/04/2026",
			},
		},
		{
			name:    "existing notes kept",
			rt:      RecordMarriage,
			payload: Payload{"groom_name": "Ivan", "bride_name": "Olga", "notes": "second marriage"},
			want: map[string]string{
				"groom_name": "Ivan",
				"bride_name": "Olga",
				"notes":      "second marriage\nFinalized via Review & Finalize on 03/04/2026",
			},
		},
		{
			name:    "mother name wins over parents",
			rt:      RecordBaptism,
			payload: Payload{"mother_name": "Eleni", "parents_name": "Maria"},
			want: map[string]string{
				"mother_name": "Eleni",
				"notes":       "Finalized via Review & Finalize on 03/04/2026",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapRecordFields(tc.rt, tc.payload, at)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("fields = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateDraft(t *testing.T) {
	low, high := 0.4, 0.9
	d := Draft{
		RecordType: RecordMarriage,
		Payload:    Payload{"groom_name": "Ivan", "bride_name": "  ", "witnesses": "K"},
		BBox: &BBox{FieldBboxes: map[string]FieldBox{
			"groom_name": {Confidence: &low},
			"witnesses":  {Confidence: &high},
		}},
	}

	v := ValidateDraft(d)

	if !reflect.DeepEqual(v.MissingFields, []string{"bride_name"}) {
		t.Errorf("missing = %v", v.MissingFields)
	}
	want := []string{"Low OCR confidence on groom_name", "witnesses appears incomplete"}
	if !reflect.DeepEqual(v.Warnings, want) {
		t.Errorf("warnings = %v, want %v", v.Warnings, want)
	}

	unknown := ValidateDraft(Draft{RecordType: "unknown", Payload: Payload{}})
	if len(unknown.MissingFields) != 0 || len(unknown.Warnings) != 1 || !strings.Contains(unknown.Warnings[0], "unknown") {
		t.Errorf("unknown type validation = %+v", unknown)
	}
}

func TestHistoryFilterNormalize(t *testing.T) {
	now := time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC)

	f := HistoryFilter{Limit: 5000}.Normalize(now)
	if f.Days != DefaultHistoryDays || f.Limit != MaxHistoryLimit {
		t.Errorf("filter = %+v", f)
	}
	if !f.Since.Equal(now.AddDate(0, 0, -30)) {
		t.Errorf("since = %v", f.Since)
	}
}
