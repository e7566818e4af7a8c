package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/forms"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/layout"
	"github.com/adverant/nexus/recordfusion/internal/logging"
)

var testNow = time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, DialectSQLite, logging.Nop())
}

func draftInput(entry int, payload fusion.Payload) fusion.DraftInput {
	return fusion.DraftInput{
		ChurchID:   7,
		JobID:      100,
		EntryIndex: entry,
		RecordType: fusion.RecordBaptism,
		Payload:    payload,
		CreatedBy:  "clerk@parish.org",
	}
}

var autosaveGuard = fusion.FromStates(fusion.EventAutosave)

func TestUninitializedTenantReadsEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	drafts, err := store.ListDrafts(ctx, fusion.DraftFilter{ChurchID: 7, JobID: 100})
	if err != nil || drafts == nil || len(drafts) != 0 {
		t.Errorf("drafts = %v, err = %v", drafts, err)
	}

	history, err := store.ListHistory(ctx, fusion.HistoryFilter{Since: testNow.AddDate(0, 0, -30), Limit: 10})
	if err != nil || history == nil || len(history) != 0 {
		t.Errorf("history = %v, err = %v", history, err)
	}

	if _, err := store.GetDraft(ctx, 100, 0); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("get draft err = %v, want not found", err)
	}
}

func TestUpsertDraftCreatesAndUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	num := "12"
	in := draftInput(0, fusion.Payload{"child_name": "Anna"})
	in.RecordNumber = &num
	in.BBox = &fusion.BBox{EntryBbox: &layout.Rect{X: 1, Y: 2, W: 3, H: 4}}

	created, err := store.UpsertDraft(ctx, in, autosaveGuard, testNow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != fusion.StatusDraft || created.ID == 0 || *created.RecordNumber != "12" {
		t.Errorf("created = %+v", created)
	}
	if !created.CreatedAt.Equal(testNow) {
		t.Errorf("created_at = %v, want %v", created.CreatedAt, testNow)
	}

	in.Payload = fusion.Payload{"child_name": "Anna Pappas"}
	in.BBox = nil
	later := testNow.Add(time.Minute)
	updated, err := store.UpsertDraft(ctx, in, autosaveGuard, later)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID || updated.Payload["child_name"] != "Anna Pappas" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.BBox == nil || updated.BBox.EntryBbox == nil || updated.BBox.EntryBbox.W != 3 {
		t.Errorf("omitted bbox should keep stored bbox, got %+v", updated.BBox)
	}
	if !updated.UpdatedAt.Equal(later) || !updated.CreatedAt.Equal(testNow) {
		t.Errorf("timestamps = %v / %v", updated.CreatedAt, updated.UpdatedAt)
	}
}

func TestUpsertDraftRefusedAfterFinalize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertDraft(ctx, draftInput(0, fusion.Payload{"child_name": "Anna"}), autosaveGuard, testNow); err != nil {
		t.Fatalf("create: %v", err)
	}
	finalized, err := store.Finalize(ctx, fusion.FinalizeInput{ChurchID: 7, JobID: 100, FinalizedBy: "priest"},
		fusion.FromStates(fusion.EventFinalize), testNow)
	if err != nil || len(finalized) != 1 {
		t.Fatalf("finalize = %v, %v", finalized, err)
	}

	_, err = store.UpsertDraft(ctx, draftInput(0, fusion.Payload{"child_name": "Changed"}), autosaveGuard, testNow)
	if !apperrors.Is(err, apperrors.ErrIneligible) {
		t.Fatalf("err = %v, want ineligible", err)
	}

	d, err := store.GetDraft(ctx, 100, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Payload["child_name"] != "Anna" || d.Status != fusion.StatusFinalized {
		t.Errorf("draft changed: %+v", d)
	}
}

func TestAdvanceStatusOnlyTouchesDrafts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.UpsertDraft(ctx, draftInput(i, fusion.Payload{}), autosaveGuard, testNow); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	review := fusion.FromStates(fusion.EventReadyForReview)
	n, err := store.AdvanceStatus(ctx, fusion.DraftFilter{ChurchID: 7, JobID: 100, EntryIndexes: []int{0, 2}}, review, fusion.StatusInReview, testNow)
	if err != nil || n != 2 {
		t.Fatalf("advanced %d, err %v", n, err)
	}

	n, err = store.AdvanceStatus(ctx, fusion.DraftFilter{ChurchID: 7, JobID: 100}, review, fusion.StatusInReview, testNow)
	if err != nil || n != 1 {
		t.Errorf("second pass advanced %d, want 1 (err %v)", n, err)
	}

	other, err := store.AdvanceStatus(ctx, fusion.DraftFilter{ChurchID: 8, JobID: 100}, review, fusion.StatusInReview, testNow)
	if err != nil || other != 0 {
		t.Errorf("other church advanced %d", other)
	}
}

func TestFinalizePreservesCommitEvidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertDraft(ctx, draftInput(0, fusion.Payload{"child_name": "Anna"}), autosaveGuard, testNow); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO ocr_finalize_history (ocr_job_id, entry_index, record_type, payload_json, created_record_id, finalized_by, finalized_at, committed_at)
		VALUES (100, 0, 'baptism', '{}', 42, 'earlier', ?, ?)`, testNow.Add(-time.Hour), testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("seed history: %v", err)
	}

	if _, err := store.Finalize(ctx, fusion.FinalizeInput{ChurchID: 7, JobID: 100, FinalizedBy: "priest"},
		fusion.FromStates(fusion.EventFinalize), testNow); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	history, err := store.ListHistory(ctx, fusion.HistoryFilter{Since: testNow.AddDate(0, 0, -1), Limit: 10})
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %v, err = %v", history, err)
	}
	h := history[0]
	if h.CreatedRecordID == nil || *h.CreatedRecordID != 42 || h.CommittedAt == nil {
		t.Errorf("commit evidence lost: %+v", h)
	}
	if h.FinalizedBy != "priest" || h.Payload["child_name"] != "Anna" {
		t.Errorf("snapshot not refreshed: %+v", h)
	}
}

func TestCommitDraftCompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpsertDraft(ctx, draftInput(0, fusion.Payload{"child_name": "Anna"}), autosaveGuard, testNow); err != nil {
		t.Fatalf("create: %v", err)
	}
	finalized, err := store.Finalize(ctx, fusion.FinalizeInput{ChurchID: 7, JobID: 100}, fusion.FromStates(fusion.EventFinalize), testNow)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	inserts := 0
	insert := func(ctx context.Context, tx fusion.DBTX) (int64, error) {
		inserts++
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO baptism_records (church_id, child_name, created_at) VALUES (7, 'Anna', ?) RETURNING id`, testNow).Scan(&id)
		return id, err
	}

	id, err := store.CommitDraft(ctx, finalized[0], insert, testNow)
	if err != nil || id == 0 {
		t.Fatalf("first commit = %d, %v", id, err)
	}

	_, err = store.CommitDraft(ctx, finalized[0], insert, testNow)
	if !apperrors.Is(err, apperrors.ErrIneligible) {
		t.Fatalf("second commit err = %v, want ineligible", err)
	}

	var count int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM baptism_records`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if inserts != 2 || count != 1 {
		t.Errorf("inserts attempted = %d, rows = %d, want 2 and 1", inserts, count)
	}

	d, _ := store.GetDraft(ctx, 100, 0)
	if d.Status != fusion.StatusCommitted || d.CommittedRecordID == nil || *d.CommittedRecordID != id {
		t.Errorf("draft = %+v", d)
	}
}

func TestExtractorRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := ExtractorConfig{
		Profile: forms.Profile{
			Name:          "St. Nicholas baptisms",
			RecordType:    "baptism",
			Mode:          forms.ModeMultiForm,
			RecordRegions: []forms.RecordRegion{{ID: "top", X: 0, Y: 0, Width: 1, Height: 0.5}},
			LearnedParams: layout.LearnedParams{AnchorAdjustments: map[string]layout.LearnedAdjustment{
				"child_name": {AddPhrases: []string{"INFANT"}},
			}},
		},
		Anchors: layout.AnchorSet{{Key: "child_name", AnchorConfig: layout.AnchorConfig{
			Phrases:    []string{"NAME OF CHILD"},
			Direction:  layout.DirectionRight,
			ZoneExtent: layout.ZoneExtent{Width: 0.4, Height: 0.05},
		}}},
	}

	id, err := store.SaveExtractor(ctx, cfg)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx,
		`INSERT INTO ocr_extractor_fields (extractor_id, field_key, anchor_phrases, sort_order) VALUES (?, 'godparents', '["SPONSORS"]', 5)`, id); err != nil {
		t.Fatalf("seed field: %v", err)
	}

	got, err := store.LoadExtractor(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Profile.Mode != forms.ModeMultiForm || len(got.Profile.RecordRegions) != 1 || got.Profile.RecordRegions[0].ID != "top" {
		t.Errorf("profile = %+v", got.Profile)
	}
	if got.Profile.LearnedParams.AnchorAdjustments["child_name"].AddPhrases[0] != "INFANT" {
		t.Errorf("learned params = %+v", got.Profile.LearnedParams)
	}
	if len(got.Anchors) != 2 {
		t.Fatalf("anchors = %+v", got.Anchors)
	}
	if got.Anchors[0].Direction != layout.DirectionRight || got.Anchors[0].ZoneExtent.Width != 0.4 {
		t.Errorf("stored field = %+v", got.Anchors[0])
	}
	sponsors := got.Anchors[1]
	if sponsors.Direction != layout.DirectionBelow || sponsors.ZoneExtent != defaultFieldExtent || sponsors.ZonePadding != (layout.ZonePadding{}) {
		t.Errorf("defaults not applied: %+v", sponsors)
	}

	if _, err := store.LoadExtractor(ctx, id+100); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing extractor err = %v", err)
	}
}

func TestRebind(t *testing.T) {
	testCases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{DialectPostgres, "a = ? AND b IN (?, ?)", "a = $1 AND b IN ($2, $3)"},
		{DialectSQLite, "a = ? AND b = ?", "a = ? AND b = ?"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.dialect), func(t *testing.T) {
			if got := tc.dialect.Rebind(tc.in); got != tc.want {
				t.Errorf("Rebind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInClause(t *testing.T) {
	clause, args := DialectSQLite.inClause("workflow_status", []string{"draft", "in_review"}, []interface{}{1})
	if clause != "workflow_status IN (?, ?)" || len(args) != 3 {
		t.Errorf("sqlite clause = %q args = %v", clause, args)
	}

	clause, args = DialectPostgres.inIntClause("entry_index", []int{1, 2}, nil)
	if clause != "entry_index = ANY(?)" || len(args) != 1 {
		t.Errorf("postgres clause = %q args = %v", clause, args)
	}
}

func TestSanitizeBeforeWrite(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"nul removed", "An\x00na", "Anna"},
		{"controls become spaces", "St.\x0bNicholas", "St. Nicholas"},
		{"newlines kept", "line one\nline two\ttab", "line one\nline two\ttab"},
		{"cyrillic untouched", "Иоанн", "Иоанн"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeText(tc.in); got != tc.want {
				t.Errorf("sanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	for in, want := range map[float64]float64{-0.2: 0, 1.7: 1, 0.96320000001: 0.9632} {
		if got := sanitizeConfidence(in); got != want {
			t.Errorf("sanitizeConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}
