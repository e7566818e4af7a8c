package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/logging"
)

type staticLister []fusion.Draft

func (s staticLister) ListDrafts(_ context.Context, filter fusion.DraftFilter) ([]fusion.Draft, error) {
	var out []fusion.Draft
	for _, d := range s {
		if d.OCRJobID == filter.JobID {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestSnapshotWritesBundle(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, logging.Nop())
	w.now = func() time.Time { return time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC) }

	drafts := staticLister{
		{ID: 1, OCRJobID: 100, EntryIndex: 0, RecordType: fusion.RecordBaptism, Status: fusion.StatusFinalized, Payload: fusion.Payload{"child_name": "Anna"}},
		{ID: 2, OCRJobID: 100, EntryIndex: 1, RecordType: fusion.RecordBaptism, Status: fusion.StatusDraft, Payload: fusion.Payload{}},
		{ID: 3, OCRJobID: 100, EntryIndex: 2, RecordType: fusion.RecordBaptism, Status: fusion.StatusDraft, Payload: fusion.Payload{}},
		{ID: 4, OCRJobID: 200, EntryIndex: 0, RecordType: fusion.RecordFuneral, Status: fusion.StatusDraft},
	}

	m, err := w.Snapshot(context.Background(), drafts, 7, 100, fusion.ReasonFinalize)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if m.DraftCount != 3 || m.StatusCount[fusion.StatusDraft] != 2 || m.StatusCount[fusion.StatusFinalized] != 1 {
		t.Errorf("manifest = %+v", m)
	}

	dir := filepath.Join(root, "church_7", "jobs", "100")
	if w.JobDir(7, 100) != dir {
		t.Errorf("JobDir = %q", w.JobDir(7, 100))
	}

	got, read, err := Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Reason != fusion.ReasonFinalize || len(read) != 3 || read[0].Payload["child_name"] != "Anna" {
		t.Errorf("read back manifest=%+v drafts=%+v", got, read)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("expected only the two bundle files, found %d entries", len(entries))
	}
}

func TestWriteReplacesPreviousSnapshot(t *testing.T) {
	w := NewWriter(t.TempDir(), logging.Nop())

	if _, err := w.Write(1, 1, "", []fusion.Draft{{ID: 1, Status: fusion.StatusDraft}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write(1, 1, "", nil); err != nil {
		t.Fatalf("second write: %v", err)
	}

	m, drafts, err := Read(w.JobDir(1, 1))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.DraftCount != 0 || len(drafts) != 0 {
		t.Errorf("manifest=%+v drafts=%d", m, len(drafts))
	}
}
