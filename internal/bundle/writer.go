/**
 * Job Bundle Writer
 *
 * Snapshots every draft of a job to disk so reviewers and downstream tools
 * can read a job without a database round trip. Files are replaced
 * atomically; a reader sees either the old or the new snapshot.
 */

package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/logging"
)

// File names inside a job directory
const (
	DraftsFile   = "drafts.json"
	ManifestFile = "manifest.json"
)

// DraftLister reads a job's drafts
type DraftLister interface {
	ListDrafts(ctx context.Context, filter fusion.DraftFilter) ([]fusion.Draft, error)
}

// Manifest summarizes a bundle
type Manifest struct {
	ChurchID    int64                 `json:"church_id"`
	JobID       int64                 `json:"job_id"`
	Reason      string                `json:"reason,omitempty"`
	DraftCount  int                   `json:"draft_count"`
	StatusCount map[fusion.Status]int `json:"status_counts"`
	WrittenAt   time.Time             `json:"written_at"`
}

// Writer writes job bundles under a root directory
type Writer struct {
	root   string
	logger *logging.Logger
	now    func() time.Time
}

// NewWriter creates a writer rooted at dir
func NewWriter(dir string, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Writer{root: dir, logger: logger, now: time.Now}
}

// JobDir returns <root>/church_<id>/jobs/<job>
func (w *Writer) JobDir(churchID, jobID int64) string {
	return filepath.Join(w.root, fmt.Sprintf("church_%d", churchID), "jobs", fmt.Sprintf("%d", jobID))
}

// Snapshot lists the job's drafts and writes them as a bundle
func (w *Writer) Snapshot(ctx context.Context, lister DraftLister, churchID, jobID int64, reason string) (*Manifest, error) {
	drafts, err := lister.ListDrafts(ctx, fusion.DraftFilter{ChurchID: churchID, JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return w.Write(churchID, jobID, reason, drafts)
}

// Write replaces drafts.json and manifest.json for a job
func (w *Writer) Write(churchID, jobID int64, reason string, drafts []fusion.Draft) (*Manifest, error) {
	if drafts == nil {
		drafts = []fusion.Draft{}
	}

	dir := w.JobDir(churchID, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	manifest := &Manifest{
		ChurchID:    churchID,
		JobID:       jobID,
		Reason:      reason,
		DraftCount:  len(drafts),
		StatusCount: map[fusion.Status]int{},
		WrittenAt:   w.now().UTC(),
	}
	for _, d := range drafts {
		manifest.StatusCount[d.Status]++
	}

	if err := writeJSON(filepath.Join(dir, DraftsFile), drafts); err != nil {
		return nil, err
	}
	// Manifest last so its presence implies a complete drafts file
	if err := writeJSON(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return nil, err
	}

	w.logger.Debug("Wrote job bundle",
		"church_id", churchID,
		"job_id", jobID,
		"drafts", len(drafts),
		"reason", reason,
	)
	return manifest, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Read loads a bundle's manifest and drafts
func Read(dir string) (*Manifest, []fusion.Draft, error) {
	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	var drafts []fusion.Draft
	data, err = os.ReadFile(filepath.Join(dir, DraftsFile))
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(data, &drafts); err != nil {
		return nil, nil, fmt.Errorf("failed to decode drafts: %w", err)
	}
	return &manifest, drafts, nil
}
