/**
 * Fusion Draft Lifecycle
 *
 * Autosave, review, finalize and commit over one tenant's store.
 * Status checks go through Transition; the store applies the same
 * guards atomically with each write.
 */

package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/layout"
	"github.com/adverant/nexus/recordfusion/internal/logging"
)

// DefaultActor is recorded when no user is known
const DefaultActor = "system"

// Notification reasons
const (
	ReasonBatchSave = "batch_save"
	ReasonFinalize  = "finalize"
	ReasonCommit    = "commit"
)

// Service drives the draft lifecycle for one tenant
type Service struct {
	store     Store
	inserters map[RecordType]RecordInserter
	notifier  Notifier
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the receiver of job change notifications
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewService creates a lifecycle service
func NewService(store Store, inserters map[RecordType]RecordInserter, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		store:     store,
		inserters: inserters,
		notifier:  nopNotifier{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Autosave upserts one entry's draft. Refused once the entry is finalized.
func (s *Service) Autosave(ctx context.Context, in DraftInput) (*Draft, error) {
	if in.EntryIndex < 0 {
		return nil, apperrors.NewInvalidInputError("entry index must not be negative", nil)
	}
	if in.RecordType == "" {
		in.RecordType = RecordBaptism
	}
	if in.CreatedBy == "" {
		in.CreatedBy = DefaultActor
	}

	draft, err := s.store.UpsertDraft(ctx, in, FromStates(EventAutosave), s.now())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrIneligible) {
			s.logger.Warn("Autosave refused",
				"job_id", in.JobID,
				"entry_index", in.EntryIndex,
				"error", err.Error(),
			)
		}
		return nil, err
	}
	return draft, nil
}

// SkippedEntry is an entry left untouched by a bulk operation
type SkippedEntry struct {
	EntryIndex int    `json:"entry_index"`
	Status     Status `json:"status,omitempty"`
	Reason     string `json:"reason"`
}

// BatchResult reports a batch save
type BatchResult struct {
	Saved   []Draft        `json:"drafts"`
	Skipped []SkippedEntry `json:"skipped"`
}

// BatchSave autosaves many entries; entries past in_review are skipped
func (s *Service) BatchSave(ctx context.Context, churchID, jobID int64, createdBy string, entries []DraftInput) (*BatchResult, error) {
	if len(entries) == 0 {
		return nil, apperrors.NewInvalidInputError("entries array is required", nil)
	}

	result := &BatchResult{Saved: []Draft{}, Skipped: []SkippedEntry{}}
	for _, entry := range entries {
		entry.ChurchID = churchID
		entry.JobID = jobID
		if entry.CreatedBy == "" {
			entry.CreatedBy = createdBy
		}

		draft, err := s.Autosave(ctx, entry)
		if err != nil {
			if !apperrors.Is(err, apperrors.ErrIneligible) {
				return nil, err
			}
			result.Skipped = append(result.Skipped, SkippedEntry{
				EntryIndex: entry.EntryIndex,
				Status:     statusOf(err),
				Reason:     err.Error(),
			})
			continue
		}
		result.Saved = append(result.Saved, *draft)
	}

	s.logger.Info("Batch saved drafts",
		"job_id", jobID,
		"saved", len(result.Saved),
		"skipped", len(result.Skipped),
	)
	if len(result.Saved) > 0 {
		s.notifier.JobChanged(ctx, churchID, jobID, ReasonBatchSave)
	}
	return result, nil
}

// EntryBBoxUpdate carries the bbox fields a reviewer may replace
type EntryBBoxUpdate struct {
	EntryBbox  *layout.Rect       `json:"entryBbox,omitempty"`
	EntryAreas []layout.EntryArea `json:"entryAreas,omitempty"`
}

// UpdateEntryBBox merges entry geometry into a draft's bbox metadata
func (s *Service) UpdateEntryBBox(ctx context.Context, draftID int64, upd EntryBBoxUpdate) (*Draft, error) {
	if upd.EntryBbox == nil && upd.EntryAreas == nil {
		return nil, apperrors.NewInvalidInputError("Must provide entryBbox or entryAreas", nil)
	}
	for _, area := range upd.EntryAreas {
		if area.EntryID == "" {
			return nil, apperrors.NewInvalidInputError("Invalid entryAreas: each item must have entryId and bbox", nil)
		}
	}

	draft, err := s.store.GetDraftByID(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(draft.Status, EventEditBBox); err != nil {
		return nil, apperrors.NewIneligibleError(draft.OCRJobID, draft.EntryIndex, string(draft.Status), "bbox update")
	}

	bbox := BBox{}
	if draft.BBox != nil {
		bbox = *draft.BBox
	}
	if upd.EntryBbox != nil {
		rect := *upd.EntryBbox
		bbox.EntryBbox = &rect
	}
	if upd.EntryAreas != nil {
		bbox.EntryAreas = upd.EntryAreas
	}
	if bbox.Selections == nil {
		bbox.Selections = map[string]json.RawMessage{}
	}

	return s.store.UpdateBBox(ctx, draftID, bbox, FromStates(EventEditBBox), s.now())
}

// ReadyForReview moves draft entries (all, or the given indexes) to in_review
func (s *Service) ReadyForReview(ctx context.Context, churchID, jobID int64, entryIndexes []int) (int64, error) {
	n, err := s.store.AdvanceStatus(ctx,
		DraftFilter{ChurchID: churchID, JobID: jobID, EntryIndexes: entryIndexes},
		FromStates(EventReadyForReview), StatusInReview, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("Marked drafts in review", "job_id", jobID, "count", n)
	return n, nil
}

// EntryRef names an entry and its record type
type EntryRef struct {
	EntryIndex int        `json:"entry_index"`
	RecordType RecordType `json:"record_type"`
}

// FinalizeResult reports a finalize call
type FinalizeResult struct {
	Finalized []EntryRef `json:"finalized"`
	Count     int        `json:"count"`
}

// Finalize freezes eligible entries and snapshots them into the history
func (s *Service) Finalize(ctx context.Context, churchID, jobID int64, entryIndexes []int, user string) (*FinalizeResult, error) {
	if user == "" {
		user = DefaultActor
	}

	source, err := s.store.JobSourceFilename(ctx, jobID)
	if err != nil {
		s.logger.Debug("Source filename unavailable", "job_id", jobID, "error", err.Error())
		source = nil
	}

	drafts, err := s.store.Finalize(ctx, FinalizeInput{
		ChurchID:       churchID,
		JobID:          jobID,
		EntryIndexes:   entryIndexes,
		FinalizedBy:    user,
		SourceFilename: source,
	}, FromStates(EventFinalize), s.now())
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, apperrors.NewNotFoundError(jobID, "No eligible drafts found for finalization")
	}

	result := &FinalizeResult{Finalized: make([]EntryRef, len(drafts)), Count: len(drafts)}
	for i, d := range drafts {
		result.Finalized[i] = EntryRef{EntryIndex: d.EntryIndex, RecordType: d.RecordType}
	}

	s.logger.Info("Finalized drafts", "job_id", jobID, "count", result.Count, "user", user)
	s.notifier.JobChanged(ctx, churchID, jobID, ReasonFinalize)
	return result, nil
}

// CommittedEntry is one successful commit
type CommittedEntry struct {
	EntryIndex      int        `json:"entry_index"`
	RecordType      RecordType `json:"record_type"`
	CreatedRecordID int64      `json:"created_record_id"`
}

// CommitError is one failed commit
type CommitError struct {
	EntryIndex int        `json:"entry_index"`
	RecordType RecordType `json:"record_type"`
	Error      string     `json:"error"`
}

// CommitResult always carries both lists
type CommitResult struct {
	Committed []CommittedEntry `json:"committed"`
	Errors    []CommitError    `json:"errors"`
	Skipped   []SkippedEntry   `json:"skipped,omitempty"`
}

// Message summarizes the result
func (r CommitResult) Message() string {
	msg := fmt.Sprintf("Committed %d record(s)", len(r.Committed))
	if len(r.Errors) > 0 {
		msg += fmt.Sprintf(", %d error(s)", len(r.Errors))
	}
	return msg
}

// Commit inserts one record per finalized entry. Entries are committed
// independently; failures are collected and never abort the batch.
func (s *Service) Commit(ctx context.Context, churchID, jobID int64, entryIndexes []int, user string) (*CommitResult, error) {
	if user == "" {
		user = DefaultActor
	}

	drafts, err := s.store.ListDrafts(ctx, DraftFilter{ChurchID: churchID, JobID: jobID, EntryIndexes: entryIndexes})
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, apperrors.NewNotFoundError(jobID, "No finalized drafts found to commit")
	}

	result := &CommitResult{Committed: []CommittedEntry{}, Errors: []CommitError{}}
	var eligible []Draft
	statuses := map[int]string{}
	for _, d := range drafts {
		if _, err := Transition(d.Status, EventCommit); err != nil {
			statuses[d.EntryIndex] = string(d.Status)
			if len(entryIndexes) > 0 {
				result.Skipped = append(result.Skipped, SkippedEntry{
					EntryIndex: d.EntryIndex,
					Status:     d.Status,
					Reason:     err.Error(),
				})
			}
			continue
		}
		eligible = append(eligible, d)
	}
	if len(eligible) == 0 {
		return nil, apperrors.NewNothingEligibleError(jobID, "commit", statuses)
	}

	now := s.now()
	for _, d := range eligible {
		id, err := s.commitOne(ctx, churchID, d, user, now)
		if err != nil {
			msg := err.Error()
			var pe *apperrors.ProcessingError
			if apperrors.As(err, &pe) && pe.Code == apperrors.ErrorUnsupportedRecordType {
				msg = pe.Message
			}
			s.logger.Error("Commit failed for entry",
				"job_id", jobID,
				"entry_index", d.EntryIndex,
				"record_type", string(d.RecordType),
				"error", msg,
			)
			result.Errors = append(result.Errors, CommitError{EntryIndex: d.EntryIndex, RecordType: d.RecordType, Error: msg})
			continue
		}
		result.Committed = append(result.Committed, CommittedEntry{EntryIndex: d.EntryIndex, RecordType: d.RecordType, CreatedRecordID: id})
	}

	s.logger.Info("Commit finished",
		"job_id", jobID,
		"committed", len(result.Committed),
		"errors", len(result.Errors),
	)
	if len(result.Committed) > 0 {
		s.notifier.JobChanged(ctx, churchID, jobID, ReasonCommit)
	}
	return result, nil
}

func (s *Service) commitOne(ctx context.Context, churchID int64, d Draft, user string, now time.Time) (int64, error) {
	inserter, ok := s.inserters[d.RecordType]
	if !ok || !d.RecordType.Supported() {
		return 0, apperrors.NewUnsupportedRecordTypeError(string(d.RecordType))
	}

	input := RecordInput{
		ChurchID:  churchID,
		Fields:    MapRecordFields(d.RecordType, d.Payload, now),
		CreatedBy: user,
		CreatedAt: now,
	}
	return s.store.CommitDraft(ctx, d, func(ctx context.Context, tx DBTX) (int64, error) {
		return inserter.Insert(ctx, tx, input)
	}, now)
}

// EntrySummary is the per-entry listing convenience
type EntrySummary struct {
	EntryIndex   int        `json:"entryIndex"`
	RecordType   RecordType `json:"recordType"`
	RecordNumber *string    `json:"recordNumber"`
	Status       Status     `json:"status"`
}

// DraftListing is a job's drafts plus lookups keyed "entry-<index>"
type DraftListing struct {
	Drafts     []Draft                               `json:"drafts"`
	EntryAreas []layout.EntryArea                    `json:"entryAreas"`
	Entries    []EntrySummary                        `json:"entries"`
	Fields     map[string]Payload                    `json:"fields"`
	Selections map[string]map[string]json.RawMessage `json:"selections"`
}

// ListDrafts returns a job's drafts ordered by entry index
func (s *Service) ListDrafts(ctx context.Context, filter DraftFilter) (*DraftListing, error) {
	drafts, err := s.store.ListDrafts(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := &DraftListing{
		Drafts:     drafts,
		EntryAreas: []layout.EntryArea{},
		Entries:    make([]EntrySummary, 0, len(drafts)),
		Fields:     map[string]Payload{},
		Selections: map[string]map[string]json.RawMessage{},
	}
	if out.Drafts == nil {
		out.Drafts = []Draft{}
	}

	for _, d := range drafts {
		out.Entries = append(out.Entries, EntrySummary{
			EntryIndex:   d.EntryIndex,
			RecordType:   d.RecordType,
			RecordNumber: d.RecordNumber,
			Status:       d.Status,
		})
		if d.Payload != nil {
			out.Fields[d.EntryKey()] = d.Payload
		}
		if d.BBox == nil {
			continue
		}
		if d.BBox.EntryBbox != nil {
			out.EntryAreas = append(out.EntryAreas, layout.EntryArea{EntryID: d.EntryKey(), BBox: *d.BBox.EntryBbox})
		}
		if d.BBox.Selections != nil {
			out.Selections[d.EntryKey()] = d.BBox.Selections
		}
	}
	return out, nil
}

// History returns finalize snapshots, newest first
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	rows, err := s.store.ListHistory(ctx, filter.Normalize(s.now()))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []HistoryEntry{}
	}
	return rows, nil
}

func statusOf(err error) Status {
	var pe *apperrors.ProcessingError
	if apperrors.As(err, &pe) {
		if st, ok := pe.Details["status"].(string); ok {
			return Status(st)
		}
	}
	return ""
}
