package fusion

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by record inserters
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// InsertFunc writes the target record inside the commit transaction and
// returns the new record id
type InsertFunc func(ctx context.Context, tx DBTX) (int64, error)

// Store persists drafts and finalize history for one tenant database.
// Status guards are evaluated atomically with the write they protect.
type Store interface {
	// UpsertDraft creates or updates the draft keyed by (job, entry) only while
	// its status is one of allowed. Returns an ineligible error otherwise.
	UpsertDraft(ctx context.Context, in DraftInput, allowed []Status, now time.Time) (*Draft, error)
	GetDraft(ctx context.Context, jobID int64, entryIndex int) (*Draft, error)
	GetDraftByID(ctx context.Context, id int64) (*Draft, error)
	ListDrafts(ctx context.Context, filter DraftFilter) ([]Draft, error)
	// UpdateBBox replaces bbox metadata while the status is one of allowed
	UpdateBBox(ctx context.Context, id int64, bbox BBox, allowed []Status, now time.Time) (*Draft, error)
	// AdvanceStatus moves every matching draft in one of from to status to
	AdvanceStatus(ctx context.Context, filter DraftFilter, from []Status, to Status, now time.Time) (int64, error)
	// Finalize moves eligible drafts to finalized and upserts their history
	// snapshots in one transaction, returning the drafts it finalized
	Finalize(ctx context.Context, in FinalizeInput, from []Status, now time.Time) ([]Draft, error)
	// CommitDraft runs insert and the finalized -> committed compare-and-set in
	// one transaction and records the created id on the history row
	CommitDraft(ctx context.Context, draft Draft, insert InsertFunc, now time.Time) (int64, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
	JobSourceFilename(ctx context.Context, jobID int64) (*string, error)
}

// RecordInput is the mapped content of one committed record
type RecordInput struct {
	ChurchID  int64
	Fields    map[string]string
	CreatedBy string
	CreatedAt time.Time
}

// RecordInserter writes one record of a given type
type RecordInserter interface {
	Insert(ctx context.Context, tx DBTX, in RecordInput) (int64, error)
}

// Notifier receives best-effort job change notifications (bundle snapshots).
// Implementations must not block the caller on the side effect.
type Notifier interface {
	JobChanged(ctx context.Context, churchID, jobID int64, reason string)
}

type nopNotifier struct{}

func (nopNotifier) JobChanged(context.Context, int64, int64, string) {}
