/**
 * Draft and finalize history store
 *
 * Implements fusion.Store over database/sql. Status guards are part of the
 * write statement itself (upsert WHERE / compare-and-set UPDATE), so a
 * concurrent finalize or commit cannot be undone by a late autosave.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/logging"
)

const draftColumns = `id, ocr_job_id, entry_index, record_type, record_number, payload_json,
	bbox_json, workflow_status, committed_record_id, church_id, created_by, created_at, updated_at`

const historyColumns = `id, ocr_job_id, entry_index, record_type, record_number, payload_json,
	created_record_id, finalized_by, finalized_at, committed_at, source_filename`

// SQLStore is the tenant store
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *logging.Logger

	schemaMu sync.Mutex
	migrated bool
}

// NewSQLStore wraps an open tenant database
func NewSQLStore(db *sql.DB, dialect Dialect, logger *logging.Logger) *SQLStore {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// DB exposes the handle for collaborators sharing the tenant database
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect of the underlying database
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// EnsureSchema applies the schema once per store. Reads never call it so an
// uninitialized tenant reads as empty.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.migrated {
		return nil
	}
	if err := Migrate(ctx, s.db, s.dialect); err != nil {
		return err
	}
	s.migrated = true
	return nil
}

// UpsertDraft implements fusion.Store
func (s *SQLStore) UpsertDraft(ctx context.Context, in fusion.DraftInput, allowed []fusion.Status, now time.Time) (*fusion.Draft, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, apperrors.NewStorageFailedError(in.JobID, "ensure schema", err)
	}

	payloadJSON, err := encodePayload(in.Payload)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("invalid payload", err)
	}
	bboxJSON, err := encodeBBox(in.BBox)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("invalid bbox", err)
	}

	now = now.UTC()
	args := []interface{}{
		in.JobID, in.EntryIndex, string(in.RecordType), nullString(in.RecordNumber),
		payloadJSON, bboxJSON, string(fusion.StatusDraft), in.ChurchID, in.CreatedBy, now, now,
	}
	guard, args := s.dialect.inClause("ocr_fused_drafts.workflow_status", statusStrings(allowed), args)

	// Omitted bbox keeps the stored one
	query := `
		INSERT INTO ocr_fused_drafts (
			ocr_job_id, entry_index, record_type, record_number, payload_json,
			bbox_json, workflow_status, church_id, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ocr_job_id, entry_index) DO UPDATE SET
			record_type = excluded.record_type,
			record_number = excluded.record_number,
			payload_json = excluded.payload_json,
			bbox_json = COALESCE(excluded.bbox_json, ocr_fused_drafts.bbox_json),
			updated_at = excluded.updated_at
		WHERE ` + guard + `
		RETURNING ` + draftColumns

	draft, err := scanDraft(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...))
	if err == sql.ErrNoRows {
		current, getErr := s.GetDraft(ctx, in.JobID, in.EntryIndex)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.NewIneligibleError(in.JobID, in.EntryIndex, string(current.Status), "autosave")
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(in.JobID,
			fmt.Sprintf("upsert draft (entry=%d)", in.EntryIndex), err)
	}
	return draft, nil
}

// GetDraft implements fusion.Store
func (s *SQLStore) GetDraft(ctx context.Context, jobID int64, entryIndex int) (*fusion.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM ocr_fused_drafts WHERE ocr_job_id = ? AND entry_index = ?`
	draft, err := scanDraft(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), jobID, entryIndex))
	if err == sql.ErrNoRows || isUndefinedTable(err) {
		return nil, apperrors.NewNotFoundError(jobID, fmt.Sprintf("Draft not found: entry %d", entryIndex))
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(jobID, "get draft", err)
	}
	return draft, nil
}

// GetDraftByID implements fusion.Store
func (s *SQLStore) GetDraftByID(ctx context.Context, id int64) (*fusion.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM ocr_fused_drafts WHERE id = ?`
	draft, err := scanDraft(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err == sql.ErrNoRows || isUndefinedTable(err) {
		return nil, apperrors.NewNotFoundError(0, fmt.Sprintf("Draft not found: %d", id))
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(0, "get draft by id", err)
	}
	return draft, nil
}

// ListDrafts implements fusion.Store
func (s *SQLStore) ListDrafts(ctx context.Context, filter fusion.DraftFilter) ([]fusion.Draft, error) {
	where, args := s.draftWhere(filter)
	query := `SELECT ` + draftColumns + ` FROM ocr_fused_drafts WHERE ` + where + ` ORDER BY entry_index ASC`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if isUndefinedTable(err) {
		return []fusion.Draft{}, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(filter.JobID, "list drafts", err)
	}
	defer rows.Close()

	drafts := []fusion.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, apperrors.NewStorageFailedError(filter.JobID, "scan draft", err)
		}
		drafts = append(drafts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageFailedError(filter.JobID, "list drafts", err)
	}
	return drafts, nil
}

// UpdateBBox implements fusion.Store
func (s *SQLStore) UpdateBBox(ctx context.Context, id int64, bbox fusion.BBox, allowed []fusion.Status, now time.Time) (*fusion.Draft, error) {
	bboxJSON, err := encodeBBox(&bbox)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("invalid bbox", err)
	}

	args := []interface{}{bboxJSON, now.UTC(), id}
	guard, args := s.dialect.inClause("workflow_status", statusStrings(allowed), args)
	query := `UPDATE ocr_fused_drafts SET bbox_json = ?, updated_at = ? WHERE id = ? AND ` + guard +
		` RETURNING ` + draftColumns

	draft, err := scanDraft(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...))
	if err == sql.ErrNoRows {
		current, getErr := s.GetDraftByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.NewIneligibleError(current.OCRJobID, current.EntryIndex, string(current.Status), "bbox update")
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(0, "update bbox", err)
	}
	return draft, nil
}

// AdvanceStatus implements fusion.Store
func (s *SQLStore) AdvanceStatus(ctx context.Context, filter fusion.DraftFilter, from []fusion.Status, to fusion.Status, now time.Time) (int64, error) {
	filter.Statuses = from
	where, whereArgs := s.draftWhere(filter)
	args := append([]interface{}{string(to), now.UTC()}, whereArgs...)
	query := `UPDATE ocr_fused_drafts SET workflow_status = ?, updated_at = ? WHERE ` + where

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.NewStorageFailedError(filter.JobID, "advance status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStorageFailedError(filter.JobID, "advance status", err)
	}
	return n, nil
}

// Finalize implements fusion.Store
func (s *SQLStore) Finalize(ctx context.Context, in fusion.FinalizeInput, from []fusion.Status, now time.Time) ([]fusion.Draft, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, apperrors.NewStorageFailedError(in.JobID, "ensure schema", err)
	}
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStorageFailedError(in.JobID, "begin finalize", err)
	}
	defer tx.Rollback()

	candidates, err := s.listInTx(ctx, tx, fusion.DraftFilter{
		ChurchID:     in.ChurchID,
		JobID:        in.JobID,
		Statuses:     from,
		EntryIndexes: in.EntryIndexes,
	})
	if err != nil {
		return nil, apperrors.NewStorageFailedError(in.JobID, "select finalize candidates", err)
	}

	finalized := make([]fusion.Draft, 0, len(candidates))
	for _, d := range candidates {
		args := []interface{}{string(fusion.StatusFinalized), now, d.ID}
		guard, args := s.dialect.inClause("workflow_status", statusStrings(from), args)
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(
			`UPDATE ocr_fused_drafts SET workflow_status = ?, updated_at = ? WHERE id = ? AND `+guard), args...)
		if err != nil {
			return nil, apperrors.NewStorageFailedError(in.JobID, "finalize draft", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		payloadJSON, err := encodePayload(d.Payload)
		if err != nil {
			return nil, apperrors.NewStorageFailedError(in.JobID, "encode snapshot", err)
		}

		// Commit evidence from an earlier commit is left untouched
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO ocr_finalize_history (
				ocr_job_id, entry_index, record_type, record_number, payload_json,
				finalized_by, finalized_at, source_filename
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ocr_job_id, entry_index) DO UPDATE SET
				record_type = excluded.record_type,
				record_number = excluded.record_number,
				payload_json = excluded.payload_json,
				finalized_by = excluded.finalized_by,
				finalized_at = excluded.finalized_at,
				source_filename = COALESCE(excluded.source_filename, ocr_finalize_history.source_filename)`),
			d.OCRJobID, d.EntryIndex, string(d.RecordType), nullString(d.RecordNumber), payloadJSON,
			in.FinalizedBy, now, nullString(in.SourceFilename),
		)
		if err != nil {
			return nil, apperrors.NewStorageFailedError(in.JobID, "upsert finalize history", err)
		}

		d.Status = fusion.StatusFinalized
		d.UpdatedAt = now
		finalized = append(finalized, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStorageFailedError(in.JobID, "commit finalize", err)
	}
	return finalized, nil
}

// CommitDraft implements fusion.Store
func (s *SQLStore) CommitDraft(ctx context.Context, draft fusion.Draft, insert fusion.InsertFunc, now time.Time) (int64, error) {
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStorageFailedError(draft.OCRJobID, "begin commit", err)
	}
	defer tx.Rollback()

	recordID, err := insert(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("insert %s record: %w", draft.RecordType, err)
	}

	args := []interface{}{string(fusion.StatusCommitted), recordID, now, draft.ID}
	guard, args := s.dialect.inClause("workflow_status", statusStrings(fusion.FromStates(fusion.EventCommit)), args)
	res, err := tx.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE ocr_fused_drafts SET workflow_status = ?, committed_record_id = ?, updated_at = ? WHERE id = ? AND `+guard),
		args...)
	if err != nil {
		return 0, apperrors.NewStorageFailedError(draft.OCRJobID, "mark committed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, apperrors.NewIneligibleError(draft.OCRJobID, draft.EntryIndex, "no longer finalized", "commit")
	}

	_, err = tx.ExecContext(ctx, s.dialect.Rebind(
		`UPDATE ocr_finalize_history SET created_record_id = ?, committed_at = ? WHERE ocr_job_id = ? AND entry_index = ?`),
		recordID, now, draft.OCRJobID, draft.EntryIndex)
	if err != nil && !isUndefinedTable(err) {
		return 0, apperrors.NewStorageFailedError(draft.OCRJobID, "update finalize history", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewStorageFailedError(draft.OCRJobID, "commit record", err)
	}
	return recordID, nil
}

// ListHistory implements fusion.Store
func (s *SQLStore) ListHistory(ctx context.Context, filter fusion.HistoryFilter) ([]fusion.HistoryEntry, error) {
	clauses := []string{"finalized_at >= ?"}
	args := []interface{}{filter.Since.UTC()}
	if filter.RecordType != "" {
		clauses = append(clauses, "record_type = ?")
		args = append(args, string(filter.RecordType))
	}
	args = append(args, filter.Limit)

	query := `SELECT ` + historyColumns + ` FROM ocr_finalize_history WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY finalized_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if isUndefinedTable(err) {
		return []fusion.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(0, "list finalize history", err)
	}
	defer rows.Close()

	history := []fusion.HistoryEntry{}
	for rows.Next() {
		var (
			h            fusion.HistoryEntry
			recordType   string
			recordNumber sql.NullString
			payloadJSON  string
			createdID    sql.NullInt64
			finalizedAt  scanTime
			committedAt  scanTime
			source       sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.OCRJobID, &h.EntryIndex, &recordType, &recordNumber, &payloadJSON,
			&createdID, &h.FinalizedBy, &finalizedAt, &committedAt, &source); err != nil {
			return nil, apperrors.NewStorageFailedError(0, "scan finalize history", err)
		}
		h.RecordType = fusion.RecordType(recordType)
		h.FinalizedAt = finalizedAt.Time
		h.RecordNumber = stringPtr(recordNumber)
		h.Payload = decodePayload(payloadJSON, s.logger)
		if createdID.Valid {
			id := createdID.Int64
			h.CreatedRecordID = &id
		}
		if committedAt.Valid {
			t := committedAt.Time
			h.CommittedAt = &t
		}
		h.SourceFilename = stringPtr(source)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageFailedError(0, "list finalize history", err)
	}
	return history, nil
}

// JobSourceFilename reads the uploaded file name from the job table, if present
func (s *SQLStore) JobSourceFilename(ctx context.Context, jobID int64) (*string, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT original_filename FROM ocr_jobs WHERE id = ?`), jobID).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stringPtr(name), nil
}

func (s *SQLStore) listInTx(ctx context.Context, tx *sql.Tx, filter fusion.DraftFilter) ([]fusion.Draft, error) {
	where, args := s.draftWhere(filter)
	rows, err := tx.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+draftColumns+` FROM ocr_fused_drafts WHERE `+where+` ORDER BY entry_index ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []fusion.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

func (s *SQLStore) draftWhere(filter fusion.DraftFilter) (string, []interface{}) {
	clauses := []string{"ocr_job_id = ?", "church_id = ?"}
	args := []interface{}{filter.JobID, filter.ChurchID}

	if len(filter.Statuses) > 0 {
		var clause string
		clause, args = s.dialect.inClause("workflow_status", statusStrings(filter.Statuses), args)
		clauses = append(clauses, clause)
	}
	if filter.RecordType != "" {
		clauses = append(clauses, "record_type = ?")
		args = append(args, string(filter.RecordType))
	}
	if len(filter.EntryIndexes) > 0 {
		var clause string
		clause, args = s.dialect.inIntClause("entry_index", filter.EntryIndexes, args)
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDraft(row rowScanner) (*fusion.Draft, error) {
	var (
		d            fusion.Draft
		recordType   string
		recordNumber sql.NullString
		payloadJSON  string
		bboxJSON     sql.NullString
		status       string
		committedID  sql.NullInt64
		createdAt    scanTime
		updatedAt    scanTime
	)
	err := row.Scan(&d.ID, &d.OCRJobID, &d.EntryIndex, &recordType, &recordNumber, &payloadJSON,
		&bboxJSON, &status, &committedID, &d.ChurchID, &d.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time

	d.RecordType = fusion.RecordType(recordType)
	d.RecordNumber = stringPtr(recordNumber)
	d.Status = fusion.Status(status)
	d.Payload = decodePayload(payloadJSON, nil)
	if bboxJSON.Valid && bboxJSON.String != "" && bboxJSON.String != "null" {
		var bbox fusion.BBox
		if err := json.Unmarshal([]byte(bboxJSON.String), &bbox); err == nil {
			d.BBox = &bbox
		}
	}
	if committedID.Valid {
		id := committedID.Int64
		d.CommittedRecordID = &id
	}
	return &d, nil
}

func encodePayload(p fusion.Payload) (string, error) {
	if p == nil {
		p = fusion.Payload{}
	}
	clean := make(map[string]string, len(p))
	for k, v := range p {
		clean[k] = sanitizeText(v)
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sanitizeText drops NUL, which postgres rejects in text columns, and turns
// other control characters except tab and newlines into spaces
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0:
			return -1
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return ' '
		}
		return r
	}, s)
}

// sanitizeConfidence clamps to [0,1] and rounds to 4 decimals
func sanitizeConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return float64(int(c*10000+0.5)) / 10000
}

// decodePayload tolerates rows written by older tools; unreadable payloads read as empty
func decodePayload(raw string, logger *logging.Logger) fusion.Payload {
	p := fusion.Payload{}
	if raw == "" || raw == "null" {
		return p
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		if logger != nil {
			logger.Warn("Unreadable payload_json", "error", err.Error())
		}
		return fusion.Payload{}
	}
	if p == nil {
		p = fusion.Payload{}
	}
	return p
}

func encodeBBox(b *fusion.BBox) (interface{}, error) {
	if b == nil {
		return nil, nil
	}
	if len(b.FieldBboxes) > 0 {
		cp := *b
		cp.FieldBboxes = make(map[string]fusion.FieldBox, len(b.FieldBboxes))
		for k, fb := range b.FieldBboxes {
			if fb.Confidence != nil {
				c := sanitizeConfidence(*fb.Confidence)
				fb.Confidence = &c
			}
			cp.FieldBboxes[k] = fb
		}
		b = &cp
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func statusStrings(statuses []fusion.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func nullString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
