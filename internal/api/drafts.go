package api

import (
	"net/http"
	"strings"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
)

// draftBody is one entry of an autosave or batch save request
type draftBody struct {
	EntryIndex   *int              `json:"entry_index,omitempty"`
	RecordType   fusion.RecordType `json:"record_type,omitempty"`
	RecordNumber *string           `json:"record_number,omitempty"`
	Payload      fusion.Payload    `json:"payload,omitempty"`
	BBox         *fusion.BBox      `json:"bbox,omitempty"`
}

func (b draftBody) input(churchID, jobID int64, entryIndex int, user string) fusion.DraftInput {
	payload := b.Payload
	if payload == nil {
		payload = fusion.Payload{}
	}
	return fusion.DraftInput{
		ChurchID:     churchID,
		JobID:        jobID,
		EntryIndex:   entryIndex,
		RecordType:   b.RecordType,
		RecordNumber: b.RecordNumber,
		Payload:      payload,
		BBox:         b.BBox,
		CreatedBy:    user,
	}
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	svc, _, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filter := fusion.DraftFilter{ChurchID: churchID, JobID: jobID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := fusion.Status(strings.TrimSpace(part))
			if !st.Valid() {
				s.writeError(w, r, apperrors.NewInvalidInputError("unknown status: "+string(st), nil))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if rt := r.URL.Query().Get("record_type"); rt != "" {
		filter.RecordType = fusion.RecordType(rt)
	}

	listing, err := svc.ListDrafts(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleAutosave(w http.ResponseWriter, r *http.Request) {
	svc, _, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entryIndex, err := pathInt(r, "entryIndex")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var body draftBody
	if err := s.schemas.decode(r, "autosave.json", &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	draft, err := svc.Autosave(r.Context(), body.input(churchID, jobID, int(entryIndex), actor(r)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "draft": draft})
}

func (s *Server) handleBatchSave(w http.ResponseWriter, r *http.Request) {
	svc, _, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var body struct {
		Entries []draftBody `json:"entries"`
	}
	if err := s.schemas.decode(r, "batch.json", &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	user := actor(r)
	entries := make([]fusion.DraftInput, len(body.Entries))
	for i, e := range body.Entries {
		entries[i] = e.input(churchID, jobID, *e.EntryIndex, user)
	}

	result, err := svc.BatchSave(r.Context(), churchID, jobID, user, entries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEntryBBox(w http.ResponseWriter, r *http.Request) {
	svc, store, _, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	draftID, err := pathInt(r, "draftId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var upd fusion.EntryBBoxUpdate
	if err := s.schemas.decode(r, "entry_bbox.json", &upd); err != nil {
		s.writeError(w, r, err)
		return
	}

	existing, err := store.GetDraftByID(r.Context(), draftID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if existing.OCRJobID != jobID {
		s.writeError(w, r, apperrors.NewNotFoundError(jobID, "Draft not found"))
		return
	}

	draft, err := svc.UpdateEntryBBox(r.Context(), draftID, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "draft": draft})
}

func (s *Server) handleReadyForReview(w http.ResponseWriter, r *http.Request) {
	svc, _, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var sel entrySelection
	if err := s.schemas.decode(r, "selection.json", &sel); err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := svc.ReadyForReview(r.Context(), churchID, jobID, sel.EntryIndexes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated": n})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	svc, _, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := svc.Validate(r.Context(), churchID, jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
