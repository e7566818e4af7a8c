package api

import (
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
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

	result, err := svc.Finalize(r.Context(), churchID, jobID, sel.EntryIndexes, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"finalized": result.Finalized,
		"count":     result.Count,
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
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

	result, err := svc.Commit(r.Context(), churchID, jobID, sel.EntryIndexes, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"committed": result.Committed,
		"errors":    result.Errors,
		"skipped":   result.Skipped,
		"message":   result.Message(),
	})
}

func historyFilter(r *http.Request) (fusion.HistoryFilter, error) {
	q := r.URL.Query()
	f := fusion.HistoryFilter{RecordType: fusion.RecordType(q.Get("record_type"))}

	for name, dst := range map[string]*int{"days": &f.Days, "limit": &f.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, apperrors.NewInvalidInputError(fmt.Sprintf("invalid %s: %q", name, raw), nil)
		}
		*dst = v
	}
	return f, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	svc, _, _, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := historyFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows, err := svc.History(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": rows, "count": len(rows)})
}

func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	svc, _, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := historyFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows, err := svc.History(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.exporter.HistoryXLSX(rows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="finalize-history-church-%d.xlsx"`, churchID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
