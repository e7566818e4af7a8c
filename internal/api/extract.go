package api

import (
	"context"
	"net/http"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/forms"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/layout"
	"github.com/adverant/nexus/recordfusion/internal/storage"
	"github.com/adverant/nexus/recordfusion/internal/transcription"
	"github.com/adverant/nexus/recordfusion/internal/vision"
)

type extractRequest struct {
	ExtractorID int64             `json:"extractor_id"`
	RecordType  fusion.RecordType `json:"record_type,omitempty"`
	PageIndex   int               `json:"page_index,omitempty"`
	SeedDrafts  bool              `json:"seed_drafts,omitempty"`
	Vision      vision.Response   `json:"vision"`
}

type pageSummary struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	Tokens     int  `json:"tokens"`
	Lines      int  `json:"lines"`
	Degenerate bool `json:"degenerate,omitempty"`
}

func summarize(p vision.PageResult) pageSummary {
	return pageSummary{Width: p.Width, Height: p.Height, Tokens: len(p.Tokens), Lines: len(p.Lines), Degenerate: p.Degenerate}
}

// extractorConfig returns the stored extractor, through the anchor cache.
// Extractor 0 is the built-in form profile with no tenant overrides.
func (s *Server) extractorConfig(ctx context.Context, store *storage.SQLStore, churchID, extractorID int64) (*storage.ExtractorConfig, error) {
	if extractorID == 0 {
		return &storage.ExtractorConfig{Profile: forms.Profile{Mode: forms.ModeForm}}, nil
	}

	cfg, ok, err := s.anchors.Get(ctx, churchID, extractorID)
	if err != nil {
		s.logger.Warn("Anchor cache read failed", "church_id", churchID, "extractor_id", extractorID, "error", err.Error())
	}
	if ok {
		return cfg, nil
	}

	cfg, err = store.LoadExtractor(ctx, extractorID)
	if err != nil {
		return nil, err
	}
	if err := s.anchors.Set(ctx, churchID, extractorID, cfg); err != nil {
		s.logger.Warn("Anchor cache write failed", "church_id", churchID, "extractor_id", extractorID, "error", err.Error())
	}
	return cfg, nil
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	svc, store, churchID, err := s.service(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := pathInt(r, "jobId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req extractRequest
	if err := s.schemas.decode(r, "extract.json", &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg, err := s.extractorConfig(r.Context(), store, churchID, req.ExtractorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	recordType := req.RecordType
	if recordType == "" {
		recordType = fusion.RecordType(cfg.Profile.RecordType)
	}
	if recordType == "" {
		recordType = fusion.RecordBaptism
	}

	anchors := layout.Resolve(layout.DefaultAnchors(string(recordType)), cfg.Anchors, s.settings.MaxExtent, cfg.Profile.LearnedParams)
	if len(anchors) == 0 {
		s.writeError(w, r, apperrors.NewUnsupportedRecordTypeError(string(recordType)))
		return
	}

	page := vision.Adapt(&req.Vision, req.PageIndex)
	strategies := forms.NewStrategies(anchors, forms.Options{
		MinTokenConfidence: s.settings.MinTokenConfidence,
		MinAnchors:         s.settings.MinAnchors,
	}, s.logger.With("church_id", churchID, "job_id", jobID))

	outcome, err := strategies.Run(page, cfg.Profile)
	if err != nil {
		s.writeError(w, r, apperrors.NewInvalidInputError(err.Error(), err))
		return
	}

	resp := map[string]interface{}{
		"success":     true,
		"record_type": recordType,
		"page":        summarize(page),
		"outcome":     outcome,
	}

	if req.SeedDrafts && outcome.Result != nil {
		entries := seedEntries(*outcome.Result, recordType)
		if len(entries) > 0 {
			seeded, err := svc.BatchSave(r.Context(), churchID, jobID, actor(r), entries)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			resp["seeded"] = seeded
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// seedEntries turns extraction rows into draft inputs keyed by the row's region index
func seedEntries(res forms.Result, rt fusion.RecordType) []fusion.DraftInput {
	if len(res.Tables) == 0 {
		return nil
	}

	rows := res.Tables[0].Rows
	out := make([]fusion.DraftInput, 0, len(rows))
	for i, row := range rows {
		payload := fusion.Payload(res.Row(i))
		boxes := map[string]fusion.FieldBox{}
		for _, c := range row.Cells {
			if c.Content == "" {
				continue
			}
			conf := c.Confidence
			boxes[c.ColumnKey] = fusion.FieldBox{BBox: c.BBox, Confidence: &conf}
		}
		out = append(out, fusion.DraftInput{
			EntryIndex: row.EntryIndex,
			RecordType: rt,
			Payload:    payload,
			BBox:       &fusion.BBox{FieldBboxes: boxes},
		})
	}
	return out
}

type normalizeRequest struct {
	PageIndex int                    `json:"page_index,omitempty"`
	Vision    vision.Response        `json:"vision"`
	Settings  transcription.Settings `json:"settings"`
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if _, err := pathInt(r, "churchId"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := pathInt(r, "jobId"); err != nil {
		s.writeError(w, r, err)
		return
	}

	var req normalizeRequest
	if err := s.schemas.decode(r, "normalize.json", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Settings.ConfidenceThreshold == nil && s.settings.NormalizeConfidenceThreshold > 0 {
		threshold := s.settings.NormalizeConfidenceThreshold
		req.Settings.ConfidenceThreshold = &threshold
	}

	page := vision.Adapt(&req.Vision, req.PageIndex)
	result := transcription.Normalize(transcription.Input{Tokens: page.Tokens, Lines: page.Lines}, req.Settings)
	if page.Degenerate {
		result.Diagnostics.Warnings = append(result.Diagnostics.Warnings, "degenerate_page")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"page":          summarize(page),
		"transcription": result,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	churchID, err := pathInt(r, "churchId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	extractorID, err := pathInt(r, "extractorId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.anchors.Invalidate(r.Context(), churchID, extractorID); err != nil {
		s.writeError(w, r, apperrors.NewStorageFailedError(0, "invalidate anchor cache", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "invalidated": extractorID})
}
