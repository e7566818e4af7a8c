/**
 * HTTP API for the record fusion worker
 *
 * Routes are scoped by church; every request resolves the church's own
 * database before touching drafts, history or extractor configuration.
 */

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/cache"
	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/export"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/adverant/nexus/recordfusion/internal/records"
	"github.com/adverant/nexus/recordfusion/internal/storage"
	"github.com/google/uuid"
)

const (
	prefix          = "/api/church/{churchId}/ocr"
	maxBodyBytes    = 32 << 20
	requestIDHeader = "X-Request-ID"
	userHeader      = "X-User"
)

// TenantStores resolves a church's store
type TenantStores interface {
	Store(ctx context.Context, churchID int64) (*storage.SQLStore, error)
}

// Settings tunes extraction and transcription
type Settings struct {
	NormalizeConfidenceThreshold float64
	MinTokenConfidence           float64
	MinAnchors                   int
	MaxExtent                    float64
}

// Server serves the fusion API
type Server struct {
	tenants  TenantStores
	anchors  cache.AnchorCache
	notifier fusion.Notifier
	exporter *export.Exporter
	settings Settings
	schemas  *schemas
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithNotifier sets the job change notifier passed to every lifecycle service
func WithNotifier(n fusion.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithAnchorCache sets the extractor configuration cache
func WithAnchorCache(c cache.AnchorCache) Option {
	return func(s *Server) {
		if c != nil {
			s.anchors = c
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates the API server
func NewServer(tenants TenantStores, settings Settings, logger *logging.Logger, opts ...Option) (*Server, error) {
	if tenants == nil {
		return nil, fmt.Errorf("tenant resolver is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		tenants:  tenants,
		anchors:  cache.NewMemoryCache(10 * time.Minute),
		exporter: export.NewExporter(logger),
		settings: settings,
		schemas:  compiled,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET "+prefix+"/jobs/{jobId}/fusion/drafts", s.handleListDrafts)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/fusion/drafts", s.handleBatchSave)
	mux.HandleFunc("PUT "+prefix+"/jobs/{jobId}/fusion/drafts/{entryIndex}", s.handleAutosave)
	mux.HandleFunc("PATCH "+prefix+"/jobs/{jobId}/fusion/drafts/{draftId}/entry-bbox", s.handleEntryBBox)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/fusion/ready-for-review", s.handleReadyForReview)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/fusion/validate", s.handleValidate)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/review/finalize", s.handleFinalize)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/review/commit", s.handleCommit)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/extract", s.handleExtract)
	mux.HandleFunc("POST "+prefix+"/jobs/{jobId}/normalize", s.handleNormalize)
	mux.HandleFunc("GET "+prefix+"/finalize-history", s.handleHistory)
	mux.HandleFunc("GET "+prefix+"/finalize-history/export.xlsx", s.handleHistoryExport)
	mux.HandleFunc("POST "+prefix+"/extractors/{extractorId}/invalidate", s.handleInvalidate)

	return s.withRequestID(s.withRecover(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": s.now().UTC()})
}

// service resolves the church of the request and builds its lifecycle service
func (s *Server) service(r *http.Request) (*fusion.Service, *storage.SQLStore, int64, error) {
	churchID, err := pathInt(r, "churchId")
	if err != nil {
		return nil, nil, 0, err
	}
	store, err := s.tenants.Store(r.Context(), churchID)
	if err != nil {
		return nil, nil, 0, err
	}
	opts := []fusion.Option{fusion.WithClock(s.now)}
	if s.notifier != nil {
		opts = append(opts, fusion.WithNotifier(s.notifier))
	}
	svc := fusion.NewService(store, records.All(store.Dialect()), s.logger.With("church_id", churchID), opts...)
	return svc, store, churchID, nil
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("Handler panic",
					"request_id", w.Header().Get(requestIDHeader),
					"path", r.URL.Path,
					"panic", fmt.Sprint(v),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusFor maps error codes onto HTTP statuses
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrorNotFound, apperrors.ErrorTenantNotFound:
		return http.StatusNotFound
	case apperrors.ErrorIneligible, apperrors.ErrorIllegalTransition:
		return http.StatusConflict
	case apperrors.ErrorInvalidInput, apperrors.ErrorUnsupportedRecordType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *apperrors.ProcessingError
	if !apperrors.As(err, &pe) {
		pe = apperrors.NewStorageFailedError(0, "request", err)
	}
	status := statusFor(pe.Code)

	body := pe.ToMap()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			"request_id", w.Header().Get(requestIDHeader),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		delete(body, "cause")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathInt(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperrors.NewInvalidInputError(fmt.Sprintf("invalid %s: %q", name, raw), nil)
	}
	return v, nil
}

// actor is the user recorded on writes; authentication happens upstream
func actor(r *http.Request) string {
	if u := r.Header.Get(userHeader); u != "" {
		return u
	}
	return fusion.DefaultActor
}

// entrySelection is the optional body of bulk lifecycle calls
type entrySelection struct {
	EntryIndexes []int `json:"entry_indexes,omitempty"`
}
