package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/adverant/nexus/recordfusion/internal/storage"
	"github.com/adverant/nexus/recordfusion/internal/tenant"
)

const base = "/api/church/7/ocr"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	resolver, err := tenant.NewResolver("sqlite3", filepath.Join(t.TempDir(), "church_{church_id}.db"),
		storage.PoolOptions{MaxOpenConns: 1}, logging.Nop())
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	t.Cleanup(func() { resolver.Close() })

	srv, err := NewServer(resolver, Settings{
		NormalizeConfidenceThreshold: 0.35,
		MinTokenConfidence:           0.55,
		MinAnchors:                   3,
		MaxExtent:                    1.0,
	}, logging.Nop(), WithClock(func() time.Time {
		return time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, "fr.john")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func loadPage(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "vision", "testdata", "baptism_page.json"))
	if err != nil {
		t.Skipf("fixture not available: %v", err)
	}
	return string(data)
}

/**
 * Middleware and routing
 */

func TestHealthAndRequestID(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestBadPathParameters(t *testing.T) {
	h := newTestServer(t)

	testCases := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"church not numeric", http.MethodGet, "/api/church/abc/ocr/jobs/1/fusion/drafts", http.StatusBadRequest},
		{"job not numeric", http.MethodGet, base + "/jobs/x/fusion/drafts", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, base + "/jobs/1/fusion/drafts", http.StatusMethodNotAllowed},
		{"unknown status filter", http.MethodGet, base + "/jobs/1/fusion/drafts?status=archived", http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := do(t, h, tc.method, tc.path, ""); rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

/**
 * Lifecycle over HTTP
 */

func TestDraftLifecycle(t *testing.T) {
	h := newTestServer(t)
	jobs := base + "/jobs/100"

	rec := do(t, h, http.MethodPut, jobs+"/fusion/drafts/0", `{"record_type":"baptism","payload":{"child_name":"Anna","father_name":"Nikolaos"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("autosave status = %d: %s", rec.Code, rec.Body.String())
	}
	draft := decode(t, rec)["draft"].(map[string]interface{})
	if draft["status"] != "draft" || draft["created_by"] != "fr.john" {
		t.Errorf("draft = %v", draft)
	}

	rec = do(t, h, http.MethodPut, jobs+"/fusion/drafts/1", `{"payload":{"child_name":{"first":"Eleni"}}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("nested payload status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodPost, jobs+"/fusion/validate", "")
	if rec.Code != http.StatusOK || decode(t, rec)["valid"] != true {
		t.Errorf("validate = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, jobs+"/review/finalize", `{"entry_indexes":[0]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPut, jobs+"/fusion/drafts/0", `{"payload":{"child_name":"Changed"}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("autosave after finalize = %d, want 409", rec.Code)
	}
	if code := decode(t, rec)["error_code"]; code != "INELIGIBLE" {
		t.Errorf("error_code = %v", code)
	}

	rec = do(t, h, http.MethodPost, jobs+"/review/commit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if committed := body["committed"].([]interface{}); len(committed) != 1 {
		t.Errorf("committed = %v", committed)
	}
	if body["message"] != "Committed 1 record(s)" {
		t.Errorf("message = %v", body["message"])
	}

	if rec := do(t, h, http.MethodPost, jobs+"/review/commit", ""); rec.Code != http.StatusConflict {
		t.Errorf("second commit = %d, want 409", rec.Code)
	}

	rec = do(t, h, http.MethodGet, base+"/finalize-history?days=7&record_type=baptism", "")
	if rec.Code != http.StatusOK || decode(t, rec)["count"] != float64(1) {
		t.Errorf("history = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, base+"/finalize-history/export.xlsx", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxContentType || rec.Body.Len() == 0 {
		t.Errorf("export = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestBatchSaveAndEntryBBox(t *testing.T) {
	h := newTestServer(t)
	jobs := base + "/jobs/200"

	rec := do(t, h, http.MethodPost, jobs+"/fusion/drafts", `{"entries":[
		{"entry_index":0,"record_type":"marriage","payload":{"groom_name":"Ivan","bride_name":"Olga"}},
		{"entry_index":1,"record_type":"marriage","payload":{"groom_name":"Petros"}}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status = %d: %s", rec.Code, rec.Body.String())
	}
	saved := decode(t, rec)["drafts"].([]interface{})
	if len(saved) != 2 {
		t.Fatalf("saved = %d", len(saved))
	}
	id := saved[0].(map[string]interface{})["id"].(float64)

	if rec := do(t, h, http.MethodPost, jobs+"/fusion/drafts", `{"entries":[{"payload":{}}]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("entry without index = %d, want 400", rec.Code)
	}

	bboxPath := jobs + "/fusion/drafts/" + jsonInt(id) + "/entry-bbox"
	if rec := do(t, h, http.MethodPatch, bboxPath, `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty bbox patch = %d, want 400", rec.Code)
	}
	rec = do(t, h, http.MethodPatch, bboxPath, `{"entryBbox":{"x":0,"y":0,"w":600,"h":400}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("bbox patch = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPatch, base+"/jobs/999/fusion/drafts/"+jsonInt(id)+"/entry-bbox", `{"entryBbox":{"x":0,"y":0,"w":1,"h":1}}`); rec.Code != http.StatusNotFound {
		t.Errorf("bbox patch on another job = %d, want 404", rec.Code)
	}

	rec = do(t, h, http.MethodPost, jobs+"/fusion/ready-for-review", `{"entry_indexes":[1]}`)
	if rec.Code != http.StatusOK || decode(t, rec)["updated"] != float64(1) {
		t.Errorf("ready for review = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, jobs+"/fusion/drafts?status=in_review", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if entries := decode(t, rec)["entries"].([]interface{}); len(entries) != 1 {
		t.Errorf("in_review entries = %v", entries)
	}

	rec = do(t, h, http.MethodGet, jobs+"/fusion/drafts", "")
	areas := decode(t, rec)["entryAreas"].([]interface{})
	if len(areas) != 1 || areas[0].(map[string]interface{})["entryId"] != "entry-0" {
		t.Errorf("entryAreas = %v", areas)
	}
}

/**
 * Extraction and transcription
 */

func TestExtractSeedsDrafts(t *testing.T) {
	page := loadPage(t)
	h := newTestServer(t)
	jobs := base + "/jobs/300"

	rec := do(t, h, http.MethodPost, jobs+"/extract", `{"extractor_id":0,"record_type":"baptism","seed_drafts":true,"vision":`+page+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("extract = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if _, ok := body["seeded"]; !ok {
		t.Fatalf("expected seeded drafts: %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, jobs+"/fusion/drafts", "")
	fields := decode(t, rec)["fields"].(map[string]interface{})
	entry, ok := fields["entry-0"].(map[string]interface{})
	if !ok || entry["date_of_baptism"] != "March 3, 1921" {
		t.Errorf("fields = %v", fields)
	}

	if rec := do(t, h, http.MethodPost, jobs+"/extract", `{"extractor_id":42,"vision":`+page+`}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown extractor = %d, want 404", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, jobs+"/extract", `{"extractor_id":0,"record_type":"census","vision":`+page+`}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown record type = %d, want 400", rec.Code)
	}
}

func TestNormalize(t *testing.T) {
	page := loadPage(t)
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, base+"/jobs/1/normalize", `{"vision":`+page+`}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("normalize = %d: %s", rec.Code, rec.Body.String())
	}
	tr := decode(t, rec)["transcription"].(map[string]interface{})
	if text, _ := tr["text"].(string); !strings.Contains(text, "DATE OF BAPTISM") {
		t.Errorf("text = %q", text)
	}

	rec = do(t, h, http.MethodPost, base+"/jobs/1/normalize", `{"vision":{},"settings":{"confidenceThreshold":2}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("threshold out of range = %d, want 400", rec.Code)
	}
}

func TestInvalidateExtractor(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodPost, base+"/extractors/3/invalidate", "")
	if rec.Code != http.StatusOK || decode(t, rec)["invalidated"] != float64(3) {
		t.Errorf("invalidate = %d %s", rec.Code, rec.Body.String())
	}
}

func jsonInt(v float64) string {
	b, _ := json.Marshal(int64(v))
	return string(b)
}
