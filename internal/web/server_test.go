package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabula/internal/config"
	"github.com/JonMunkholm/tabula/internal/core"
	"github.com/JonMunkholm/tabula/internal/operation"
	"github.com/JonMunkholm/tabula/internal/translator"
	"github.com/JonMunkholm/tabula/internal/version"
)

const people = "Name,Age\nBob,35\nAnn,28\n"

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{RequestTimeout: 5 * time.Second},
		Upload:    config.UploadConfig{MaxFileSize: 1 << 20},
		Transform: config.TransformConfig{MaxConcurrent: 2, MaxWaitTime: time.Second},
		Rate:      config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, tr translator.Translator) *Server {
	t.Helper()
	store := version.NewMemoryStore(version.Options{})
	t.Cleanup(func() { store.Close() })
	svc := core.NewService(store, tr, core.NewLimiter(cfg.Transform.MaxConcurrent, cfg.Transform.MaxWaitTime), core.Options{})
	return NewServer(svc, cfg)
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, path string, v any) *http.Request {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func upload(t *testing.T, s *Server) int64 {
	t.Helper()
	rec := do(s, uploadRequest(t, "people.csv", people))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return int64(decode(t, rec)["version_id"].(float64))
}

func TestUpload(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(s, uploadRequest(t, "people.csv", people))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["version_id"])
	assert.Equal(t, "people.csv", body["filename"])
	assert.Equal(t, []any{"Name", "Age"}, body["columns"])
	assert.Equal(t, float64(2), body["total_rows"])
	rows := body["data"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"Name": "Bob", "Age": float64(35)}, rows[0])
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	tests := []struct {
		name string
		req  *http.Request
		want int
		code string
	}{
		{"unsupported format", uploadRequest(t, "notes.txt", "hello"), http.StatusUnsupportedMediaType, "FMT001"},
		{"malformed csv", uploadRequest(t, "bad.csv", "a,b\n1,2,3\n"), http.StatusBadRequest, "FILE002"},
		{"missing file", func() *http.Request {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			mw.WriteField("other", "x")
			mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req
		}(), http.StatusBadRequest, "FILE004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 64
	s := newTestServer(t, cfg, nil)

	rec := do(s, uploadRequest(t, "big.csv", "a\n"+strings.Repeat("x\n", 200)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decode(t, rec)["code"])
}

func TestUploadHTMXRendersTable(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	req := uploadRequest(t, "people.csv", people)
	req.Header.Set("HX-Request", "true")
	rec := do(s, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<table")
	assert.Contains(t, rec.Body.String(), "Bob")
}

func TestApply(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	root := upload(t, s)

	rec := do(s, jsonRequest(t, "/api/apply", map[string]any{
		"version_id": root,
		"operation":  map[string]any{"kind": "filter", "expression": "Age > 30"},
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, float64(root), body["parent_version_id"])
	assert.Equal(t, float64(2), body["new_version_id"])
	assert.Equal(t, "filtered", body["label"])
	assert.Equal(t, float64(1), body["total_rows"])
	assert.Contains(t, body["message"], "Kept 1 of 2 rows")
}

func TestApplyCancelledWhileWaitingForSlot(t *testing.T) {
	cfg := testConfig()
	cfg.Transform.MaxConcurrent = 1
	cfg.Transform.MaxWaitTime = 5 * time.Second
	s := newTestServer(t, cfg, nil)
	root := upload(t, s)

	require.NoError(t, s.service.Limiter().Acquire(context.Background()))
	defer s.service.Limiter().Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := jsonRequest(t, "/api/apply", map[string]any{
		"version_id": root,
		"operation":  map[string]any{"kind": "filter", "expression": "Age > 30"},
	}).WithContext(ctx)

	rec := do(s, req)
	assert.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Equal(t, "UPL004", decode(t, rec)["code"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"client cancelled", fmt.Errorf("wait for transform slot: %w", context.Canceled), statusClientClosedRequest},
		{"deadline", fmt.Errorf("load version 1: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"busy", core.ErrBusy, http.StatusServiceUnavailable},
		{"bad request", badRequest("x"), http.StatusBadRequest},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestApplyKindRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	root := upload(t, s)

	rec := do(s, jsonRequest(t, "/api/apply-regex", map[string]any{
		"version_id":  root,
		"pattern":     "o",
		"replacement": "0",
		"column":      "Name",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	edited := decode(t, rec)
	assert.Equal(t, "edited", edited["label"])
	first := edited["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "B0b", first["Name"])

	rec = do(s, jsonRequest(t, "/api/apply-math", map[string]any{
		"version_id": int64(edited["new_version_id"].(float64)),
		"expression": "Next := Age + 1",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"Name", "Age", "Next"}, decode(t, rec)["columns"])

	// A nested operation of another kind is refused by a fixed-kind route.
	rec = do(s, jsonRequest(t, "/api/apply-filter", map[string]any{
		"version_id": root,
		"operation":  operation.Compute("X := 1"),
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyErrors(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	root := upload(t, s)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown version", "/api/apply", map[string]any{"version_id": 99, "operation": operation.Filter("Age > 1")},
			http.StatusNotFound, "not_found"},
		{"bad pattern", "/api/apply-regex", map[string]any{"version_id": root, "pattern": "("},
			http.StatusUnprocessableEntity, "invalid_pattern"},
		{"unknown column", "/api/apply", map[string]any{"version_id": root, "operation": operation.SubstituteIn("Nope", "a", "b")},
			http.StatusUnprocessableEntity, "column_not_found"},
		{"bad expression", "/api/apply-filter", map[string]any{"version_id": root, "expression": "Age >"},
			http.StatusUnprocessableEntity, "invalid_expression"},
		{"unknown kind", "/api/apply", map[string]any{"version_id": root, "operation": map[string]any{"kind": "pivot"}},
			http.StatusUnprocessableEntity, "invalid_expression"},
		{"missing operation", "/api/apply", map[string]any{"version_id": root},
			http.StatusBadRequest, ""},
		{"missing version", "/api/apply", map[string]any{"operation": operation.Filter("Age > 1")},
			http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, jsonRequest(t, tt.path, tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.kind != "" {
				assert.Equal(t, tt.kind, decode(t, rec)["kind"])
			}
		})
	}

	// Failed applies create no versions.
	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/versions/2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplyInvalidJSON(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/apply", strings.NewReader("{"))
	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", decode(t, rec)["code"])
}

func TestTranslate(t *testing.T) {
	s := newTestServer(t, testConfig(), translator.Static(operation.Filter("Age > 30")))
	root := upload(t, s)

	rec := do(s, jsonRequest(t, "/api/generate-filter", map[string]any{
		"version_id":  root,
		"instruction": "people over thirty",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "filter", body["kind"])
	assert.Equal(t, "Age > 30", body["expression"])
	assert.Nil(t, body["warning"])

	// Translation never creates a version.
	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/versions/2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranslateErrors(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	root := upload(t, s)

	rec := do(s, jsonRequest(t, "/api/translate", map[string]any{"version_id": root, "instruction": "drop bob"}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "AI001", decode(t, rec)["code"])

	rec = do(s, jsonRequest(t, "/api/translate", map[string]any{"version_id": root}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["detail"], "instruction")

	rec = do(s, jsonRequest(t, "/api/translate", map[string]any{"version_id": root, "instruction": "x", "kind": "pivot"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionLineageDownload(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	root := upload(t, s)

	rec := do(s, jsonRequest(t, "/api/apply-filter", map[string]any{"version_id": root, "expression": `Name == "Ann"`}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	child := int64(decode(t, rec)["new_version_id"].(float64))
	childPath := strconv.FormatInt(child, 10)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/versions/"+childPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode(t, rec)
	meta := view["version"].(map[string]any)
	assert.Equal(t, "filtered", meta["label"])
	assert.Equal(t, float64(root), meta["parent_id"])
	assert.Equal(t, "csv", meta["format"])
	assert.Equal(t, float64(1), view["total_rows"])

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/versions/"+childPath+"/lineage", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	chain := decode(t, rec)["versions"].([]any)
	require.Len(t, chain, 2)
	assert.Equal(t, float64(root), chain[0].(map[string]any)["id"])
	assert.Equal(t, float64(child), chain[1].(map[string]any)["id"])

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/download/"+childPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Name,Age\nAnn,28\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, `attachment; filename=people_v2.csv`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))

	for _, path := range []string{"/api/versions/abc", "/api/versions/0", "/api/download/-1"} {
		rec = do(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/download/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "transforms")
}

func TestSecurityHeaders(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableCSP = true
	s := newTestServer(t, cfg, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s := newTestServer(t, cfg, nil)

	rec := do(s, uploadRequest(t, "people.csv", people))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := uploadRequest(t, "people.csv", people)
	req.Header.Set("X-API-Key", "secret")
	rec = do(s, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Health stays open for load balancer checks.
	rec = do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, TransformLimit: 2}
	s := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rec := do(s, uploadRequest(t, "people.csv", people))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := do(s, uploadRequest(t, "people.csv", people))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads draw from the wider budget.
	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/versions/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiterRefillsAndSweeps(t *testing.T) {
	l := newIPLimiter(60)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.True(t, l.allow("1.1.1.1"))
	}
	assert.False(t, l.allow("1.1.1.1"))
	assert.True(t, l.allow("2.2.2.2"), "buckets are per IP")

	now = now.Add(time.Second)
	assert.True(t, l.allow("1.1.1.1"), "one token per second refills")

	now = now.Add(visitorTTL + time.Minute)
	l.allow("3.3.3.3")
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.visitors, "1.1.1.1")
	assert.Contains(t, l.visitors, "3.3.3.3")
}
