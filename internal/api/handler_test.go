package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/XiangpengHao/parquet-viewer/internal/auth"
	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/config"
	"github.com/XiangpengHao/parquet-viewer/internal/engine"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
	"github.com/XiangpengHao/parquet-viewer/internal/nl2sql"
	"github.com/XiangpengHao/parquet-viewer/internal/session"
)

type apiRow struct {
	ID   int64  `parquet:"id"`
	Name string `parquet:"name"`
}

type testEnv struct {
	handler   http.Handler
	catalog   *catalog.Catalog
	collector *metrics.Collector
	session   *session.Session
}

func newTestEnv(t *testing.T, mutate func(*config.Config, *Dependencies)) *testEnv {
	t.Helper()

	cfg, err := config.Load("parquet-viewer", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rangeCache, err := cache.New(cfg.Cache.MaxBytes, cfg.Cache.SlackBytes)
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	collector := metrics.NewCollector()
	cat := catalog.New(catalog.Config{
		HTTPTimeout:  cfg.Fetch.HTTPTimeout,
		MaxRetries:   cfg.Fetch.MaxRetries,
		RetryBackoff: cfg.Fetch.RetryBackoff,
		S3:           fetch.S3Config{Endpoint: cfg.S3.Endpoint},
	}, rangeCache, collector)
	executor := engine.New(logger, cfg.Query.BatchSize)
	sess := session.New(logger, cat, executor, cfg.Query.MaxRows)

	deps := Dependencies{
		Logger:    logger,
		Catalog:   cat,
		Session:   sess,
		Collector: collector,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return &testEnv{
		handler:   NewHandler(cfg, deps),
		catalog:   cat,
		collector: collector,
		session:   sess,
	}
}

func parquetFixture(t *testing.T, rows []apiRow) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[apiRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf.Bytes()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func uploadFixture(t *testing.T, env *testEnv, name string, rows []apiRow) sourceResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/sources/upload?name="+name, bytes.NewReader(parquetFixture(t, rows)))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp sourceResponse
	decodeBody(t, rec, &resp)
	return resp
}

func waitForQuery(t *testing.T, env *testEnv, id string) session.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, env.handler, http.MethodGet, "/v1/query/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get query status = %d body = %s", rec.Code, rec.Body.String())
		}
		var status session.Status
		decodeBody(t, rec, &status)
		if status.State.Terminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("query never reached a terminal state")
	return session.Status{}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("secret:viewer")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	env := newTestEnv(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.Auth.Required = true
		deps.AuthMiddleware = auth.Middleware(deps.Logger, validator)
	})

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/sources", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
	req.Header.Set("X-API-Key", "secret")
	withKey := httptest.NewRecorder()
	env.handler.ServeHTTP(withKey, req)
	if withKey.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", withKey.Code)
	}

	// Health stays public.
	rec = doJSON(t, env.handler, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestAuthRequiredWithoutMiddleware(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.Auth.Required = true
	})
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/sources", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

type fakeTranslator struct {
	sql string
	err error
}

func (f fakeTranslator) Translate(_ context.Context, _ nl2sql.Request) (nl2sql.Result, error) {
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	return nl2sql.Result{SQL: f.sql, Provider: "openai-compatible", Model: "test"}, nil
}
