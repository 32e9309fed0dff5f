package api

import (
	"net/http"
	"testing"

	"github.com/XiangpengHao/parquet-viewer/internal/config"
	"github.com/XiangpengHao/parquet-viewer/internal/nl2sql"
	"github.com/XiangpengHao/parquet-viewer/internal/session"
)

func TestSubmitAndPollQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	uploadFixture(t, env, "events.parquet", []apiRow{
		{ID: 1, Name: "alice"},
		{ID: 2, Name: "bob"},
		{ID: 3, Name: "carol"},
	})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query", map[string]string{
		"sql": "SELECT name FROM events WHERE id > 1 ORDER BY id DESC",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body = %s", rec.Code, rec.Body.String())
	}
	var submitted session.Status
	decodeBody(t, rec, &submitted)
	if submitted.ID == "" || submitted.State.Terminal() {
		t.Fatalf("submitted = %+v", submitted)
	}

	status := waitForQuery(t, env, submitted.ID)
	if status.State != session.StateCompleted {
		t.Fatalf("State = %s, error = %s", status.State, status.Error)
	}
	if len(status.Rows) != 2 || status.Rows[0][0] != "carol" || status.Rows[1][0] != "bob" {
		t.Fatalf("rows = %v", status.Rows)
	}
	if status.Stats.RowsEmitted != 2 {
		t.Fatalf("stats = %+v", status.Stats)
	}
}

func TestSubmitQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	uploadFixture(t, env, "events.parquet", []apiRow{{ID: 1, Name: "alice"}})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query", map[string]string{"sql": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty sql status = %d", rec.Code)
	}

	rec = doJSON(t, env.handler, http.MethodPost, "/v1/query", map[string]string{"sql": "SELECT a FROM events GROUP BY a"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported sql status = %d", rec.Code)
	}

	rec = doJSON(t, env.handler, http.MethodPost, "/v1/query", map[string]string{"sql": "SELECT id FROM missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown table status = %d", rec.Code)
	}
}

func TestCancelQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	uploadFixture(t, env, "events.parquet", []apiRow{{ID: 1, Name: "alice"}})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query", map[string]string{"sql": "SELECT id FROM events"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", rec.Code)
	}
	var submitted session.Status
	decodeBody(t, rec, &submitted)

	rec = doJSON(t, env.handler, http.MethodDelete, "/v1/query/"+submitted.ID, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	status := waitForQuery(t, env, submitted.ID)
	if status.State != session.StateCompleted && status.State != session.StateCancelled {
		t.Fatalf("State = %s", status.State)
	}

	rec = doJSON(t, env.handler, http.MethodDelete, "/v1/query/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown query cancel status = %d", rec.Code)
	}
}

func TestGetUnknownQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/query/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTranslateQuery(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Dependencies) {
		deps.Translator = fakeTranslator{sql: "SELECT name FROM events LIMIT 200"}
	})
	uploadFixture(t, env, "events.parquet", []apiRow{{ID: 1, Name: "alice"}})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query/translate", map[string]string{"prompt": "show names"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var result nl2sql.Result
	decodeBody(t, rec, &result)
	if result.SQL != "SELECT name FROM events LIMIT 200" {
		t.Fatalf("result = %+v", result)
	}
}

func TestTranslateRejectsUnsupportedModelOutput(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Dependencies) {
		deps.Translator = fakeTranslator{sql: "SELECT a FROM x JOIN y ON x.id = y.id"}
	})
	uploadFixture(t, env, "events.parquet", []apiRow{{ID: 1, Name: "alice"}})

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query/translate", map[string]string{"prompt": "join things"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestTranslateNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	uploadFixture(t, env, "events.parquet", []apiRow{{ID: 1, Name: "alice"}})
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query/translate", map[string]string{"prompt": "hello"})
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTranslateRequiresSources(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Dependencies) {
		deps.Translator = fakeTranslator{sql: "SELECT 1"}
	})
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/query/translate", map[string]string{"prompt": "hello"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}
