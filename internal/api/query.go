package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/engine"
	"github.com/XiangpengHao/parquet-viewer/internal/nl2sql"
)

type submitQueryRequest struct {
	SQL string `json:"sql"`
}

type translateRequest struct {
	Prompt string `json:"prompt"`
}

func handleSubmitQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request submitQueryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	query, err := deps.Session.Submit(r.Context(), request.SQL)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnsupportedSQL):
			writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_SUPPORTED", err.Error(), false, nil)
		case errors.Is(err, catalog.ErrNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REJECTED", err.Error(), false, nil)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, query.Status())
}

func handleGetQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	query, err := deps.Session.Get(r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "QUERY_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, query.Status())
}

func handleCancelQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Session.Cancel(r.PathValue("id")); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "QUERY_NOT_FOUND", err.Error(), false, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleTranslateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}

	var request translateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}

	tables := deps.Catalog.List()
	if len(tables) == 0 {
		writeError(r.Context(), w, http.StatusConflict, "NO_SOURCES", "register a source before translating queries", false, nil)
		return
	}
	contexts := make([]nl2sql.TableContext, 0, len(tables))
	for _, table := range tables {
		tableCtx := nl2sql.TableContext{
			TableName: table.Name,
			RowCount:  table.Summary.RowCount,
		}
		for _, field := range table.Summary.Fields {
			tableCtx.Columns = append(tableCtx.Columns, field.Name)
			tableCtx.Types = append(tableCtx.Types, field.Type)
		}
		contexts = append(contexts, tableCtx)
	}

	result, err := deps.Translator.Translate(r.Context(), nl2sql.Request{
		NaturalLanguage: request.Prompt,
		Tables:          contexts,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", err.Error(), true, nil)
		return
	}

	// Reject model output our executor cannot run before the caller
	// submits it.
	if _, err := engine.Parse(result.SQL); err != nil {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "TRANSLATE_UNSUPPORTED", "translated SQL is outside the supported subset", false, map[string]any{"sql": result.SQL, "details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
