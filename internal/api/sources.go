package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/source"
)

const defaultMaxUploadBytes = 1 << 30

type registerSourceRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type sourceResponse struct {
	Name     string                  `json:"name"`
	Kind     string                  `json:"kind"`
	Location string                  `json:"location"`
	Summary  catalog.MetadataSummary `json:"summary"`
}

func toSourceResponse(table *catalog.Table) sourceResponse {
	return sourceResponse{
		Name:     table.Name,
		Kind:     string(table.Descriptor.Kind),
		Location: table.Descriptor.Location,
		Summary:  table.Summary,
	}
}

func handleListSources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tables := deps.Catalog.List()
	sources := make([]sourceResponse, 0, len(tables))
	for _, table := range tables {
		sources = append(sources, toSourceResponse(table))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func handleRegisterSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request registerSourceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid source registration body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.URL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "URL_REQUIRED", "url is required", false, nil)
		return
	}

	desc, err := source.FromURL(request.URL)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_URL", err.Error(), false, nil)
		return
	}

	table, err := deps.Catalog.Register(r.Context(), desc, strings.TrimSpace(request.Name))
	if err != nil {
		writeRegisterError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(table))
}

func handleUploadSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	fileName := strings.TrimSpace(r.URL.Query().Get("name"))
	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the size limit", false, map[string]any{"max_bytes": maxBytes})
		return
	}
	if len(data) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_UPLOAD", "request body is empty", false, nil)
		return
	}

	table, err := deps.Catalog.RegisterBlob(r.Context(), fileName, data)
	if err != nil {
		writeRegisterError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(table))
}

func handleGetSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	table, err := deps.Catalog.Lookup(r.PathValue("table"))
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SOURCE_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(table))
}

func handleDeleteSource(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Catalog.Unregister(r.PathValue("table")); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SOURCE_NOT_FOUND", err.Error(), false, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleSourceMetrics(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	table, err := deps.Catalog.Lookup(r.PathValue("table"))
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SOURCE_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Collector.Snapshot(table.Descriptor.Location))
}

func writeRegisterError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrDuplicateName):
		writeError(r.Context(), w, http.StatusConflict, "DUPLICATE_NAME", err.Error(), false, nil)
	case errors.Is(err, catalog.ErrInvalidFooter):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "INVALID_PARQUET", err.Error(), false, nil)
	case errors.Is(err, fetch.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "OBJECT_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, fetch.ErrTransient):
		writeError(r.Context(), w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", err.Error(), true, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "REGISTER_FAILED", err.Error(), false, nil)
	}
}
