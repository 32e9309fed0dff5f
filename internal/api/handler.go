package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/XiangpengHao/parquet-viewer/internal/catalog"
	"github.com/XiangpengHao/parquet-viewer/internal/config"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
	"github.com/XiangpengHao/parquet-viewer/internal/nl2sql"
	"github.com/XiangpengHao/parquet-viewer/internal/observability"
	"github.com/XiangpengHao/parquet-viewer/internal/session"
)

type Dependencies struct {
	Logger         *slog.Logger
	AuthMiddleware func(http.Handler) http.Handler
	Catalog        *catalog.Catalog
	Session        *session.Session
	Collector      *metrics.Collector
	Translator     nl2sql.Translator
	MaxUploadBytes int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/sources", func(w http.ResponseWriter, r *http.Request) {
		handleListSources(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sources", func(w http.ResponseWriter, r *http.Request) {
		handleRegisterSource(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sources/upload", func(w http.ResponseWriter, r *http.Request) {
		handleUploadSource(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sources/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSource(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/sources/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSource(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sources/{table}/metrics", func(w http.ResponseWriter, r *http.Request) {
		handleSourceMetrics(deps, w, r)
	})

	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleSubmitQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/query/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetQuery(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/query/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleCancelQuery(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query/translate", func(w http.ResponseWriter, r *http.Request) {
		handleTranslateQuery(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/sources", protectedHandler)
	mux.Handle("POST /v1/sources", protectedHandler)
	mux.Handle("POST /v1/sources/upload", protectedHandler)
	mux.Handle("GET /v1/sources/{table}", protectedHandler)
	mux.Handle("DELETE /v1/sources/{table}", protectedHandler)
	mux.Handle("GET /v1/sources/{table}/metrics", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("GET /v1/query/{id}", protectedHandler)
	mux.Handle("DELETE /v1/query/{id}", protectedHandler)
	mux.Handle("POST /v1/query/translate", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.InstrumentMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
