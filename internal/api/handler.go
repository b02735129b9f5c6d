package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querylens/querylens/internal/catalog"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/loader"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/pipeline"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/schema"
	"github.com/querylens/querylens/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type DatasetStore interface {
	List() ([]dataset.Dataset, error)
	Get(name string) (dataset.Dataset, error)
}

type SchemaReader interface {
	ListTables(ctx context.Context, ds dataset.Dataset) ([]string, error)
	ListColumns(ctx context.Context, ds dataset.Dataset, table string) ([]string, error)
	Describe(ctx context.Context, ds dataset.Dataset) ([]schema.Table, error)
}

type Asker interface {
	Ask(ctx context.Context, req pipeline.AskRequest) (pipeline.Answer, error)
}

type DatasetLoader interface {
	Load(ctx context.Context, req loader.Request) (loader.Result, error)
	Delete(ctx context.Context, name string) (loader.DeleteResult, error)
	OpenArchive(ctx context.Context, name string) (io.ReadCloser, storage.ObjectInfo, error)
}

// RegistryReader exposes load history kept by the optional dataset registry.
type RegistryReader interface {
	ListDatasets(ctx context.Context) ([]catalog.DatasetRecord, error)
	GetDataset(ctx context.Context, datasetName string) (catalog.DatasetRecord, error)
	ListLoads(ctx context.Context, datasetName string, limit int) ([]catalog.DatasetLoad, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Datasets          DatasetStore
	Schema            SchemaReader
	Asker             Asker
	QueryEngine       query.Engine
	Loader            DatasetLoader
	Registry          RegistryReader
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	routes := []struct {
		pattern string
		handle  func(config.Config, Dependencies, http.ResponseWriter, *http.Request)
	}{
		{"GET /v1/datasets", handleListDatasets},
		{"POST /v1/datasets", handleUploadDataset},
		{"GET /v1/datasets/{dataset}", handleGetDataset},
		{"DELETE /v1/datasets/{dataset}", handleDeleteDataset},
		{"GET /v1/datasets/{dataset}/archive", handleDownloadArchive},
		{"GET /v1/datasets/{dataset}/loads", handleListLoads},
		{"GET /v1/datasets/{dataset}/tables", handleListTables},
		{"GET /v1/datasets/{dataset}/tables/{table}/columns", handleListColumns},
		{"POST /v1/datasets/{dataset}/ask", handleAsk},
		{"POST /v1/datasets/{dataset}/query", handleQuery},
	}

	protected := http.NewServeMux()
	for _, route := range routes {
		handle := route.handle
		protected.HandleFunc(route.pattern, func(w http.ResponseWriter, r *http.Request) {
			handle(cfg, deps, w, r)
		})
	}

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
	for _, route := range routes {
		mux.Handle(route.pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.RecoverMiddleware(logger))
	return chain(mux, middlewares...)
}

// CheckDataDir reports whether the dataset directory exists and is readable.
func CheckDataDir(dir string) ReadinessCheck {
	return func(_ context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("data dir %q is not a directory", dir)
		}
		if _, err := os.ReadDir(dir); err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
		return nil
	}
}

// CheckTranslatorConfig fails when no API key is configured for the
// selected generation provider.
func CheckTranslatorConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AI.APIKey == "" {
			return errors.New("generation service api key is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
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
