// Package httpapi is the daemon's front door: the OpenAI-compatible /v1
// surface plus the admin /api surface, with middleware, metrics, and error
// mapping shared between them.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llamad/internal/manager"
	"llamad/internal/sysinfo"
	"llamad/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() []types.Model
	ReadyModelIDs() []string
	RefreshModels() error
	Status() types.StatusResponse
	Instance(id string) (types.InstanceStatus, error)
	StartModel(ctx context.Context, id string) error
	StopModel(id string) error
	Restart(ctx context.Context, id string, cfg types.LaunchConfig) (types.RestartResult, error)
	Logs(id string, offset int) (types.ProcessLogs, error)
	ChatCompletion(ctx context.Context, req types.ChatCompletionRequest, w io.Writer, flush func()) error
	Chat(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error)
	Events() *manager.Bus
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", handleOpenAIModels(svc))
		r.Post("/chat/completions", handleChatCompletions(svc))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", handleAdminModels(svc))
		r.Post("/models/refresh", handleModelsRefresh(svc))
		r.Get("/instances", handleInstances(svc))
		r.Route("/instances/{id}", func(r chi.Router) {
			r.Get("/", handleInstance(svc))
			r.Delete("/", handleInstanceStop(svc))
			r.Post("/start", handleInstanceStart(svc))
			r.Post("/restart", handleInstanceRestart(svc))
			r.Get("/logs", handleInstanceLogs(svc))
		})
		r.Get("/system", handleSystem)
		r.Get("/events", handleEvents(svc))
	})

	liveness := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
	r.Get("/health", liveness)
	r.Get("/healthz", liveness)

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// writeJSON encodes v or falls back to a 500 error payload.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// decodeJSONBody enforces content type and size before decoding into dst.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleOpenAIModels lists models that can take traffic right now in the
// OpenAI wire shape. Catalog entries without a healthy instance are not
// advertised; the full catalog lives on /api/models.
//
//	@Summary	List models
//	@Tags		openai
//	@Produce	json
//	@Success	200	{object}	types.OpenAIModelList
//	@Router		/v1/models [get]
func handleOpenAIModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := svc.ReadyModelIDs()
		list := types.OpenAIModelList{Object: "list", Data: make([]types.OpenAIModel, 0, len(ids))}
		for _, id := range ids {
			list.Data = append(list.Data, types.OpenAIModel{
				ID:      id,
				Object:  "model",
				Created: time.Now().Unix(),
				OwnedBy: "llamad",
			})
		}
		writeJSON(w, list)
	}
}

// handleChatCompletions serves POST /v1/chat/completions, streaming or not.
//
//	@Summary	Chat completion
//	@Tags		openai
//	@Accept		json
//	@Produce	json
//	@Param		request	body		types.ChatCompletionRequest	true	"chat request"
//	@Success	200		{object}	types.ChatCompletionResponse
//	@Failure	404		{object}	types.OpenAIErrorResponse
//	@Failure	503		{object}	types.OpenAIErrorResponse
//	@Router		/v1/chat/completions [post]
func handleChatCompletions(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeOpenAIError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "", "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid JSON body")
			return
		}
		if len(req.Messages) == 0 {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "", "messages is required")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("path", r.URL.Path).Str("model", req.Model).Bool("stream", req.Stream)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("chat start")
		}

		// Join server base context with request context so shutdown cancels
		// in-flight generations too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		var err error
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			var flush func()
			if f, ok := w.(http.Flusher); ok {
				flush = f.Flush
			}
			writer := io.Writer(w)
			if lvl >= LevelDebug {
				writer = io.MultiWriter(w, &loggingLineWriter{})
			}
			err = svc.ChatCompletion(ctx, req, writer, flush)
		} else {
			var resp types.ChatCompletionResponse
			resp, err = svc.Chat(ctx, req)
			if err == nil {
				writeJSON(w, resp)
			}
		}

		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status, errType, code := mapServiceError(err)
			writeOpenAIError(w, status, errType, code, err.Error())
			logChatEnd(r, lvl, status, start, err)
			return
		}
		logChatEnd(r, lvl, http.StatusOK, start, nil)
	}
}

func logChatEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if lvl < LevelInfo || zlog == nil {
		return
	}
	z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg("chat end")
}

// handleAdminModels lists the model catalog with file details.
//
//	@Summary	List catalog models
//	@Tags		admin
//	@Produce	json
//	@Success	200	{array}	types.Model
//	@Router		/api/models [get]
func handleAdminModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Models())
	}
}

func handleModelsRefresh(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RefreshModels(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, svc.Models())
	}
}

// handleInstances reports every instance plus in-flight operations.
//
//	@Summary	Instance status
//	@Tags		admin
//	@Produce	json
//	@Success	200	{object}	types.StatusResponse
//	@Router		/api/instances [get]
func handleInstances(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	}
}

func handleInstance(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Instance(chi.URLParam(r, "id"))
		if err != nil {
			status, _, _ := mapServiceError(err)
			writeJSONError(w, status, err.Error())
			return
		}
		writeJSON(w, st)
	}
}

// handleInstanceStart launches an instance and waits for the health gate.
//
//	@Summary	Start instance
//	@Tags		admin
//	@Produce	json
//	@Param		id	path		string	true	"model id"
//	@Success	200	{object}	types.InstanceStatus
//	@Failure	404	{object}	types.ErrorResponse
//	@Failure	409	{object}	types.ErrorResponse
//	@Router		/api/instances/{id}/start [post]
func handleInstanceStart(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.StartModel(ctx, id); err != nil {
			status, _, _ := mapServiceError(err)
			writeJSONError(w, status, err.Error())
			return
		}
		st, err := svc.Instance(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, st)
	}
}

func handleInstanceStop(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.StopModel(chi.URLParam(r, "id")); err != nil {
			status, _, _ := mapServiceError(err)
			writeJSONError(w, status, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleInstanceRestart runs the health-gated restart. A rollback is still a
// 200: the outcome is in the body.
//
//	@Summary	Restart instance with new config
//	@Tags		admin
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"model id"
//	@Param		config	body		types.LaunchConfig	true	"new launch config"
//	@Success	200		{object}	types.RestartResult
//	@Failure	404		{object}	types.ErrorResponse
//	@Router		/api/instances/{id}/restart [post]
func handleInstanceRestart(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg types.LaunchConfig
		if !decodeJSONBody(w, r, &cfg) {
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Restart(ctx, chi.URLParam(r, "id"), cfg)
		if err != nil {
			status, _, _ := mapServiceError(err)
			writeJSONError(w, status, err.Error())
			return
		}
		writeJSON(w, res)
	}
}

// handleInstanceLogs returns captured output from the given offset so
// dashboards can poll incrementally.
//
//	@Summary	Instance logs
//	@Tags		admin
//	@Produce	json
//	@Param		id		path		string	true	"model id"
//	@Param		offset	query		int		false	"absolute line offset"
//	@Success	200		{object}	types.ProcessLogs
//	@Failure	404		{object}	types.ErrorResponse
//	@Router		/api/instances/{id}/logs [get]
func handleInstanceLogs(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid offset")
				return
			}
			offset = n
		}
		logs, err := svc.Logs(chi.URLParam(r, "id"), offset)
		if err != nil {
			status, _, _ := mapServiceError(err)
			writeJSONError(w, status, err.Error())
			return
		}
		writeJSON(w, logs)
	}
}

// handleSystem reports host resources.
//
//	@Summary	System info
//	@Tags		admin
//	@Produce	json
//	@Success	200	{object}	types.SystemInfo
//	@Router		/api/system [get]
func handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, sysinfo.Collect())
}
