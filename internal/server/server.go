// Package server exposes the resolution controller over HTTP: submit an
// identifier, read the current state, or stream state changes as SSE.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
	"github.com/ggonzalez94/solsum/internal/metrics"
	"github.com/ggonzalez94/solsum/internal/model"
	"github.com/ggonzalez94/solsum/internal/pipeline"
)

// Controller is the subset of pipeline.Controller the server drives.
type Controller interface {
	Submit(ctx context.Context, raw string) (pipeline.Outcome, error)
	Snapshot() pipeline.Snapshot
	Subscribe() (<-chan pipeline.Snapshot, func())
}

type Options struct {
	AllowedOrigins []string
	// Keepalive is the SSE comment interval. Zero uses 15s.
	Keepalive time.Duration
}

type Server struct {
	ctrl      Controller
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validate  *validator.Validate
	origins   []string
	keepalive time.Duration
	now       func() time.Time
}

type resolveRequest struct {
	Identifier string `json:"identifier" validate:"required,max=512"`
}

func New(ctrl Controller, m *metrics.Metrics, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		ctrl:      ctrl,
		metrics:   m,
		logger:    logger,
		validate:  validator.New(),
		origins:   origins,
		keepalive: keepalive,
		now:       time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(s.instrument)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/resolve", s.handleResolve)
		r.Get("/state", s.handleState)
		r.Get("/state/stream", s.handleStream)
	})
	return router
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(route, r.Method, status, s.now().Sub(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, r, clierr.Wrap(clierr.CodeUsage, "invalid request body", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, clierr.New(clierr.CodeUsage, validationMessage(err)))
		return
	}

	outcome, err := s.ctrl.Submit(r.Context(), req.Identifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var warnings []string
	if outcome.Superseded {
		warnings = append(warnings, "superseded by a newer submission; state reflects the latest one")
	}
	if outcome.Resolution.FetchStatus == model.FetchStatusFailed {
		warnings = append(warnings, "transaction lookup failed: "+outcome.Resolution.FetchError)
	}
	if outcome.Resolution.SummaryStatus == model.SummaryStatusUnavailable {
		warnings = append(warnings, "summary unavailable")
	}
	writeJSON(w, http.StatusOK, model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     outcome.Resolution,
		Warnings: warnings,
		Meta:     s.meta(r, "resolve", outcome.Cache),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, clierr.New(clierr.CodeUnsupported, "streaming is not supported by this connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := s.ctrl.Subscribe()
	defer cancel()
	s.logger.Debug("state stream connected", zap.String("remote_addr", r.RemoteAddr))

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("state stream disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Error("failed to encode snapshot", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Sequence, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := model.ErrorBody{
		Code:    int(clierr.CodeInternal),
		Type:    clierr.TypeName(clierr.CodeInternal),
		Message: err.Error(),
	}
	status := http.StatusInternalServerError
	if cErr, ok := clierr.As(err); ok {
		body.Code = int(cErr.Code)
		body.Type = clierr.TypeName(cErr.Code)
		body.Message = cErr.Message
		body.Payload = cErr.Payload
		status = httpStatus(cErr.Code)
	}
	if status >= 500 {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error:   &body,
		Meta:    s.meta(r, strings.TrimPrefix(r.URL.Path, "/api/v1/"), nil),
	})
}

func (s *Server) meta(r *http.Request, command string, cacheStatus []model.CacheStatus) model.EnvelopeMeta {
	requestID := chimiddleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return model.EnvelopeMeta{
		RequestID: requestID,
		Timestamp: s.now().UTC(),
		Command:   command,
		Cache:     cacheStatus,
	}
}

func httpStatus(code clierr.Code) int {
	switch code {
	case clierr.CodeUsage:
		return http.StatusBadRequest
	case clierr.CodeAuth:
		return http.StatusUnauthorized
	case clierr.CodeRateLimited:
		return http.StatusTooManyRequests
	case clierr.CodeService, clierr.CodeUnavailable:
		return http.StatusBadGateway
	case clierr.CodeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
