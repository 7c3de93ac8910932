// Package server exposes the advisor over HTTP.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/advisor"
	"github.com/canonica-labs/querio/internal/auth"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
	"github.com/canonica-labs/querio/internal/status"
	"github.com/canonica-labs/querio/pkg/api"
	"github.com/canonica-labs/querio/pkg/models"
)

// defaultAuditWindow is the summary window when none is requested.
const defaultAuditWindow = 24 * time.Hour

// Config holds the collaborators of the server. Source may be nil.
type Config struct {
	Advisor       *advisor.Advisor
	Source        adapters.PlanSource
	Enrich        bool
	Audit         observability.AdviceLogger
	Readiness     *status.Readiness
	Authenticator auth.Authenticator
	Logger        *zap.Logger
	Version       models.VersionResponse
}

// Server is the querio HTTP server.
type Server struct {
	advisor       *advisor.Advisor
	source        adapters.PlanSource
	enrich        bool
	audit         observability.AdviceLogger
	readiness     *status.Readiness
	authenticator auth.Authenticator
	logger        *zap.Logger
	version       models.VersionResponse
	now           func() time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	s := &Server{
		advisor:       cfg.Advisor,
		source:        cfg.Source,
		enrich:        cfg.Enrich,
		audit:         cfg.Audit,
		readiness:     cfg.Readiness,
		authenticator: cfg.Authenticator,
		logger:        cfg.Logger,
		version:       cfg.Version,
		now:           time.Now,
	}
	if s.advisor == nil {
		s.advisor = advisor.New()
	}
	if s.audit == nil {
		s.audit = observability.NewNoopLogger()
	}
	if s.readiness == nil {
		s.readiness = status.NewReadiness(0)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		echoRequestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Get(api.EndpointHealth, s.handleHealth)
	r.Get(api.EndpointReady, s.handleReady)
	r.Get(api.EndpointVersion, s.handleVersion)

	r.Group(func(r chi.Router) {
		if s.authenticator != nil {
			r.Use(s.requireToken)
		}
		r.Post(api.EndpointOptimize, s.handleAdvise)
		r.Post(api.EndpointAdvise, s.handleAdvise)
		r.Get(api.EndpointAuditSummary, s.handleAuditSummary)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	eg.Go(func() error {
		s.logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.readiness.Check(r.Context())

	body := models.ReadinessResponse{
		Ready:      result.Ready,
		Degraded:   result.Degraded,
		Components: make(map[string]models.ComponentStatus, len(result.Components)),
	}
	for name, c := range result.Components {
		body.Components[name] = models.ComponentStatus{Ready: c.Ready, Required: c.Required, Message: c.Message}
	}

	code := http.StatusOK
	if !result.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleAdvise(w http.ResponseWriter, r *http.Request) {
	var req models.AdviseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, api.MaxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		reason := "body is not valid JSON"
		if stderrors.Is(err, io.EOF) {
			reason = "request body is empty"
		}
		s.writeError(w, errors.NewInvalidRequest("body", reason))
		return
	}

	query, ok := req.Text()
	if !ok {
		s.writeError(w, errors.NewInvalidRequest("query", "missing"))
		return
	}

	d := s.advisor.Evaluate(r.Context(), query, s.enrich && !req.Offline, s.source)
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		s.logger.Debug("advice served",
			zap.String("advice_id", d.ID),
			zap.String("principal", p.Name),
		)
	}
	w.Header().Set(api.HeaderAdviceID, d.ID)
	writeJSON(w, http.StatusOK, d.Response())
}

func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	window := defaultAuditWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, errors.NewInvalidRequest("window", "must be a positive duration such as 24h"))
			return
		}
		window = parsed
	}

	summary, err := s.audit.Summary(r.Context(), s.now().Add(-window))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// requireToken rejects requests without a valid bearer token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := auth.ParseBearer(r.Header.Get(api.HeaderAuthorization))
		principal, err := s.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// echoRequestID returns the request ID to the caller on every response.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(api.HeaderRequestID, middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

// logRequests writes one line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, body := errorResponse(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, body)
}

// errorResponse maps an error to its status code and body.
func errorResponse(err error) (int, models.ErrorResponse) {
	var (
		invalid  *errors.ErrInvalidRequest
		rejected *errors.ErrQueryRejected
		authErr  *errors.ErrAuthFailed
		missing  *errors.ErrRelationNotFound
		timeout  *errors.ErrPlanTimeout
		source   *errors.ErrPlanSourceUnavailable
		config   *errors.ErrInvalidConfig
	)

	var (
		code   int
		wire   string
		detail *errors.QuerioError
	)
	switch {
	case stderrors.As(err, &invalid):
		code, wire, detail = http.StatusBadRequest, api.CodeInvalidRequest, &invalid.QuerioError
	case stderrors.As(err, &rejected):
		code, wire, detail = http.StatusBadRequest, api.CodeQueryRejected, &rejected.QuerioError
	case stderrors.As(err, &authErr):
		code, wire, detail = http.StatusUnauthorized, api.CodeAuthFailed, &authErr.QuerioError
	case stderrors.As(err, &missing):
		code, wire, detail = http.StatusBadGateway, api.CodeRelationNotFound, &missing.QuerioError
	case stderrors.As(err, &timeout):
		code, wire, detail = http.StatusGatewayTimeout, api.CodePlanTimeout, &timeout.QuerioError
	case stderrors.As(err, &source):
		code, wire, detail = http.StatusBadGateway, api.CodePlanSourceUnavailable, &source.QuerioError
	case stderrors.As(err, &config):
		code, wire, detail = http.StatusInternalServerError, api.CodeInvalidConfig, &config.QuerioError
	default:
		return http.StatusInternalServerError, models.ErrorResponse{
			Error: "internal error",
			Code:  api.CodeInternal,
		}
	}
	return code, models.ErrorResponse{
		Error:      detail.Message,
		Code:       wire,
		Reason:     detail.Reason,
		Suggestion: detail.Suggestion,
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set(api.HeaderContentType, api.ContentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
