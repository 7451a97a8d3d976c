// Package admin serves the agent's HTTP endpoint: status, recent spans,
// weaving metrics, a live span feed and an authenticated plugin reload.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/agent"
	"github.com/scottag99/glowroot/internal/collector"
	werrors "github.com/scottag99/glowroot/internal/weaving/errors"
)

const (
	defaultSpanLimit = 50
	maxSpanLimit     = 1000
)

// Controller is the part of the agent the endpoint drives.
type Controller interface {
	Status() agent.Status
	ReloadPaths(paths ...string) (agent.ReloadReport, error)
}

// Options configures a Server. Controller and Auth are required.
type Options struct {
	Controller  Controller
	PluginPaths []string
	Auth        *Auth
	// Spans answers /api/spans. Nil disables the route.
	Spans collector.Querier
	// Feed serves /ws/spans. Nil disables the route.
	Feed     *SpanFeed
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// LoginAttempts caps logins per client and minute. Zero means
	// DefaultLoginAttempts.
	LoginAttempts int
}

// Server is the admin endpoint.
type Server struct {
	opts    Options
	logger  *zap.Logger
	limiter *loginLimiter
	mux     chi.Router
}

// NewServer builds the routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.LoginAttempts <= 0 {
		opts.LoginAttempts = DefaultLoginAttempts
	}
	s := &Server{opts: opts, logger: logger, limiter: newLoginLimiter(opts.LoginAttempts, time.Minute)}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/api/status", s.handleStatus)
	r.With(s.limiter.limit).Post("/api/login", s.handleLogin)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	if s.opts.Spans != nil {
		r.Get("/api/spans", s.handleSpans)
	}
	if s.opts.Feed != nil {
		r.Get("/ws/spans", s.opts.Feed.HandleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.opts.Auth.Require)
		r.Post("/api/reload", s.handleReload)
		r.Mount("/debug", middleware.Profiler())
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin endpoint: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, s.opts.Controller.Status())
}

func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	limit := defaultSpanLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSpanLimit {
			renderError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxSpanLimit))
			return
		}
		limit = n
	}
	spans, err := s.opts.Spans.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("querying spans", zap.Error(err))
		renderError(w, http.StatusInternalServerError, fmt.Errorf("querying spans failed"))
		return
	}
	if spans == nil {
		spans = []*collector.Span{}
	}
	renderJSON(w, http.StatusOK, spans)
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if req.User == "" {
		req.User = "admin"
	}
	token, err := s.opts.Auth.Login(req.User, req.Password)
	if err != nil {
		s.logger.Warn("admin login rejected", zap.String("user", req.User))
		renderError(w, http.StatusUnauthorized, err)
		return
	}
	renderJSON(w, http.StatusOK, loginResponse{Token: token})
}

// ReloadResponse is the body of a successful reload.
type ReloadResponse struct {
	Plugins       int               `json:"plugins"`
	Advice        int               `json:"advice"`
	Mixins        int               `json:"mixins"`
	Diagnostics   werrors.List      `json:"diagnostics"`
	MissingHooks  []string          `json:"missing_hooks"`
	Retransformed []string          `json:"retransformed"`
	Failed        map[string]string `json:"failed"`
}

func newReloadResponse(r agent.ReloadReport) ReloadResponse {
	out := ReloadResponse{
		Plugins:       r.Plugins,
		Advice:        r.Advice,
		Mixins:        r.Mixins,
		Diagnostics:   r.Diagnostics,
		MissingHooks:  r.MissingHooks,
		Retransformed: r.Retransformed,
		Failed:        make(map[string]string, len(r.Failed)),
	}
	if out.Diagnostics == nil {
		out.Diagnostics = werrors.List{}
	}
	if out.MissingHooks == nil {
		out.MissingHooks = []string{}
	}
	if out.Retransformed == nil {
		out.Retransformed = []string{}
	}
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Failed[k] = r.Failed[k].Error()
	}
	return out
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	report, err := s.opts.Controller.ReloadPaths(s.opts.PluginPaths...)
	if err != nil {
		renderError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.logger.Info("plugins reloaded from admin endpoint",
		zap.String("subject", Subject(r.Context())),
		zap.Int("advice", report.Advice))
	renderJSON(w, http.StatusOK, newReloadResponse(report))
}

// errorResponse is the body of every error reply
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, status int, err error) {
	renderJSON(w, status, &errorResponse{
		Error:   "error",
		Message: err.Error(),
		Code:    errorCodeFromStatus(status),
	})
}

func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal_error"
	}
}
