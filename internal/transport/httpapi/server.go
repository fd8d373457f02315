package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/observability"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

const defaultMaxBodyBytes = 1 << 20

// #region server

// Server exposes a gateway engine over HTTP.
type Server struct {
	engine   *gateway.Engine
	logger   zerolog.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	apiKey   string
	maxBody  int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAPIKey requires "Authorization: Bearer <key>" on every route except
// /health.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics records request metrics and serves g at /metrics.
func WithServerMetrics(m *observability.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) { s.maxBody = n }
}

// NewServer wraps engine.
func NewServer(engine *gateway.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine:  engine,
		logger:  zerolog.Nop(),
		maxBody: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.limitRequestBodyMiddleware)

	r.Get(PathHealth, s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, PathMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Post(PathRegister, s.handleRegister)
		api.Post(PathReport, s.handleReport)
		api.Post(PathSend, s.handleSend)
	})
	return r
}

// #endregion server

// #region handlers

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.engine.Health()
	writeJSON(w, http.StatusOK, healthResponse{OK: h.OK, Message: h.Message})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.engine.RegisterProtocol(r.Context(), req.AgentID, req.Protocol)
	s.writeDecision(w, r, d, err)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var rep protocol.Report
	if !decodeBody(w, r, &rep) {
		return
	}
	d, err := s.engine.SubmitReport(r.Context(), rep)
	s.writeDecision(w, r, d, err)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.engine.SendMessage(r.Context(), req.From, req.To, req.Content, req.Protocol)
	s.writeDecision(w, r, d, err)
}

func (s *Server) writeDecision(w http.ResponseWriter, r *http.Request, d gateway.Decision, err error) {
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", w.Header().Get(requestIDHeader)).
			Msg("gateway engine failed")
		writeJSON(w, http.StatusInternalServerError, transport.Result{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, statusFor(d), transport.FromDecision(d))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, transport.Result{OK: false, Error: "invalid request body", Reason: "bad_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// #endregion handlers

// #region middleware

const requestIDHeader = "X-Request-ID"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		s.metrics.RecordHTTPRequest(r.Method, path, rec.code, elapsed)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", path).
			Int("status", rec.code).
			Dur("elapsed", elapsed).
			Str("request_id", w.Header().Get(requestIDHeader)).
			Msg("http request")
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.maxBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, transport.Result{OK: false, Error: "unauthorized", Reason: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// #endregion middleware
