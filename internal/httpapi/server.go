package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/nholik/connectivity-sentinel/internal/checker"
	"github.com/nholik/connectivity-sentinel/internal/probe"
	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

// Checks is the probe surface the API serves.
type Checks interface {
	Check(ctx context.Context, name string) (checker.Report, error)
	Services() []vendor.Definition
}

// Server exposes connectivity checks over HTTP.
type Server struct {
	checks         Checks
	logger         zerolog.Logger
	allowedOrigins []string
	limits         *serviceLimiter
	now            func() time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins enables CORS for the given origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithCheckRate limits check requests per service. A non-positive interval
// disables limiting.
func WithCheckRate(interval time.Duration, burst int) Option {
	return func(s *Server) {
		s.limits = newServiceLimiter(interval, burst)
	}
}

// WithClock overrides the timestamp source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer constructs a Server.
func NewServer(checks Checks, opts ...Option) *Server {
	s := &Server{
		checks: checks,
		logger: zerolog.Nop(),
		limits: newServiceLimiter(0, 0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(noStore)
	r.Use(s.recoverJSON)
	r.Use(middleware.StripSlashes)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/connectivity", func(r chi.Router) {
		r.Get("/services", s.handleServices)
		r.Get("/{service}/check", s.handleCheck)
	})

	return r
}

type summary struct {
	OK         bool   `json:"ok"`
	HTTPStatus *int   `json:"httpStatus"`
	DurationMS int64  `json:"durationMs"`
	RequestID  string `json:"requestId"`
	Endpoint   string `json:"endpoint,omitempty"`
}

type diagnostics struct {
	TriedEndpoints []string                       `json:"triedEndpoints"`
	StatusCodes    map[string]probe.AttemptStatus `json:"statusCodes"`
	AuthModeTried  string                         `json:"authModeTried,omitempty"`
	Errors         []string                       `json:"errors"`
	Reachable      bool                           `json:"reachable"`
}

type checkResponse struct {
	Success     bool             `json:"success"`
	Service     string           `json:"service"`
	Summary     summary          `json:"summary"`
	RateLimit   *probe.RateLimit `json:"rateLimit"`
	Diagnostics diagnostics      `json:"diagnostics"`
	Environment map[string]any   `json:"environment,omitempty"`
	Timestamp   string           `json:"timestamp"`
}

type serviceEntry struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	CheckPath   string `json:"checkPath"`
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	defs := s.checks.Services()
	entries := make([]serviceEntry, 0, len(defs))
	for _, def := range defs {
		entries = append(entries, serviceEntry{
			Name:        def.Name,
			DisplayName: def.Title(),
			CheckPath:   "/connectivity/" + def.Name + "/check",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"services": entries,
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "service"))
	if !s.known(name) {
		writeError(w, http.StatusNotFound, "unknown service")
		return
	}
	if wait, ok := s.limits.allow(name); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	includeEnv, _ := strconv.ParseBool(r.URL.Query().Get("includeEnv"))

	report, err := s.checks.Check(r.Context(), name)
	if err != nil {
		if errors.Is(err, checker.ErrUnknownService) {
			writeError(w, http.StatusNotFound, "unknown service")
			return
		}
		s.logger.Error().Err(err).Str("service", name).Msg("connectivity check failed")
		writeError(w, http.StatusInternalServerError, "internal error while running connectivity check")
		return
	}

	res := report.Result
	resp := checkResponse{
		Success: true,
		Service: name,
		Summary: summary{
			OK:         res.OK,
			HTTPStatus: res.HTTPStatus,
			DurationMS: res.DurationMS,
			RequestID:  res.RequestID,
			Endpoint:   res.Endpoint,
		},
		Diagnostics: diagnostics{
			TriedEndpoints: res.TriedEndpoints,
			StatusCodes:    res.StatusCodes,
			AuthModeTried:  string(res.AuthModeTried),
			Errors:         res.Errors,
			Reachable:      res.Reachable,
		},
		RateLimit: res.RateLimit,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	}
	if includeEnv {
		env := make(map[string]any, len(res.EnvPresence)+1)
		for key, presence := range res.EnvPresence {
			env[key] = presence
		}
		env["guidance"] = report.Guidance
		resp.Environment = env
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) known(name string) bool {
	for _, def := range s.checks.Services() {
		if def.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("panic while serving request")
				writeError(w, http.StatusInternalServerError, "internal error while running connectivity check")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// writeJSON encodes payload before writing the status so an unencodable
// payload turns into a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error while running connectivity check","success":false}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
