package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fachschaft/api/internal/metrics"
	"fachschaft/api/internal/rbac"
)

type HTTPConfig struct {
	CORSOrigin     string
	RateLimitRPS   int
	RateLimitBurst int
	MaxUploadBytes int64
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	metrics        *metrics.Metrics
	limiter        *rateLimiter
	maxUploadBytes int64
	logger         zerolog.Logger
}

func NewHTTPServer(service *Service, cfg HTTPConfig) *HTTPServer {
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		metrics:        cfg.Metrics,
		limiter:        newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		maxUploadBytes: maxUpload,
		logger:         cfg.Logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/callback" {
		s.handleCallback(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		s.handleLogout(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		s.handleSession(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	actor := actorFrom(r.Context())
	rest := parts[2:]

	switch parts[1] {
	case "persons":
		s.handlePersons(w, r, actor, rest)
	case "roles":
		s.handleRoles(w, r, actor, rest)
	case "legislative-periods":
		s.handleLegislativePeriods(w, r, actor, rest)
	case "sitzungen":
		s.handleSitzungen(w, r, actor, rest)
	case "antraege":
		s.handleAntraege(w, r, actor, rest)
	case "abmeldungen":
		s.handleAbmeldungen(w, r, rest)
	case "door-state":
		s.handleDoorState(w, r, actor, rest)
	case "templates":
		s.handleTemplates(w, r, actor, rest)
	case "calendar":
		s.handleCalendar(w, r, rest)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	for name := range s.service.checks {
		checks[name] = map[string]any{"status": "ok"}
	}
	for name, err := range s.service.CheckOptional(ctx) {
		s.logger.Warn().Err(err).Str("check", name).Msg("optional dependency unavailable")
		status = "degraded"
		checks[name] = map[string]any{"status": "error"}
	}

	if err := s.service.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

// allow answers 401 unless actor holds capability. It runs before any
// database work.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, actor Actor, capability rbac.Capability) bool {
	if s.service.Can(actor, capability) {
		return true
	}
	s.logger.Debug().
		Str("request_id", requestIDFrom(r.Context())).
		Str("capability", string(capability)).
		Bool("authenticated", actor.Authenticated()).
		Msg("capability denied")
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	return false
}

// fail writes the mapped error. Server side failures are logged with their
// cause, which never reaches the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// readBody decodes the JSON body and answers 400 when that fails.
func readBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(w http.ResponseWriter, raw, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid "+what+" id", map[string]any{"value": raw})
		return uuid.UUID{}, false
	}
	return id, true
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD")
}

// queryTime reads a time query parameter. Missing parameters yield fallback
// when one is given and a 400 otherwise.
func queryTime(w http.ResponseWriter, r *http.Request, key string, fallback *time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		if fallback != nil {
			return *fallback, true
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", key+" is required", nil)
		return time.Time{}, false
	}
	t, err := parseTime(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid "+key, map[string]any{"value": raw, "reason": err.Error()})
		return time.Time{}, false
	}
	return t, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func nowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
