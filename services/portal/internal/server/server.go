package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"intellimed/internal/ratelimit"
	"intellimed/internal/util"
	"intellimed/pkg/domain"
	"intellimed/services/portal/internal/app"
	"intellimed/services/portal/internal/security"
)

const (
	serviceName  = "portal"
	maxJSONBytes = 1 << 20

	// multipart framing on top of the artifact itself
	multipartOverhead = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	Redis                   *redis.Client
	LoginRateLimitPerMinute int
	LinkRateLimitPerMinute  int
	CORSOrigins             []string
	TrustedProxies          *util.TrustedProxies
	Metrics                 http.Handler
}

// Server exposes the portal HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	corsOrigins    []string
	trustedProxies *util.TrustedProxies
	loginLimiter   ratelimit.Limiter
	linkLimiter    ratelimit.Limiter
	alerter        *security.AuditAlerter
}

// New constructs the server with routes configured.
// Without a Redis client, limits are kept per process and alerting is disabled.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	linkLimit := cfg.LinkRateLimitPerMinute
	if linkLimit <= 0 {
		linkLimit = 10
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		corsOrigins:    cfg.CORSOrigins,
		trustedProxies: cfg.TrustedProxies,
		alerter:        security.NewAuditAlerter(cfg.Redis, "intellimed:portal:alerts"),
	}
	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		if cfg.Redis == nil {
			limiter, err := ratelimit.NewLocalLimiter(limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "intellimed:portal:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	var err error
	if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
		return nil, err
	}
	if s.linkLimiter, err = newLimiter("link", linkLimit); err != nil {
		return nil, err
	}
	s.routes(cfg.Metrics)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithRequestLog(serviceName, h)
	h = util.WithClientIP(s.trustedProxies, h)
	return util.WithRequestID(h)
}

func (s *Server) routes(metrics http.Handler) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if metrics != nil {
		s.mux.Handle("/metrics", metrics)
	}

	// auth
	s.mux.HandleFunc("/api/auth/token", s.handleToken)
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/google-login", s.handleGoogleLogin)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// linking
	s.mux.Handle("/api/patient/generate-access-code", s.authenticated(s.handleGenerateCode))
	s.mux.Handle("/api/doctor/link-patient", s.authenticated(s.handleLinkPatient))
	s.mux.Handle("/api/doctor/patients", s.authenticated(s.handleDoctorPatients))
	s.mux.Handle("/api/doctor/patients/", s.authenticated(s.handlePatientDocuments))

	// documents
	s.mux.Handle("/api/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/upload/", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.authenticated(s.handleDocumentByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "missing_token")
			writeUnauthorized(w, "Not authenticated")
			return
		}
		principal, err := s.app.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, domain.ErrUnauthenticated) {
				writeAppError(w, r, err)
				return
			}
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "invalid_token")
			writeUnauthorized(w, "Could not validate credentials")
			return
		}
		next(w, r, principal)
	})
}

// auth handlers
type tokenRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	RegistrationCode string `json:"registrationCode"`
}

type googleLoginRequest struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "", "too many login attempts") {
		s.audit(r, security.EventLogin, security.OutcomeRateLimited)
		return
	}
	req, err := decodeTokenRequest(r)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", "invalid_body")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := req.Username
	if strings.TrimSpace(email) == "" {
		email = req.Email
	}
	token, principal, err := s.app.IssueToken(r.Context(), email, req.Password)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", reason(err))
		if errors.Is(err, domain.ErrInvalidCredentials) {
			writeUnauthorized(w, "Incorrect email or password")
			return
		}
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, "user_id", principal.ID)
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "", "too many registration attempts") {
		s.audit(r, security.EventRegister, security.OutcomeRateLimited)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Register(r.Context(), app.RegisterInput{
		Email:            req.Email,
		Password:         req.Password,
		Name:             req.Name,
		Role:             req.Role,
		RegistrationCode: req.RegistrationCode,
	})
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", reason(err))
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess, "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "", "too many login attempts") {
		s.audit(r, security.EventGoogleLogin, security.OutcomeRateLimited)
		return
	}
	var req googleLoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		s.audit(r, security.EventGoogleLogin, security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, principal, err := s.app.GoogleLogin(r.Context(), req.Token, req.Role)
	if errors.Is(err, app.ErrFederatedDisabled) {
		writeError(w, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}
	if err != nil {
		s.audit(r, security.EventGoogleLogin, security.OutcomeFail, "reason", reason(err))
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventGoogleLogin, security.OutcomeSuccess, "user_id", principal.ID)
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// linking handlers
func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	code, err := s.app.GenerateCode(r.Context(), p)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"access_code": code})
}

func (s *Server) handleLinkPatient(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.linkLimiter, principalKey(p), "too many link attempts") {
		s.audit(r, security.EventLinkRedeem, security.OutcomeRateLimited, "user_id", p.ID)
		return
	}
	code := r.URL.Query().Get("access_code")
	if strings.TrimSpace(code) == "" && isJSON(r) {
		var body struct {
			AccessCode string `json:"access_code"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		code = body.AccessCode
	}
	link, err := s.app.RedeemCode(r.Context(), p, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.audit(r, security.EventLinkRedeem, security.OutcomeFail, "user_id", p.ID)
		}
		writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLinkRedeem, security.OutcomeSuccess, "user_id", p.ID, "patient_id", link.PatientID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Patient linked successfully",
		"patientId": link.PatientID,
	})
}

func (s *Server) handleDoctorPatients(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	patients, err := s.app.ListLinkedPatients(r.Context(), p)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (s *Server) handlePatientDocuments(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/doctor/patients/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "documents" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	patientID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || patientID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	docs, err := s.app.ListDocuments(r.Context(), p, patientID)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			s.audit(r, security.EventDocumentRead, security.OutcomeFail, "user_id", p.ID, "patient_id", patientID)
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// document handlers
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := s.app.Upload(r.Context(), p, app.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	docs, err := s.app.ListDocuments(r.Context(), p, p.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := s.app.DeleteDocument(r.Context(), p, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// helpers
func decodeTokenRequest(r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
			return tokenRequest{}, errors.New("invalid JSON body")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return tokenRequest{}, errors.New("invalid form body")
	}
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	return req, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) < len("Bearer ") || !strings.EqualFold(authHeader[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len("Bearer "):])
	if token == "" {
		return "", false
	}
	return token, true
}

func principalKey(p domain.Principal) string {
	return string(p.Role) + ":" + strconv.FormatInt(p.ID, 10)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, msg)
}

// writeAppError maps domain error kinds onto HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch status {
	case http.StatusUnauthorized:
		writeUnauthorized(w, err.Error())
	case http.StatusInternalServerError:
		util.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal server error")
	default:
		writeError(w, status, err.Error())
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrRoleNotAllowed), errors.Is(err, domain.ErrRoleMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPipelineStage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reason is a short, non-sensitive label for audit logs.
func reason(err error) string {
	switch errorStatus(err) {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "invalid_input"
	default:
		return "internal"
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ctx := r.Context()
	ip := util.ClientIPFromContext(ctx)
	if ip == "" {
		ip = util.ClientIP(r, s.trustedProxies)
	}
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(ctx)
	if outcome == security.OutcomeSuccess {
		logger.InfoContext(ctx, "security_event", logAttrs...)
	} else {
		logger.WarnContext(ctx, "security_event", logAttrs...)
	}

	result, err := s.alerter.Observe(ctx, event, outcome, ip)
	if err != nil {
		logger.WarnContext(ctx, "security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Log(ctx, slog.LevelError, "security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window_seconds", int(result.Window.Seconds()),
		)
	}
}

// allowRate checks limiter for key, defaulting to the route and client IP.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, key, msg string) bool {
	if key == "" {
		ip := util.ClientIPFromContext(r.Context())
		if ip == "" {
			ip = util.ClientIP(r, s.trustedProxies)
		}
		key = r.URL.Path + "|" + ip
	}
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
