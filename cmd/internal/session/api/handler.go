package sessionapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"keygate/cmd/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler exposes the session lifecycle over HTTP.
//
// The refresh secret travels only in an HttpOnly cookie; response bodies
// never echo it. Refresh denials share one generic body so a caller cannot
// probe which secrets exist, are expired, or were revoked.
type Handler struct {
	log *slog.Logger
	cfg Config

	pool     *pgxpool.Pool // audit only, may be nil
	sessions *session.Service
	verifier CredentialVerifier
}

// NewHandler constructs a session API handler. pool may be nil (audit
// disabled). A nil verifier denies all logins.
func NewHandler(log *slog.Logger, cfg Config, pool *pgxpool.Pool, sessions *session.Service, verifier CredentialVerifier) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("sessionapi: nil session service")
	}
	if verifier == nil {
		verifier = DenyAllVerifier{}
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		pool:     pool,
		sessions: sessions,
		verifier: verifier,
	}, nil
}

// Register wires the auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/logout_device", h.handleLogoutDevice)
	mux.HandleFunc("/auth/sessions", h.handleSessions)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	// Throttle checks fail open: an audit-log read error must not take
	// logins down with it.
	if blocked, retry, err := h.checkLoginIPThrottle(ctx, now, ip); err != nil {
		h.log.Error("session.login.throttle.ip.fail", "err", err)
	} else if blocked {
		writeRateLimited(w, retry)
		return
	}
	if blocked, retry, err := h.checkLoginUserThrottle(ctx, now, username); err != nil {
		h.log.Error("session.login.throttle.user.fail", "err", err)
	} else if blocked {
		writeRateLimited(w, retry)
		return
	}

	userID, err := h.verifier.Verify(ctx, username, req.Password)
	if err != nil {
		if !errors.Is(err, ErrBadCredentials) {
			h.log.Error("session.login.verify.fail", "err", err)
		}
		h.auditLoginFailed(ctx, ip, ua, username)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	issued, err := h.sessions.Issue(ctx, now, userID, deviceTag(req.DeviceTag))
	if err != nil {
		h.log.Error("session.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if _, err := h.setSessionCookies(w, r, issued.RefreshSecret, issued.RefreshExpiresAt); err != nil {
		h.log.Error("session.login.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, userID, issued.SessionID, ip, ua)

	writeJSON(w, http.StatusOK, loginResponse{
		UserID:  userID,
		Session: toCredentialResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	secret, ok := h.refreshSecretFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		return
	}
	if !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Refresh(ctx, now, secret)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReuseDetected):
			h.auditReuseDetected(ctx, ip, ua)
			h.clearSessionCookies(w, r)
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		case session.IsDenial(err):
			h.auditRefreshDenied(ctx, ip, ua, denialReason(err))
			h.clearSessionCookies(w, r)
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		case errors.Is(err, session.ErrRefreshWaitCanceled):
			writeError(w, http.StatusRequestTimeout, "refresh_canceled", "request canceled")
		default:
			h.log.Error("session.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	if _, err := h.setSessionCookies(w, r, issued.RefreshSecret, issued.RefreshExpiresAt); err != nil {
		h.log.Error("session.refresh.cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditRefreshSuccess(ctx, issued.SessionID, ip, ua)

	writeJSON(w, http.StatusOK, refreshResponse{
		Session: toCredentialResponse(issued),
	})
}

// handleLogout always succeeds: the client ends up logged out whether or not
// a matching session existed.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if secret, ok := h.refreshSecretFromCookie(r); ok {
		if err := h.sessions.LogoutBySecret(ctx, now, secret); err != nil {
			h.log.Error("session.logout.fail", "err", err)
		}
	}
	if claims, err := h.accessClaims(r); err == nil {
		h.auditLogout(ctx, claims.UserID, claims.TokenID, ip, ua)
	}

	h.clearSessionCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.LogoutEverywhere(ctx, now, claims.UserID, session.ReasonLogoutAll); err != nil {
		h.log.Error("session.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogoutAll(ctx, claims.UserID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req logoutDeviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	tag := deviceTag(req.DeviceTag)
	if tag == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_tag is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.LogoutDevice(ctx, now, claims.UserID, tag); err != nil {
		h.log.Error("session.logout_device.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogoutDevice(ctx, claims.UserID, tag, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	rows, err := h.sessions.Sessions(ctx, now, claims.UserID)
	if err != nil {
		h.log.Error("session.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]sessionInfo, 0, len(rows))
	for _, s := range rows {
		out = append(out, sessionInfo{
			SessionID:  s.ID,
			DeviceTag:  s.DeviceTag,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			Current:    s.TokenID == claims.TokenID,
		})
	}

	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: out})
}

// ---- helpers ----

func (h *Handler) accessClaims(r *http.Request) (session.AccessClaims, error) {
	token := bearerToken(r)
	if token == "" {
		return session.AccessClaims{}, session.ErrInvalidToken
	}
	return h.sessions.ValidateAccess(r.Context(), token, time.Now().UTC())
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	claims, err := h.accessClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func deviceTag(raw string) string {
	tag := strings.TrimSpace(raw)
	if len(tag) > 128 {
		tag = tag[:128]
	}
	return tag
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, session.ErrReuseDetected):
		return "reuse_detected"
	case errors.Is(err, session.ErrSessionRevoked):
		return "revoked"
	case errors.Is(err, session.ErrSessionExpired):
		return "expired"
	case errors.Is(err, session.ErrSessionNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}

func toCredentialResponse(i session.Issued) credentialResponse {
	return credentialResponse{
		SessionID:        i.SessionID,
		AccessToken:      i.AccessToken,
		AccessExpiresAt:  i.AccessExpiresAt,
		RefreshExpiresAt: i.RefreshExpiresAt,
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
