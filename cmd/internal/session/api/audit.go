package sessionapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
)

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, username string) {
	h.insertAudit(ctx, "session.login.failed", nil, nil, ip, ua, map[string]any{
		"username": username,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "session.login.success", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "session.refresh.success", nil, &sessionID, ip, ua, nil)
}

func (h *Handler) auditRefreshDenied(ctx context.Context, ip net.IP, ua, reason string) {
	h.insertAudit(ctx, "session.refresh.denied", nil, nil, ip, ua, map[string]any{
		"reason": reason,
	})
}

func (h *Handler) auditReuseDetected(ctx context.Context, ip net.IP, ua string) {
	h.insertAudit(ctx, "session.refresh.reuse_detected", nil, nil, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "session.logout", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "session.logout_all", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditLogoutDevice(ctx context.Context, userID, deviceTag string, ip net.IP, ua string) {
	h.insertAudit(ctx, "session.logout_device", &userID, nil, ip, ua, map[string]any{
		"device_tag": deviceTag,
	})
}

// insertAudit is best-effort: a failed audit write never fails the request.
func (h *Handler) insertAudit(ctx context.Context, action string, userID, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO keygate.audit_log (
			user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, sessionID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("session.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
