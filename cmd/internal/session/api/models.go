package sessionapi

import "time"

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	DeviceTag string `json:"device_tag"`
}

type logoutDeviceRequest struct {
	DeviceTag string `json:"device_tag"`
}

// credentialResponse never carries the refresh secret; that travels only in
// the HttpOnly cookie.
type credentialResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	UserID  string             `json:"user_id"`
	Session credentialResponse `json:"session"`
}

type refreshResponse struct {
	Session credentialResponse `json:"session"`
}

type sessionInfo struct {
	SessionID  string     `json:"session_id"`
	DeviceTag  string     `json:"device_tag,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Current    bool       `json:"current"`
}

type sessionsResponse struct {
	Sessions []sessionInfo `json:"sessions"`
}
