package sessionapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keygate/cmd/internal/session"

	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	userID string
}

func (v stubVerifier) Verify(_ context.Context, username, password string) (string, error) {
	if username == "alice" && password == "open sesame 12" {
		return v.userID, nil
	}
	return "", ErrBadCredentials
}

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.JWTSecret = "api-test-jwt-secret-0123456789abcdef"
	return cfg
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	cfg := testSessionConfig()
	iss, err := session.NewIssuer(cfg, session.StaticPermissions{"u1": {"doc:read"}})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := session.NewService(cfg, log, session.NewInMemoryStore(), iss)

	h, err := NewHandler(log, DefaultConfig(), nil, svc, stubVerifier{userID: "u1"})
	require.NoError(t, err)
	return h
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	newTestHandler(t).Register(mux)
	return mux
}

func doLogin(t *testing.T, mux *http.ServeMux) (*httptest.ResponseRecorder, loginResponse) {
	t.Helper()

	body := `{"username":"alice","password":"open sesame 12","device_tag":"laptop"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func cookieByName(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginSetsCookiesAndOmitsSecret(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	rr, resp := doLogin(t, mux)

	require.Equal(t, "u1", resp.UserID)
	require.NotEmpty(t, resp.Session.AccessToken)
	require.NotEmpty(t, resp.Session.SessionID)

	// The refresh secret travels only in the HttpOnly cookie.
	require.NotContains(t, rr.Body.String(), "refresh_secret")
	refresh := cookieByName(t, rr, "keygate_refresh")
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.NotEmpty(t, refresh.Value)

	csrf := cookieByName(t, rr, "keygate_csrf")
	require.NotNil(t, csrf)
	require.False(t, csrf.HttpOnly)
}

func TestLoginBadCredentials(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	body := `{"username":"alice","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_credentials")
	require.Nil(t, cookieByName(t, rr, "keygate_refresh"))
}

func refreshRequest(rr *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	for _, c := range rr.Result().Cookies() {
		if c.Value == "" {
			continue
		}
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		if c.Name == "keygate_csrf" {
			req.Header.Set("X-CSRF-Token", c.Value)
		}
	}
	return req
}

func TestRefreshRotatesCookiePair(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	loginRR, loginResp := doLogin(t, mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, refreshRequest(loginRR))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp refreshResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEqual(t, loginResp.Session.SessionID, resp.Session.SessionID)
	require.NotEqual(t, loginResp.Session.AccessToken, resp.Session.AccessToken)

	newRefresh := cookieByName(t, rr, "keygate_refresh")
	require.NotNil(t, newRefresh)
	oldRefresh := cookieByName(t, loginRR, "keygate_refresh")
	require.NotEqual(t, oldRefresh.Value, newRefresh.Value)
}

func TestRefreshDenialsShareGenericBody(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	loginRR, _ := doLogin(t, mux)

	// First refresh succeeds; the old cookie is now retired.
	okRR := httptest.NewRecorder()
	mux.ServeHTTP(okRR, refreshRequest(loginRR))
	require.Equal(t, http.StatusOK, okRR.Code)

	// Replay of the retired secret: reuse, still the generic denial body.
	replayRR := httptest.NewRecorder()
	mux.ServeHTTP(replayRR, refreshRequest(loginRR))
	require.Equal(t, http.StatusUnauthorized, replayRR.Code)

	// Unknown secret: same body.
	unknownReq := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	unknownReq.AddCookie(&http.Cookie{Name: "keygate_refresh", Value: "fabricated"})
	unknownReq.AddCookie(&http.Cookie{Name: "keygate_csrf", Value: "tok"})
	unknownReq.Header.Set("X-CSRF-Token", "tok")
	unknownRR := httptest.NewRecorder()
	mux.ServeHTTP(unknownRR, unknownReq)
	require.Equal(t, http.StatusUnauthorized, unknownRR.Code)

	require.JSONEq(t, replayRR.Body.String(), unknownRR.Body.String())
	require.Contains(t, replayRR.Body.String(), "session_not_active")
	require.NotContains(t, replayRR.Body.String(), "reuse")
}

func TestRefreshRequiresCSRF(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	loginRR, _ := doLogin(t, mux)

	req := refreshRequest(loginRR)
	req.Header.Del("X-CSRF-Token")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), "csrf_invalid")
}

func TestRefreshWithoutCookie(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), "session_not_active")
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	// No cookie at all: still 204 and cleared cookies.
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	cleared := cookieByName(t, rr, "keygate_refresh")
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)

	// With a live session: the session dies and a later refresh is denied.
	loginRR, _ := doLogin(t, mux)
	logoutReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	for _, c := range loginRR.Result().Cookies() {
		logoutReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	logoutRR := httptest.NewRecorder()
	mux.ServeHTTP(logoutRR, logoutReq)
	require.Equal(t, http.StatusNoContent, logoutRR.Code)

	refreshRR := httptest.NewRecorder()
	mux.ServeHTTP(refreshRR, refreshRequest(loginRR))
	require.Equal(t, http.StatusUnauthorized, refreshRR.Code)

	// Repeating logout with the same dead cookie is still fine.
	repeatRR := httptest.NewRecorder()
	repeatReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	for _, c := range loginRR.Result().Cookies() {
		repeatReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	mux.ServeHTTP(repeatRR, repeatReq)
	require.Equal(t, http.StatusNoContent, repeatRR.Code)
}

func TestSessionsListRequiresAuth(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/sessions", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionsListMarksCurrent(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	_, first := doLogin(t, mux)
	_, second := doLogin(t, mux)

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+second.Session.AccessToken)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp sessionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 2)

	currents := 0
	for _, s := range resp.Sessions {
		if s.Current {
			currents++
			require.Equal(t, second.Session.SessionID, s.SessionID)
		}
		require.False(t, s.ExpiresAt.Before(time.Now().UTC()))
	}
	require.Equal(t, 1, currents)
	_ = first
}

func TestLogoutAllKillsEverySession(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	firstRR, _ := doLogin(t, mux)
	_, second := doLogin(t, mux)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout_all", nil)
	req.Header.Set("Authorization", "Bearer "+second.Session.AccessToken)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	// The other device's refresh is now denied.
	refreshRR := httptest.NewRecorder()
	mux.ServeHTTP(refreshRR, refreshRequest(firstRR))
	require.Equal(t, http.StatusUnauthorized, refreshRR.Code)

	// And its access token no longer validates.
	listReq := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	listReq.Header.Set("Authorization", "Bearer "+second.Session.AccessToken)
	listRR := httptest.NewRecorder()
	mux.ServeHTTP(listRR, listReq)
	require.Equal(t, http.StatusUnauthorized, listRR.Code)
}

func TestLogoutDevice(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	laptopRR, laptop := doLogin(t, mux)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout_device", strings.NewReader(`{"device_tag":"laptop"}`))
	req.Header.Set("Authorization", "Bearer "+laptop.Session.AccessToken)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	refreshRR := httptest.NewRecorder()
	mux.ServeHTTP(refreshRR, refreshRequest(laptopRR))
	require.Equal(t, http.StatusUnauthorized, refreshRR.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	for _, path := range []string{"/auth/login", "/auth/refresh", "/auth/logout", "/auth/logout_all", "/auth/logout_device"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/sessions", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
