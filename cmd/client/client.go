// Package client is an HTTP client for keygate-protected APIs.
//
// The client holds the access token in memory and lets the cookie jar carry
// the refresh secret and CSRF cookies. When a request comes back 401 it
// performs one refresh against the auth endpoint and retries the request
// once; concurrent 401s share a single refresh through a single-flight
// group.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotAuthenticated is returned when a request needs credentials and the
// client has none, or when the one permitted refresh-and-retry also failed.
var ErrNotAuthenticated = errors.New("client: not authenticated")

// Config controls the client.
type Config struct {
	// BaseURL is the origin of the auth endpoints, e.g. "https://api.example.com".
	BaseURL string

	// CSRFCookieName and CSRFHeaderName mirror the server's double-submit
	// pair.
	CSRFCookieName string
	CSRFHeaderName string

	// HTTPClient is optional; a jar-equipped default is built when nil.
	HTTPClient *http.Client

	Timeout time.Duration
}

// Client executes authenticated requests with transparent refresh.
type Client struct {
	base *url.URL
	http *http.Client
	cfg  Config

	mu          sync.Mutex
	accessToken string

	refresh singleflight.Group
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", cfg.BaseURL)
	}

	if cfg.CSRFCookieName == "" {
		cfg.CSRFCookieName = "keygate_csrf"
	}
	if cfg.CSRFHeaderName == "" {
		cfg.CSRFHeaderName = "X-CSRF-Token"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc = &http.Client{Jar: jar, Timeout: cfg.Timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	}

	return &Client{base: base, http: hc, cfg: cfg}, nil
}

// AccessToken returns the current access token, empty when logged out.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	DeviceTag string `json:"device_tag,omitempty"`
}

type credentialPayload struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type sessionEnvelope struct {
	Session credentialPayload `json:"session"`
}

// Login authenticates and primes the client: access token in memory, refresh
// and CSRF cookies in the jar.
func (c *Client) Login(ctx context.Context, username, password, deviceTag string) error {
	body, err := json.Marshal(loginRequest{Username: username, Password: password, DeviceTag: deviceTag})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/login"), strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: login failed: %s", resp.Status)
	}

	var env sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	c.setAccessToken(env.Session.AccessToken)
	return nil
}

// Logout revokes the session server-side and clears local credentials. The
// server treats logout as always-successful, and so does the client.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/logout"), nil)
	if err != nil {
		return err
	}
	if tok := c.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err == nil {
		drainAndClose(resp.Body)
	}
	c.setAccessToken("")
	return err
}

// Do executes req with the current access token. On a 401 it refreshes once
// (coalesced across goroutines) and retries exactly once; a second 401 is
// returned to the caller as-is.
//
// Requests with a body must set req.GetBody (http.NewRequest does this for
// common reader types) or the retry is skipped.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	tok := c.AccessToken()
	if tok == "" {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.do(req, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	retry, err := cloneForRetry(req)
	if err != nil {
		return resp, nil
	}
	drainAndClose(resp.Body)

	newTok, err := c.refreshOnce(req.Context(), tok)
	if err != nil {
		return nil, errors.Join(ErrNotAuthenticated, err)
	}
	return c.do(retry, newTok)
}

func (c *Client) do(req *http.Request, token string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+token)
	return c.http.Do(req)
}

// Refresh rotates the credential pair immediately instead of waiting for a
// 401. Useful for warmup and smoke tooling.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.callRefresh(ctx)
	return err
}

// refreshOnce coalesces concurrent refresh attempts triggered by a burst of
// 401s: one POST /auth/refresh runs, everyone gets its outcome. staleToken
// keys the flight so a caller that raced a completed refresh does not start
// another.
func (c *Client) refreshOnce(ctx context.Context, staleToken string) (string, error) {
	// A refresh may have already landed while this caller's request was in
	// flight.
	if cur := c.AccessToken(); cur != "" && cur != staleToken {
		return cur, nil
	}

	v, err, _ := c.refresh.Do(staleToken, func() (any, error) {
		defer c.refresh.Forget(staleToken)
		if cur := c.AccessToken(); cur != "" && cur != staleToken {
			return cur, nil
		}
		return c.callRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) callRefresh(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/refresh"), nil)
	if err != nil {
		return "", err
	}
	if csrf := c.csrfFromJar(); csrf != "" {
		req.Header.Set(c.cfg.CSRFHeaderName, csrf)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.setAccessToken("")
		return "", fmt.Errorf("client: refresh failed: %s", resp.Status)
	}

	var env sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	if env.Session.AccessToken == "" {
		return "", errors.New("client: refresh response missing access token")
	}
	c.setAccessToken(env.Session.AccessToken)
	return env.Session.AccessToken, nil
}

func (c *Client) csrfFromJar() string {
	if c.http.Jar == nil {
		return ""
	}
	// Session cookies are scoped to /auth, so ask the jar for that path.
	u := *c.base
	u.Path = "/auth/refresh"
	for _, ck := range c.http.Jar.Cookies(&u) {
		if ck.Name == c.cfg.CSRFCookieName {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) setAccessToken(tok string) {
	c.mu.Lock()
	c.accessToken = tok
	c.mu.Unlock()
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		if req.Body != nil {
			return nil, errors.New("client: request body not replayable")
		}
		return retry, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

func drainAndClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 1<<20))
	_ = rc.Close()
}
