package sessionapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// cookiePolicy captures the per-request attributes for session cookies.
// Same-origin requests get SameSite=Strict. A cross-origin request over a
// secure connection relaxes to SameSite=None with Secure, which is the only
// combination browsers will deliver cross-site. A cross-origin request over
// plain HTTP keeps Strict; the cookie simply will not flow, which is the
// safe failure.
type cookiePolicy struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (h *Handler) cookiePolicyFor(r *http.Request) cookiePolicy {
	secure := h.cfg.CookieSecure || r.TLS != nil

	p := cookiePolicy{
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}

	host := hostWithoutPort(r.Host)
	// Host-only cookies for bare hostnames (localhost, container names);
	// a dotted host gets an explicit Domain so subdomain dashboards work.
	if strings.Contains(host, ".") && net.ParseIP(host) == nil {
		p.Domain = host
	}

	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && origin != "null" {
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" && !strings.EqualFold(u.Hostname(), host) {
			if secure {
				p.SameSite = http.SameSiteNoneMode
			}
		}
	}

	return p
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, r *http.Request, refreshSecret string, refreshExp time.Time) (string, error) {
	csrf, err := newOpaqueToken(32)
	if err != nil {
		return "", err
	}

	p := h.cookiePolicyFor(r)
	h.setCookie(w, p, h.cfg.RefreshCookieName, refreshSecret, refreshExp, true)
	h.setCookie(w, p, h.cfg.CSRFCookieName, csrf, refreshExp, false)
	return csrf, nil
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	p := h.cookiePolicyFor(r)
	h.expireCookie(w, p, h.cfg.RefreshCookieName, true)
	h.expireCookie(w, p, h.cfg.CSRFCookieName, false)
}

func (h *Handler) refreshSecretFromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}

func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	c, err := r.Cookie(h.cfg.CSRFCookieName)
	if err != nil {
		return false
	}
	cv := strings.TrimSpace(c.Value)
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if cv == "" || hv == "" {
		return false
	}
	return secureStringEqual(cv, hv)
}

func (h *Handler) setCookie(w http.ResponseWriter, p cookiePolicy, name, value string, exp time.Time, httpOnly bool) {
	if w == nil || strings.TrimSpace(name) == "" {
		return
	}
	secure := p.Secure
	if p.SameSite == http.SameSiteNoneMode {
		secure = true
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   p.Domain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   secure,
		SameSite: p.SameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, p cookiePolicy, name string, httpOnly bool) {
	if w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   p.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
