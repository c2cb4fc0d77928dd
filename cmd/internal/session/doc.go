// Package session implements the refresh-session lifecycle for keygate.
//
// It provides per-user, per-device sessions with refresh-secret rotation,
// reuse detection with fail-closed chain revocation, targeted and user-wide
// revocation, single-flight coalescing of concurrent refresh attempts, and a
// background sweeper that reaps dead sessions after a retention window.
//
// Access credentials are short-lived HS256 JWTs carrying a permission
// snapshot. Refresh secrets are opaque random strings stored only as hashes
// (HMAC-SHA256 when KEYGATE_TOKEN_HMAC_KEY is set; SHA-256 for dev).
//
// Transport (HTTP) integration lives in the api subpackage.
package session
