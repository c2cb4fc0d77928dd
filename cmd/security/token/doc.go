// Package token provides refresh-secret hashing primitives for keygate.
//
// It is the single source of truth for secret-hashing behavior: the raw
// refresh secret is never persisted, only its 64-char hex digest.
//
// Modes:
//   - Dev/back-compat: SHA-256(secret) when no HMAC key is configured.
//   - Production: HMAC-SHA256(secret, key) when KEYGATE_TOKEN_HMAC_KEY is set.
//     With RequireSecretHMAC policy, callers must enforce a minimum key size
//     (>= 32 bytes) and reject the SHA fallback.
package token
