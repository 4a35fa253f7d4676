// Package auth implements the two distinct trust surfaces the hub exposes.
//
// Agent handshake (registry.State machine) is intentionally shallow per
// spec's Non-goals: a shared token compared once at registration, plus a
// nonce-echo challenge. It is NOT a JWT or signed-claim scheme — adding one
// would exceed "no cryptographic agent authentication beyond a shared
// token and a nonce-echo handshake."
//
// The operator HTTP surfaces (debug snapshot) are a separate concern and
// use an HMAC-signed bearer token, adapted from the teacher's
// auth/jwt.go (which hand-rolls HS256 with crypto/hmac rather than pulling
// in a JWT library).
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const nonceLength = 32
const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewNonce returns a fresh, unique 32-character challenge nonce for the
// registration handshake (spec §4.2).
func NewNonce() (string, error) {
	buf := make([]byte, nonceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: failed to read random bytes: %w", err)
	}
	out := make([]byte, nonceLength)
	for i, b := range buf {
		out[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(out), nil
}

// CheckToken reports whether presented matches the configured shared
// token using a constant-time comparison. An empty configured token means
// auth is disabled and any presented value (including empty) passes.
func CheckToken(configured, presented string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// CheckNonce reports whether response echoes the issued nonce exactly, per
// spec's "challenge_response(response == nonce)".
func CheckNonce(issued, response string) bool {
	return subtle.ConstantTimeCompare([]byte(issued), []byte(response)) == 1
}

// AdminToken mints and validates HMAC-SHA256 bearer tokens for operator-only
// HTTP surfaces (the debug snapshot endpoint). It is unrelated to agent
// authentication.
type AdminToken struct {
	secret []byte
}

// NewAdminToken returns an AdminToken keyed by secret. With an empty
// secret Validate always fails; the hub does not consult Validate at all
// when no admin token is configured, leaving its admin endpoints open.
func NewAdminToken(secret string) *AdminToken {
	return &AdminToken{secret: []byte(secret)}
}

// Sign returns an HMAC-SHA256 signature, base64url-encoded, over message.
func (a *AdminToken) Sign(message string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(message))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(h.Sum(nil))
}

// Validate reports whether token is a valid signature over message.
func (a *AdminToken) Validate(message, token string) bool {
	if len(a.secret) == 0 {
		return false
	}
	expected := a.Sign(message)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}
