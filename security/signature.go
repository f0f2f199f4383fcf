package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const SignaturePrefix = "sha256="

// Sign returns "sha256=<hex>" of HMAC-SHA256 over "<timestamp>.<body>", or
// over body alone when timestamp is empty.
func Sign(secret []byte, timestamp string, body []byte) string {
	return SignaturePrefix + hex.EncodeToString(mac(secret, timestamp, body))
}

// VerifySignature compares provided against the expected HMAC in constant
// time. The digest may be hex or base64 encoded, with or without the
// "sha256=" prefix.
func VerifySignature(secret []byte, timestamp string, body []byte, provided string) bool {
	if len(secret) == 0 {
		return false
	}
	decoded, ok := parseDigest(provided)
	if !ok {
		return false
	}
	return hmac.Equal(mac(secret, timestamp, body), decoded)
}

// CanonicalSignature returns the lower-case hex form of a provided digest, so
// every accepted encoding of the same MAC maps to one value.
func CanonicalSignature(provided string) (string, bool) {
	decoded, ok := parseDigest(provided)
	if !ok {
		return "", false
	}
	return hex.EncodeToString(decoded), true
}

func parseDigest(provided string) ([]byte, bool) {
	provided = strings.TrimSpace(provided)
	if prefix, value, ok := strings.Cut(provided, "="); ok && strings.EqualFold(prefix, "sha256") {
		provided = value
	}
	if provided == "" {
		return nil, false
	}
	return decodeDigest(provided)
}

// ConstantTimeEqual compares two secrets without leaking their common prefix
// length through timing.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func mac(secret []byte, timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	if timestamp != "" {
		h.Write([]byte(timestamp))
		h.Write([]byte("."))
	}
	h.Write(body)
	return h.Sum(nil)
}

func decodeDigest(value string) ([]byte, bool) {
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, true
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, true
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, true
	}
	return nil, false
}
