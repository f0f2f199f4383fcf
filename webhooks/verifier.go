package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/security"
)

const (
	DefaultSignatureHeader = "X-Signature"
	DefaultTimestampHeader = "X-Timestamp"
	DefaultAPIKeyHeader    = "X-API-Key"
	DefaultEventTypeHeader = "X-Event-Type"
	authorizationHeader    = "Authorization"
)

// Verification is what a verifier learned about an authentic request. The
// replay guard uses it to decide whether the delivery was seen before.
type Verification struct {
	Method    core.AuthMethod
	Timestamp time.Time
	Signature string
	Nonce     string
}

func (v Verification) HasTimestamp() bool {
	return !v.Timestamp.IsZero()
}

// Verifier authenticates one request for an endpoint using the endpoint's
// resolved secret.
type Verifier interface {
	Verify(ctx context.Context, endpoint core.WebhookEndpoint, secret []byte, req core.InboundRequest) (Verification, error)
}

// SignatureVerifier selects the verifier matching the endpoint auth method.
type SignatureVerifier struct {
	verifiers map[core.AuthMethod]Verifier
}

func NewSignatureVerifier(now func() time.Time) *SignatureVerifier {
	return &SignatureVerifier{verifiers: map[core.AuthMethod]Verifier{
		core.AuthHMAC:   HMACVerifier{},
		core.AuthJWT:    JWTVerifier{Now: now},
		core.AuthAPIKey: APIKeyVerifier{},
		core.AuthNone:   NoneVerifier{},
	}}
}

// Use replaces the verifier for method.
func (v *SignatureVerifier) Use(method core.AuthMethod, verifier Verifier) {
	if v.verifiers == nil {
		v.verifiers = map[core.AuthMethod]Verifier{}
	}
	v.verifiers[method] = verifier
}

func (v *SignatureVerifier) Verify(ctx context.Context, endpoint core.WebhookEndpoint, secret []byte, req core.InboundRequest) (Verification, error) {
	verifier, ok := v.verifiers[endpoint.AuthMethod]
	if !ok || verifier == nil {
		return Verification{}, signatureInvalid(endpoint, fmt.Sprintf("unsupported auth method %q", endpoint.AuthMethod))
	}
	verification, err := verifier.Verify(ctx, endpoint, secret, req)
	if err != nil {
		return Verification{}, err
	}
	verification.Method = endpoint.AuthMethod
	if verification.Nonce == "" {
		verification.Nonce = deliveryID(req.Headers)
	}
	return verification, nil
}

// HMACVerifier checks an HMAC-SHA256 digest of the raw body. When the
// endpoint's timestamp header is present the digest covers
// "<timestamp>.<body>" and the timestamp becomes subject to the replay
// window.
type HMACVerifier struct{}

func (HMACVerifier) Verify(_ context.Context, endpoint core.WebhookEndpoint, secret []byte, req core.InboundRequest) (Verification, error) {
	signatureHeader := headerName(endpoint.SignatureHeader, DefaultSignatureHeader)
	provided := headerValue(req.Headers, signatureHeader)
	if provided == "" {
		return Verification{}, signatureInvalid(endpoint, signatureHeader+" header is required")
	}
	if len(secret) == 0 {
		return Verification{}, signatureInvalid(endpoint, "signing secret is not available")
	}
	rawTimestamp := headerValue(req.Headers, headerName(endpoint.TimestampHeader, DefaultTimestampHeader))
	if !security.VerifySignature(secret, rawTimestamp, req.Body, provided) {
		return Verification{}, signatureInvalid(endpoint, "signature mismatch")
	}
	canonical, _ := security.CanonicalSignature(provided)
	verification := Verification{Signature: canonical}
	if rawTimestamp != "" {
		timestamp, err := parseTimestamp(rawTimestamp)
		if err != nil {
			return Verification{}, signatureInvalid(endpoint, err.Error())
		}
		verification.Timestamp = timestamp
	}
	return verification, nil
}

// JWTVerifier validates an HMAC signed bearer token. Expiry is mandatory. A
// "body_sha256" claim, when present, binds the token to the payload.
type JWTVerifier struct {
	Now func() time.Time
}

func (v JWTVerifier) Verify(_ context.Context, endpoint core.WebhookEndpoint, secret []byte, req core.InboundRequest) (Verification, error) {
	header := headerName(endpoint.SignatureHeader, authorizationHeader)
	raw := headerValue(req.Headers, header)
	if prefix, token, ok := strings.Cut(raw, " "); ok && strings.EqualFold(prefix, "bearer") {
		raw = strings.TrimSpace(token)
	}
	if raw == "" {
		return Verification{}, signatureInvalid(endpoint, header+" bearer token is required")
	}
	if len(secret) == 0 {
		return Verification{}, signatureInvalid(endpoint, "signing secret is not available")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Verification{}, core.WrapKind(err, core.ErrorKindExpired, "webhooks: token expired", endpointMetadata(endpoint))
		}
		return Verification{}, core.WrapKind(err, core.ErrorKindSignatureInvalid, "webhooks: token rejected", endpointMetadata(endpoint))
	}

	if bound, ok := claims["body_sha256"].(string); ok && bound != "" {
		digest := sha256.Sum256(req.Body)
		if !security.ConstantTimeEqual(strings.ToLower(bound), hex.EncodeToString(digest[:])) {
			return Verification{}, signatureInvalid(endpoint, "token body digest mismatch")
		}
	}

	verification := Verification{Signature: raw}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		verification.Timestamp = issuedAt.UTC()
	}
	if jti, ok := claims["jti"].(string); ok {
		verification.Nonce = strings.TrimSpace(jti)
	}
	return verification, nil
}

// APIKeyVerifier compares a static key header against the endpoint secret.
// The key is the same on every delivery, so replay protection relies on a
// delivery id header.
type APIKeyVerifier struct{}

func (APIKeyVerifier) Verify(_ context.Context, endpoint core.WebhookEndpoint, secret []byte, req core.InboundRequest) (Verification, error) {
	header := headerName(endpoint.SignatureHeader, DefaultAPIKeyHeader)
	provided := headerValue(req.Headers, header)
	if provided == "" {
		return Verification{}, signatureInvalid(endpoint, header+" header is required")
	}
	if len(secret) == 0 || !security.ConstantTimeEqual(provided, string(secret)) {
		return Verification{}, signatureInvalid(endpoint, "api key mismatch")
	}
	return Verification{}, nil
}

// NoneVerifier accepts every request. Endpoints opt into it explicitly.
type NoneVerifier struct{}

func (NoneVerifier) Verify(context.Context, core.WebhookEndpoint, []byte, core.InboundRequest) (Verification, error) {
	return Verification{}, nil
}

func signatureInvalid(endpoint core.WebhookEndpoint, reason string) error {
	return core.NewKindError(core.ErrorKindSignatureInvalid, "webhooks: "+reason, endpointMetadata(endpoint))
}

func endpointMetadata(endpoint core.WebhookEndpoint) map[string]any {
	return map[string]any{
		"endpoint_id": endpoint.ID,
		"auth_method": string(endpoint.AuthMethod),
	}
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		if unix > 1e12 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

func headerName(configured string, fallback string) string {
	if name := strings.TrimSpace(configured); name != "" {
		return name
	}
	return fallback
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
