package security

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestBcryptHasher_HashAndVerify(t *testing.T) {
	hasher := BcryptHasher{Cost: 4}
	hash, err := hasher.Hash([]byte("S"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if !hasher.Verify(hash, []byte("S")) {
		t.Fatalf("expected matching secret to verify")
	}
	if hasher.Verify(hash, []byte("T")) {
		t.Fatalf("expected different secret to fail")
	}

	long := []byte(strings.Repeat("k", 100))
	longHash, err := hasher.Hash(long)
	if err != nil {
		t.Fatalf("hash long secret: %v", err)
	}
	if hasher.Verify(longHash, append(long[:99:99], 'x')) {
		t.Fatalf("expected bytes past 72 to be significant")
	}
	if _, err := hasher.Hash(nil); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func TestSignAndVerifySignature(t *testing.T) {
	secret := []byte("S")
	body := []byte(`{"event":"push"}`)

	signature := Sign(secret, "", body)
	if !strings.HasPrefix(signature, SignaturePrefix) {
		t.Fatalf("expected sha256= prefix, got %q", signature)
	}
	if !VerifySignature(secret, "", body, signature) {
		t.Fatalf("expected signature to verify")
	}
	if !VerifySignature(secret, "", body, strings.TrimPrefix(signature, SignaturePrefix)) {
		t.Fatalf("expected bare hex digest to verify")
	}
	if VerifySignature([]byte("wrong"), "", body, signature) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifySignature(secret, "", []byte(`{"event":"pull"}`), signature) {
		t.Fatalf("expected tampered body to fail")
	}

	timestamped := Sign(secret, "1770984000", body)
	if VerifySignature(secret, "", body, timestamped) {
		t.Fatalf("expected timestamp to be bound into the digest")
	}
	if !VerifySignature(secret, "1770984000", body, timestamped) {
		t.Fatalf("expected timestamped signature to verify")
	}
}

func TestVerifySignature_AcceptsBase64Digest(t *testing.T) {
	secret := []byte("shopify-secret")
	body := []byte("payload")
	digest := base64.StdEncoding.EncodeToString(mac(secret, "", body))
	if !VerifySignature(secret, "", body, digest) {
		t.Fatalf("expected base64 digest to verify")
	}
	if VerifySignature(secret, "", body, "not-a-digest") {
		t.Fatalf("expected garbage to fail")
	}
}

func TestCanonicalSignature_CollapsesEncodings(t *testing.T) {
	secret := []byte("S")
	body := []byte(`{"type":"build"}`)
	signed := Sign(secret, "", body)
	bare := strings.TrimPrefix(signed, SignaturePrefix)
	raw := mac(secret, "", body)

	want, ok := CanonicalSignature(signed)
	if !ok || want != bare {
		t.Fatalf("expected lower-case hex digest, got %q (%v)", want, ok)
	}
	for _, encoded := range []string{
		bare,
		strings.ToUpper(bare),
		"SHA256=" + strings.ToUpper(bare),
		base64.StdEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
	} {
		got, ok := CanonicalSignature(encoded)
		if !ok || got != want {
			t.Fatalf("expected %q to canonicalize to %q, got %q", encoded, want, got)
		}
	}
	if _, ok := CanonicalSignature("sha256="); ok {
		t.Fatalf("expected empty digest to be rejected")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") || ConstantTimeEqual("abc", "abd") || ConstantTimeEqual("abc", "ab") {
		t.Fatalf("unexpected comparison results")
	}
}
