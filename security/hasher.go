package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goliatone/go-notify/core"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher stores endpoint secrets as bcrypt hashes. Secrets are
// pre-hashed with SHA-256 so keys longer than bcrypt's 72 byte input limit
// are still fully covered.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher() BcryptHasher {
	return BcryptHasher{Cost: bcrypt.DefaultCost}
}

func (h BcryptHasher) Hash(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("security: secret is required")
	}
	cost := h.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword(prehash(secret), cost)
	if err != nil {
		return "", fmt.Errorf("security: hash secret: %w", err)
	}
	return string(hashed), nil
}

func (BcryptHasher) Verify(hash string, secret []byte) bool {
	if hash == "" || len(secret) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(secret)) == nil
}

func prehash(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return []byte(hex.EncodeToString(sum[:]))
}

var _ core.SecretHasher = BcryptHasher{}
