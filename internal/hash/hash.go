package hash

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes passwords with bcrypt and digests refresh tokens.
// Refresh tokens are JWTs longer than bcrypt's 72 byte input limit, so they
// get a SHA-256 digest (HMAC-SHA256 when a key is configured) instead.
type Hasher struct {
	Cost     int
	TokenKey []byte
}

func New(cost int, tokenKey []byte) *Hasher {
	return &Hasher{Cost: cost, TokenKey: tokenKey}
}

func (h *Hasher) HashPassword(password string) (string, error) {
	hashbytes, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashbytes), nil
}

// CheckPassword never fails on a malformed hash, it just reports a mismatch.
func (h *Hasher) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (h *Hasher) TokenDigest(token string) string {
	if len(h.TokenKey) == 0 {
		return Sha256Hex(token)
	}
	return HmacSha256Hex(token, h.TokenKey)
}

// MatchToken compares token against a stored digest in constant time.
func (h *Hasher) MatchToken(digest, token string) bool {
	return EqualDigest(digest, h.TokenDigest(token))
}

func Sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func HmacSha256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

func EqualDigest(a, b string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
