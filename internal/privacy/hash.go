package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher performs the one-way, salted transform applied to raw PII at the
// ingestion boundary. Raw values never travel past this package.
type Hasher struct {
	salt string
}

// NewHasher creates a Hasher with the given salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// HashIP hashes a raw IP address. Empty input yields empty output.
func (h *Hasher) HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	return h.hash(ip)
}

// HashEmail lowercases and hashes a raw email address.
func (h *Hasher) HashEmail(email string) string {
	if email == "" {
		return ""
	}
	return h.hash(strings.ToLower(strings.TrimSpace(email)))
}

func (h *Hasher) hash(value string) string {
	sum := sha256.Sum256([]byte(h.salt + ":" + value))
	return hex.EncodeToString(sum[:])
}
