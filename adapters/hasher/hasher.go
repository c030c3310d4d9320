// Package hasher hashes API keys before they reach the api_keys table.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/artpar/billmeter/ports"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes with bcrypt. Keys longer than 72 bytes are pre-hashed
// with SHA-256 since bcrypt ignores everything past that length.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. Out-of-range costs fall back to the
// library default.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword(prehash(plaintext), h.cost)
}

func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, prehash(plaintext)) == nil
}

var _ ports.Hasher = (*Bcrypt)(nil)

func prehash(plaintext string) []byte {
	if len(plaintext) <= 72 {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(hex.EncodeToString(sum[:]))
}

// Fake stores plaintext. Tests only.
type Fake struct{}

func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte(plaintext), nil
}

func (Fake) Compare(hash []byte, plaintext string) bool {
	return subtle.ConstantTimeCompare(hash, []byte(plaintext)) == 1
}

var _ ports.Hasher = Fake{}
