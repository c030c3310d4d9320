// Package apikey builds ADD_KEY payloads from freshly generated raw keys.
// The raw key is shown to the caller once; only its hash is persisted.
package apikey

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/billmeter/domain/event"
)

// RandomLength is the number of random hex characters after the prefix.
const RandomLength = 64

// Source supplies random hex strings.
type Source interface {
	String(n int) (string, error)
}

// Hasher hashes the raw key for storage.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
}

// Params describes the key to issue.
type Params struct {
	Prefix string
	Name   string
	TTL    time.Duration // 0 = never expires
}

// Issued is the result of Issue.
type Issued struct {
	Raw  string
	Data event.AddKeyData
}

// Issue generates a raw key and the ADD_KEY payload that stores its hash.
func Issue(src Source, h Hasher, p Params, now time.Time) (Issued, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Issued{}, fmt.Errorf("key name is required")
	}

	random, err := src.String(RandomLength)
	if err != nil {
		return Issued{}, fmt.Errorf("generate key: %w", err)
	}
	raw := p.Prefix + random

	hash, err := h.Hash(raw)
	if err != nil {
		return Issued{}, fmt.Errorf("hash key: %w", err)
	}

	data := event.AddKeyData{
		Name: p.Name,
		Key:  string(hash),
	}
	if p.TTL > 0 {
		exp := now.UTC().Add(p.TTL)
		data.ExpiresAt = &exp
	}

	return Issued{Raw: raw, Data: data}, nil
}

// ValidFormat reports whether raw looks like a key issued with prefix.
func ValidFormat(raw, prefix string) bool {
	if !strings.HasPrefix(raw, prefix) {
		return false
	}
	return len(raw) == len(prefix)+RandomLength
}
