// Package random provides Random implementations used for API key material.
package random

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/artpar/billmeter/ports"
)

// Real reads from crypto/rand.
type Real struct{}

func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// String returns n lowercase hex characters.
func (r Real) String(n int) (string, error) {
	return hexString(r, n)
}

var _ ports.Random = Real{}

// Fake produces deterministic bytes: preset values first, then a counter
// pattern.
type Fake struct {
	mu      sync.Mutex
	preset  [][]byte
	counter int
}

// NewFake creates a fake random source.
func NewFake(preset ...[]byte) *Fake {
	return &Fake{preset: preset}
}

func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := make([]byte, n)
	if len(f.preset) > 0 {
		copy(b, f.preset[0])
		f.preset = f.preset[1:]
		return b, nil
	}

	f.counter++
	for i := range b {
		b[i] = byte(f.counter + i)
	}
	return b, nil
}

func (f *Fake) String(n int) (string, error) {
	return hexString(f, n)
}

var _ ports.Random = (*Fake)(nil)

func hexString(src interface{ Bytes(int) ([]byte, error) }, n int) (string, error) {
	b, err := src.Bytes((n + 1) / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}
