package hasher_test

import (
	"strings"
	"testing"

	"github.com/artpar/billmeter/adapters/hasher"
)

func TestBcrypt_HashAndCompare(t *testing.T) {
	h := hasher.NewBcrypt(4)

	hash, err := h.Hash("bm_secret")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if string(hash) == "bm_secret" {
		t.Error("hash should differ from plaintext")
	}
	if !h.Compare(hash, "bm_secret") {
		t.Error("Compare should match original plaintext")
	}
	if h.Compare(hash, "bm_other") {
		t.Error("Compare should not match different plaintext")
	}
}

func TestBcrypt_LongKeys(t *testing.T) {
	h := hasher.NewBcrypt(4)

	// Two keys sharing their first 72 bytes must still be distinguished.
	common := "bm_" + strings.Repeat("a", 72)
	hash, err := h.Hash(common + "1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !h.Compare(hash, common+"1") {
		t.Error("Compare should match original long key")
	}
	if h.Compare(hash, common+"2") {
		t.Error("Compare should not match key differing after byte 72")
	}
}

func TestBcrypt_InvalidCostUsesDefault(t *testing.T) {
	for _, cost := range []int{0, 1, 99} {
		h := hasher.NewBcrypt(cost)
		hash, err := h.Hash("x")
		if err != nil {
			t.Fatalf("cost %d: Hash error: %v", cost, err)
		}
		if !h.Compare(hash, "x") {
			t.Errorf("cost %d: Compare failed", cost)
		}
	}
}

func TestFake(t *testing.T) {
	h := hasher.Fake{}

	hash, _ := h.Hash("plain")
	if string(hash) != "plain" {
		t.Errorf("Hash = %s, want plain", hash)
	}
	if !h.Compare(hash, "plain") {
		t.Error("Compare should match")
	}
	if h.Compare(hash, "plain2") {
		t.Error("Compare should not match")
	}
}
