package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherHashesAndVerifies(t *testing.T) {
	hasher, err := NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	first, err := hasher.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := hasher.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first == "correct horse" {
		t.Fatalf("expected hash to differ from plaintext")
	}
	if first == second {
		t.Fatalf("expected per-call salt to produce distinct hashes")
	}
	if !hasher.Verify("correct horse", first) || !hasher.Verify("correct horse", second) {
		t.Fatalf("expected both hashes to verify")
	}
	if hasher.Verify("wrong horse", first) {
		t.Fatalf("expected mismatched password to fail verification")
	}
	if hasher.Verify("correct horse", "not-a-bcrypt-hash") {
		t.Fatalf("expected malformed hash to fail verification")
	}
}

func TestBcryptHasherDefaultsCost(t *testing.T) {
	hasher, err := NewBcryptHasher(0)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if hasher.Cost() != DefaultPasswordCost {
		t.Fatalf("expected default cost %d, got %d", DefaultPasswordCost, hasher.Cost())
	}
}

func TestBcryptHasherRejectsInvalidInput(t *testing.T) {
	if _, err := NewBcryptHasher(bcrypt.MaxCost + 1); !errors.Is(err, ErrInvalidPasswordCost) {
		t.Fatalf("expected invalid cost error, got %v", err)
	}

	hasher, err := NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected password length error, got %v", err)
	}
}
