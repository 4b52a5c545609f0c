package auth

import (
	"errors"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	valid := []string{"alice", "bob.smith", "ops_team-2"}
	for _, u := range valid {
		if err := validateUsername(u); err != nil {
			t.Fatalf("%q should be valid: %v", u, err)
		}
	}

	invalid := []string{"", "ab", "12345", "has space", "root", "admin", "this-name-is-way-too-long-to-be-allowed"}
	for _, u := range invalid {
		if err := validateUsername(u); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q should be rejected, got %v", u, err)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	if err := validateEmail("alice@example.com"); err != nil {
		t.Fatalf("expected valid email: %v", err)
	}
	for _, e := range []string{"", "alice", "alice@localhost", "Alice <alice@example.com>", "a@b@example.com"} {
		if err := validateEmail(e); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q should be rejected, got %v", e, err)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	if err := validatePassword("Secur3!Pass"); err != nil {
		t.Fatalf("expected strong password to pass: %v", err)
	}
	for _, p := range []string{"Sh0rt!", "alllower1!", "ALLUPPER1!", "NoDigits!!", "NoSymbol12"} {
		var verr *ValidationError
		if err := validatePassword(p); !errors.As(err, &verr) || verr.Field != "password" {
			t.Fatalf("%q should be rejected, got %v", p, err)
		}
	}
}
