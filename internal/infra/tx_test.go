package infra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"cas miss", fmt.Errorf("apply: %w", ErrConcurrencyConflict), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "requests_tracking_id_key"})
	if !IsUniqueViolation(err, "requests_tracking_id_key") {
		t.Fatal("expected match on constraint name")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatal("expected match with empty constraint")
	}
	if IsUniqueViolation(err, "other_key") {
		t.Fatal("unexpected match on different constraint")
	}
	if !IsCheckViolation(&pgconn.PgError{Code: "23514"}) {
		t.Fatal("expected check violation")
	}
}

func TestFirebaseTokenRole(t *testing.T) {
	tok := &FirebaseToken{UID: "u1", Claims: map[string]interface{}{"role": "provider"}}
	if tok.Role() != "provider" {
		t.Fatalf("role = %q", tok.Role())
	}
	var nilTok *FirebaseToken
	if nilTok.Role() != "" {
		t.Fatal("nil token should have empty role")
	}
}
