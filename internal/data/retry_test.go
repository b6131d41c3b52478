package data

import (
	"errors"
	"testing"

	"github.com/jackc/pgconn"
)

func TestIsTransientErrorNilIsFalse(t *testing.T) {
	if IsTransientError(nil) {
		t.Fatal("IsTransientError(nil) = true, want false")
	}
}

func TestIsTransientErrorPgConnectionExceptionClass(t *testing.T) {
	err := &pgconn.PgError{Code: "08006"} // connection_failure
	if !IsTransientError(err) {
		t.Fatal("IsTransientError() = false for SQLSTATE class 08, want true")
	}
}

func TestIsTransientErrorPgAdminShutdownCodes(t *testing.T) {
	for _, code := range []string{"57P01", "57P02", "57P03"} {
		err := &pgconn.PgError{Code: code}
		if !IsTransientError(err) {
			t.Fatalf("IsTransientError() = false for %s, want true", code)
		}
	}
}

func TestIsTransientErrorPgPermanentCodeIsNotTransient(t *testing.T) {
	err := &pgconn.PgError{Code: "23505"} // unique_violation
	if IsTransientError(err) {
		t.Fatal("IsTransientError() = true for unique_violation, want false")
	}
}

func TestIsTransientErrorNetworkKeywordMatch(t *testing.T) {
	cases := []string{
		"dial tcp: connection refused",
		"read tcp: connection reset by peer",
		"i/o timeout",
		"dial tcp: no such host",
	}
	for _, msg := range cases {
		if !IsTransientError(errors.New(msg)) {
			t.Fatalf("IsTransientError(%q) = false, want true", msg)
		}
	}
}

func TestIsTransientErrorUnrelatedErrorIsNotTransient(t *testing.T) {
	if IsTransientError(errors.New("invalid input syntax for type integer")) {
		t.Fatal("IsTransientError() = true for an unrelated error, want false")
	}
}
