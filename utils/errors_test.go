package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  *AppError
		kind ErrorKind
		code int
	}{
		{"connection", ConnectionError("dial failed", nil), KindConnection, 502},
		{"auth", AuthError("bad password", nil), KindAuth, 401},
		{"protocol", ProtocolError("bad response", nil), KindProtocol, 502},
		{"validation", ValidationError("bad input", nil), KindValidation, 400},
		{"not found", NotFoundError("missing", nil), KindNotFound, 404},
		{"internal", InternalError("boom", nil), KindInternal, 500},
	}
	for _, tc := range cases {
		if tc.err.Kind != tc.kind {
			t.Errorf("%s kind = %s, want %s", tc.name, tc.err.Kind, tc.kind)
		}
		if tc.err.Code != tc.code {
			t.Errorf("%s code = %d, want %d", tc.name, tc.err.Code, tc.code)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	bare := ValidationError("username is required", nil)
	if bare.Error() != "username is required" {
		t.Errorf("Error() = %q, want the message alone", bare.Error())
	}

	cause := fmt.Errorf("dial tcp: timeout")
	wrapped := ConnectionError("failed to connect", cause)
	if wrapped.Error() != "failed to connect: dial tcp: timeout" {
		t.Errorf("Error() = %q, want message with cause", wrapped.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := InternalError("wrapper", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is cannot reach the wrapped cause")
	}
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != 500 {
		t.Error("errors.As cannot recover the AppError")
	}

	// Predicates see through additional wrapping.
	double := fmt.Errorf("context: %w", NotFoundError("gone", nil))
	if !IsNotFoundError(double) {
		t.Error("predicate lost the kind through a wrap")
	}
}

func TestErrorPredicates(t *testing.T) {
	cases := []struct {
		err  error
		pred func(error) bool
		want bool
	}{
		{ConnectionError("x", nil), IsConnectionError, true},
		{AuthError("x", nil), IsAuthError, true},
		{ProtocolError("x", nil), IsProtocolError, true},
		{ValidationError("x", nil), IsValidationError, true},
		{NotFoundError("x", nil), IsNotFoundError, true},
		{AuthError("x", nil), IsConnectionError, false},
		{errors.New("plain"), IsValidationError, false},
		{nil, IsNotFoundError, false},
	}
	for i, tc := range cases {
		if got := tc.pred(tc.err); got != tc.want {
			t.Errorf("case %d: predicate = %v, want %v for %v", i, got, tc.want, tc.err)
		}
	}
}

func TestErrorWithContext(t *testing.T) {
	err := NotFoundError("account not found", nil).
		WithContext("account", "acct-1").
		WithContext("user", "u1")

	if err.Context["account"] != "acct-1" || err.Context["user"] != "u1" {
		t.Errorf("context = %v, want both values", err.Context)
	}
}
