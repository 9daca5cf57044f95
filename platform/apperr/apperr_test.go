package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Validation("x"), http.StatusBadRequest},
		{BadRequest("x"), http.StatusBadRequest},
		{Conflict("x"), http.StatusConflict},
		{Forbidden("x"), http.StatusForbidden},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Internal("x"), http.StatusInternalServerError},
		{Gone("x"), http.StatusGone},
		{TooManyRequests("x"), http.StatusTooManyRequests},
		{Unavailable("x"), http.StatusServiceUnavailable},
		{New(KindUnknown, "x"), http.StatusBadRequest},
	}

	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.want {
			t.Fatalf("kind %d: expected %d, got %d", tc.err.Kind, tc.want, got)
		}
	}
}

func TestGetKindFindsWrappedError(t *testing.T) {
	err := fmt.Errorf("service layer: %w", Conflict("tenant identifier already exists"))

	if !Is(err, KindConflict) {
		t.Fatalf("expected wrapped conflict to be detected, got kind %d", GetKind(err))
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Fatal("expected plain error to have unknown kind")
	}
}

func TestErrorStringIncludesOpAndCause(t *testing.T) {
	err := Wrap(KindInternal, "list leads failed", errors.New("connection reset")).WithOp("leads.repository.list")

	want := "leads.repository.list: list leads failed: connection reset"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Fatal("expected Unwrap to expose the cause")
	}
}
