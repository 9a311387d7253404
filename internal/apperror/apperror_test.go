package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(KindConflict, "plan already applied", base)

	if got := KindOf(err); got != KindConflict {
		t.Fatalf("KindOf() = %q, want %q", got, KindConflict)
	}
	if !errors.Is(err, err) {
		t.Fatalf("errors.Is should match itself")
	}
	if errors.Unwrap(err) != base {
		t.Fatalf("Unwrap() did not return cause")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("KindOf() = %q, want %q", got, KindInternal)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:      http.StatusNotFound,
		KindConflict:       http.StatusConflict,
		KindInvalid:        http.StatusBadRequest,
		KindUnauthorized:   http.StatusUnauthorized,
		KindForbidden:      http.StatusForbidden,
		KindQuotaExceeded:  http.StatusTooManyRequests,
		KindLicense:        http.StatusPaymentRequired,
		KindInternal:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
