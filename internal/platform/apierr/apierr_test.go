package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestMessageHidesInternalErrors(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusConflict, "boom"},
		{http.StatusBadGateway, "boom"},
		{http.StatusGatewayTimeout, "boom"},
		{http.StatusInternalServerError, "Internal Server Error"},
		{http.StatusServiceUnavailable, "Internal Server Error"},
	}
	for _, tc := range cases {
		if got := New(tc.status, "x", errors.New("boom")).Message(); got != tc.want {
			t.Fatalf("status %d: got %q want %q", tc.status, got, tc.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	base := errors.New("base")
	if !errors.Is(New(http.StatusNotFound, "not_found", base), base) {
		t.Fatalf("expected errors.Is through apierr")
	}
}
