package observability

import "testing"

func TestOTLPHeaders(t *testing.T) {
	got := otlpHeaders(" api-key = abc , bad, =x, team=core ")
	if len(got) != 2 || got["api-key"] != "abc" || got["team"] != "core" {
		t.Fatalf("unexpected headers: %#v", got)
	}
	if otlpHeaders("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
