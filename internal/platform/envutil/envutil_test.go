package envutil

import (
	"testing"
	"time"
)

func TestReaders(t *testing.T) {
	t.Setenv("EU_INT", "7")
	t.Setenv("EU_BAD", "x")
	t.Setenv("EU_BOOL", "true")
	t.Setenv("EU_MS", "1500")
	t.Setenv("EU_S", "30")
	t.Setenv("EU_STR", "  redis ")

	if Int("EU_INT", 1) != 7 || Int("EU_BAD", 1) != 1 || Int("EU_MISSING", 3) != 3 {
		t.Fatalf("Int")
	}
	if !Bool("EU_BOOL", false) || Bool("EU_BAD", false) {
		t.Fatalf("Bool")
	}
	if Millis("EU_MS", 0) != 1500*time.Millisecond || Millis("EU_BAD", time.Second) != time.Second {
		t.Fatalf("Millis")
	}
	if Seconds("EU_S", 0) != 30*time.Second {
		t.Fatalf("Seconds")
	}
	if String("EU_STR", "none") != "redis" || String("EU_MISSING", "none") != "none" {
		t.Fatalf("String")
	}
}

func TestFloatAndList(t *testing.T) {
	t.Setenv("EU_F", "0.25")
	t.Setenv("EU_LIST", " a, ,b ,")
	if Float("EU_F", 1) != 0.25 || Float("EU_MISSING", 1) != 1 {
		t.Fatalf("Float")
	}
	got := List("EU_LIST", nil)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("List: %#v", got)
	}
}
