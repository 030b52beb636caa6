package services

import (
	"strings"
	"testing"
)

func TestExtractSyllabusTextPlain(t *testing.T) {
	got, err := ExtractSyllabusText("syllabus.md", []byte("Strand 1:\n  Numbers and   place value\n"), 0)
	if err != nil {
		t.Fatalf("ExtractSyllabusText: %v", err)
	}
	if got != "Strand 1: Numbers and place value" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractSyllabusTextTruncates(t *testing.T) {
	got, err := ExtractSyllabusText("a.txt", []byte(strings.Repeat("é ", 50)), 10)
	if err != nil {
		t.Fatalf("ExtractSyllabusText: %v", err)
	}
	if len([]rune(got)) != 10 {
		t.Fatalf("want 10 runes, got %d", len([]rune(got)))
	}
}

func TestExtractSyllabusTextRejects(t *testing.T) {
	if _, err := ExtractSyllabusText("x.pdf", []byte("not a pdf"), 0); err == nil {
		t.Fatalf("fake pdf should fail")
	}
	if _, err := ExtractSyllabusText("x.bin", []byte{0xff, 0xfe, 0x00, 0x81}, 0); err == nil {
		t.Fatalf("binary should fail")
	}
	if _, err := ExtractSyllabusText("x.txt", nil, 0); err == nil {
		t.Fatalf("empty should fail")
	}
	if _, err := ExtractSyllabusText("x.pdf", []byte("%PDF-1.4 garbage"), 0); err == nil {
		t.Fatalf("corrupt pdf should fail")
	}
}
