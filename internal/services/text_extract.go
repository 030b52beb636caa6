package services

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// DefaultSyllabusChars bounds how much syllabus text reaches the planner.
const DefaultSyllabusChars = 20000

// ExtractSyllabusText turns an uploaded syllabus into curriculum context for
// the planner. PDF is sniffed by magic bytes; text and markdown pass through.
func ExtractSyllabusText(originalName string, data []byte, maxChars int) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty syllabus file: name=%s", originalName)
	}
	if maxChars <= 0 {
		maxChars = DefaultSyllabusChars
	}
	ext := strings.ToLower(filepath.Ext(originalName))

	var text string
	switch {
	case isPDF(data):
		t, err := extractPDF(data)
		if err != nil {
			return "", err
		}
		text = t
	case ext == ".pdf":
		return "", fmt.Errorf("file claims pdf but missing %%PDF header: name=%s", originalName)
	case utf8.Valid(data):
		text = collapseWhitespace(string(data))
	default:
		return "", fmt.Errorf("unsupported syllabus format: name=%s", originalName)
	}
	if text == "" {
		return "", fmt.Errorf("no text found in syllabus: name=%s", originalName)
	}
	return truncateRunes(text, maxChars), nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return collapseWhitespace(string(b)), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, " ", " ")), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
