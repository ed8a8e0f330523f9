package policy

import (
	"strings"
	"testing"
)

func TestSanitizeErrorTextMasksPaths(t *testing.T) {
	in := "open /var/tmp/pdfmate-1234/ab12.pdf: no such file"
	out := SanitizeErrorText(in, 200)
	if strings.Contains(out, "/var/tmp") {
		t.Fatalf("path leaked: %q", out)
	}
	if !strings.Contains(out, "[file]") {
		t.Fatalf("expected path placeholder, got %q", out)
	}
}

func TestSanitizeErrorTextTruncates(t *testing.T) {
	in := strings.Repeat("x", 500)
	out := SanitizeErrorText(in, 200)
	if len([]rune(out)) > 201 {
		t.Fatalf("message not truncated: %d runes", len([]rune(out)))
	}
}

func TestSanitizeErrorTextCollapsesWhitespace(t *testing.T) {
	out := SanitizeErrorText("merge\n\tfailed   badly", 200)
	if out != "merge failed badly" {
		t.Fatalf("got %q", out)
	}
}
