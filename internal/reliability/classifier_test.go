package reliability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ricfalco/pdfmate/internal/pdf"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}

func TestIsUserDocumentError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"too few inputs", pdf.ErrInsufficientInput, true},
		{"missing source", fmt.Errorf("merge: %w", pdf.ErrSourceNotFound), true},
		{"broken xref", &pdf.RenderError{Path: "a.pdf", Err: errors.New("xref table corrupt")}, true},
		{"encrypted", &pdf.RenderError{Path: "a.pdf", Err: errors.New("encrypted document")}, true},
		{"disk full", &pdf.RenderError{Path: "a.pdf", Err: errors.New("write: no space left on device")}, false},
		{"plain io error", errors.New("open /tmp/x: permission denied"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUserDocumentError(tc.err); got != tc.want {
				t.Fatalf("IsUserDocumentError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second
	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, cap); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("attempt 10 = %v, want cap %v", got, cap)
	}
}
