// Package reliability classifies failures and computes retry backoff.
package reliability

import (
	"errors"
	"strings"
	"time"

	"github.com/ricfalco/pdfmate/internal/pdf"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// documentErrorMarkers are substrings pdfcpu produces for structurally
// broken or unsupported input documents.
var documentErrorMarkers = []string{
	"validat",
	"xref",
	"corrupt",
	"encrypt",
	"malformed",
	"dictionary",
	"parse",
	"unsupported",
	"no page",
}

// IsUserDocumentError reports whether a transform failure was caused by
// the user's document rather than by the service. User errors are worth
// explaining in the chat reply; everything else gets a generic notice.
func IsUserDocumentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pdf.ErrInsufficientInput) || errors.Is(err, pdf.ErrSourceNotFound) {
		return true
	}
	var rerr *pdf.RenderError
	if errors.As(err, &rerr) {
		msg := strings.ToLower(rerr.Error())
		for _, marker := range documentErrorMarkers {
			if strings.Contains(msg, marker) {
				return true
			}
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
