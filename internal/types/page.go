package types

import (
	"strings"
	"time"
)

// Page is one successfully collected document.
type Page struct {
	URL     string `json:"url" bson:"url"`
	Title   string `json:"title" bson:"title"`
	Content string `json:"content" bson:"content"`
}

// FailureReason is a short machine-readable cause attached to a URL that
// did not produce a Page.
type FailureReason string

const (
	ReasonBlockedByRobots    FailureReason = "blocked_by_robots"
	ReasonOutOfDomain        FailureReason = "out_of_domain"
	ReasonSkippedExtension   FailureReason = "skipped_extension"
	ReasonInvalidURL         FailureReason = "invalid_url"
	ReasonForbidden          FailureReason = "forbidden_403"
	ReasonNotFound           FailureReason = "not_found_404"
	ReasonNotHTML            FailureReason = "not_html"
	ReasonMaxRetriesExceeded FailureReason = "max_retries_exceeded"
	ReasonNoContent          FailureReason = "no_content"

	exceptionPrefix = "exception: "
)

// ExceptionReason builds the reason recorded for unexpected errors.
func ExceptionReason(detail string) FailureReason {
	return FailureReason(exceptionPrefix + detail)
}

// IsException reports whether the reason was built by ExceptionReason.
func (r FailureReason) IsException() bool {
	return strings.HasPrefix(string(r), exceptionPrefix)
}

// Retryable reports whether a URL failing with this reason belongs in the
// failure ledger. Terminal outcomes (robots, 403, 404, non-HTML) never do.
func (r FailureReason) Retryable() bool {
	return r == ReasonMaxRetriesExceeded || r.IsException()
}

// FailureRecord is one failure ledger entry.
type FailureRecord struct {
	URL       string        `json:"url"`
	Reason    FailureReason `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}
