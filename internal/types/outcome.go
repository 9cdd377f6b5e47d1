package types

import (
	"fmt"
	"time"
)

// OutcomeKind classifies the result of a single fetch attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeServerError
	OutcomeTransient
	OutcomeForbidden
	OutcomeNotFound
	OutcomeNotHTML
	OutcomeFailed
	OutcomeCanceled
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeSuccess:     "success",
	OutcomeRateLimited: "rate_limited",
	OutcomeServerError: "server_error",
	OutcomeTransient:   "transient",
	OutcomeForbidden:   "forbidden",
	OutcomeNotFound:    "not_found",
	OutcomeNotHTML:     "not_html",
	OutcomeFailed:      "failed",
	OutcomeCanceled:    "canceled",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Retryable reports whether another attempt may succeed.
func (k OutcomeKind) Retryable() bool {
	switch k {
	case OutcomeRateLimited, OutcomeServerError, OutcomeTransient:
		return true
	}
	return false
}

// Outcome is the classified result of one fetch attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int

	// RetryAfter is the server-advertised wait on a 429, zero if absent.
	RetryAfter time.Duration

	// Err carries the underlying failure for non-success kinds.
	Err error
}

// Reason maps a terminal outcome to the failure reason recorded for it.
// Retryable kinds map to max_retries_exceeded; callers only ask once
// attempts are exhausted.
func (o Outcome) Reason() FailureReason {
	switch o.Kind {
	case OutcomeSuccess:
		return ""
	case OutcomeForbidden:
		return ReasonForbidden
	case OutcomeNotFound:
		return ReasonNotFound
	case OutcomeNotHTML:
		return ReasonNotHTML
	case OutcomeRateLimited, OutcomeServerError, OutcomeTransient:
		return ReasonMaxRetriesExceeded
	}
	if o.Err != nil {
		return ExceptionReason(errorDetail(o.Err))
	}
	return ExceptionReason(o.Kind.String())
}

func errorDetail(err error) string {
	if fe, ok := err.(*FetchError); ok && fe.Err != nil {
		return fe.Err.Error()
	}
	return err.Error()
}
