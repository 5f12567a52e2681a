package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrRateLimited marks a throttled request; it is the only retryable outcome.
var ErrRateLimited = errors.New("rate limited")

// ErrNoRating is returned when a page was fetched but carried no rating.
var ErrNoRating = errors.New("no rating found")

// Outcome is the classification of one extractor attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTransient   Outcome = "transient"
	OutcomePermanent   Outcome = "permanent"
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Is lets errors.Is(err, ErrRateLimited) match a 429 response.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.Code == http.StatusTooManyRequests
}

// TransientError wraps a network or protocol fault.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Classify maps an extractor error onto an Outcome. Anything that is neither
// rate limiting nor a recognizable network fault is permanent.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, ErrRateLimited) {
		return OutcomeRateLimited
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return OutcomeTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeTransient
	}
	return OutcomePermanent
}
