// Package inspect queries the external search-index inspection service under
// quota, with bounded retry on transient failure.
package inspect

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying (timeout, 5xx, 429).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient inspection error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that must not be retried (404, auth error). The
// affected URL is recorded with an ERROR verdict and the run continues.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal inspection error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// QuotaExceededError signals the service's daily quota is spent. It halts
// the remaining inspection queue for the run; completed results stay durable
// and the run seals PARTIAL.
type QuotaExceededError struct {
	Err error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("inspection quota exceeded: %v", e.Err)
}

func (e *QuotaExceededError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsQuotaExceeded reports whether err signals daily quota exhaustion.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
