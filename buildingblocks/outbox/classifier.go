package outbox

// RetryClassifier reports errors that must not be retried. Rows failing
// with such an error are marked INVALID at once.
type RetryClassifier interface {
	IsNonRetryable(err error) bool
}

// RetryClassifierFunc adapts a function to RetryClassifier.
type RetryClassifierFunc func(err error) bool

// IsNonRetryable calls fn. A nil fn treats every error as retryable.
func (fn RetryClassifierFunc) IsNonRetryable(err error) bool {
	if fn == nil {
		return false
	}

	return fn(err)
}
