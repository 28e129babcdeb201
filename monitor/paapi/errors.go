package paapi

import "errors"

// Error taxonomy for the remote vendor API. Callers decide recovery:
// throttling is handled by the governor, quota exhaustion triggers the
// scrape fallback, and inaccessible items are dropped from the candidate
// pool while the pipeline continues.
var (
	ErrThrottled         = errors.New("paapi: request throttled")
	ErrQuotaExhausted    = errors.New("paapi: request quota exhausted")
	ErrItemNotAccessible = errors.New("paapi: item not accessible")
)
