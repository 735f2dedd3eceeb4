package rate

import "errors"

// ErrBackendUnavailable wraps any Redis failure underneath the limiter.
// Callers treat it as a fail-open signal, not a denial.
var ErrBackendUnavailable = errors.New("rate limiter backend unavailable")
