package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/matzehuels/stackpack/pkg/errors"
)

// CheckStatus classifies an HTTP response status. 2xx is success; 5xx and
// 429 are retryable network errors; every other status is permanent.
func CheckStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "status %d", code)
	case code == http.StatusTooManyRequests:
		return &RetryableError{
			Err:   errors.New(errors.ErrCodeNetwork, "rate limited: status %d", code),
			After: retryAfter(resp.Header.Get("Retry-After")),
		}
	case code >= 500:
		return &RetryableError{Err: errors.New(errors.ErrCodeNetwork, "status %d", code)}
	default:
		return errors.New(errors.ErrCodeNetwork, "status %d", code)
	}
}

// retryAfter parses a Retry-After header given in seconds. HTTP dates are
// ignored and yield zero.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
