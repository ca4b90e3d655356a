// Package httputil provides HTTP retry helpers shared by the downloader.
//
// # Overview
//
//   - [Retry]: retry with exponential backoff for transient failures
//   - [CheckStatus]: map a response status onto a coded, possibly
//     retryable, error
//
// # Retry
//
// [Retry] re-runs an operation only when it fails with a
// [RetryableError]:
//
//   - Network errors and per-attempt timeouts
//   - 5xx server errors
//   - 429 rate limit responses (honoring a Retry-After in seconds)
//
// Everything else, including 4xx responses and checksum mismatches, is
// returned on the first failure.
//
//	err := httputil.Retry(ctx, httputil.Policy{Retries: 3, BaseDelay: time.Second},
//	    func(attempt int) error {
//	        return fetchOnce(ctx)
//	    })
//
// Retry n waits BaseDelay * 2^n. The wait observes ctx, so cancelling the
// batch aborts a pending backoff immediately.
package httputil
