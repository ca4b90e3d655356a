// Package fetch downloads resource content over HTTPS.
//
// # Overview
//
// [Downloader.Fetch] refuses any URL that is not https before touching the
// network, retries transient failures with exponential backoff, bounds
// each attempt with its own timeout, and verifies the SHA-256 checksum of
// the body when one is published.
//
// Transient failures are transport errors, per-attempt timeouts, 5xx and
// 429 responses. Any other 4xx is permanent. A checksum mismatch is never
// retried: the server returned the wrong bytes and asking again will not
// help.
//
// Verified bytes can be kept in a [cache.Cache] under their checksum so
// repeated installs of the same content skip the network.
package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/stackpack/pkg/buildinfo"
	"github.com/matzehuels/stackpack/pkg/cache"
	"github.com/matzehuels/stackpack/pkg/errors"
	"github.com/matzehuels/stackpack/pkg/httputil"
	"github.com/matzehuels/stackpack/pkg/observability"
)

// Defaults applied by [New] to zero-valued options.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxBytes   = 10 << 20
)

// Options configures a Downloader.
type Options struct {
	// Timeout bounds a single attempt, independent of backoff waits.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Use a
	// negative value to disable retries.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles each time.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBytes caps the response body size.
	MaxBytes int64

	// HTTPClient overrides the default client. Redirects to non-https
	// locations are always refused.
	HTTPClient *http.Client

	// Cache stores verified content by checksum. Nil disables caching.
	Cache cache.Cache
	Keyer cache.Keyer

	Logger *log.Logger
}

// Request identifies content to download.
type Request struct {
	URL    string
	SHA256 string // optional, hex
}

// Downloader fetches resource content. It is safe for concurrent use.
type Downloader struct {
	opts   Options
	client *http.Client
	logger *log.Logger
}

// New returns a Downloader with defaults applied.
func New(opts Options) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.UserAgent == "" {
		opts.UserAgent = buildinfo.UserAgent()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}

	var client http.Client
	if opts.HTTPClient != nil {
		client = *opts.HTTPClient
	}
	client.CheckRedirect = httpsOnly

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{opts: opts, client: &client, logger: logger}
}

func httpsOnly(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return stderrors.New("stopped after 10 redirects")
	}
	if !strings.EqualFold(req.URL.Scheme, "https") {
		return errors.New(errors.ErrCodeSecurity, "refusing redirect to %s", req.URL.Redacted())
	}
	return nil
}

// Fetch downloads req.URL and returns the body.
//
// Errors carry a code from package errors: SECURITY for non-https URLs,
// CHECKSUM on digest mismatch, NETWORK_ERROR or TIMEOUT once retries are
// exhausted, NOT_FOUND for 404, INVALID_INPUT for oversize bodies, and
// CANCELED when ctx ends.
func (d *Downloader) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if err := errors.ValidateURL(req.URL); err != nil {
		return nil, err
	}
	if err := errors.ValidateSHA256(req.SHA256); err != nil {
		return nil, err
	}
	u, _ := url.Parse(req.URL)
	want := normalizeHex(req.SHA256)

	if data, ok := d.fromCache(ctx, want); ok {
		return data, nil
	}

	policy := httputil.Policy{
		Retries:   d.opts.MaxRetries,
		BaseDelay: d.opts.BaseDelay,
		MaxDelay:  d.opts.MaxDelay,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			d.logger.Warn("retrying download", "url", u.Redacted(), "attempt", attempt, "wait", wait, "err", err)
			observability.HTTP().OnRetry(ctx, u.Host, u.Path, attempt, wait)
		},
	}

	var data []byte
	err := httputil.Retry(ctx, policy, func(int) error {
		var err error
		data, err = d.fetchOnce(ctx, u)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeCanceled, ctx.Err(), "fetch %s", u.Redacted())
		}
		return nil, err
	}

	if want != "" {
		if got := cache.Hash(data); got != want {
			return nil, errors.New(errors.ErrCodeChecksum, "checksum mismatch for %s: got %s, want %s", u.Redacted(), got, want)
		}
		d.toCache(ctx, want, data)
	}
	return data, nil
}

func (d *Downloader) fetchOnce(parent context.Context, u *url.URL) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "build request")
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	hooks := observability.HTTP()
	hooks.OnRequest(parent, req.Method, u.Host, u.Path)
	start := time.Now()

	resp, err := d.client.Do(req)
	if err != nil {
		hooks.OnError(parent, req.Method, u.Host, u.Path, err)
		return nil, d.transportError(parent, err, u)
	}
	defer resp.Body.Close()
	hooks.OnResponse(parent, req.Method, u.Host, u.Path, resp.StatusCode, time.Since(start))

	if err := httputil.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxBytes+1))
	if err != nil {
		return nil, d.transportError(parent, err, u)
	}
	if int64(len(data)) > d.opts.MaxBytes {
		return nil, errors.New(errors.ErrCodeInvalidInput, "response from %s exceeds %d bytes", u.Redacted(), d.opts.MaxBytes)
	}
	return data, nil
}

// transportError classifies a failed round trip or body read. Parent
// cancellation is final; everything else is worth another attempt.
func (d *Downloader) transportError(parent context.Context, err error, u *url.URL) error {
	if parent.Err() != nil {
		return errors.Wrap(errors.ErrCodeCanceled, parent.Err(), "fetch %s", u.Redacted())
	}
	var coded *errors.Error
	if stderrors.As(err, &coded) && coded.Code == errors.ErrCodeSecurity {
		return coded
	}
	if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeTimeout, err, "fetch %s timed out after %s", u.Redacted(), d.opts.Timeout)}
	}
	return &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "fetch %s", u.Redacted())}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return stderrors.As(err, &t) && t.Timeout()
}

func (d *Downloader) fromCache(ctx context.Context, want string) ([]byte, bool) {
	if d.opts.Cache == nil || want == "" {
		return nil, false
	}
	key := d.opts.Keyer.BlobKey(want)
	data, hit, err := d.opts.Cache.Get(ctx, key)
	if err != nil {
		d.logger.Debug("cache read failed", "key", key, "err", err)
		return nil, false
	}
	if !hit {
		observability.Cache().OnCacheMiss(ctx, "blob")
		return nil, false
	}
	if cache.Hash(data) != want {
		d.logger.Warn("discarding corrupt cache entry", "sha256", want)
		_ = d.opts.Cache.Delete(ctx, key)
		observability.Cache().OnCacheMiss(ctx, "blob")
		return nil, false
	}
	observability.Cache().OnCacheHit(ctx, "blob")
	return data, true
}

func (d *Downloader) toCache(ctx context.Context, want string, data []byte) {
	if d.opts.Cache == nil {
		return
	}
	if err := d.opts.Cache.Set(ctx, d.opts.Keyer.BlobKey(want), data, cache.TTLBlob); err != nil {
		d.logger.Debug("cache write failed", "sha256", want, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, "blob", len(data))
}

func normalizeHex(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
