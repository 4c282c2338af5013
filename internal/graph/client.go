package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Retry constants.
const (
	// maxAttempts is the primary retry ceiling for the Graph API.
	maxAttempts = 8

	// whitelistAttempts is the reduced ceiling for caller-whitelisted
	// statuses (eventually-consistent metadata that may 404 briefly).
	whitelistAttempts = 3

	// networkBackoffFloor is the minimum wait after a socket/DNS failure.
	// Connection-level failures against Graph usually mean connection
	// throttling, not a transient blip, so short retries only make it worse.
	networkBackoffFloor = 10 * time.Second

	// defaultMaxInflight caps concurrent requests process-wide when the
	// caller does not configure a bound.
	defaultMaxInflight = 16

	defaultUserAgent = "sitevault/0.1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// Go convention "accept interfaces, return structs"; auth.go provides the
// client-credentials implementation.
type TokenSource interface {
	Token() (string, error)
}

// RequestOptions tune a single call.
type RequestOptions struct {
	// Headers are added to every attempt of the request.
	Headers http.Header

	// RetryStatuses whitelists extra status codes as retryable, under the
	// reduced whitelistAttempts budget. Used for metadata endpoints that
	// 404 briefly after item creation.
	RetryStatuses []int

	// NoAuth skips the Authorization header. Pre-authenticated download
	// URLs reject bearer headers on some CDN frontends.
	NoAuth bool
}

// Client is an HTTP client for the Microsoft Graph API. It attaches bearer
// tokens, retries throttling and overload responses with backoff and
// jitter, honors Retry-After hints, and funnels every outbound call
// through a process-wide in-flight cap.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	inflight   *semaphore.Weighted
	logger     *slog.Logger
	userAgent  string

	// sleepFunc waits between retries. Tests override it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// jitterFunc returns the uniform [0,1) jitter fraction. Tests pin it.
	jitterFunc func() float64
}

// NewClient creates a Graph API client. baseURL is typically
// "https://graph.microsoft.com/v1.0". maxInflight bounds concurrent
// requests across all workers; <=0 uses the default.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, maxInflight int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		inflight:   semaphore.NewWeighted(int64(maxInflight)),
		logger:     logger,
		userAgent:  defaultUserAgent,
		sleepFunc:  sleepContext,
		jitterFunc: rand.Float64,
	}
}

// SetUserAgent overrides the User-Agent header sent with every request.
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// Do executes a request against the Graph API with default options.
// path is appended to the base URL. body may be nil; it is buffered so
// retries can replay it. The caller must close the response body.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return c.DoOpts(ctx, method, path, body, RequestOptions{})
}

// DoOpts executes a request with explicit options. Retry policy:
//   - network failures and 429/503/504 retry under the primary budget (8)
//   - statuses in opts.RetryStatuses retry under the reduced budget (3)
//   - everything else is terminal immediately
//
// Wait before attempt n+1 is max(Retry-After, 2^n + uniform(0,1) seconds);
// network failures never wait less than 10 seconds.
func (c *Client) DoOpts(ctx context.Context, method, path string, body []byte, opts RequestOptions) (*http.Response, error) {
	url := c.baseURL + path
	if len(path) > 4 && path[:4] == "http" {
		// Continuation links come back as absolute URLs.
		url = path
	}

	var attempt, whitelistAttempt int

	for {
		resp, err := c.doOnce(ctx, method, url, body, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
			}

			if attempt+1 >= maxAttempts {
				return nil, &APIError{
					StatusCode: 0,
					Message:    Sanitize(err.Error()),
					Err:        ErrNetwork,
				}
			}

			wait := c.backoff(attempt, 0)
			if wait < networkBackoffFloor {
				wait = networkBackoffFloor
			}

			c.logger.Warn("retrying after network error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", Sanitize(err.Error())),
			)

			if sleepErr := c.sleepFunc(ctx, wait); sleepErr != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		retryable := isRetryable(resp.StatusCode, opts.RetryStatuses)
		whitelisted := !isRetryable(resp.StatusCode, nil) && retryable

		budgetLeft := attempt+1 < maxAttempts
		if whitelisted {
			budgetLeft = budgetLeft && whitelistAttempt+1 < whitelistAttempts
		}

		if retryable && budgetLeft {
			wait := c.backoff(attempt, serverHint(resp))
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
			)

			if err := c.sleepFunc(ctx, wait); err != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", err)
			}

			attempt++
			if whitelisted {
				whitelistAttempt++
			}

			continue
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Message:    extractMessage(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// doOnce executes a single attempt. The in-flight semaphore is held from
// request start until the response body is closed, so streaming downloads
// count against the cap; backoff sleeps never hold a slot because error
// bodies are closed before sleeping.
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, opts RequestOptions) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if !opts.NoAuth {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", c.userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring request slot: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.inflight.Release(1)
		return nil, err
	}

	resp.Body = &releaseOnClose{
		ReadCloser: resp.Body,
		release:    func() { c.inflight.Release(1) },
	}

	return resp, nil
}

// releaseOnClose returns a semaphore slot when the response body is
// closed. Idempotent: retry paths and callers both close defensively.
type releaseOnClose struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)

	return err
}

// backoff computes the wait before the next attempt:
// max(hint, 2^attempt + uniform(0,1) seconds).
func (c *Client) backoff(attempt int, hint time.Duration) time.Duration {
	exp := time.Duration(1<<attempt) * time.Second
	exp += time.Duration(c.jitterFunc() * float64(time.Second))

	if hint > exp {
		return hint
	}

	return exp
}

// serverHint reads the Retry-After header, zero if absent or malformed.
func serverHint(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}

	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// sleepContext waits for d or until ctx is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
