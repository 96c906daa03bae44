// Package recgov is the client for the recreation.gov permit availability
// API. Every request goes through a throttle, a circuit breaker and a bounded
// retry loop; failures come back as *TransportError or *DecodeError and are
// also reported line by line to the caller's report sink.
package recgov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/username/permit-finder/internal/report"
	"github.com/username/permit-finder/pkg/dateutil"
	"github.com/username/permit-finder/pkg/random"
)

const (
	DefaultBaseURL   = "https://www.recreation.gov"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "permit-finder/1.0"
	maxDetailBytes   = 512
)

// Doer performs a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy configures retries of transport failures
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the retry settings used when none are configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// Options configures a Client
type Options struct {
	BaseURL            string
	UserAgent          string
	RequestTimeout     time.Duration // per attempt
	MinRequestInterval time.Duration // minimum spacing between requests
	Retry              RetryPolicy
}

// Client fetches permit availability from recreation.gov
type Client struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	retry     RetryPolicy
	doer      Doer
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
	logger    *zap.Logger
	sleepFn   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client
type Option func(*Client)

// WithDoer replaces the HTTP transport
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// WithSleepFunc overrides the wait between retries (tests use a no-op)
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleepFn = fn
	}
}

// NewClient creates a new availability API client
func NewClient(opts Options, logger *zap.Logger, extra ...Option) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}
	if opts.Retry.MaxRetries < 0 {
		opts.Retry.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.MinRequestInterval > 0 {
		limit = rate.Every(opts.MinRequestInterval)
	}

	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		timeout:   opts.RequestTimeout,
		retry:     opts.Retry,
		doer:      &http.Client{},
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		sleepFn:   sleepContext,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "recgov",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: isHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	for _, opt := range extra {
		opt(c)
	}

	return c
}

// AvailabilityURL builds the request URL for one park and date range
func (c *Client) AvailabilityURL(parkID int, start, end time.Time) string {
	q := url.Values{}
	q.Set("start_date", dateutil.FormatDate(start))
	q.Set("end_date", dateutil.FormatDate(end))
	return fmt.Sprintf("%s/api/permitinyo/%d/availability?%s", c.baseURL, parkID, q.Encode())
}

// FetchAvailability fetches availability of every trail of a park between
// start and end (inclusive calendar days)
func (c *Client) FetchAvailability(ctx context.Context, w report.Sink, parkID int, start, end time.Time) (*AvailabilityResponse, error) {
	var resp AvailabilityResponse
	if err := c.FetchJSON(ctx, w, c.AvailabilityURL(parkID, start, end), &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("Availability fetched",
		zap.Int("park_id", parkID),
		zap.String("start_date", dateutil.FormatDate(start)),
		zap.String("end_date", dateutil.FormatDate(end)),
		zap.Int("days", resp.Days()))

	return &resp, nil
}

// FetchJSON issues a GET for rawURL and decodes the JSON body into out.
// Failures are written to w and returned as *TransportError or *DecodeError.
// If ctx itself is done the context error is returned unreported.
func (c *Client) FetchJSON(ctx context.Context, w report.Sink, rawURL string, out interface{}) error {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var te *TransportError
		if errors.As(err, &te) {
			if te.StatusCode > 0 {
				report.Printf(w, "Failed to fetch data. Status code: %d", te.StatusCode)
			} else {
				w.WriteLine("Failed to fetch data.")
			}
			if te.Detail != "" {
				w.WriteLine(te.Detail)
			}
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		w.WriteLine("Failed to parse JSON response")
		c.logger.Warn("Failed to decode response",
			zap.String("url", rawURL),
			zap.Error(err))
		return &DecodeError{URL: rawURL, Err: err}
	}

	return nil
}

// get performs the request with throttling, circuit breaking and retries
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	maxAttempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransportError{URL: rawURL, Detail: err.Error(), Err: err, permanent: true}
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.attempt(ctx, rawURL)
		})
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{
				URL:       rawURL,
				Detail:    "circuit breaker is open; upstream service unavailable",
				Err:       err,
				permanent: true,
			}
		}

		lastErr = err
		var te *TransportError
		if !errors.As(err, &te) || !te.Retryable() {
			break
		}

		if attempt < maxAttempts-1 {
			wait := c.computeBackoff(attempt, te.retryAfter)
			c.logger.Warn("Request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Int("status", te.StatusCode),
				zap.Duration("wait", wait),
				zap.Error(err))
			if err := c.sleepFn(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

// attempt performs exactly one HTTP exchange under the per-request deadline
func (c *Client) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Detail: err.Error(), Err: err, permanent: true}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("Fetching", zap.String("url", rawURL))

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("failed to read response: %v", err),
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Detail:     excerpt(body),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	return body, nil
}

// computeBackoff honours Retry-After when the server sent one, otherwise
// exponential backoff with jitter clamped to [MinWait, MaxWait]
func (c *Client) computeBackoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > c.retry.MaxWait {
			return c.retry.MaxWait
		}
		return retryAfter
	}

	base := float64(c.retry.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(c.retry.MaxWait); base > maxWait {
		base = maxWait
	}

	return random.Between(c.retry.MinWait, time.Duration(base))
}

// isHealthy decides what the circuit breaker counts as a failure. Client
// errors and caller cancellation say nothing about upstream health.
func isHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return !te.Retryable()
	}
	return false
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if wait := t.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailBytes {
		s = s[:maxDetailBytes] + "..."
	}
	return s
}

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
