// Package client implements the authenticated HTTP transport: bearer
// authorized JSON/msgpack requests against the Filen gateway with
// bounded Fibonacci retries, a global request semaphore, a runtime
// reconfigurable token-bucket rate limiter and chunk transfer to the
// ingest/egest storage nodes.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Sentinel errors for transport failure classification.
var (
	// ErrUnauthenticated indicates a request that requires an API key
	// was attempted before login.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrMaxRetriesExceeded indicates all retry attempts failed.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrResponse indicates the response body could not be decoded.
	ErrResponse = errors.New("malformed response")

	// ErrTimeout indicates the request exceeded its deadline.
	ErrTimeout = errors.New("request timeout")
)

// APIError is a non-retryable error envelope returned by the gateway.
type APIError struct {
	Code     string
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Endpoint, e.Message, e.Code)
}

// Defaults shared by every client.
const (
	DefaultGatewayURL = "https://gateway.filen.io"
	DefaultIngestURL  = "https://ingest.filen.io"
	DefaultEgestURL   = "https://egest.filen.io"

	DefaultAttempts            = 7
	DefaultMaxBackoff          = 30 * time.Second
	DefaultTimeout             = 2 * time.Minute
	DefaultMaxParallelRequests = 32
)

// Config holds the transport configuration.
type Config struct {
	GatewayURL string
	IngestURL  string
	EgestURL   string

	// Attempts is the number of tries per logical request.
	Attempts int
	// MaxBackoff caps each Fibonacci backoff sleep.
	MaxBackoff time.Duration
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
	// MaxParallelRequests bounds in-flight authorized requests.
	MaxParallelRequests int64
	// RequestsPerSecond enables the token-bucket rate limiter when > 0.
	RequestsPerSecond int

	Logger *logrus.Logger
}

// DefaultConfig returns the production gateway configuration.
func DefaultConfig() Config {
	return Config{
		GatewayURL:          DefaultGatewayURL,
		IngestURL:           DefaultIngestURL,
		EgestURL:            DefaultEgestURL,
		Attempts:            DefaultAttempts,
		MaxBackoff:          DefaultMaxBackoff,
		Timeout:             DefaultTimeout,
		MaxParallelRequests: DefaultMaxParallelRequests,
	}
}

// Client is the shared transport. It is safe for concurrent use; the
// API key and rate limiter are guarded by their own locks.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *logrus.Logger

	apiKeyMu sync.RWMutex
	apiKey   string

	limiterMu sync.RWMutex
	limiter   *rate.Limiter

	sem *semaphore.Weighted
}

// New builds a transport from cfg, filling zero fields with defaults.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = def.GatewayURL
	}
	if cfg.IngestURL == "" {
		cfg.IngestURL = def.IngestURL
	}
	if cfg.EgestURL == "" {
		cfg.EgestURL = def.EgestURL
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxParallelRequests <= 0 {
		cfg.MaxParallelRequests = def.MaxParallelRequests
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	c := &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxParallelRequests),
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}
	return c
}

// SetAPIKey installs the bearer key obtained at login.
func (c *Client) SetAPIKey(key string) {
	c.apiKeyMu.Lock()
	c.apiKey = key
	c.apiKeyMu.Unlock()
}

// APIKey returns the current bearer key, empty before login.
func (c *Client) APIKey() string {
	c.apiKeyMu.RLock()
	defer c.apiKeyMu.RUnlock()
	return c.apiKey
}

// MaxParallelRequests reports the request semaphore width.
func (c *Client) MaxParallelRequests() int64 {
	return c.cfg.MaxParallelRequests
}

// SetRateLimit reconfigures the per-second request ceiling at runtime.
// perSecond <= 0 disables the limiter.
func (c *Client) SetRateLimit(perSecond int) {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

// waitRate blocks on the token bucket when one is configured.
func (c *Client) waitRate(ctx context.Context) error {
	c.limiterMu.RLock()
	limiter := c.limiter
	c.limiterMu.RUnlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// acquire takes a request permit; the returned release must be called.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { c.sem.Release(1) }, nil
}

// fibBackoff returns the attempt'th Fibonacci delay in seconds
// (0, 1, 1, 2, 3, 5, 8, ...) capped at max.
func fibBackoff(attempt int, max time.Duration) time.Duration {
	a, b := 0, 1
	for i := 0; i < attempt; i++ {
		a, b = b, a+b
		if time.Duration(a)*time.Second >= max {
			return max
		}
	}
	d := time.Duration(a) * time.Second
	if d > max {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable wraps an error that should trigger another attempt.
type retryable struct {
	err error
}

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// classifyTransportError decides whether a round-trip failure warrants
// a retry: timeouts and dial failures do, everything else is terminal.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retryable{fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return retryable{err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return retryable{err}
	}
	return err
}

// doRetry runs the request loop: each attempt rebuilds the request from
// the cached body, waits for the rate limiter, sends, and lets handle
// classify the response. handle returns nil on success, a retryable
// error to try again, or any other error to stop.
func (c *Client) doRetry(ctx context.Context, endpoint string, build func() (*http.Request, error), handle func(*http.Response) error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		if attempt > 0 {
			backoff := fibBackoff(attempt, c.cfg.MaxBackoff)
			c.logger.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt,
				"backoff":  backoff.String(),
			}).Warn("Retrying request after backoff")
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
		}
		if err := c.waitRate(ctx); err != nil {
			return err
		}

		req, err := build()
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			classified := classifyTransportError(err)
			var r retryable
			if errors.As(classified, &r) {
				lastErr = r.err
				c.logger.WithFields(logrus.Fields{
					"endpoint": endpoint,
					"attempt":  attempt + 1,
					"error":    err.Error(),
				}).Warn("Request failed, will retry")
				continue
			}
			return fmt.Errorf("%s: %w", endpoint, err)
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.logger.WithFields(logrus.Fields{
				"endpoint":    endpoint,
				"attempt":     attempt + 1,
				"status_code": resp.StatusCode,
			}).Warn("Retryable status code, will retry")
			continue
		}

		err = handle(resp)
		resp.Body.Close()
		if err == nil {
			return nil
		}
		var r retryable
		if errors.As(err, &r) {
			lastErr = r.err
			c.logger.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt + 1,
				"error":    r.err.Error(),
			}).Warn("Retryable response, will retry")
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrMaxRetriesExceeded, endpoint, c.cfg.Attempts, lastErr)
}
