// Package helpdesk is a read-only client for the helpdesk REST API. It
// handles authentication, per-request timeouts and the rate-limit and
// transient-failure retry protocol. It knows nothing about local storage.
package helpdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	qaerrors "github.com/hpungsan/qafinder/internal/errors"
)

// Retry protocol defaults.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxAttempts    = 6
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 40 * time.Second
	DefaultMaxRetryAfter  = 20 * time.Second
	DefaultMaxServerWait  = 10 * time.Second
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://acme.zendesk.com/api/v2".
	BaseURL string

	// Email and Token form the basic-auth credential pair. For API-token
	// auth Email is usually "<address>/token".
	Email string
	Token string

	// HTTPClient is used for all requests. Defaults to a client with no
	// overall timeout; each request is bounded by Timeout instead.
	HTTPClient *http.Client

	// Timeout bounds each individual request attempt.
	Timeout time.Duration

	// MaxAttempts caps the attempts for one Fetch, including the first.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxRetryAfter caps the wait honoured for a 429 Retry-After header.
	MaxRetryAfter time.Duration

	// MaxServerWait caps the wait after a 5xx or transport error.
	MaxServerWait time.Duration

	// Sleep waits for d or until ctx is done. Tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a helpdesk API client. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	email      string
	token      string
	httpClient *http.Client
	timeout    time.Duration

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxRetryAfter  time.Duration
	maxServerWait  time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewClient creates a Client. A missing credential is a configuration
// error naming every absent value; it is never retried.
func NewClient(config Config) (*Client, error) {
	var missing []string
	if config.BaseURL == "" {
		missing = append(missing, "base URL")
	}
	if config.Email == "" {
		missing = append(missing, "email")
	}
	if config.Token == "" {
		missing = append(missing, "token")
	}
	if len(missing) > 0 {
		return nil, qaerrors.NewConfig(missing)
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("helpdesk: parse base URL: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("helpdesk: base URL must be http(s) (got %q)", config.BaseURL)
	}

	c := &Client{
		baseURL:        base,
		email:          config.Email,
		token:          config.Token,
		httpClient:     config.HTTPClient,
		timeout:        config.Timeout,
		maxAttempts:    config.MaxAttempts,
		initialBackoff: config.InitialBackoff,
		maxBackoff:     config.MaxBackoff,
		maxRetryAfter:  config.MaxRetryAfter,
		maxServerWait:  config.MaxServerWait,
		sleep:          config.Sleep,
		logger:         config.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = DefaultInitialBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = DefaultMaxBackoff
	}
	if c.maxRetryAfter <= 0 {
		c.maxRetryAfter = DefaultMaxRetryAfter
	}
	if c.maxServerWait <= 0 {
		c.maxServerWait = DefaultMaxServerWait
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Fetch GETs pathOrURL and decodes the JSON body into out. pathOrURL is
// either relative to the base URL ("/tickets/1.json") or an absolute
// next-page URL returned by the API, in which case query is ignored.
//
// 429 responses wait for Retry-After (or the current backoff), capped at
// MaxRetryAfter. 5xx responses, other unexpected statuses and transport
// errors wait min(backoff, MaxServerWait). The backoff doubles after every
// retry up to MaxBackoff. 400/401/403/404/422 return an *APIError at once.
// When MaxAttempts is exhausted Fetch returns an INGEST_FAILED error
// wrapping the last failure.
func (c *Client) Fetch(ctx context.Context, pathOrURL string, query url.Values, out any) error {
	target, err := c.resolve(pathOrURL, query)
	if err != nil {
		return err
	}

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		body, header, status, err := c.get(ctx, target)

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			wait = min(backoff, c.maxServerWait)
		case status >= 200 && status < 300:
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("helpdesk: decode %s: %w", redact(target), err)
			}
			return nil
		case isPermanent(status):
			return parseAPIError(status, body, target)
		case status == http.StatusTooManyRequests:
			lastErr = parseAPIError(status, body, target)
			wait = min(retryAfter(header, backoff), c.maxRetryAfter)
		default:
			lastErr = parseAPIError(status, body, target)
			wait = min(backoff, c.maxServerWait)
		}

		if attempt >= c.maxAttempts {
			return qaerrors.NewIngestFailed(redact(target), attempt, lastErr)
		}

		c.logger.Warn("helpdesk request failed, backing off",
			"url", redact(target),
			"attempt", attempt,
			"wait", wait,
			"error", lastErr,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// get performs a single authenticated attempt bounded by the request timeout.
func (c *Client) get(ctx context.Context, target string) ([]byte, http.Header, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("helpdesk: create request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("helpdesk: GET %s: %w", redact(target), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("helpdesk: read response: %w", err)
	}
	return body, resp.Header, resp.StatusCode, nil
}

func (c *Client) resolve(pathOrURL string, query url.Values) (string, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		u, err := url.Parse(pathOrURL)
		if err != nil {
			return "", fmt.Errorf("helpdesk: parse next page URL: %w", err)
		}
		// Credentials only ever go to the configured API host.
		if !strings.EqualFold(u.Scheme, c.baseURL.Scheme) || !strings.EqualFold(u.Host, c.baseURL.Host) {
			return "", fmt.Errorf("helpdesk: next page URL %s is not on %s", redact(pathOrURL), c.baseURL.Host)
		}
		return pathOrURL, nil
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(pathOrURL, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func isPermanent(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// retryAfter reads a Retry-After header in seconds, falling back to def.
func retryAfter(header http.Header, def time.Duration) time.Duration {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// redact drops the query string, which may carry search terms, from log output.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
