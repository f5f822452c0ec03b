// Package platform implements the outbound client for the chat
// platform's moderation API. The enforcement applier is its only
// caller.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/enforce"
	"github.com/wardenhq/warden/internal/metrics"
)

// Options configures the REST client.
type Options struct {
	// BaseURL of the platform API, e.g. "https://api.example.chat".
	BaseURL string

	// Token is sent as the Authorization bearer token.
	Token string

	// UserAgent for outbound requests. If empty, "warden" is used.
	UserAgent string

	// RequestsPerMinute bounds calls per scope with a local sliding
	// window, below the platform's own limit so 429s stay rare.
	// If zero, 50 is used.
	RequestsPerMinute int64

	// HTTPClient overrides the default retrying client. Used in tests.
	HTTPClient *http.Client
}

// REST performs moderation calls against the platform's HTTP API.
// It implements enforce.PlatformClient.
//
// Transport-level failures and 5xx responses are retried inside the
// HTTP client; 429 is deliberately passed through so it can be
// classified as retryable with the platform's requested delay.
type REST struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client

	perMinute int64
	mu        sync.Mutex
	limiters  map[string]*slidingwindow.Limiter
}

var _ enforce.PlatformClient = (*REST)(nil)

// NewREST creates a platform client.
func NewREST(opts Options) (*REST, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid platform base URL: %w", err)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "warden"
	}
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = 50
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newRetryingClient()
	}

	return &REST{
		baseURL:   opts.BaseURL,
		token:     opts.Token,
		userAgent: opts.UserAgent,
		http:      httpClient,
		perMinute: opts.RequestsPerMinute,
		limiters:  make(map[string]*slidingwindow.Limiter),
	}, nil
}

// newRetryingClient builds the default HTTP client: pooled transport,
// retries on connection errors and 5xx, 429 passed through for
// classification by the caller.
func newRetryingClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledZerolog{inner: log.Logger})
	retryClient.CheckRetry = noRateLimitRetryPolicy

	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}

// noRateLimitRetryPolicy treats 429 as non-retryable at the transport
// level so the applier can back off for the platform-requested delay
// instead of hammering the same window.
func noRateLimitRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// leveledZerolog adapts zerolog to retryablehttp's LeveledLogger, with
// client ERROR rewritten to WARN because failures there are retried.
type leveledZerolog struct {
	inner zerolog.Logger
}

func (l leveledZerolog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Info(msg string, keysAndValues ...any) {
	l.inner.Info().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug().Fields(keysAndValues).Msg(msg)
}

// restrictionBody is the JSON payload for applying a restriction.
type restrictionBody struct {
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	IssuerID  string     `json:"issuer_id"`
}

// Apply puts the action's restriction in place. Warnings are
// record-only and never reach the platform.
func (c *REST) Apply(ctx context.Context, a *action.Action) error {
	if a.Kind == action.KindWarning {
		return nil
	}
	if err := c.allow(a.ScopeID); err != nil {
		return err
	}

	body, err := json.Marshal(restrictionBody{
		ExpiresAt: a.ExpiresAt,
		Reason:    a.Reason,
		IssuerID:  a.IssuerID,
	})
	if err != nil {
		return &enforce.FatalError{Err: fmt.Errorf("failed to encode restriction body: %w", err)}
	}

	resp, err := c.send(ctx, http.MethodPut, c.restrictionURL(a), body)
	if err != nil {
		return &enforce.RetryableError{Err: err}
	}
	defer resp.Body.Close()

	return classify("apply", resp)
}

// Retract lifts the action's restriction. A restriction that is
// already absent counts as success.
func (c *REST) Retract(ctx context.Context, a *action.Action) error {
	if a.Kind == action.KindWarning {
		return nil
	}
	if err := c.allow(a.ScopeID); err != nil {
		return err
	}

	resp, err := c.send(ctx, http.MethodDelete, c.restrictionURL(a), nil)
	if err != nil {
		return &enforce.RetryableError{Err: err}
	}
	defer resp.Body.Close()

	// The restriction being gone is the state we wanted.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}

	return classify("retract", resp)
}

func (c *REST) restrictionURL(a *action.Action) string {
	return fmt.Sprintf("%s/v1/guilds/%s/members/%s/restrictions/%s",
		c.baseURL, url.PathEscape(a.ScopeID), url.PathEscape(a.SubjectID), url.PathEscape(string(a.Kind)))
}

func (c *REST) send(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

// allow checks the local per-scope rate limit. A denied request is
// reported as retryable so the applier backs off instead of queueing.
func (c *REST) allow(scopeID string) error {
	c.mu.Lock()
	lim, ok := c.limiters[scopeID]
	if !ok {
		lim, _ = slidingwindow.NewLimiter(time.Minute, c.perMinute, func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
		c.limiters[scopeID] = lim
	}
	c.mu.Unlock()

	if !lim.Allow() {
		metrics.PlatformRateLimitWaitsTotal.Inc()
		return &enforce.RetryableError{
			Err:        fmt.Errorf("local rate limit reached for scope %s", scopeID),
			RetryAfter: 5 * time.Second,
		}
	}
	return nil
}

// classify maps a platform response to the enforcement error taxonomy.
func classify(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("platform %s returned %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &enforce.RetryableError{Err: err, RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &enforce.RetryableError{Err: err}
	default:
		// 400/401/403/404 and friends: retrying the same request
		// cannot change the answer.
		return &enforce.FatalError{Err: err}
	}
}

// retryAfter parses the Retry-After header, in seconds.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
