// Package httpclient provides the single shared HTTP transport used by
// every provider strategy: connection pooling, timeout policy, and retry
// with exponential backoff + jitter, per spec §4.4.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/marrow-labs/quotawatch/internal/classify"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultMaxRetries     = 2
	defaultBaseDelay      = 1 * time.Second
	defaultMaxDelay       = 60 * time.Second
)

// RequestOption mutates an outgoing *http.Request before it is sent.
type RequestOption func(*http.Request)

// Response is the normalized result of a request: the status code, the
// fully-read body, and — for JSON helpers — any decode error. A non-nil
// JSONErr does not mean the HTTP call itself failed; callers (see
// provider.CheckResponse) check both err and resp.JSONErr.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	JSONErr    error
}

// OnRetryFunc is invoked before each retry wait, for observability.
type OnRetryFunc func(attempt int, delay time.Duration)

// Client issues HTTP requests through the shared transport with the
// retry policy of spec §4.4 applied to every call.
type Client struct {
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	onRetry    OnRetryFunc
}

var (
	sharedTransport   *http.Transport
	sharedHTTPClient  *http.Client
	sharedClientMu    sync.Mutex
)

// borrowSharedClient returns the process-wide *http.Client, creating it
// lazily. Callers never own it — it's closed exactly once at process
// exit via Close().
func borrowSharedClient() *http.Client {
	sharedClientMu.Lock()
	defer sharedClientMu.Unlock()
	if sharedHTTPClient != nil {
		return sharedHTTPClient
	}
	sharedTransport = &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&timeoutDialer{connectTimeout: defaultConnectTimeout}).DialContext,
	}
	sharedHTTPClient = &http.Client{
		Transport: sharedTransport,
		// Redirects are followed by default (CheckRedirect left nil);
		// the overall per-request timeout below still applies since it
		// is enforced via context, not client.Timeout.
	}
	return sharedHTTPClient
}

// Close shuts down the shared transport's idle connections. Call exactly
// once, from the CLI entry point, after the orchestrator has finished.
func Close() {
	sharedClientMu.Lock()
	defer sharedClientMu.Unlock()
	if sharedTransport != nil {
		sharedTransport.CloseIdleConnections()
	}
}

type timeoutDialer struct {
	connectTimeout time.Duration
}

func (d *timeoutDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.connectTimeout}
	return dialer.DialContext(ctx, network, addr)
}

// NewWithTimeout creates a Client with the given overall per-request
// timeout and the default retry policy (2 retries, 1s base, 60s max).
func NewWithTimeout(timeout time.Duration) *Client {
	return &Client{
		timeout:    timeout,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
}

// NewFromConfig creates a Client from a fetch.timeout-style float64
// seconds value, matching config.FetchConfig.Timeout's unit.
func NewFromConfig(timeoutSeconds float64) *Client {
	return NewWithTimeout(time.Duration(timeoutSeconds * float64(time.Second)))
}

// WithRetryPolicy overrides the retry count and backoff bounds.
func (c *Client) WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *Client {
	c.maxRetries = maxRetries
	c.baseDelay = baseDelay
	c.maxDelay = maxDelay
	return c
}

// WithOnRetry installs a callback invoked before each retry delay.
func (c *Client) WithOnRetry(fn OnRetryFunc) *Client {
	c.onRetry = fn
	return c
}

// DoCtx performs a single logical request (with retries per spec §4.4)
// and returns the fully-read Response. It never returns a JSON error —
// that field is only populated by GetJSONCtx and friends.
func (c *Client) DoCtx(ctx context.Context, method, url string, body []byte, opts ...RequestOption) (*Response, error) {
	return c.handleRequest(ctx, method, url, body, opts...)
}

// GetCtx is DoCtx with method GET and no body.
func (c *Client) GetCtx(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.DoCtx(ctx, http.MethodGet, url, nil, opts...)
}

// GetJSONCtx performs a GET and decodes the JSON body into out. A decode
// failure is reported via Response.JSONErr, not the returned error —
// the HTTP call itself may have succeeded even if the body didn't parse.
func (c *Client) GetJSONCtx(ctx context.Context, url string, out any, opts ...RequestOption) (*Response, error) {
	resp, err := c.GetCtx(ctx, url, opts...)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && len(resp.Body) > 0 {
		if decErr := json.Unmarshal(resp.Body, out); decErr != nil {
			resp.JSONErr = decErr
		}
	}
	return resp, nil
}

// PostJSONCtx performs a POST with a JSON-encoded payload and decodes
// the JSON response into out, following the same JSONErr convention as
// GetJSONCtx.
func (c *Client) PostJSONCtx(ctx context.Context, url string, payload any, out any, opts ...RequestOption) (*Response, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = encoded
	}
	opts = append([]RequestOption{WithHeader("Content-Type", "application/json")}, opts...)
	resp, err := c.DoCtx(ctx, http.MethodPost, url, body, opts...)
	if err != nil {
		return resp, err
	}
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && len(resp.Body) > 0 {
		if decErr := json.Unmarshal(resp.Body, out); decErr != nil {
			resp.JSONErr = decErr
		}
	}
	return resp, nil
}

// PostFormCtx performs a POST with a `application/x-www-form-urlencoded`
// body built from form and decodes the JSON response into out, following
// the same JSONErr convention as GetJSONCtx.
func (c *Client) PostFormCtx(ctx context.Context, url string, form map[string]string, out any, opts ...RequestOption) (*Response, error) {
	values := neturl.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	body := []byte(values.Encode())
	opts = append([]RequestOption{WithHeader("Content-Type", "application/x-www-form-urlencoded")}, opts...)
	resp, err := c.DoCtx(ctx, http.MethodPost, url, body, opts...)
	if err != nil {
		return resp, err
	}
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && len(resp.Body) > 0 {
		if decErr := json.Unmarshal(resp.Body, out); decErr != nil {
			resp.JSONErr = decErr
		}
	}
	return resp, nil
}

// PostForm is PostFormCtx against context.Background(), for callers (device
// flow polling loops, token refreshes outside a request context) that don't
// carry one.
func (c *Client) PostForm(url string, form map[string]string, out any, opts ...RequestOption) (*Response, error) {
	return c.PostFormCtx(context.Background(), url, form, out, opts...)
}

// SummarizeBody trims an error response body to a single-line summary
// suitable for embedding in a FetchResult error message.
func SummarizeBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty body"
	}
	s = strings.Join(strings.Fields(s), " ")
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

// handleRequest implements spec §4.4's retry policy: retryable
// transport errors and 429/500/502/503/504 responses are retried with
// exponential backoff + jitter (or the server's Retry-After value),
// up to maxRetries times. Non-retryable failures return immediately.
func (c *Client) handleRequest(ctx context.Context, method, url string, body []byte, opts ...RequestOption) (*Response, error) {
	client := borrowSharedClient()

	for attempt := 0; ; attempt++ {
		reqCtx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			return nil, err
		}
		for _, opt := range opts {
			opt(req)
		}

		httpResp, err := client.Do(req)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			classified := classify.ClassifyError(err)
			if !classified.Retryable || attempt >= c.maxRetries {
				return nil, err
			}
			c.wait(ctx, attempt, 0)
			continue
		}

		respBody, readErr := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		if cancel != nil {
			cancel()
		}
		if readErr != nil {
			if attempt >= c.maxRetries {
				return nil, readErr
			}
			c.wait(ctx, attempt, 0)
			continue
		}

		resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}

		classified := classify.ClassifyStatus(httpResp.StatusCode)
		if !classified.Retryable || attempt >= c.maxRetries {
			return resp, nil
		}

		retryAfter := time.Duration(0)
		if classified.ConsultRetry {
			retryAfter = parseRetryAfter(httpResp.Header.Get("Retry-After"))
		}
		c.wait(ctx, attempt, retryAfter)
	}
}

func (c *Client) wait(ctx context.Context, attempt int, retryAfter time.Duration) {
	delay := classify.RetryDelay(attempt, c.baseDelay, c.maxDelay, retryAfter, jitter)
	if c.onRetry != nil {
		c.onRetry(attempt, delay)
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// jitter returns up to +25% of d, chosen uniformly at random.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)/4 + 1))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// IsTimeout reports whether err represents the overall request timeout
// (as opposed to some other transport failure).
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
