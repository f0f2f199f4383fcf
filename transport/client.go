package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/ratelimit"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 1 << 20

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method  string
	URL     string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client executes provider HTTP calls and classifies their outcome into the
// notification error kinds: 401/403 are auth failures, 429 and 5xx are
// retryable provider errors, other 4xx are format errors.
type Client struct {
	HTTP                 HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewClient(doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		HTTP:                 doer,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

// PostJSON encodes payload and posts it, returning a classified error for any
// non-2xx status.
func (c *Client) PostJSON(ctx context.Context, target string, payload any, headers map[string]string) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindFormat, "transport: encode json payload", http.StatusUnprocessableEntity, nil)
	}
	merged := map[string]string{"Content-Type": "application/json"}
	for key, value := range headers {
		merged[key] = value
	}
	res, err := c.Do(ctx, Request{Method: http.MethodPost, URL: target, Headers: merged, Body: body})
	if err != nil {
		return res, err
	}
	return res, c.Classify(res)
}

func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.HTTP == nil {
		return Response{}, transportError(core.ErrorKindInternal, "transport: client requires an http doer", http.StatusInternalServerError, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		if err == nil {
			err = fmt.Errorf("transport: url must be absolute")
		}
		return Response{}, transportWrapError(err, core.ErrorKindChannelUnavailable, "transport: invalid request url", http.StatusBadRequest, nil)
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query.Set(strings.TrimSpace(key), value)
		}
		parsedURL.RawQuery = query.Encode()
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindFormat, "transport: create http request", http.StatusBadRequest, map[string]any{"method": method})
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), value)
		}
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), value)
		}
	}

	startedAt := time.Now()
	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, transportWrapError(err, core.ErrorKindTimeout, "transport: request deadline reached", http.StatusGatewayTimeout, map[string]any{"host": parsedURL.Host})
		}
		// The caller is still waiting, so a client or per-request timeout is
		// a provider failure and stays retryable.
		if isTimeout(err) {
			return Response{}, transportWrapError(err, core.ErrorKindProvider, "transport: provider timed out", http.StatusGatewayTimeout, map[string]any{"host": parsedURL.Host, "timeout": true})
		}
		return Response{}, transportWrapError(err, core.ErrorKindProvider, "transport: execute http request", http.StatusBadGateway, map[string]any{"host": parsedURL.Host})
	}
	defer httpRes.Body.Close()

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindProvider, "transport: read response body", http.StatusBadGateway, map[string]any{"status_code": httpRes.StatusCode})
	}
	if int64(len(body)) > limit {
		body = body[:limit]
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    httpRes.Header.Clone(),
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

// Classify maps a provider response to a kind error, or nil on 2xx.
func (c *Client) Classify(res Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	metadata := map[string]any{"status_code": res.StatusCode}
	if snippet := strings.TrimSpace(string(truncate(res.Body, 256))); snippet != "" {
		metadata["response"] = snippet
	}
	message := fmt.Sprintf("transport: provider responded %d", res.StatusCode)
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return transportError(core.ErrorKindAuthFailure, message, res.StatusCode, metadata)
	case res.StatusCode == http.StatusTooManyRequests:
		if delay, ok := ratelimit.RetryAfter(res.Headers, c.now()); ok {
			metadata[RetryAfterMetadataKey] = delay.Milliseconds()
		}
		return transportError(core.ErrorKindProvider, message, res.StatusCode, metadata)
	case res.StatusCode >= 500:
		return transportError(core.ErrorKindProvider, message, res.StatusCode, metadata)
	default:
		return transportError(core.ErrorKindFormat, message, res.StatusCode, metadata)
	}
}

const RetryAfterMetadataKey = "retry_after_ms"

func (c *Client) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func truncate(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}
	return body[:limit]
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
