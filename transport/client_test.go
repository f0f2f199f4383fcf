package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-notify/core"
)

func TestClient_PostJSONSendsPayloadAndHeaders(t *testing.T) {
	var received map[string]any
	var contentType, auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.Client())
	res, err := client.PostJSON(context.Background(), server.URL, map[string]any{"text": "hello"}, map[string]string{
		"Authorization": "Bearer abc",
	})
	if err != nil {
		t.Fatalf("post json: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if contentType != "application/json" || auth != "Bearer abc" {
		t.Fatalf("unexpected headers: content-type=%q authorization=%q", contentType, auth)
	}
	if received["text"] != "hello" {
		t.Fatalf("unexpected payload: %#v", received)
	}
}

func TestClient_ClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status    int
		kind      core.ErrorKind
		retryable bool
	}{
		{status: http.StatusUnauthorized, kind: core.ErrorKindAuthFailure},
		{status: http.StatusForbidden, kind: core.ErrorKindAuthFailure},
		{status: http.StatusBadRequest, kind: core.ErrorKindFormat},
		{status: http.StatusTooManyRequests, kind: core.ErrorKindProvider, retryable: true},
		{status: http.StatusBadGateway, kind: core.ErrorKindProvider, retryable: true},
	}
	client := NewClient(nil)
	for _, tc := range cases {
		err := client.Classify(Response{StatusCode: tc.status, Body: []byte("nope")})
		if core.KindOf(err) != tc.kind {
			t.Fatalf("status %d: expected %q, got %q", tc.status, tc.kind, core.KindOf(err))
		}
		if core.IsRetryable(err) != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v", tc.status, tc.retryable)
		}
	}
	if err := client.Classify(Response{StatusCode: http.StatusNoContent}); err != nil {
		t.Fatalf("expected 204 to be success, got %v", err)
	}
}

func TestClient_TooManyRequestsCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client())
	_, err := client.PostJSON(context.Background(), server.URL, map[string]any{}, nil)
	delay, ok := RetryAfterHint(err)
	if !ok || delay != 12*time.Second {
		t.Fatalf("expected 12s retry hint, got %s %v", delay, ok)
	}
}

func TestClient_ProviderTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	httpClient := server.Client()
	httpClient.Timeout = 30 * time.Millisecond
	client := NewClient(httpClient)

	attempts := 0
	var lastErr error
	for attempts < 3 {
		attempts++
		_, lastErr = client.Do(context.Background(), Request{URL: server.URL})
		if !core.IsRetryable(lastErr) {
			break
		}
	}
	if attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected three attempts against a slow provider, got attempts=%d calls=%d", attempts, calls.Load())
	}
	var rich *goerrors.Error
	if !goerrors.As(lastErr, &rich) || rich.Metadata["timeout"] != true {
		t.Fatalf("expected timeout metadata on the provider error, got %v", lastErr)
	}
}

func TestClient_TimeoutAndInvalidURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.Client())
	_, err := client.Do(context.Background(), Request{URL: server.URL, Timeout: 20 * time.Millisecond})
	if core.KindOf(err) != core.ErrorKindProvider || !core.IsRetryable(err) {
		t.Fatalf("expected retryable provider error for a request timeout, got %q (%v)", core.KindOf(err), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Do(ctx, Request{URL: server.URL})
	if core.KindOf(err) != core.ErrorKindTimeout {
		t.Fatalf("expected timeout kind when the caller deadline passes, got %q (%v)", core.KindOf(err), err)
	}

	_, err = client.Do(context.Background(), Request{URL: "not a url"})
	if core.KindOf(err) != core.ErrorKindChannelUnavailable {
		t.Fatalf("expected channel unavailable for bad url, got %q", core.KindOf(err))
	}

	var nilClient *Client
	if _, err := nilClient.Do(context.Background(), Request{}); core.KindOf(err) != core.ErrorKindInternal {
		t.Fatalf("expected internal error from nil client, got %v", err)
	}
}
