package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
	"golang.org/x/time/rate"
)

type ThrottledError struct {
	ChannelID  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ratelimit: channel %q throttled for %s", strings.TrimSpace(e.ChannelID), e.RetryAfter)
	}
	return fmt.Sprintf("ratelimit: channel %q has no permit available", strings.TrimSpace(e.ChannelID))
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"channel_id": strings.TrimSpace(e.ChannelID),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return core.NewKindError(core.ErrorKindRateLimited, e.Error(), metadata).
		WithCode(http.StatusTooManyRequests)
}

type bucket struct {
	spec    core.RateLimitSpec
	limiter *rate.Limiter

	mu             sync.Mutex
	throttledUntil time.Time
}

// Limiter keeps one token bucket per channel. Buckets are independent: a
// channel draining its permits never delays another channel's refill.
// Channels without a configured bucket are always admitted.
type Limiter struct {
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	buckets map[string]*bucket
}

func NewLimiter() *Limiter {
	return &Limiter{
		Now:     func() time.Time { return time.Now().UTC() },
		Sleep:   sleepContext,
		buckets: map[string]*bucket{},
	}
}

// Configure installs or replaces the bucket for channelID. A zero spec removes
// the bucket, leaving the channel unlimited.
func (l *Limiter) Configure(channelID string, spec core.RateLimitSpec) {
	if l == nil {
		return
	}
	channelID = normalizeChannelID(channelID)
	if channelID == "" {
		return
	}
	if spec.IsZero() {
		l.Remove(channelID)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]*bucket{}
	}
	if current, ok := l.buckets[channelID]; ok && current.spec == spec {
		return
	}
	l.buckets[channelID] = &bucket{
		spec:    spec,
		limiter: rate.NewLimiter(rate.Limit(spec.PerSecond()), spec.Capacity()),
	}
}

func (l *Limiter) Remove(channelID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, normalizeChannelID(channelID))
}

// Spec returns the spec installed for channelID.
func (l *Limiter) Spec(channelID string) (core.RateLimitSpec, bool) {
	b := l.bucket(channelID)
	if b == nil {
		return core.RateLimitSpec{}, false
	}
	return b.spec, true
}

// TryAcquire takes a permit without waiting.
func (l *Limiter) TryAcquire(channelID string) bool {
	b := l.bucket(channelID)
	if b == nil {
		return true
	}
	now := l.now()
	if b.penalized(now) > 0 {
		return false
	}
	return b.limiter.AllowN(now, 1)
}

// Acquire waits up to timeout for a permit. A reservation whose delay exceeds
// the timeout is cancelled so the token is returned to the bucket.
func (l *Limiter) Acquire(ctx context.Context, channelID string, timeout time.Duration) bool {
	return l.AcquireErr(ctx, channelID, timeout) == nil
}

// AcquireErr is Acquire reporting why no permit was granted. The error is a
// ThrottledError or the context error.
func (l *Limiter) AcquireErr(ctx context.Context, channelID string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b := l.bucket(channelID)
	if b == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := l.now()
	if timeout <= 0 {
		if penalty := b.penalized(now); penalty > 0 {
			return ThrottledError{ChannelID: channelID, RetryAfter: penalty}
		}
		if b.limiter.AllowN(now, 1) {
			return nil
		}
		return ThrottledError{ChannelID: channelID, RetryAfter: b.refillDelay(now)}
	}

	penalty := b.penalized(now)
	if penalty > timeout {
		return ThrottledError{ChannelID: channelID, RetryAfter: penalty}
	}
	reservation := b.limiter.ReserveN(now.Add(penalty), 1)
	if !reservation.OK() {
		return ThrottledError{ChannelID: channelID}
	}
	delay := penalty + reservation.DelayFrom(now.Add(penalty))
	if delay > timeout {
		reservation.CancelAt(now)
		return ThrottledError{ChannelID: channelID, RetryAfter: delay}
	}
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		reservation.CancelAt(l.now())
		return err
	}
	return nil
}

// Penalize blocks channelID until now+retryAfter. Providers answering 429
// with a Retry-After hint feed it here so the bucket stops admitting sends the
// provider would refuse anyway.
func (l *Limiter) Penalize(channelID string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	b := l.bucket(channelID)
	if b == nil {
		return
	}
	until := l.now().Add(retryAfter)
	b.mu.Lock()
	defer b.mu.Unlock()
	if until.After(b.throttledUntil) {
		b.throttledUntil = until
	}
}

// Tokens reports the permits currently available for channelID, or -1 when the
// channel is unlimited.
func (l *Limiter) Tokens(channelID string) float64 {
	b := l.bucket(channelID)
	if b == nil {
		return -1
	}
	return b.limiter.TokensAt(l.now())
}

// refillDelay estimates when the next whole permit becomes available.
func (b *bucket) refillDelay(now time.Time) time.Duration {
	perSecond := float64(b.limiter.Limit())
	if perSecond <= 0 {
		return 0
	}
	deficit := 1 - b.limiter.TokensAt(now)
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / perSecond * float64(time.Second))
}

func (b *bucket) penalized(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.throttledUntil.IsZero() || !now.Before(b.throttledUntil) {
		return 0
	}
	return b.throttledUntil.Sub(now)
}

func (l *Limiter) bucket(channelID string) *bucket {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[normalizeChannelID(channelID)]
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	if l != nil && l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
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

func normalizeChannelID(channelID string) string {
	return strings.TrimSpace(channelID)
}

// RetryAfter extracts a provider backoff hint from response headers. Both the
// delta-seconds and HTTP-date forms of Retry-After are accepted.
func RetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := httpDate(raw); err == nil {
		if retryAt.After(now) {
			return retryAt.Sub(now), true
		}
	}
	return 0, false
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("ratelimit: empty date")
	}
	if parsed, err := http.ParseTime(value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("ratelimit: invalid http date")
}
