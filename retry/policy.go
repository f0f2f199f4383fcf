package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/goliatone/go-notify/core"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
	defaultFactor    = 2.0
)

// Policy runs an operation with bounded exponential backoff. The delay before
// retry n (zero based) is at most min(BaseDelay*Factor^n, MaxDelay); jitter
// only shortens it, so the total sleep never exceeds the sum of those bounds.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64

	// Retryable defaults to core.IsRetryable.
	Retryable func(error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
	Rand      func() float64
	OnRetry   func(attempt int, delay time.Duration, err error)
}

type Outcome struct {
	Attempts int
	Backoff  time.Duration
	Elapsed  time.Duration
}

func FromConfig(cfg core.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Factor:      cfg.Factor,
		Jitter:      cfg.Jitter,
	}
}

// WithMaxAttempts returns a copy bounded to attempts. Non-positive values keep
// the current bound.
func (p Policy) WithMaxAttempts(attempts int) Policy {
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.BaseDelay == 0 && p.MaxDelay == 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = defaultFactor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.Retryable == nil {
		p.Retryable = core.IsRetryable
	}
	return p
}

// Delay reports the wait before retry attempt (zero based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if math.IsInf(raw, 0) || math.IsNaN(raw) || raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		random := rand.Float64
		if p.Rand != nil {
			random = p.Rand
		}
		raw *= 1 - random()*p.Jitter
	}
	delay := time.Duration(raw)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// MaxBackoff is the upper bound of total sleep across every retry of one
// execution: the sum of min(BaseDelay*Factor^n, MaxDelay).
func (p Policy) MaxBackoff() time.Duration {
	p = p.normalized()
	p.Jitter = 0
	var total time.Duration
	for attempt := 0; attempt < p.MaxAttempts-1; attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

// Execute calls op until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent. Exhaustion returns a max_retries_exceeded
// error wrapping the last failure; expiry of ctx returns a timeout error.
// A timeout inside op while ctx is still live is judged by Retryable like
// any other failure.
func (p Policy) Execute(ctx context.Context, op func(ctx context.Context, attempt int) error) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.normalized()
	startedAt := time.Now()
	outcome := Outcome{}
	finish := func(err error) (Outcome, error) {
		outcome.Elapsed = time.Since(startedAt)
		return outcome, err
	}
	if op == nil {
		return finish(core.NewKindError(core.ErrorKindInternal, "retry: operation is required"))
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(timeoutError(err, outcome.Attempts, lastErr))
		}
		outcome.Attempts++
		err := op(ctx, attempt+1)
		if err == nil {
			return finish(nil)
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(timeoutError(ctxErr, outcome.Attempts, lastErr))
		}
		if !p.Retryable(err) {
			return finish(err)
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return finish(timeoutError(err, outcome.Attempts, lastErr))
		}
		outcome.Backoff += delay
	}
	return finish(core.WrapKind(lastErr, core.ErrorKindMaxRetriesExceeded, "retry: attempts exhausted", map[string]any{
		"attempts": outcome.Attempts,
	}))
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func timeoutError(cause error, attempts int, lastErr error) error {
	metadata := map[string]any{"attempts": attempts}
	if lastErr != nil && !isContextError(lastErr) {
		metadata["last_error"] = lastErr.Error()
	}
	return core.WrapKind(cause, core.ErrorKindTimeout, "retry: deadline reached before delivery", metadata)
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
