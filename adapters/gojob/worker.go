package gojob

import (
	"context"
	"errors"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-notify/adapters/gologger"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/dispatch"
	"github.com/goliatone/go-notify/retry"
)

const defaultIdleDelay = time.Second

// Sender is the subset of dispatch.Manager a Worker drives.
type Sender interface {
	Send(ctx context.Context, req dispatch.SendRequest) (core.SendResult, error)
	SendToUser(ctx context.Context, userID string, message core.NotificationMessage) (core.SendResult, error)
}

type WorkerOption func(*Worker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) { w.policy = policy }
}

// WithBackoff sets the delay used when a whole message is handed back to
// the queue.
func WithBackoff(policy retry.Policy) WorkerOption {
	return func(w *Worker) { w.backoff = policy }
}

func WithHook(hook core.JobWorkerHook) WorkerOption {
	return func(w *Worker) { w.hook = hook }
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) WorkerOption {
	return func(w *Worker) { w.loggerProvider = provider }
}

func WithIdleDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) { w.idle = delay }
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

// Worker drains queued sends into a Sender. Channels that fail with a
// transient kind are re-queued as a follow-up notify.send carrying only those
// channels, so delivered channels are never sent twice. A notify.send_to_user
// job runs once; its failures stay in the audit log.
type Worker struct {
	dequeuer       core.JobDequeuer
	sender         Sender
	queue          *SendQueue
	policy         RetryPolicy
	backoff        retry.Policy
	hook           core.JobWorkerHook
	logger         core.Logger
	loggerProvider core.LoggerProvider
	jobLoggers     gologger.JobLoggers
	idle           time.Duration
	now            func() time.Time
}

func NewWorker(dequeuer core.JobDequeuer, sender Sender, queue *SendQueue, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, queueDependency("gojob: dequeuer is required")
	}
	if sender == nil {
		return nil, queueDependency("gojob: sender is required")
	}
	w := &Worker{
		dequeuer: dequeuer,
		sender:   sender,
		queue:    queue,
		policy:   DefaultRetryPolicy(),
		idle:     defaultIdleDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger, w.jobLoggers = gologger.ForJobs("jobs", w.loggerProvider, w.logger)
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w, nil
}

// JobLoggers returns the worker's logger in go-job form, for callers that run
// a go-job worker pool next to this one.
func (w *Worker) JobLoggers() gologger.JobLoggers {
	return w.jobLoggers
}

// Run processes deliveries until ctx is done. Dequeue errors are logged and
// retried after the idle delay.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log(ctx, "warn", "notify job dequeue failed", "error", err.Error())
			timer := time.NewTimer(w.idle)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

func (w *Worker) ProcessNext(ctx context.Context) error {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	return w.Process(ctx, delivery)
}

// Process settles one delivery. The returned error only reports a failed
// ack or nack; send failures are settled on the queue.
func (w *Worker) Process(ctx context.Context, delivery core.JobDelivery) error {
	msg := delivery.Message()
	event := core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: w.now()}

	payload, attempt, err := decodeJob(msg)
	if err == nil && msg.JobID != JobIDSend && msg.JobID != JobIDSendToUser {
		err = fmt.Errorf("gojob: unsupported job %q", msg.JobID)
	}
	if err != nil {
		event.Err = err
		w.hookFailure(ctx, event)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}
	event.Attempt = attempt
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}

	var result core.SendResult
	if msg.JobID == JobIDSendToUser {
		result, err = w.sender.SendToUser(ctx, payload.UserID, payload.Message)
	} else {
		result, err = w.sender.Send(ctx, payload.request())
	}
	event.Duration = w.now().Sub(event.StartedAt)
	if err != nil {
		return w.settleError(ctx, delivery, event, err)
	}

	pending := pendingChannels(result)
	if len(pending) == 0 || msg.JobID == JobIDSendToUser {
		if !result.Success() {
			event.Err = fmt.Errorf("gojob: %d of %d channels failed", failedCount(result), len(result.Results))
			w.hookFailure(ctx, event)
		} else if w.hook != nil {
			w.hook.OnSuccess(ctx, event)
		}
		return delivery.Ack(ctx)
	}

	event.Err = fmt.Errorf("gojob: %d channels pending retry", len(pending))
	if w.policy.Exhausted(attempt) || w.queue == nil {
		w.log(ctx, "warn", "notify send retries exhausted",
			"notification_id", result.NotificationID, "attempt", attempt, "pending", len(pending))
		return w.settle(ctx, delivery, event, core.JobNackOptions{Reason: "retries exhausted"}, attempt)
	}
	follow := payload
	follow.Channels = pending
	if err := w.queue.requeue(ctx, msg.IdempotencyKey, attempt+1, follow); err != nil {
		w.log(ctx, "error", "notify send requeue failed", "notification_id", result.NotificationID, "error", err.Error())
		return w.settle(ctx, delivery, event, core.JobNackOptions{Requeue: true, Delay: w.backoff.Delay(attempt - 1), Reason: err.Error()}, attempt)
	}
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
	return delivery.Ack(ctx)
}

func (w *Worker) settleError(ctx context.Context, delivery core.JobDelivery, event core.JobWorkerEvent, err error) error {
	event.Err = err
	if errors.Is(err, context.Canceled) || core.KindOf(err) == core.ErrorKindTimeout {
		return w.settle(ctx, delivery, event, core.JobNackOptions{
			Requeue: true,
			Delay:   w.backoff.Delay(event.Attempt - 1),
			Reason:  err.Error(),
		}, event.Attempt)
	}
	w.hookFailure(ctx, event)
	return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
}

func (w *Worker) settle(ctx context.Context, delivery core.JobDelivery, event core.JobWorkerEvent, opts core.JobNackOptions, attempt int) error {
	opts = w.policy.Nack(opts, attempt)
	switch {
	case opts.Requeue:
		event.Delay = opts.Delay
		if w.hook != nil {
			w.hook.OnRetry(ctx, event)
		}
		return delivery.Nack(ctx, opts)
	case opts.DeadLetter:
		w.hookFailure(ctx, event)
		return delivery.Nack(ctx, opts)
	default:
		w.hookFailure(ctx, event)
		return delivery.Ack(ctx)
	}
}

func (w *Worker) hookFailure(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *Worker) log(ctx context.Context, level string, msg string, args ...any) {
	logger := glog.Ensure(w.logger).WithContext(ctx)
	switch level {
	case "error":
		logger.Error(msg, args...)
	case "warn":
		logger.Warn(msg, args...)
	default:
		logger.Info(msg, args...)
	}
}

// pendingChannels lists channels whose failure may clear on a later attempt.
func pendingChannels(result core.SendResult) []string {
	var out []string
	for _, item := range result.Results {
		if item.Success {
			continue
		}
		switch item.ErrorKind {
		case core.ErrorKindRateLimited, core.ErrorKindTimeout, core.ErrorKindProvider, core.ErrorKindMaxRetriesExceeded:
			out = append(out, item.ChannelID)
		}
	}
	return out
}

func failedCount(result core.SendResult) int {
	n := 0
	for _, item := range result.Results {
		if !item.Success {
			n++
		}
	}
	return n
}
