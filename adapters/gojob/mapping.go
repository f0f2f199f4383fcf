package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-notify/core"
)

// RetryPolicy bounds how often a failed send is handed back to the queue.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: time.Minute, DeadLetterOnMax: true}
}

// Exhausted reports whether attempt has used up the budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Nack clamps opts for attempt. Past the budget a message is never requeued;
// it is dead lettered when DeadLetterOnMax is set and dropped otherwise.
func (p RetryPolicy) Nack(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	out.Delay = max(out.Delay, 0)
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	if out.DeadLetter {
		out.Requeue = false
	} else if !p.Exhausted(attempt) {
		out.Requeue = true
	}
	if p.Exhausted(attempt) {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	return out
}

func toJobMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     maps.Clone(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromJobMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     maps.Clone(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// QueueEnqueuer exposes a go-job enqueuer as a core.JobEnqueuer.
type QueueEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewQueueEnqueuer(enqueuer queue.Enqueuer) *QueueEnqueuer {
	return &QueueEnqueuer{enqueuer: enqueuer}
}

func (a *QueueEnqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, toJobMessage(msg))
	return err
}

// QueueDequeuer exposes a go-job dequeuer as a core.JobDequeuer.
type QueueDequeuer struct {
	dequeuer queue.Dequeuer
}

func NewQueueDequeuer(dequeuer queue.Dequeuer) *QueueDequeuer {
	return &QueueDequeuer{dequeuer: dequeuer}
}

func (a *QueueDequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return &queueDelivery{delivery: delivery}, nil
}

type queueDelivery struct {
	delivery queue.Delivery
}

func (d *queueDelivery) Message() *core.JobExecutionMessage {
	return fromJobMessage(d.delivery.Message())
}

func (d *queueDelivery) Ack(ctx context.Context) error {
	return d.delivery.Ack(ctx)
}

func (d *queueDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.delivery.Nack(ctx, queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	})
}

// WorkerHook forwards go-job worker lifecycle events to a core.JobWorkerHook
// so a go-job worker pool can report through the same hooks as Worker.
type WorkerHook struct {
	hook core.JobWorkerHook
}

func NewWorkerHook(hook core.JobWorkerHook) *WorkerHook {
	return &WorkerHook{hook: hook}
}

func (a *WorkerHook) OnStart(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnStart(ctx, workerEvent(event))
	}
}

func (a *WorkerHook) OnSuccess(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnSuccess(ctx, workerEvent(event))
	}
}

func (a *WorkerHook) OnFailure(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnFailure(ctx, workerEvent(event))
	}
}

func (a *WorkerHook) OnRetry(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnRetry(ctx, workerEvent(event))
	}
}

func workerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   fromJobMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

var (
	_ core.JobEnqueuer = (*QueueEnqueuer)(nil)
	_ core.JobDequeuer = (*QueueDequeuer)(nil)
	_ core.JobDelivery = (*queueDelivery)(nil)
	_ worker.Hook      = (*WorkerHook)(nil)
)
