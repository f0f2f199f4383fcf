package gojob

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/dispatch"
)

// SendQueue turns send requests into notify.send and notify.send_to_user
// execution messages.
type SendQueue struct {
	enqueuer core.JobEnqueuer
	newKey   func() string
}

func NewSendQueue(enqueuer core.JobEnqueuer) *SendQueue {
	return &SendQueue{enqueuer: enqueuer, newKey: uuid.NewString}
}

// EnqueueSend queues req. An empty key gets a fresh one; the key is returned
// so callers can correlate the eventual audit entries.
func (q *SendQueue) EnqueueSend(ctx context.Context, req dispatch.SendRequest, key string) (string, error) {
	if req.Message.IsZero() {
		return "", queueBadInput("message title or body is required")
	}
	if len(req.Channels) == 0 {
		return "", queueBadInput("at least one channel is required")
	}
	return q.enqueue(ctx, JobIDSend, key, payloadFromRequest(req))
}

func (q *SendQueue) EnqueueSendToUser(ctx context.Context, userID string, message core.NotificationMessage, key string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", queueBadInput("user id is required")
	}
	if message.IsZero() {
		return "", queueBadInput("message title or body is required")
	}
	return q.enqueue(ctx, JobIDSendToUser, key, sendPayload{UserID: strings.TrimSpace(userID), Message: message})
}

func (q *SendQueue) enqueue(ctx context.Context, jobID string, key string, payload sendPayload) (string, error) {
	if q == nil || q.enqueuer == nil {
		return "", queueDependency("gojob: send queue enqueuer is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = q.newKey()
	}
	msg, err := encodeJob(jobID, key, 1, payload)
	if err != nil {
		return "", err
	}
	if err := q.enqueuer.Enqueue(ctx, msg); err != nil {
		return "", err
	}
	return key, nil
}

// requeue schedules a follow-up attempt carrying only the channels that
// still need delivery.
func (q *SendQueue) requeue(ctx context.Context, key string, attempt int, payload sendPayload) error {
	if q == nil || q.enqueuer == nil {
		return queueDependency("gojob: send queue enqueuer is required")
	}
	msg, err := encodeJob(JobIDSend, key, attempt, payload)
	if err != nil {
		return err
	}
	return q.enqueuer.Enqueue(ctx, msg)
}
