package gojob

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/dispatch"
)

const (
	JobIDSend       = "notify.send"
	JobIDSendToUser = "notify.send_to_user"

	paramRequest = "request"
	paramAttempt = "attempt"
)

// sendPayload is the queued form of a send. It travels as a JSON string
// parameter so any go-job backend can persist it unchanged.
type sendPayload struct {
	UserID     string                   `json:"user_id,omitempty"`
	Channels   []string                 `json:"channels,omitempty"`
	Message    core.NotificationMessage `json:"message"`
	Priority   core.Priority            `json:"priority,omitempty"`
	MaxRetries int                      `json:"max_retries,omitempty"`
	Targets    map[string]string        `json:"targets,omitempty"`
}

func (p sendPayload) request() dispatch.SendRequest {
	req := dispatch.SendRequest{
		Channels:   append([]string(nil), p.Channels...),
		Message:    p.Message,
		Priority:   p.Priority,
		MaxRetries: p.MaxRetries,
	}
	if len(p.Targets) > 0 {
		req.Targets = make(map[string]core.Target, len(p.Targets))
		for channelID, address := range p.Targets {
			req.Targets[channelID] = core.Target{Address: address}
		}
	}
	return req
}

func payloadFromRequest(req dispatch.SendRequest) sendPayload {
	payload := sendPayload{
		Channels:   append([]string(nil), req.Channels...),
		Message:    req.Message,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
	}
	if len(req.Targets) > 0 {
		payload.Targets = make(map[string]string, len(req.Targets))
		for channelID, target := range req.Targets {
			payload.Targets[channelID] = target.Address
		}
	}
	return payload
}

func encodeJob(jobID string, key string, attempt int, payload sendPayload) (*core.JobExecutionMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gojob: encode %s payload: %w", jobID, err)
	}
	return &core.JobExecutionMessage{
		JobID:      jobID,
		ScriptPath: jobID,
		Parameters: map[string]any{
			paramRequest: string(raw),
			paramAttempt: attempt,
		},
		IdempotencyKey: attemptKey(key, attempt),
		DedupPolicy:    "drop",
	}, nil
}

func decodeJob(msg *core.JobExecutionMessage) (sendPayload, int, error) {
	var payload sendPayload
	if msg == nil {
		return payload, 0, fmt.Errorf("gojob: execution message is required")
	}
	raw, ok := msg.Parameters[paramRequest].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return payload, 0, fmt.Errorf("gojob: %s message has no request parameter", msg.JobID)
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, 0, fmt.Errorf("gojob: decode %s payload: %w", msg.JobID, err)
	}
	return payload, attemptOf(msg.Parameters[paramAttempt]), nil
}

// attemptOf reads the attempt counter, which a JSON backed queue may hand
// back as a float or json.Number.
func attemptOf(raw any) int {
	switch value := raw.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		n, _ := value.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(value)
		return n
	}
	return 1
}

// attemptKey keeps follow-up attempts from colliding with the original under
// the queue's dedup policy.
func attemptKey(key string, attempt int) string {
	key = strings.TrimSpace(key)
	if i := strings.LastIndex(key, "#"); i > 0 {
		if _, err := strconv.Atoi(key[i+1:]); err == nil {
			key = key[:i]
		}
	}
	if attempt <= 1 {
		return key
	}
	return key + "#" + strconv.Itoa(attempt)
}
