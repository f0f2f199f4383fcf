package dispatch

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-notify/core"
)

// MemoryAuditLog keeps audit entries in append order.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []core.AuditEntry
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (l *MemoryAuditLog) Append(_ context.Context, entry core.AuditEntry) error {
	if l == nil {
		return badRequest("dispatch: audit log is nil")
	}
	if strings.TrimSpace(entry.NotificationID) == "" || strings.TrimSpace(entry.ChannelID) == "" {
		return badRequest("dispatch: audit entry notification id and channel id are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// List returns matching entries oldest first. A positive Limit keeps the most
// recent matches.
func (l *MemoryAuditLog) List(_ context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.AuditEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		if filter.NotificationID != "" && entry.NotificationID != filter.NotificationID {
			continue
		}
		if filter.ChannelID != "" && entry.ChannelID != filter.ChannelID {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		out = append(out, entry)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

var _ core.AuditLog = (*MemoryAuditLog)(nil)
