package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-notify/core"
)

const (
	defaultReplayWindow     = 5 * time.Minute
	defaultReplayMaxEntries = 8192
)

type ReplayDecision string

const (
	ReplayFresh     ReplayDecision = "fresh"
	ReplayDuplicate ReplayDecision = "duplicate"
	ReplayExpired   ReplayDecision = "expired"
)

// ReplayGuard rejects timestamps outside the skew window and remembers each
// delivery's nonce or signature for one window. Keys are scoped per
// endpoint. When the ledger is full the entry closest to expiry is evicted.
type ReplayGuard struct {
	window     time.Duration
	maxEntries int
	Now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewReplayGuard(cfg core.ReplayConfig) *ReplayGuard {
	window := cfg.Window
	if window <= 0 {
		window = defaultReplayWindow
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultReplayMaxEntries
	}
	return &ReplayGuard{
		window:     window,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (g *ReplayGuard) Window() time.Duration {
	return g.window
}

// Check classifies a verified delivery. A fresh delivery is remembered, so a
// second Check with the same key inside the window reports a duplicate.
// Deliveries with neither nonce nor signature cannot be deduplicated and are
// always fresh.
func (g *ReplayGuard) Check(endpointID string, verification Verification) ReplayDecision {
	now := g.now()
	if verification.HasTimestamp() {
		skew := now.Sub(verification.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > g.window {
			return ReplayExpired
		}
	}
	key := replayKey(endpointID, verification)
	if key == "" {
		return ReplayFresh
	}
	if !g.claim(key, now) {
		return ReplayDuplicate
	}
	return ReplayFresh
}

func (g *ReplayGuard) claim(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entries == nil {
		g.entries = map[string]time.Time{}
	}
	if expiresAt, ok := g.entries[key]; ok {
		if now.Before(expiresAt) {
			return false
		}
		delete(g.entries, key)
	}
	for len(g.entries) >= g.maxEntries {
		if !g.evictExpiredLocked(now) {
			g.evictOldestLocked()
		}
	}
	g.entries[key] = now.Add(g.window)
	return true
}

// Release forgets the delivery so the same nonce or signature is fresh again.
// The receiver calls it when dispatch fails.
func (g *ReplayGuard) Release(endpointID string, verification Verification) {
	key := replayKey(endpointID, verification)
	if g == nil || key == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// PurgeExpired drops entries whose window has passed and reports how many
// were removed.
func (g *ReplayGuard) PurgeExpired(_ context.Context) int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	purged := 0
	for key, expiresAt := range g.entries {
		if !now.Before(expiresAt) {
			delete(g.entries, key)
			purged++
		}
	}
	return purged
}

// Run purges expired entries every interval until ctx is done.
func (g *ReplayGuard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = g.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.PurgeExpired(ctx)
		}
	}
}

func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *ReplayGuard) evictExpiredLocked(now time.Time) bool {
	evicted := false
	for key, expiresAt := range g.entries {
		if !now.Before(expiresAt) {
			delete(g.entries, key)
			evicted = true
		}
	}
	return evicted
}

func (g *ReplayGuard) evictOldestLocked() {
	var oldestKey string
	var oldestExpiry time.Time
	for key, expiry := range g.entries {
		if oldestKey == "" || expiry.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = expiry
		}
	}
	delete(g.entries, oldestKey)
}

func (g *ReplayGuard) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func replayKey(endpointID string, verification Verification) string {
	if nonce := strings.TrimSpace(verification.Nonce); nonce != "" {
		return endpointID + ":nonce:" + nonce
	}
	if signature := strings.TrimSpace(verification.Signature); signature != "" {
		return endpointID + ":sig:" + signature
	}
	return ""
}
