package inbound

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type claimState uint8

const (
	claimRunning claimState = iota + 1
	claimRetryable
	claimDone
)

type claim struct {
	id      string
	state   claimState
	runs    int
	ttl     time.Duration
	until   time.Time
	retryAt time.Time
}

// MemoryClaimStore keeps claims in process. Running claims whose lease has
// lapsed are handed out again so a crashed handler does not pin an event.
type MemoryClaimStore struct {
	Now func() time.Time

	mu     sync.Mutex
	byKey  map[string]*claim
	owners map[string]string
	seq    int
}

var _ ClaimStore = (*MemoryClaimStore)(nil)

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		byKey:  map[string]*claim{},
		owners: map[string]string{},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: claim key is required", nil)
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	current, exists := s.byKey[key]
	if exists {
		switch current.state {
		case claimRunning, claimDone:
			if now.Before(current.until) {
				return "", false, nil
			}
		case claimRetryable:
			if now.Before(current.retryAt) {
				return "", false, nil
			}
		}
		delete(s.owners, current.id)
	} else {
		current = &claim{}
		s.byKey[key] = current
	}

	s.seq++
	current.id = "claim-" + strconv.Itoa(s.seq)
	current.state = claimRunning
	current.runs++
	current.ttl = ttl
	current.until = now.Add(ttl)
	current.retryAt = time.Time{}
	s.owners[current.id] = key
	return current.id, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.settle(claimID, func(c *claim, now time.Time) {
		c.state = claimDone
		c.until = now.Add(c.ttl)
	})
}

func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.settle(claimID, func(c *claim, now time.Time) {
		if retryAt.IsZero() {
			retryAt = now
		}
		c.state = claimRetryable
		c.retryAt = retryAt.UTC()
		c.until = time.Time{}
	})
}

// Runs reports how many times key has been claimed.
func (s *MemoryClaimStore) Runs(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byKey[key]; ok {
		return c.runs
	}
	return 0
}

func (s *MemoryClaimStore) settle(claimID string, apply func(*claim, time.Time)) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.owners[claimID]
	if !ok {
		return nil
	}
	delete(s.owners, claimID)
	current, exists := s.byKey[key]
	if !exists || current.id != claimID || current.state != claimRunning {
		return nil
	}
	apply(current, s.now())
	return nil
}

func (s *MemoryClaimStore) sweepLocked(now time.Time) {
	for key, c := range s.byKey {
		if c.state == claimDone && !now.Before(c.until) {
			delete(s.owners, c.id)
			delete(s.byKey, key)
		}
	}
}

func (s *MemoryClaimStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
