// Package coordinator hands out time-leased exclusive claims on project
// ids. Claims live in memory only; they are leases over who may work,
// not durable state, so a restart simply drops them.
package coordinator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hive/internal/config"
	"hive/internal/domain"
)

var (
	// ErrNoClaim means no live claim exists for the project.
	ErrNoClaim = errors.New("no active claim")
	// ErrTokenMismatch means the presented claim_id does not match the
	// live claim's token.
	ErrTokenMismatch = errors.New("claim token mismatch")
)

// Conflict describes the live claim that beat an Acquire. It is a
// result, not an error: losing the race is an expected outcome.
type Conflict struct {
	CurrentOwner string `json:"current_owner"`
	ClaimedAt    string `json:"claimed_at"`
	ExpiresAt    string `json:"expires_at"`
}

type entry struct {
	mu    sync.Mutex
	claim *claim
	// dead marks an entry removed from the table by PurgeExpired. A
	// caller that raced the purge must re-fetch instead of writing into
	// the orphan.
	dead bool
}

type claim struct {
	id        string
	agentName string
	createdAt time.Time
	expiresAt time.Time
}

func (c *claim) expired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}

func (c *claim) toDomain(projectID string) domain.Claim {
	return domain.Claim{
		ClaimID:   c.id,
		ProjectID: projectID,
		AgentName: c.agentName,
		CreatedAt: c.createdAt.UTC().Format(time.RFC3339),
		ExpiresAt: c.expiresAt.UTC().Format(time.RFC3339),
	}
}

// Coordinator is the in-memory claim table. Safe for concurrent use.
// The outer mutex guards the key table; each key carries its own lock so
// contention on one project never serializes the others.
type Coordinator struct {
	cfg config.CoordinatorConfig
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func New(cfg config.CoordinatorConfig) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		Now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (c *Coordinator) entryFor(projectID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[projectID]
	if !ok {
		e = &entry{}
		c.entries[projectID] = e
	}
	return e
}

// lockEntry returns the entry for projectID with its lock held, creating
// it if absent. Only Acquire may grow the table.
func (c *Coordinator) lockEntry(projectID string) *entry {
	for {
		e := c.entryFor(projectID)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// peekEntry returns the live entry for projectID with its lock held, or
// nil when none exists. Read paths use it so a key PurgeExpired dropped
// stays dropped.
func (c *Coordinator) peekEntry(projectID string) *entry {
	for {
		c.mu.Lock()
		e := c.entries[projectID]
		c.mu.Unlock()
		if e == nil {
			return nil
		}
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// clampTTL folds a requested ttl into the configured window. Zero means
// the configured default.
func (c *Coordinator) clampTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = c.cfg.DefaultTTL()
	}
	if min := c.cfg.MinTTL(); ttl < min {
		ttl = min
	}
	if max := c.cfg.MaxTTL(); ttl > max {
		ttl = max
	}
	return ttl
}

// Acquire claims projectID for agentName. Exactly one of two concurrent
// calls for the same key wins; the loser gets the winner's Conflict.
// Expired claims are treated as absent.
func (c *Coordinator) Acquire(projectID, agentName string, ttl time.Duration) (domain.Claim, *Conflict, error) {
	if projectID == "" {
		return domain.Claim{}, nil, errors.New("project_id required")
	}
	if agentName == "" {
		return domain.Claim{}, nil, errors.New("agent_name required")
	}
	ttl = c.clampTTL(ttl)
	now := c.Now()

	e := c.lockEntry(projectID)
	defer e.mu.Unlock()
	if e.claim != nil && !e.claim.expired(now) {
		conflict := &Conflict{
			CurrentOwner: e.claim.agentName,
			ClaimedAt:    e.claim.createdAt.UTC().Format(time.RFC3339),
			ExpiresAt:    e.claim.expiresAt.UTC().Format(time.RFC3339),
		}
		return domain.Claim{}, conflict, nil
	}
	e.claim = &claim{
		id:        uuid.NewString(),
		agentName: agentName,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	return e.claim.toDomain(projectID), nil, nil
}

// Release frees projectID, but only for the holder of claimID.
func (c *Coordinator) Release(projectID, claimID string) error {
	now := c.Now()
	e := c.peekEntry(projectID)
	if e == nil {
		return ErrNoClaim
	}
	defer e.mu.Unlock()
	if e.claim == nil || e.claim.expired(now) {
		e.claim = nil
		return ErrNoClaim
	}
	if e.claim.id != claimID {
		return ErrTokenMismatch
	}
	e.claim = nil
	return nil
}

// Extend renews the lease for the holder of claimID. The new expiry is
// measured from now, not stacked onto the old one.
func (c *Coordinator) Extend(projectID, claimID string, ttl time.Duration) (domain.Claim, error) {
	ttl = c.clampTTL(ttl)
	now := c.Now()
	e := c.peekEntry(projectID)
	if e == nil {
		return domain.Claim{}, ErrNoClaim
	}
	defer e.mu.Unlock()
	if e.claim == nil || e.claim.expired(now) {
		e.claim = nil
		return domain.Claim{}, ErrNoClaim
	}
	if e.claim.id != claimID {
		return domain.Claim{}, ErrTokenMismatch
	}
	e.claim.expiresAt = now.Add(ttl)
	return e.claim.toDomain(projectID), nil
}

// Status returns the live claim for projectID, if any.
func (c *Coordinator) Status(projectID string) (domain.Claim, bool) {
	now := c.Now()
	e := c.peekEntry(projectID)
	if e == nil {
		return domain.Claim{}, false
	}
	defer e.mu.Unlock()
	if e.claim == nil || e.claim.expired(now) {
		e.claim = nil
		return domain.Claim{}, false
	}
	return e.claim.toDomain(projectID), true
}

// Reservations lists every live claim, ordered by project id.
func (c *Coordinator) Reservations() []domain.Claim {
	now := c.Now()
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)

	var claims []domain.Claim
	for _, k := range keys {
		e := c.peekEntry(k)
		if e == nil {
			continue
		}
		if e.claim != nil && !e.claim.expired(now) {
			claims = append(claims, e.claim.toDomain(k))
		}
		e.mu.Unlock()
	}
	return claims
}

// PurgeExpired drops expired entries so an abandoned workspace does not
// grow the table forever. Correctness never depends on it running.
func (c *Coordinator) PurgeExpired() int {
	now := c.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for k, e := range c.entries {
		e.mu.Lock()
		if e.claim == nil || e.claim.expired(now) {
			e.dead = true
			delete(c.entries, k)
			purged++
		}
		e.mu.Unlock()
	}
	return purged
}

// Sweep runs PurgeExpired on the configured interval until stop closes.
func (c *Coordinator) Sweep(stop <-chan struct{}) {
	interval := c.cfg.CleanupInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.PurgeExpired()
		case <-stop:
			return
		}
	}
}
