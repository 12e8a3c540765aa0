package coordinator_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"hive/internal/config"
	"hive/internal/coordinator"
)

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *time.Time) {
	t.Helper()
	c := coordinator.New(config.Default().Coordinator)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }
	return c, &now
}

func TestAcquireThenConflict(t *testing.T) {
	c, _ := newCoordinator(t)
	claim, conflict, err := c.Acquire("api", "bee-1", 0)
	if err != nil || conflict != nil {
		t.Fatalf("first acquire: claim=%+v conflict=%+v err=%v", claim, conflict, err)
	}
	if claim.ClaimID == "" || claim.AgentName != "bee-1" {
		t.Fatalf("unexpected claim %+v", claim)
	}
	if claim.ExpiresAt != "2024-05-01T13:00:00Z" {
		t.Fatalf("expected default ttl of one hour, got %s", claim.ExpiresAt)
	}

	_, conflict, err = c.Acquire("api", "bee-2", 0)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if conflict == nil || conflict.CurrentOwner != "bee-1" {
		t.Fatalf("expected conflict with bee-1, got %+v", conflict)
	}
}

func TestAcquireAfterExpiry(t *testing.T) {
	c, now := newCoordinator(t)
	if _, conflict, _ := c.Acquire("api", "bee-1", 60*time.Second); conflict != nil {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
	*now = now.Add(61 * time.Second)
	claim, conflict, err := c.Acquire("api", "bee-2", 0)
	if err != nil || conflict != nil {
		t.Fatalf("expected expired claim to be reclaimable: conflict=%+v err=%v", conflict, err)
	}
	if claim.AgentName != "bee-2" {
		t.Fatalf("unexpected claim %+v", claim)
	}
}

func TestTTLClamping(t *testing.T) {
	c, _ := newCoordinator(t)
	claim, _, err := c.Acquire("low", "bee-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if claim.ExpiresAt != "2024-05-01T12:01:00Z" {
		t.Fatalf("expected ttl clamped up to 60s, got %s", claim.ExpiresAt)
	}
	claim, _, err = c.Acquire("high", "bee-1", 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if claim.ExpiresAt != "2024-05-02T12:00:00Z" {
		t.Fatalf("expected ttl clamped down to 24h, got %s", claim.ExpiresAt)
	}
}

func TestReleaseTokenChecked(t *testing.T) {
	c, _ := newCoordinator(t)
	claim, _, _ := c.Acquire("api", "bee-1", 0)

	if err := c.Release("api", "wrong-token"); !errors.Is(err, coordinator.ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
	if _, ok := c.Status("api"); !ok {
		t.Fatalf("claim must survive a release with the wrong token")
	}
	if err := c.Release("api", claim.ClaimID); err != nil {
		t.Fatalf("release with the right token: %v", err)
	}
	if err := c.Release("api", claim.ClaimID); !errors.Is(err, coordinator.ErrNoClaim) {
		t.Fatalf("expected ErrNoClaim on double release, got %v", err)
	}
}

func TestExtend(t *testing.T) {
	c, now := newCoordinator(t)
	claim, _, _ := c.Acquire("api", "bee-1", 120*time.Second)

	if _, err := c.Extend("api", "wrong-token", 0); !errors.Is(err, coordinator.ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
	*now = now.Add(90 * time.Second)
	renewed, err := c.Extend("api", claim.ClaimID, 120*time.Second)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	// renewed from now, not stacked onto the original expiry
	if renewed.ExpiresAt != "2024-05-01T12:03:30Z" {
		t.Fatalf("unexpected renewed expiry %s", renewed.ExpiresAt)
	}
	*now = now.Add(200 * time.Second)
	if _, err := c.Extend("api", claim.ClaimID, 0); !errors.Is(err, coordinator.ErrNoClaim) {
		t.Fatalf("expected ErrNoClaim after expiry, got %v", err)
	}
}

func TestReservations(t *testing.T) {
	c, now := newCoordinator(t)
	c.Acquire("zeta", "bee-1", 60*time.Second)
	c.Acquire("alpha", "bee-2", time.Hour)

	claims := c.Reservations()
	if len(claims) != 2 || claims[0].ProjectID != "alpha" || claims[1].ProjectID != "zeta" {
		t.Fatalf("unexpected reservations %+v", claims)
	}
	*now = now.Add(2 * time.Minute)
	claims = c.Reservations()
	if len(claims) != 1 || claims[0].ProjectID != "alpha" {
		t.Fatalf("expected only alpha alive, got %+v", claims)
	}
}

func TestPurgeExpired(t *testing.T) {
	c, now := newCoordinator(t)
	c.Acquire("a", "bee-1", 60*time.Second)
	c.Acquire("b", "bee-2", time.Hour)
	*now = now.Add(2 * time.Minute)

	if purged := c.PurgeExpired(); purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}
	if _, ok := c.Status("b"); !ok {
		t.Fatalf("live claim must survive the purge")
	}
	// the purged key is claimable again
	if _, conflict, err := c.Acquire("a", "bee-3", 0); conflict != nil || err != nil {
		t.Fatalf("acquire after purge: conflict=%+v err=%v", conflict, err)
	}
}

func TestReadPathsDoNotResurrectPurged(t *testing.T) {
	c, now := newCoordinator(t)
	c.Acquire("a", "bee-1", 60*time.Second)
	*now = now.Add(2 * time.Minute)
	if purged := c.PurgeExpired(); purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}

	if _, ok := c.Status("a"); ok {
		t.Fatalf("expected no claim after purge")
	}
	if claims := c.Reservations(); len(claims) != 0 {
		t.Fatalf("unexpected reservations %+v", claims)
	}
	if err := c.Release("a", "some-token"); !errors.Is(err, coordinator.ErrNoClaim) {
		t.Fatalf("expected ErrNoClaim, got %v", err)
	}
	if _, err := c.Extend("a", "some-token", 0); !errors.Is(err, coordinator.ErrNoClaim) {
		t.Fatalf("expected ErrNoClaim, got %v", err)
	}
	// none of the reads may have re-inserted the key
	if purged := c.PurgeExpired(); purged != 0 {
		t.Fatalf("read paths re-created %d purged entries", purged)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	c := coordinator.New(config.Default().Coordinator)

	const racers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, conflict, err := c.Acquire("contested", "bee", 0)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if conflict == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
