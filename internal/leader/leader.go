// Package leader implements spec.md §4.10's leader election: a Postgres
// lease row acquired with an atomic INSERT-or-claim-expired, renewed at
// half the lease TTL, and released with a check-and-delete so a process
// can never release a lease another holder has since acquired.
package leader

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLease is the lease TTL used when none is supplied.
const DefaultLease = 15 * time.Second

// Elector holds (or contends for) one named leader lease.
type Elector struct {
	db       *sql.DB
	name     string
	identity string
	lease    time.Duration

	mu       sync.RWMutex
	isLeader bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an Elector for lease name, identified as
// "{hostname}-{random-suffix}".
func New(db *sql.DB, name, hostname string, lease time.Duration) *Elector {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Elector{
		db:       db,
		name:     name,
		identity: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		lease:    lease,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Identity returns this elector's unique holder identifier.
func (e *Elector) Identity() string {
	return e.identity
}

// IsLeader reports whether this process currently believes it holds the
// lease. It is a cached, best-effort view refreshed by the renew loop,
// not a live check against Postgres.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// tryAcquire attempts to claim the lease: either no row exists yet, or
// the existing row's lease has expired. Both cases are handled by a
// single upsert so the claim is atomic under concurrent contenders.
func (e *Elector) tryAcquire(ctx context.Context) (bool, error) {
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO leader_lease (name, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
			SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
			WHERE leader_lease.expires_at < now() OR leader_lease.holder = EXCLUDED.holder
	`, e.name, e.identity, time.Now().Add(e.lease))
	if err != nil {
		return false, fmt.Errorf("leader: acquire: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("leader: acquire rows affected: %w", err)
	}
	return rows > 0, nil
}

// renew extends the lease if this identity still holds it.
func (e *Elector) renew(ctx context.Context) (bool, error) {
	res, err := e.db.ExecContext(ctx, `
		UPDATE leader_lease SET expires_at = $1
		WHERE name = $2 AND holder = $3
	`, time.Now().Add(e.lease), e.name, e.identity)
	if err != nil {
		return false, fmt.Errorf("leader: renew: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("leader: renew rows affected: %w", err)
	}
	return rows > 0, nil
}

// release gives up the lease, but only if this identity still holds it
// (check-and-delete), so a lease already reclaimed by another holder
// after this process lost it is never deleted out from under them.
func (e *Elector) release(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `
		DELETE FROM leader_lease WHERE name = $1 AND holder = $2
	`, e.name, e.identity)
	if err != nil {
		return fmt.Errorf("leader: release: %w", err)
	}
	return nil
}

// Start begins the acquire/renew loop in the background, checking at half
// the lease interval.
func (e *Elector) Start() {
	go e.run()
}

func (e *Elector) run() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.lease / 2)
	defer ticker.Stop()

	e.tick()
	for {
		select {
		case <-e.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if e.IsLeader() {
				_ = e.release(ctx)
			}
			cancel()
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Elector) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), e.lease/2)
	defer cancel()

	var held bool
	var err error
	if e.IsLeader() {
		held, err = e.renew(ctx)
	} else {
		held, err = e.tryAcquire(ctx)
	}

	e.mu.Lock()
	if err != nil {
		e.isLeader = false
	} else {
		e.isLeader = held
	}
	e.mu.Unlock()
}

// Stop gives up the lease (if held) and halts the background loop.
func (e *Elector) Stop() {
	close(e.stopCh)
	<-e.doneCh
}
