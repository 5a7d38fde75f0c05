// Package concurrency implements the per-team Concurrency Governor: a
// Redis sorted-set lease that bounds how many scrape operations a team
// may have in flight at once, independent of (and stacked on top of)
// the worker pool's own global job-count limit. A lease is scored by
// its expiry time so stale leases from crashed workers are trimmed
// lazily on the next Acquire/Active rather than requiring a sweep.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"raito/internal/config"
	"raito/internal/metrics"
)

// Governor enforces a per-team concurrency cap backed by Redis.
type Governor struct {
	rdb        *redis.Client
	leaseTTL   time.Duration
	defaultMax int
}

// NewFromConfig builds a Governor from application configuration. rdb
// may be nil, in which case Acquire always succeeds (no-op governor),
// which matches local/single-process deployments without Redis.
func NewFromConfig(cfg *config.Config, rdb *redis.Client) *Governor {
	ttl := time.Duration(cfg.Concurrency.LeaseTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	defaultMax := cfg.Concurrency.DefaultMax
	if defaultMax <= 0 {
		defaultMax = 10
	}
	return &Governor{rdb: rdb, leaseTTL: ttl, defaultMax: defaultMax}
}

func (g *Governor) key(teamID string) string {
	return fmt.Sprintf("raito:concurrency:%s", teamID)
}

// Lease is a handle to an acquired concurrency slot; call Release when
// the work it guards has finished.
type Lease struct {
	governor *Governor
	teamID   string
	member   string
}

// Acquire attempts to take one of min(userMax, teamMax) concurrency
// slots for teamID, waiting up to waitTimeout for one to free up. userMax
// <= 0 means "no user-supplied ceiling" (team max applies alone).
func (g *Governor) Acquire(ctx context.Context, teamID string, userMax int, teamMax int, waitTimeout time.Duration) (*Lease, error) {
	limit := g.effectiveLimit(userMax, teamMax)

	if g.rdb == nil {
		return &Lease{governor: g, teamID: teamID}, nil
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		acquired, member, err := g.tryAcquire(ctx, teamID, limit)
		if err != nil {
			return nil, err
		}
		if acquired {
			metrics.RecordConcurrencyAcquire(true)
			return &Lease{governor: g, teamID: teamID, member: member}, nil
		}

		if waitTimeout <= 0 || time.Now().After(deadline) {
			metrics.RecordConcurrencyAcquire(false)
			return nil, ErrConcurrencyLimitExceeded
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (g *Governor) effectiveLimit(userMax, teamMax int) int {
	limit := g.defaultMax
	if teamMax > 0 {
		limit = teamMax
	}
	if userMax > 0 && userMax < limit {
		limit = userMax
	}
	if limit <= 0 {
		limit = 1
	}
	return limit
}

func (g *Governor) tryAcquire(ctx context.Context, teamID string, limit int) (bool, string, error) {
	key := g.key(teamID)
	now := time.Now()

	// Drop leases that expired without an explicit Release (crashed
	// worker, panic) before counting current occupancy.
	if err := g.rdb.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.UnixNano())).Err(); err != nil {
		return false, "", err
	}

	count, err := g.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, "", err
	}
	if int(count) >= limit {
		return false, "", nil
	}

	member := uuid.NewString()
	expiresAt := now.Add(g.leaseTTL)
	if err := g.rdb.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.UnixNano()), Member: member}).Err(); err != nil {
		return false, "", err
	}
	_ = g.rdb.Expire(ctx, key, g.leaseTTL+time.Second).Err()

	return true, member, nil
}

// Active reports how many leases teamID currently holds, after
// trimming expired ones. Used by the concurrency-check endpoint.
func (g *Governor) Active(ctx context.Context, teamID string) (int, error) {
	if g.rdb == nil {
		return 0, nil
	}
	key := g.key(teamID)
	now := time.Now()
	if err := g.rdb.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.UnixNano())).Err(); err != nil {
		return 0, err
	}
	count, err := g.rdb.ZCard(ctx, key).Result()
	return int(count), err
}

// Release frees the slot held by the lease. It is safe to call more
// than once and safe to call on a nil-Redis (no-op) lease.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.governor == nil || l.governor.rdb == nil || l.member == "" {
		return nil
	}
	return l.governor.rdb.ZRem(ctx, l.governor.key(l.teamID), l.member).Err()
}

// ErrConcurrencyLimitExceeded is returned by Acquire when no slot frees
// up within the wait timeout.
var ErrConcurrencyLimitExceeded = fmt.Errorf("concurrency: team concurrency limit exceeded")
