// Package ratelimit implements the per-team admission limiter that
// gates HTTP requests before they reach the job queue. It replaces a
// flat INCR/EXPIRE fixed window with a sliding window log kept in a
// Redis sorted set, so a burst at a window boundary can't double a
// team's effective rate.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"raito/internal/config"
	"raito/internal/metrics"
)

// Op identifies the class of operation being admitted, since scrape,
// crawl, map, extract, and batch scrape can carry different limits.
type Op string

const (
	OpScrape       Op = "scrape"
	OpMap          Op = "map"
	OpCrawl        Op = "crawl"
	OpExtract      Op = "extract"
	OpBatchScrape  Op = "batch_scrape"
	OpSearch       Op = "search"
	OpUnclassified Op = "other"
)

// OpForPath classifies a request path into an Op for rate limit
// bucketing, mirroring the route table in router.go. v1 and v2 share
// buckets: the version prefix doesn't change what the operation costs.
func OpForPath(path string) Op {
	for _, prefix := range []string{"/v1", "/v2"} {
		path = strings.TrimPrefix(path, prefix)
	}
	switch {
	case strings.HasPrefix(path, "/scrape"):
		return OpScrape
	case strings.HasPrefix(path, "/map"):
		return OpMap
	case strings.HasPrefix(path, "/crawl"):
		return OpCrawl
	case strings.HasPrefix(path, "/extract"):
		return OpExtract
	case strings.HasPrefix(path, "/batch"):
		return OpBatchScrape
	case strings.HasPrefix(path, "/search"):
		return OpSearch
	default:
		return OpUnclassified
	}
}

// Decision reports the outcome of an admission check.
type Decision struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int
}

// Limiter enforces a sliding window request count per (team, op) pair
// using a Redis sorted set: each admitted request adds a member scored
// by its arrival time, and the window is trimmed on every check.
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	limits Config
}

// Config mirrors config.RateLimitConfig so the limiter has no direct
// dependency on the config package's yaml tags.
type Config struct {
	DefaultPerMinute int
	PerOperation     map[string]int
}

// NewFromConfig builds a Limiter from the application configuration.
func NewFromConfig(cfg *config.Config, rdb *redis.Client) *Limiter {
	window := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		rdb:    rdb,
		window: window,
		limits: Config{
			DefaultPerMinute: cfg.RateLimit.DefaultPerMinute,
			PerOperation:     cfg.RateLimit.PerOperation,
		},
	}
}

func (l *Limiter) limitFor(op Op) int {
	if n, ok := l.limits.PerOperation[string(op)]; ok && n > 0 {
		return n
	}
	if l.limits.DefaultPerMinute > 0 {
		return l.limits.DefaultPerMinute
	}
	return 60
}

func (l *Limiter) key(teamID string, op Op) string {
	return fmt.Sprintf("raito:rl:%s:%s", teamID, op)
}

// Admit records a new request attempt for (teamID, op) and reports
// whether it is within the configured sliding-window limit. override,
// when > 0, replaces the configured per-operation limit (used for
// per-key overrides sourced from the API key record).
func (l *Limiter) Admit(ctx context.Context, teamID string, op Op, override int) (Decision, error) {
	limit := l.limitFor(op)
	if override > 0 {
		limit = override
	}

	key := l.key(teamID, op)
	now := time.Now()
	cutoff := now.Add(-l.window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, l.window+time.Second)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count, err := countCmd.Result()
	if err != nil {
		return Decision{}, err
	}

	if int(count) >= limit {
		retryAfter := int(l.window.Seconds())
		if scores, err := oldestCmd.Result(); err == nil && len(scores) > 0 {
			oldest := time.Unix(0, int64(scores[0].Score))
			remaining := l.window - now.Sub(oldest)
			if remaining > 0 {
				retryAfter = int(remaining.Seconds()) + 1
			}
		}
		// The admitted member above still counts toward the window; undo it
		// since this request is being rejected.
		_ = l.rdb.ZRem(ctx, key, member).Err()
		metrics.RecordRateLimitDecision(string(op), false)
		return Decision{Allowed: false, Remaining: 0, RetryAfterSeconds: retryAfter}, nil
	}

	metrics.RecordRateLimitDecision(string(op), true)
	return Decision{Allowed: true, Remaining: limit - int(count) - 1}, nil
}
