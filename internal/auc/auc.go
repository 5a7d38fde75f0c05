// Package auc implements the Authenticated User Cache: a Redis-backed
// memoization layer in front of Store.GetAPIKeyByRawKey so the hot
// request path does not pay a database round trip on every call. It
// caches both hits and negative lookups (revoked/unknown keys) for a
// configurable TTL, following the same Redis-as-shared-cache pattern
// the rate limiter uses.
package auc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"raito/internal/config"
	"raito/internal/store"
)

// ErrNegativeCache is returned by Resolve when the raw key is known to
// be invalid from a cached negative lookup, sparing the caller a
// database round trip to rediscover that fact.
var ErrNegativeCache = errors.New("auc: api key not found (cached)")

const negativeMarker = "__negative__"

// Resolver resolves a raw API key to its persisted record, consulting
// Redis before falling back to the store.
type Resolver struct {
	rdb        *redis.Client
	store      *store.Store
	ttl        time.Duration
	negTTL     time.Duration
	enabled    bool
}

// NewFromConfig builds a Resolver from application configuration. rdb
// may be nil, in which case every Resolve call bypasses the cache and
// goes straight to the store (degrading gracefully, not failing).
func NewFromConfig(cfg *config.Config, rdb *redis.Client, st *store.Store) *Resolver {
	ttl := time.Duration(cfg.AUC.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{
		rdb:     rdb,
		store:   st,
		ttl:     ttl,
		negTTL:  30 * time.Second,
		enabled: cfg.AUC.Enabled,
	}
}

func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "raito:auc:" + hex.EncodeToString(sum[:])
}

// cachedRecord is the JSON shape stored in Redis for a positive hit.
type cachedRecord struct {
	ID                 uuid.UUID `json:"id"`
	TeamID             uuid.UUID `json:"teamId"`
	Name               string    `json:"name"`
	RateLimitPerMinute int32     `json:"rateLimitPerMinute"`
	HasRateLimit       bool      `json:"hasRateLimit"`
	IsAdmin            bool      `json:"isAdmin"`
}

// Resolve looks up raw, preferring a cached decision over a database
// query. A cached negative lookup returns ErrNegativeCache without
// touching the store at all.
func (r *Resolver) Resolve(ctx context.Context, raw string) (store.APIKey, error) {
	if !r.enabled || r.rdb == nil {
		return r.store.GetAPIKeyByRawKey(ctx, raw)
	}

	key := cacheKey(raw)
	if cached, err := r.rdb.Get(ctx, key).Result(); err == nil {
		if cached == negativeMarker {
			return store.APIKey{}, ErrNegativeCache
		}
		var rec cachedRecord
		if jsonErr := json.Unmarshal([]byte(cached), &rec); jsonErr == nil {
			return apiKeyFromCache(rec), nil
		}
		// Corrupt cache entry; fall through and re-resolve from the store.
	}

	apiKey, err := r.store.GetAPIKeyByRawKey(ctx, raw)
	if err != nil {
		_ = r.rdb.Set(ctx, key, negativeMarker, r.negTTL).Err()
		return store.APIKey{}, err
	}

	rec := cachedRecord{
		ID:      apiKey.ID,
		TeamID:  apiKey.TeamID,
		Name:    apiKey.Name,
		IsAdmin: apiKey.IsAdmin,
	}
	if apiKey.RateLimitPerMinute.Valid {
		rec.HasRateLimit = true
		rec.RateLimitPerMinute = apiKey.RateLimitPerMinute.Int32
	}
	if payload, jsonErr := json.Marshal(rec); jsonErr == nil {
		_ = r.rdb.Set(ctx, key, payload, r.ttl).Err()
	}

	return apiKey, nil
}

// Invalidate evicts any cached decision for raw, used after a key is
// revoked so the change takes effect immediately rather than after TTL.
func (r *Resolver) Invalidate(ctx context.Context, raw string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, cacheKey(raw)).Err()
}

func apiKeyFromCache(rec cachedRecord) store.APIKey {
	k := store.APIKey{
		ID:      rec.ID,
		TeamID:  rec.TeamID,
		Name:    rec.Name,
		IsAdmin: rec.IsAdmin,
	}
	if rec.HasRateLimit {
		k.RateLimitPerMinute.Int32 = rec.RateLimitPerMinute
		k.RateLimitPerMinute.Valid = true
	}
	return k
}
