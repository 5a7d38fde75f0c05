// Package redisutil builds the single shared Redis client used across
// the process: rate limiting, the Authenticated User Cache, the
// concurrency governor, the billing batcher, and health checks all
// dial through one connection pool instead of each opening their own.
package redisutil

import "github.com/redis/go-redis/v9"

// NewFromURL returns nil (not an error) when url is empty, so callers
// can treat a disabled Redis deployment as "every dependent component
// degrades to its no-op behavior" rather than a startup failure.
func NewFromURL(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil
	}
	return redis.NewClient(opt)
}
