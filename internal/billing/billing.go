// Package billing implements the Billing Batcher: usage is queued as
// it's produced (one entry per billable operation) onto a durable
// Redis list rather than debited inline, and a background flush loop
// periodically drains the queue, groups entries by team and extract
// flag, and applies a single debit per group per flush. Batching this
// way means a burst of scrapes costs one debit per group instead of one
// per page.
package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"raito/internal/config"
	"raito/internal/metrics"
	"raito/internal/store"
)

const queueKey = "raito:billing:queue"
const lockKey = "raito:billing:lock"

// Op is a single billable event queued for the next flush.
type Op struct {
	TeamID    uuid.UUID `json:"teamId"`
	Credits   int64     `json:"credits"`
	Tokens    int64     `json:"tokens"`
	IsExtract bool      `json:"isExtract"`
	Preview   bool      `json:"preview"`

	// Requeued marks an op that already survived one failed flush; a
	// second failure drops it with an error log instead of cycling the
	// queue forever.
	Requeued bool `json:"requeued,omitempty"`
}

// Batcher queues billable operations and periodically flushes them to
// the store as grouped per-team debits.
type Batcher struct {
	rdb          *redis.Client
	store        *store.Store
	logger       *slog.Logger
	maxBatchSize int64
	lockTTL      time.Duration
	flushEvery   time.Duration
	enabled      bool
}

// NewFromConfig builds a Batcher from application configuration. When
// rdb is nil or billing is disabled, QueueOp debits credits inline
// instead of queuing, so usage is never silently dropped.
func NewFromConfig(cfg *config.Config, rdb *redis.Client, st *store.Store, logger *slog.Logger) *Batcher {
	lockTTL := time.Duration(cfg.Billing.LockTTLMs) * time.Millisecond
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	flushEvery := time.Duration(cfg.Billing.FlushIntervalMs) * time.Millisecond
	if flushEvery <= 0 {
		flushEvery = 15 * time.Second
	}
	maxBatch := int64(cfg.Billing.MaxBatchSize)
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Batcher{
		rdb:          rdb,
		store:        st,
		logger:       logger,
		maxBatchSize: maxBatch,
		lockTTL:      lockTTL,
		flushEvery:   flushEvery,
		enabled:      cfg.Billing.Enabled,
	}
}

// QueueOp records a billable operation. Preview-team operations
// (synthetic credentials used for documentation examples) are dropped
// without touching a balance. When the queue has grown to the
// configured max batch size, QueueOp triggers an immediate flush
// instead of waiting for the next tick.
func (b *Batcher) QueueOp(ctx context.Context, op Op) error {
	if op.Preview || op.Credits <= 0 {
		return nil
	}

	if !b.enabled || b.rdb == nil {
		_, err := b.store.DebitCredits(ctx, op.TeamID, op.Credits)
		return err
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if err := b.rdb.RPush(ctx, queueKey, payload).Err(); err != nil {
		return err
	}

	length, err := b.rdb.LLen(ctx, queueKey).Result()
	if err == nil && length >= b.maxBatchSize {
		go b.Flush(context.Background())
	}
	return nil
}

// Flush drains the queue under a distributed lock, so only one worker
// process performs a given flush even when several are running.
func (b *Batcher) Flush(ctx context.Context) error {
	if b.rdb == nil {
		return nil
	}

	locked, err := b.rdb.SetNX(ctx, lockKey, "1", b.lockTTL).Result()
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	defer b.rdb.Del(ctx, lockKey)

	ops, err := b.drain(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	// Ops are additive, so grouping by (team, isExtract) and summing
	// preserves correctness regardless of arrival or flush order.
	type groupKey struct {
		teamID    uuid.UUID
		isExtract bool
	}
	type totals struct {
		credits int64
		tokens  int64
		count   int
		ops     []Op
	}
	groups := make(map[groupKey]*totals)
	for _, op := range ops {
		k := groupKey{teamID: op.TeamID, isExtract: op.IsExtract}
		t, ok := groups[k]
		if !ok {
			t = &totals{}
			groups[k] = t
		}
		t.credits += op.Credits
		t.tokens += op.Tokens
		t.count++
		t.ops = append(t.ops, op)
	}

	for k, t := range groups {
		if _, err := b.store.DebitCredits(ctx, k.teamID, t.credits); err != nil {
			if b.logger != nil {
				b.logger.Error("billing flush debit failed", "team_id", k.teamID, "error", err)
			}
			metrics.RecordBillingFlush(k.teamID.String(), 0, true)
			b.requeueGroup(ctx, t.ops)
			continue
		}
		if k.isExtract && t.tokens > 0 {
			if _, err := b.store.DebitTokens(ctx, k.teamID, t.tokens); err != nil && b.logger != nil {
				b.logger.Error("billing flush token debit failed", "team_id", k.teamID, "error", err)
			}
		}
		metrics.RecordBillingFlush(k.teamID.String(), t.credits, false)
		if err := b.store.RecordBillingBatch(ctx, k.teamID, t.credits, t.tokens, t.count); err != nil && b.logger != nil {
			b.logger.Error("billing flush record failed", "team_id", k.teamID, "error", err)
		}
	}

	return nil
}

// requeueGroup puts the ops of a failed group back on the queue once.
// Ops that already failed a previous flush are dropped and reported so
// a persistently failing team can't wedge the whole queue.
func (b *Batcher) requeueGroup(ctx context.Context, ops []Op) {
	for _, op := range ops {
		if op.Requeued {
			if b.logger != nil {
				b.logger.Error("billing op dropped after repeated flush failure",
					"team_id", op.TeamID, "credits", op.Credits, "is_extract", op.IsExtract)
			}
			continue
		}
		op.Requeued = true
		if payload, err := json.Marshal(op); err == nil {
			_ = b.rdb.RPush(ctx, queueKey, payload).Err()
		}
	}
}

func (b *Batcher) drain(ctx context.Context) ([]Op, error) {
	var ops []Op
	for int64(len(ops)) < b.maxBatchSize {
		raw, err := b.rdb.LPop(ctx, queueKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return ops, err
		}
		var op Op
		if jsonErr := json.Unmarshal([]byte(raw), &op); jsonErr == nil {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// StartLoop runs Flush on a ticker until ctx is cancelled.
func (b *Batcher) StartLoop(ctx context.Context) {
	if !b.enabled || b.rdb == nil {
		return
	}

	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil && b.logger != nil {
				b.logger.Error("billing flush loop error", "error", err)
			}
		}
	}
}
