package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdemStore remembers recently processed idempotency keys so broker
// redelivery of an already-persisted envelope can be dropped instead of
// producing a duplicate message. Seen is checked before processing;
// Remember is called only after persistence succeeds, so a nak'd
// envelope stays eligible for redelivery.
type IdemStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

// ---- Redis implementation (shared across consumer restarts) ----

type redisIdem struct {
	rdb *redis.Client
}

func NewRedisIdem(rdb *redis.Client) IdemStore {
	return &redisIdem{rdb: rdb}
}

func (r *redisIdem) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, "idem:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisIdem) Remember(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return r.rdb.Set(ctx, "idem:"+key, "1", ttl).Err()
}

// ---- In-memory implementation (single process, tests) ----

// memIdemSweepAt bounds the table: once it grows past this, the next
// Remember evicts every expired entry before inserting.
const memIdemSweepAt = 1024

type memIdem struct {
	mu  sync.Mutex
	m   map[string]int64 // key -> expire unix nanos
	ttl time.Duration
}

// NewMemIdem builds a store that sweeps expired keys opportunistically
// on writes; it owns no goroutine and needs no Close.
func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return &memIdem{m: make(map[string]int64), ttl: defaultTTL}
}

func (mi *memIdem) Seen(_ context.Context, key string) (bool, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	exp, ok := mi.m[key]
	return ok && exp > time.Now().UnixNano(), nil
}

func (mi *memIdem) Remember(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := time.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if len(mi.m) > memIdemSweepAt {
		cut := now.UnixNano()
		for k, exp := range mi.m {
			if exp <= cut {
				delete(mi.m, k)
			}
		}
	}
	mi.m[key] = now.Add(ttl).UnixNano()
	return nil
}
