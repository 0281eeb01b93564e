package crm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chathub_backend/platform/logger"
)

// RedisLease is a Locker backed by a redis SET NX lease, so at most one
// worker process syncs a given visitor identifier at a time. Within the
// process it also holds a keyed mutex, which keeps local contention off
// redis. The lease expires on its own if a worker dies mid-sync.
type RedisLease struct {
	rdb   redis.UniversalClient
	local *KeyedMutex
	ttl   time.Duration
	log   *logger.Logger
}

func NewRedisLease(rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisLease {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLease{
		rdb:   rdb,
		local: NewKeyedMutex(),
		ttl:   ttl,
		log:   log.WithComponent("crm_lease"),
	}
}

func leaseKey(identifier string) string {
	return "crm:sync:lease:" + identifier
}

// Lock acquires the local mutex, then polls for the redis lease until it is
// granted or the context ends. The lease value is a per-acquisition token so
// an expired lease is never released by its former holder.
func (l *RedisLease) Lock(ctx context.Context, identifier string) (func(), error) {
	localUnlock, err := l.local.Lock(ctx, identifier)
	if err != nil {
		return nil, err
	}

	key := leaseKey(identifier)
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			// Redis being down must not stall lead sync; the local mutex
			// still serializes within this process.
			l.log.Warn("lease acquire failed, falling back to local lock", "identifier", identifier, "error", err)
			return localUnlock, nil
		}
		if ok {
			break
		}
		if sleepErr := sleepContext(ctx, 200*time.Millisecond); sleepErr != nil {
			localUnlock()
			return nil, sleepErr
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		current, err := l.rdb.Get(releaseCtx, key).Result()
		if err == nil && current == token {
			_ = l.rdb.Del(releaseCtx, key).Err()
		}
		localUnlock()
	}, nil
}
