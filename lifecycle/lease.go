package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease serializes the refresh-and-persist sequence for one credential key
// across deployment instances. Within a single process the manager's
// singleflight group already guarantees one in-flight refresh; the lease
// extends that guarantee to multi-instance deployments.
type Lease interface {
	// Acquire blocks until the lease for key is held or ctx is done.
	// The returned func releases the lease.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const (
	defaultLeaseTTL    = 30 * time.Second
	defaultLeasePoll   = 100 * time.Millisecond
	leaseKeyPrefix     = "credlease-"
	releaseLeaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
)

var _ Lease = &RedisLease{}

// leaseClient is the slice of redis.Cmdable the lease actually needs.
type leaseClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLease implements Lease as a SET NX lock with a TTL, so a crashed
// holder cannot block refreshes forever.
type RedisLease struct {
	rdb  leaseClient
	ttl  time.Duration
	poll time.Duration
}

// NewRedisLease creates a lease over the given redis client.
func NewRedisLease(rdb redis.Cmdable) *RedisLease {
	return &RedisLease{
		rdb:  rdb,
		ttl:  defaultLeaseTTL,
		poll: defaultLeasePoll,
	}
}

// Acquire polls SET NX until the lock is taken or ctx is done. Release
// deletes the key only when it still carries this holder's token, so an
// expired lease cannot delete a successor's lock.
func (l *RedisLease) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	redisKey := leaseKeyPrefix + key
	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = l.rdb.Eval(ctx, releaseLeaseScript, []string{redisKey}, token).Err()
			}
			return release, nil
		}
		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
