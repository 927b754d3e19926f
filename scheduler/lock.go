package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker guarantees that at most one job runs per key.
type Locker interface {
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// LocalLocker locks within the current process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *LocalLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

const (
	DefaultLockTTL  = 10 * time.Minute
	redisLockPrefix = "timer2ticket:lock:"
)

// unlockScript deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the key only while it still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisClient is the part of a Redis client the locker uses.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type heldLock struct {
	token string
	stop  chan struct{}
	done  chan struct{}
}

// RedisLocker shares job locks between scheduler instances through Redis.
// A held lock is extended every third of its TTL until Unlock.
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
	log    *zap.Logger

	mu   sync.Mutex
	held map[string]*heldLock
}

func NewRedisLocker(client RedisClient, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, log: log, held: make(map[string]*heldLock)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisLockPrefix+key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	lock := &heldLock{token: token, stop: make(chan struct{}), done: make(chan struct{})}
	l.mu.Lock()
	l.held[key] = lock
	l.mu.Unlock()

	go l.refresh(context.WithoutCancel(ctx), key, lock)
	return true, nil
}

func (l *RedisLocker) refresh(ctx context.Context, key string, lock *heldLock) {
	defer close(lock.done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = l.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-lock.stop:
			return
		case <-ticker.C:
		}

		extended, err := refreshScript.Run(ctx, l.client, []string{redisLockPrefix + key}, lock.token, l.ttl.Milliseconds()).Int64()
		if err != nil {
			l.log.Warn("extend redis lock", zap.String("key", key), zap.Error(err))
			continue
		}
		if extended == 0 {
			l.log.Error("redis lock lost", zap.String("key", key))
			return
		}
	}
}

func (l *RedisLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	lock, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	close(lock.stop)
	<-lock.done

	if err := unlockScript.Run(ctx, l.client, []string{redisLockPrefix + key}, lock.token).Err(); err != nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}

type RedisOptions struct {
	Address  string
	Username string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Address, err)
	}
	return client, nil
}
