package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis runs the locker scripts against an in-memory key space.
type fakeRedis struct {
	redis.Scripter

	mu        sync.Mutex
	values    map[string]string
	expires   map[string]time.Time
	refreshes int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (f *fakeRedis) live(key string) (string, bool) {
	value, ok := f.values[key]
	if !ok {
		return "", false
	}
	if time.Now().After(f.expires[key]) {
		delete(f.values, key)
		delete(f.expires, key)
		return "", false
	}
	return value, true
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.live(key); ok {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = value.(string)
	f.expires[key] = time.Now().Add(expiration)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := redis.NewCmd(ctx)
	value, ok := f.live(keys[0])
	if !ok || value != args[0].(string) {
		cmd.SetVal(int64(0))
		return cmd
	}
	switch sha1 {
	case unlockScript.Hash():
		delete(f.values, keys[0])
		delete(f.expires, keys[0])
	case refreshScript.Hash():
		f.expires[keys[0]] = time.Now().Add(time.Duration(args[1].(int64)) * time.Millisecond)
		f.refreshes++
	}
	cmd.SetVal(int64(1))
	return cmd
}

func (f *fakeRedis) drop(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	delete(f.expires, key)
}

func (f *fakeRedis) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func TestRedisLocker_ExtendsHeldLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeRedis()
	first := NewRedisLocker(client, 150*time.Millisecond, nil)
	second := NewRedisLocker(client, 150*time.Millisecond, nil)

	ok, err := first.TryLock(ctx, "u1:time-entries")
	require.NoError(t, err)
	require.True(t, ok)

	// Held well past the TTL.
	time.Sleep(500 * time.Millisecond)
	ok, err = second.TryLock(ctx, "u1:time-entries")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, client.refreshCount(), 2)

	require.NoError(t, first.Unlock(ctx, "u1:time-entries"))
	refreshes := client.refreshCount()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, refreshes, client.refreshCount())

	ok, err = second.TryLock(ctx, "u1:time-entries")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx, "u1:time-entries"))
}

func TestRedisLocker_StopsExtendingLostLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeRedis()
	locker := NewRedisLocker(client, 90*time.Millisecond, nil)

	ok, err := locker.TryLock(ctx, "u1:config")
	require.NoError(t, err)
	require.True(t, ok)

	client.drop(redisLockPrefix + "u1:config")
	other := NewRedisLocker(client, time.Minute, nil)
	ok, err = other.TryLock(ctx, "u1:config")
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = other.Unlock(ctx, "u1:config") })

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, client.refreshCount())

	// Our token is gone, so unlocking leaves the other holder in place.
	require.NoError(t, locker.Unlock(ctx, "u1:config"))
	ok, err = NewRedisLocker(client, time.Minute, nil).TryLock(ctx, "u1:config")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLocker_UnlockWithoutLock(t *testing.T) {
	t.Parallel()

	locker := NewRedisLocker(newFakeRedis(), 0, nil)
	assert.Equal(t, DefaultLockTTL, locker.ttl)
	assert.NoError(t, locker.Unlock(context.Background(), "missing"))
}
