package limiter_test

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vireo/workq/limiter"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	cli := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return s, cli
}

// expireCounter counts EXPIRE commands crossing the client, the
// observable side effect of arming a bucket.
type expireCounter struct {
	n *atomic.Int64
}

func (h expireCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h expireCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "expire") {
			h.n.Add(1)
		}
		return next(ctx, cmd)
	}
}

func (h expireCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if strings.EqualFold(cmd.Name(), "expire") {
				h.n.Add(1)
			}
		}
		return next(ctx, cmds)
	}
}

// fakeClock scripts the limiter's time source. Sleep advances now by one
// bucket, simulating a wait for rollover.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	sleeps int
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps++
	c.now = c.now.Add(c.step)
	return nil
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// ---------------------------------------------------------------------------
// Allow
// ---------------------------------------------------------------------------

func TestAllow_NoLimitTouchesNoState(t *testing.T) {
	s, cli := newTestRedis(t)
	l := limiter.New(cli, "q:rate_limit:")

	for range 10 {
		ok, err := l.Allow(context.Background(), 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Empty(t, s.Keys())
}

func TestAllow_ExactlyNPerBucket(t *testing.T) {
	_, cli := newTestRedis(t)

	var expires atomic.Int64
	cli.AddHook(expireCounter{n: &expires})

	clock := &fakeClock{now: time.Unix(1000, 0), step: time.Second}
	l := limiter.New(cli, "q:rate_limit:", limiter.WithClock(clock))

	for i := range 5 {
		ok, err := l.Allow(context.Background(), 5)
		require.NoError(t, err)
		require.True(t, ok, "admission %d should be permitted", i+1)
	}

	ok, err := l.Allow(context.Background(), 5)
	require.NoError(t, err)
	require.False(t, ok, "sixth admission in one bucket must be denied")

	// The bucket's expiry is armed exactly once, by the first increment.
	require.EqualValues(t, 1, expires.Load())
}

func TestAllow_CounterResetsAcrossBuckets(t *testing.T) {
	_, cli := newTestRedis(t)

	var expires atomic.Int64
	cli.AddHook(expireCounter{n: &expires})

	clock := &fakeClock{now: time.Unix(1000, 0), step: time.Second}
	l := limiter.New(cli, "q:rate_limit:", limiter.WithClock(clock))

	ok, err := l.Allow(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	clock.mu.Lock()
	clock.now = clock.now.Add(time.Second)
	clock.mu.Unlock()

	ok, err = l.Allow(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok, "fresh bucket must admit again")

	// One expiry registration per bucket.
	require.EqualValues(t, 2, expires.Load())
}

func TestAllow_BucketKeyExpiryArmedToBucketWidth(t *testing.T) {
	s, cli := newTestRedis(t)

	clock := &fakeClock{now: time.Unix(1000, 0), step: time.Second}
	l := limiter.New(cli, "q:rate_limit:",
		limiter.WithClock(clock),
		limiter.WithBucket(time.Second),
	)

	ok, err := l.Allow(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	keys := s.Keys()
	require.Len(t, keys, 1)
	require.Equal(t, time.Second, s.TTL(keys[0]))
}

// ---------------------------------------------------------------------------
// Wait
// ---------------------------------------------------------------------------

func TestWait_BlocksUntilBucketRollover(t *testing.T) {
	_, cli := newTestRedis(t)

	clock := &fakeClock{now: time.Unix(1000, 0), step: time.Second}
	l := limiter.New(cli, "q:rate_limit:", limiter.WithClock(clock))

	require.NoError(t, l.Wait(context.Background(), 1))
	require.Equal(t, 0, clock.sleepCount())

	// Bucket is full: Wait must sleep through the rollover, then admit.
	require.NoError(t, l.Wait(context.Background(), 1))
	require.Equal(t, 1, clock.sleepCount())
}

func TestWait_NeverReturnsDenial(t *testing.T) {
	_, cli := newTestRedis(t)

	clock := &fakeClock{now: time.Unix(1000, 0), step: 100 * time.Millisecond}
	l := limiter.New(cli, "q:rate_limit:", limiter.WithClock(clock))

	// With a 1s bucket and 100ms steps, several sleeps are needed before
	// the next bucket starts.
	require.NoError(t, l.Wait(context.Background(), 1))
	require.NoError(t, l.Wait(context.Background(), 1))
	require.GreaterOrEqual(t, clock.sleepCount(), 1)
}

func TestWait_ContextCancellation(t *testing.T) {
	_, cli := newTestRedis(t)

	// A clock that never advances: Wait can only end via the context.
	clock := &fakeClock{now: time.Unix(1000, 0), step: 0}
	l := limiter.New(cli, "q:rate_limit:", limiter.WithClock(clock))

	require.NoError(t, l.Wait(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWait_SystemClockSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := limiter.SystemClock.Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
