// Package limiter provides consumer-side admission control for lease
// acquisition, backed by a per-bucket counter key in Redis.
//
// The counter is shared by every consumer of a queue, so the limit bounds
// the aggregate lease rate across processes, not just the local one. Each
// fixed-width time bucket gets its own counter key whose expiry equals the
// bucket width, so stale buckets clean themselves up.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultBucket is the default admission window width.
	DefaultBucket = time.Second

	// DefaultRetryDelay is the default sleep between admission attempts
	// when Wait is denied.
	DefaultRetryDelay = 100 * time.Millisecond
)

// Clock abstracts the limiter's time source so bucket rollover can be
// driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err()
	// in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock is the wall-clock Clock used by default.
var SystemClock Clock = systemClock{}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithBucket sets the admission window width.
func WithBucket(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.bucket = d
		}
	}
}

// WithRetryDelay sets the sleep between denied admission attempts in Wait.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// Limiter counts admissions per time bucket in a shared Redis counter.
// It holds no local admission state; concurrent consumers in separate
// processes see the same counts.
type Limiter struct {
	client redis.Cmdable
	prefix string
	bucket time.Duration
	retry  time.Duration
	clock  Clock
	logger *slog.Logger
}

// New creates a Limiter writing counter keys under the given prefix.
func New(client redis.Cmdable, prefix string, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		prefix: prefix,
		bucket: DefaultBucket,
		retry:  DefaultRetryDelay,
		clock:  SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more admission fits in the current bucket.
// max <= 0 always permits and touches no state. Otherwise the bucket
// counter is incremented — an admission attempt is charged whether or not
// it is permitted — and the first increment of a fresh bucket arms the
// key's expiry to the bucket width, exactly once per bucket.
func (l *Limiter) Allow(ctx context.Context, max int) (bool, error) {
	if max <= 0 {
		return true, nil
	}

	key := l.bucketKey()
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("workq/limiter: incr %s: %w", key, err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, l.bucket).Err(); err != nil {
			return false, fmt.Errorf("workq/limiter: expire %s: %w", key, err)
		}
	}
	return n <= int64(max), nil
}

// Wait blocks until an admission is permitted, sleeping between denied
// attempts. It returns early only on store failure or context
// cancellation — never with a denial.
func (l *Limiter) Wait(ctx context.Context, max int) error {
	for {
		ok, err := l.Allow(ctx, max)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		l.logger.Debug("lease admission denied, backing off",
			slog.Int("max", max),
			slog.Duration("retry", l.retry),
		)
		if err := l.clock.Sleep(ctx, l.retry); err != nil {
			return err
		}
	}
}

// bucketKey returns the counter key for the bucket containing now.
func (l *Limiter) bucketKey() string {
	idx := l.clock.Now().UnixNano() / int64(l.bucket)
	return l.prefix + strconv.FormatInt(idx, 10)
}
