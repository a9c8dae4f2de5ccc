package workq

import (
	"log/slog"
	"time"

	"github.com/vireo/workq/limiter"
)

// Option configures a Queue at construction.
type Option func(*Queue)

// WithLogger sets the structured logger for the queue.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithDigest sets the item identity function. The default is
// SHA224Digest. All queue instances sharing a name must agree on the
// digest, otherwise lease keys will not line up across workers.
func WithDigest(d DigestFunc) Option {
	return func(q *Queue) {
		if d != nil {
			q.digest = d
		}
	}
}

// WithSession overrides the generated session identifier. Intended for
// tests; production workers should keep the random session so concurrent
// instances never collide.
func WithSession(session string) Option {
	return func(q *Queue) {
		if session != "" {
			q.session = session
		}
	}
}

// WithLimiterOptions forwards options to the queue's admission limiter,
// e.g. limiter.WithClock for deterministic bucket rollover in tests or
// limiter.WithBucket to widen the admission window.
func WithLimiterOptions(opts ...limiter.Option) Option {
	return func(q *Queue) {
		q.limiterOpts = append(q.limiterOpts, opts...)
	}
}

// leaseOptions are the per-call knobs for Queue.Lease.
type leaseOptions struct {
	ttl     time.Duration
	block   bool
	timeout time.Duration
	limit   int
}

// LeaseOption configures a single Lease call.
type LeaseOption func(*leaseOptions)

// WithLeaseTTL sets the lease duration for the acquired item. After the
// TTL other workers may consider this one crashed.
func WithLeaseTTL(d time.Duration) LeaseOption {
	return func(o *leaseOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithLeaseTimeout bounds how long a blocking Lease waits for an item.
// Zero (the default) waits indefinitely.
func WithLeaseTimeout(d time.Duration) LeaseOption {
	return func(o *leaseOptions) { o.timeout = d }
}

// NoBlock makes Lease attempt a single non-blocking move, returning
// (nil, nil) immediately when the pending list is empty.
func NoBlock() LeaseOption {
	return func(o *leaseOptions) { o.block = false }
}

// WithLeaseLimit caps how many leases all consumers of the queue may
// acquire within one admission bucket. Zero or negative disables the
// check.
func WithLeaseLimit(n int) LeaseOption {
	return func(o *leaseOptions) { o.limit = n }
}
