package workq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vireo/workq/limiter"
)

// Queue is a finite work queue over a shared Redis instance.
//
// Work is initially in the pending list and moves to the processing list
// when a consumer leases it. A lease key, named by the item's content
// digest and expiring after the lease TTL, records which session is
// responsible for the item. Redis is the sole source of truth; the Queue
// holds no durable state beyond its session identifier and derived key
// names.
//
// A Queue is not safe for concurrent use. Construct one per worker
// goroutine or process.
type Queue struct {
	client  redis.Cmdable
	name    string
	keys    Keys
	session string
	digest  DigestFunc
	limiter *limiter.Limiter
	logger  *slog.Logger

	// limiterOpts collects options forwarded to the limiter constructed
	// in New, after all queue options have applied.
	limiterOpts []limiter.Option
}

// New creates a Queue over an established client. The queue is identified
// by name; the library creates other keys with name as a prefix (see Keys).
// A fresh session identifier is generated; it uniquely identifies this
// worker instance for the lifetime of the Queue.
func New(client redis.Cmdable, name string, opts ...Option) *Queue {
	q := &Queue{
		client:  client,
		name:    name,
		keys:    KeysFor(name),
		session: uuid.NewString(),
		digest:  SHA224Digest,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.limiter = limiter.New(client, q.keys.RateLimitPrefix(), q.limiterOpts...)
	return q
}

// Dial connects a new Redis client with the given options, verifies the
// connection with a ping, and returns a Queue over it. It fails only if
// the store is unreachable. The caller owns the client lifecycle via
// Client.
func Dial(ctx context.Context, name string, ropts *redis.Options, opts ...Option) (*Queue, error) {
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("workq: dial %s: %w", ropts.Addr, err)
	}
	return New(client, name, opts...), nil
}

// Client returns the underlying Redis client handle.
func (q *Queue) Client() redis.Cmdable { return q.client }

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Keys returns the derived Redis key names for this queue.
func (q *Queue) Keys() Keys { return q.keys }

// Session returns the identifier for this worker instance's lifetime. It
// is generated once at construction and never regenerated.
func (q *Queue) Session() string { return q.session }

// Put appends an item to the pending list. No uniqueness check is
// performed; duplicate items are processed independently.
func (q *Queue) Put(ctx context.Context, item []byte) error {
	if err := q.client.LPush(ctx, q.keys.Pending, item).Err(); err != nil {
		return fmt.Errorf("workq: put: %w", err)
	}
	return nil
}

// IsEmpty reports whether both the pending and processing lists are
// empty, meaning all work is done. The result is advisory under
// concurrent mutation. A false result does not mean an item is available
// right now — it may be mid-processing in another worker.
func (q *Queue) IsEmpty(ctx context.Context) (bool, error) {
	var pending, processing *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.keys.Pending)
		processing = pipe.LLen(ctx, q.keys.Processing)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("workq: is empty: %w", err)
	}
	return pending.Val() == 0 && processing.Val() == 0, nil
}

// PendingLen returns the length of the pending list.
func (q *Queue) PendingLen(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.keys.Pending).Result()
	if err != nil {
		return 0, fmt.Errorf("workq: pending len: %w", err)
	}
	return n, nil
}

// ProcessingLen returns the length of the processing list.
func (q *Queue) ProcessingLen(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.keys.Processing).Result()
	if err != nil {
		return 0, fmt.Errorf("workq: processing len: %w", err)
	}
	return n, nil
}

// ErrorLen returns the length of the error list.
func (q *Queue) ErrorLen(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.keys.Errors).Result()
	if err != nil {
		return 0, fmt.Errorf("workq: error len: %w", err)
	}
	return n, nil
}

// Lease begins working on one item from the queue.
//
// The item is moved atomically from the head of the pending list to the
// tail of the processing list, and a lease key owned by this session is
// written with the configured TTL (default DefaultLeaseTTL). After the
// TTL elapses other workers may consider this one crashed and the janitor
// may return the item to pending.
//
// By default Lease blocks until an item is available; WithLeaseTimeout
// bounds the wait and NoBlock attempts a single non-blocking move. When
// no item was obtained (empty list or timeout) Lease returns (nil, nil).
//
// With WithLeaseLimit(n), admission is checked against the queue's shared
// per-bucket counter first; on denial the call sleeps and retries until a
// bucket with capacity arrives. Rate limiting never yields a (nil, nil)
// result by itself.
//
// If the process dies after the move but before the lease write, the item
// stays in the processing list with no lease — that is the janitor's
// signal, not an error condition handled here.
func (q *Queue) Lease(ctx context.Context, opts ...LeaseOption) ([]byte, error) {
	o := leaseOptions{
		ttl:   DefaultLeaseTTL,
		block: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.limit > 0 {
		if err := q.limiter.Wait(ctx, o.limit); err != nil {
			return nil, err
		}
	}

	var (
		item string
		err  error
	)
	if o.block {
		item, err = q.client.BRPopLPush(ctx, q.keys.Pending, q.keys.Processing, o.timeout).Result()
	} else {
		item, err = q.client.RPopLPush(ctx, q.keys.Pending, q.keys.Processing).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workq: lease: %w", err)
	}

	payload := []byte(item)
	leaseKey := q.keys.Lease(q.digest(payload))
	if err := q.client.SetEx(ctx, leaseKey, q.session, o.ttl).Err(); err != nil {
		return nil, fmt.Errorf("workq: lease record: %w", err)
	}

	q.logger.Debug("leased item",
		slog.String("queue", q.name),
		slog.String("lease_key", leaseKey),
		slog.String("session", q.session),
	)
	return payload, nil
}

// Complete finishes working on an item: it is removed from the processing
// list and its lease key deleted. The delete is idempotent and does not
// check lease ownership — if the lease had already expired and a later
// session re-leased the same bytes, that session's lease is cleared too.
// This overlap is tolerated by at-least-once delivery and deliberately
// not detected or reported.
func (q *Queue) Complete(ctx context.Context, item []byte) error {
	if err := q.client.LRem(ctx, q.keys.Processing, 0, item).Err(); err != nil {
		return fmt.Errorf("workq: complete: %w", err)
	}
	leaseKey := q.keys.Lease(q.digest(item))
	if err := q.client.Del(ctx, leaseKey).Err(); err != nil {
		return fmt.Errorf("workq: complete release lease: %w", err)
	}
	return nil
}

// Fail routes an item that could not be processed to the error channel.
//
// All occurrences of the item are removed from the processing list. When
// none were present — the item may already be completed, errored, or
// reclaimed by another worker — the anomaly is logged and Fail is a
// no-op. Otherwise the item and its message (default "unknown error" when
// empty) are head-pushed onto the error and error-message lists inside a
// MULTI/EXEC, keeping the two lists index-aligned and of equal length.
//
// The item's lease key is left alone; a stale lease simply expires.
func (q *Queue) Fail(ctx context.Context, item []byte, msg string) error {
	if msg == "" {
		msg = "unknown error"
	}

	removed, err := q.client.LRem(ctx, q.keys.Processing, 0, item).Result()
	if err != nil {
		return fmt.Errorf("workq: fail: %w", err)
	}
	if removed == 0 {
		q.logger.Warn("failed item not found in processing list",
			slog.String("queue", q.name),
			slog.String("digest", q.digest(item)),
			slog.String("message", msg),
		)
		return nil
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.keys.Errors, item)
	pipe.LPush(ctx, q.keys.ErrorMessages, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workq: fail push error entry: %w", err)
	}

	q.logger.Info("moved item to error list",
		slog.String("queue", q.name),
		slog.String("digest", q.digest(item)),
		slog.String("message", msg),
	)
	return nil
}

// LeaseExists reports whether a live lease key exists for the item.
func (q *Queue) LeaseExists(ctx context.Context, item []byte) (bool, error) {
	n, err := q.client.Exists(ctx, q.keys.Lease(q.digest(item))).Result()
	if err != nil {
		return false, fmt.Errorf("workq: lease exists: %w", err)
	}
	return n > 0, nil
}

// DefaultLeaseTTL is the lease duration used when WithLeaseTTL is not
// given.
const DefaultLeaseTTL = 5 * time.Second
