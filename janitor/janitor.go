// Package janitor reclaims orphaned work queue items.
//
// An item sitting in the processing list without a live lease key is an
// orphan: its worker crashed before writing the lease, or the lease
// expired without Complete or Fail. The janitor sweeps the processing
// list and returns orphans to the pending list so other workers can pick
// them up.
//
// Each move is a single Lua script that re-checks lease absence on the
// server, so a lease created between the scan and the move is respected,
// and an item completed mid-sweep is left alone. A best-effort
// read-then-write sequence would lose both races.
//
// Any process may run a janitor; the script makes concurrent sweeps safe,
// at worst duplicating delivery — which at-least-once semantics already
// permit.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vireo/workq"
)

// reclaimScript atomically returns one orphaned item to the pending list.
//
//	KEYS[1] pending list
//	KEYS[2] processing list
//	KEYS[3] lease key for the item
//	ARGV[1] item payload
//
// Returns 1 if the item was moved, 0 if a lease exists or the item has
// already left the processing list.
var reclaimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
if redis.call("LREM", KEYS[2], 1, ARGV[1]) == 1 then
  redis.call("LPUSH", KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// DefaultInterval is the sweep cadence used when WithInterval is not
// given. It should be on the order of the lease TTL: sweeping faster
// finds nothing new, sweeping much slower leaves orphans idle.
const DefaultInterval = 5 * time.Second

// Option configures a Janitor.
type Option func(*Janitor)

// WithInterval sets the sweep cadence for Run.
func WithInterval(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

// WithDigest sets the item identity function. Must match the digest the
// queue's workers use, otherwise lease keys will not be found and live
// items will be reclaimed out from under their workers.
func WithDigest(d workq.DigestFunc) Option {
	return func(j *Janitor) {
		if d != nil {
			j.digest = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// Janitor sweeps one queue's processing list for orphaned items.
type Janitor struct {
	client   redis.Cmdable
	keys     workq.Keys
	digest   workq.DigestFunc
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Janitor for the named queue.
func New(client redis.Cmdable, queueName string, opts ...Option) *Janitor {
	j := &Janitor{
		client:   client,
		keys:     workq.KeysFor(queueName),
		digest:   workq.SHA224Digest,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SweepOnce scans the processing list and moves every item without a live
// lease back to the pending list. It returns the number of items
// reclaimed. The processing list stays short in practice — roughly the
// number of recently active workers — so a full LRANGE per sweep is fine.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	items, err := j.client.LRange(ctx, j.keys.Processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("workq/janitor: scan processing: %w", err)
	}

	// Duplicate payloads share a digest and therefore a lease key; one
	// reclaim attempt per distinct payload is enough, the script moves a
	// single occurrence at a time.
	seen := make(map[string]int, len(items))
	for _, item := range items {
		seen[item]++
	}

	reclaimed := 0
	for item, count := range seen {
		leaseKey := j.keys.Lease(j.digest([]byte(item)))
		for range count {
			moved, err := reclaimScript.Run(ctx, j.client,
				[]string{j.keys.Pending, j.keys.Processing, leaseKey},
				item,
			).Int()
			if err != nil {
				return reclaimed, fmt.Errorf("workq/janitor: reclaim: %w", err)
			}
			if moved == 0 {
				break
			}
			reclaimed++
		}
	}

	if reclaimed > 0 {
		j.logger.Info("reclaimed orphaned items",
			slog.String("queue", j.keys.Pending),
			slog.Int("count", reclaimed),
		)
	}
	return reclaimed, nil
}

// Run sweeps at the configured interval until ctx is cancelled. Sweep
// errors are logged, not fatal; the next tick retries.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := j.SweepOnce(ctx); err != nil {
				j.logger.Error("sweep failed",
					slog.String("queue", j.keys.Pending),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
