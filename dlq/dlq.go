// Package dlq provides inspection and replay over a work queue's error
// channel — the pair of index-aligned Redis lists holding failed items
// and their human-readable failure reasons.
//
// Queue.Fail head-pushes onto both lists, so index 0 is the most recent
// failure and the tail is the oldest. Replay drains oldest-first.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vireo/workq"
)

// replayScript atomically moves the oldest error entry back to pending
// and drops its aligned message.
//
//	KEYS[1] error list
//	KEYS[2] error-message list
//	KEYS[3] pending list
//
// Returns the replayed item, or nil when the error list is empty.
var replayScript = redis.NewScript(`
local item = redis.call("RPOPLPUSH", KEYS[1], KEYS[3])
if item == false then
  return false
end
redis.call("RPOP", KEYS[2])
return item
`)

// Entry is one failed item with its failure reason.
type Entry struct {
	Item    []byte
	Message string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides error-channel operations for one queue.
type Service struct {
	client redis.Cmdable
	keys   workq.Keys
	logger *slog.Logger
}

// New creates a Service for the named queue.
func New(client redis.Cmdable, queueName string, opts ...Option) *Service {
	s := &Service{
		client: client,
		keys:   workq.KeysFor(queueName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of error entries. It returns
// workq.ErrListMisaligned if the item and message lists disagree, which
// indicates out-of-band modification — Fail writes both inside one
// MULTI/EXEC.
func (s *Service) Len(ctx context.Context) (int64, error) {
	var items, msgs *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LLen(ctx, s.keys.Errors)
		msgs = pipe.LLen(ctx, s.keys.ErrorMessages)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("workq/dlq: len: %w", err)
	}
	if items.Val() != msgs.Val() {
		return items.Val(), workq.ErrListMisaligned
	}
	return items.Val(), nil
}

// Entries returns count error entries starting at offset, most recent
// first (offset 0 is the latest failure). A negative count returns all
// remaining entries.
func (s *Service) Entries(ctx context.Context, offset, count int64) ([]Entry, error) {
	stop := int64(-1)
	if count >= 0 {
		stop = offset + count - 1
	}

	var items, msgs *redis.StringSliceCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, s.keys.Errors, offset, stop)
		msgs = pipe.LRange(ctx, s.keys.ErrorMessages, offset, stop)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workq/dlq: entries: %w", err)
	}
	if len(items.Val()) != len(msgs.Val()) {
		return nil, workq.ErrListMisaligned
	}

	entries := make([]Entry, len(items.Val()))
	for i, item := range items.Val() {
		entries[i] = Entry{Item: []byte(item), Message: msgs.Val()[i]}
	}
	return entries, nil
}

// Replay moves up to n error entries back onto the pending list,
// oldest failure first, dropping their messages. It returns the number
// of items replayed, which is less than n when the error list drains.
// Replayed items are delivered again with no memory of earlier failures.
func (s *Service) Replay(ctx context.Context, n int) (int, error) {
	replayed := 0
	for range n {
		item, err := replayScript.Run(ctx, s.client,
			[]string{s.keys.Errors, s.keys.ErrorMessages, s.keys.Pending},
		).Text()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return replayed, fmt.Errorf("workq/dlq: replay: %w", err)
		}
		replayed++
		s.logger.Info("replayed error entry",
			slog.String("queue", s.keys.Pending),
			slog.Int("bytes", len(item)),
		)
	}
	return replayed, nil
}

// Purge deletes both error lists.
func (s *Service) Purge(ctx context.Context) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.Errors)
	pipe.Del(ctx, s.keys.ErrorMessages)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workq/dlq: purge: %w", err)
	}
	return nil
}
