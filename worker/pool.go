// Package worker provides a consumer pool over a work queue: concurrent
// goroutines that lease items, run a handler, and route the outcome to
// Complete or Fail.
//
// Each goroutine owns its own workq.Queue instance — the queue type is
// not safe for concurrent use and every consumer needs its own lease
// session.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/vireo/workq"
	"github.com/vireo/workq/backoff"
)

// Handler processes one leased item. A nil return completes the item; an
// error return is retried in-process per the pool's backoff strategy and
// finally routed to the error channel with the error text as the message.
type Handler func(ctx context.Context, item []byte) error

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets the number of consumer goroutines.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLeaseTTL sets the lease duration requested for each item. It
// should comfortably exceed the expected handler time, or the janitor
// will hand the item to another worker mid-flight.
func WithLeaseTTL(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.leaseTTL = d
		}
	}
}

// WithLeaseTimeout bounds each blocking lease wait. Shorter values make
// Stop more responsive; the default is one second.
func WithLeaseTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.leaseTimeout = d
		}
	}
}

// WithLeaseLimit caps leases per admission bucket across all consumers
// of the queue (shared store-side counter). Zero disables the cap.
func WithLeaseLimit(n int) Option {
	return func(p *Pool) { p.leaseLimit = n }
}

// WithMaxAttempts sets how many times the handler runs per item before
// the item is routed to the error channel. Minimum 1.
func WithMaxAttempts(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy between handler attempts.
func WithBackoff(b backoff.Strategy) Option {
	return func(p *Pool) {
		if b != nil {
			p.backoff = b
		}
	}
}

// WithPacer adds process-local pacing in front of every lease, on top of
// the store-side admission limit. Useful to keep one worker from
// saturating a shared downstream.
func WithPacer(l *rate.Limiter) Option {
	return func(p *Pool) { p.pacer = l }
}

// WithQueueOptions forwards options to the per-consumer queue instances,
// e.g. workq.WithDigest or workq.WithLimiterOptions.
func WithQueueOptions(opts ...workq.Option) Option {
	return func(p *Pool) {
		p.queueOpts = append(p.queueOpts, opts...)
	}
}

// Pool manages a set of concurrent consumer goroutines over one queue.
type Pool struct {
	client    redis.Cmdable
	queueName string
	handler   Handler
	logger    *slog.Logger

	concurrency  int
	leaseTTL     time.Duration
	leaseTimeout time.Duration
	leaseLimit   int
	maxAttempts  int
	backoff      backoff.Strategy
	pacer        *rate.Limiter
	queueOpts    []workq.Option

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPool creates a consumer pool for the named queue.
func NewPool(client redis.Cmdable, queueName string, handler Handler, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		client:       client,
		queueName:    queueName,
		handler:      handler,
		logger:       logger,
		concurrency:  1,
		leaseTTL:     workq.DefaultLeaseTTL,
		leaseTimeout: time.Second,
		maxAttempts:  1,
		backoff:      backoff.Default(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the consumer goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("queue", p.queueName),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.consumeLoop()
	}
	return nil
}

// Stop signals all consumers to stop and waits for them to finish or for
// the context deadline, whichever comes first. In-flight items keep
// their leases either way; an item abandoned at deadline is reclaimed by
// the janitor once its lease expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("queue", p.queueName))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

// consumeLoop is run by each consumer goroutine with its own queue
// instance and session.
func (p *Pool) consumeLoop() {
	defer p.wg.Done()

	q := workq.New(p.client, p.queueName, p.queueOpts...)
	log := p.logger.With(
		slog.String("queue", p.queueName),
		slog.String("session", q.Session()),
	)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.pacer != nil {
			if err := p.pacer.Wait(context.Background()); err != nil {
				return
			}
		}

		item, err := q.Lease(context.Background(),
			workq.WithLeaseTTL(p.leaseTTL),
			workq.WithLeaseTimeout(p.leaseTimeout),
			workq.WithLeaseLimit(p.leaseLimit),
		)
		if err != nil {
			log.Error("lease error", slog.String("error", err.Error()))
			p.sleep(p.leaseTimeout)
			continue
		}
		if item == nil {
			continue
		}

		p.handleItem(q, log, item)
	}
}

// handleItem runs the handler with in-process retries, then completes or
// fails the item.
func (p *Pool) handleItem(q *workq.Queue, log *slog.Logger, item []byte) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = p.handler(context.Background(), item)
		if lastErr == nil {
			if err := q.Complete(context.Background(), item); err != nil {
				log.Error("complete error", slog.String("error", err.Error()))
			}
			return
		}

		log.Debug("handler attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt < p.maxAttempts {
			p.sleep(p.backoff.Delay(attempt))
		}
	}

	if err := q.Fail(context.Background(), item, lastErr.Error()); err != nil {
		log.Error("fail error", slog.String("error", err.Error()))
	}
}

// sleep pauses without delaying shutdown.
func (p *Pool) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}
