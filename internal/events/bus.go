// Package events dispatches change events from the store's event log to
// subscribed handlers with at-least-once delivery.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KankareDEV/lms-v4/internal/store"
)

// Handler processes one event. Handlers may see the same event more than
// once and must be idempotent.
type Handler func(ctx context.Context, e store.Event) error

// Log is the durable side of the bus.
type Log interface {
	PendingEvents(ctx context.Context, olderThan time.Time, limit int) ([]store.Event, error)
	AckEvent(ctx context.Context, seq int64) error
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Observer is told how each delivery ended.
type Observer func(eventType string, err error)

type subscription struct {
	name string
	fn   Handler
}

// Bus fans events out to handlers on a bounded worker pool.
type Bus struct {
	log           Log
	workers       int
	grace         time.Duration
	batch         int
	maxDeliveries int
	observe       Observer

	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group

	mu       sync.RWMutex
	subs     map[string][]subscription
	closed   bool
	inflight map[int64]struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithWorkers bounds the number of events handled concurrently.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithGrace sets how old an unacknowledged event must be before the sweep
// redelivers it.
func WithGrace(d time.Duration) Option {
	return func(b *Bus) {
		if d >= 0 {
			b.grace = d
		}
	}
}

// WithMaxDeliveries sets how many times an event is attempted before it is
// acknowledged as failed.
func WithMaxDeliveries(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithObserver registers a delivery observer.
func WithObserver(o Observer) Option { return func(b *Bus) { b.observe = o } }

// New creates a bus over the event log.
func New(log Log, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		log:           log,
		workers:       4,
		grace:         30 * time.Second,
		batch:         100,
		maxDeliveries: 10,
		ctx:           ctx,
		cancel:        cancel,
		subs:          map[string][]subscription{},
		inflight:      map[int64]struct{}{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.g.SetLimit(b.workers)
	return b
}

// Subscribe registers fn for events of type typ. name identifies the
// handler in logs.
func (b *Bus) Subscribe(typ, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[typ] = append(b.subs[typ], subscription{name: name, fn: fn})
}

// Deliver hands e to the worker pool without blocking. When the pool is
// saturated or the bus is closed the event stays pending in the log and the
// sweep picks it up later.
func (b *Bus) Deliver(e store.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if !b.g.TryGo(func() error {
		b.process(b.ctx, e)
		return nil
	}) {
		slog.Debug("event pool saturated, deferring to sweep", "seq", e.Seq, "type", e.Type)
	}
}

// Redeliver replays pending events older than the grace period and returns
// how many were processed.
func (b *Bus) Redeliver(ctx context.Context) (int, error) {
	pending, err := b.log.PendingEvents(ctx, time.Now().Add(-b.grace), b.batch)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(b.workers)
	n := 0
	for _, e := range pending {
		if b.isInflight(e.Seq) {
			continue
		}
		n++
		g.Go(func() error {
			b.process(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	if n > 0 {
		slog.Info("redelivered events", "count", n)
	}
	return n, nil
}

// Run sweeps the log every interval until ctx is done. Acknowledged events
// older than retention are pruned; a zero retention keeps them.
func (b *Bus) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Redeliver(ctx); err != nil {
				slog.Error("event sweep failed", "error", err)
			}
			if retention > 0 {
				if n, err := b.log.PruneEvents(ctx, time.Now().Add(-retention)); err != nil {
					slog.Error("event prune failed", "error", err)
				} else if n > 0 {
					slog.Debug("pruned events", "count", n)
				}
			}
		}
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	_ = b.g.Wait()
	b.cancel()
}

func (b *Bus) isInflight(seq int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inflight[seq]
	return ok
}

// process runs every handler for e and acknowledges the event only when
// all of them succeeded.
func (b *Bus) process(ctx context.Context, e store.Event) {
	b.mu.Lock()
	if _, busy := b.inflight[e.Seq]; busy {
		b.mu.Unlock()
		return
	}
	b.inflight[e.Seq] = struct{}{}
	subs := append([]subscription(nil), b.subs[e.Type]...)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, e.Seq)
		b.mu.Unlock()
	}()

	var errs []error
	for _, s := range subs {
		if err := b.safeCall(ctx, s, e); err != nil {
			slog.Error("event handler failed",
				"handler", s.name, "type", e.Type, "key", e.Key, "seq", e.Seq, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	err := errors.Join(errs...)
	if b.observe != nil {
		b.observe(e.Type, err)
	}
	if err != nil && e.Deliveries < b.maxDeliveries {
		return
	}
	if err != nil {
		slog.Error("giving up on event", "type", e.Type, "key", e.Key, "seq", e.Seq, "deliveries", e.Deliveries)
	}
	if ackErr := b.log.AckEvent(ctx, e.Seq); ackErr != nil {
		slog.Error("failed to ack event", "seq", e.Seq, "error", ackErr)
	}
}

func (b *Bus) safeCall(ctx context.Context, s subscription, e store.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.fn(ctx, e)
}
