// Package eventbus is the in-process publish/subscribe channel between the
// pollers, the reconciler and the address allocator.
//
// Every event kind owns one ordered mailbox drained by a dedicated worker:
// handlers of the same kind observe events in publish order, while a slow
// handler of one kind does not delay delivery of other kinds.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/metrics"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus closed")

const defaultMailboxSize = 1024

// Outbox receives events that must leave the process, after local handlers
// have run.
type Outbox interface {
	Publish(ctx context.Context, e event.Event) error
}

type handlerFunc func(ctx context.Context, e event.Event) error

type subscription struct {
	id   uint64
	name string
	fn   handlerFunc
}

type mailbox struct {
	kind event.Kind
	ch   chan event.Event
}

type Bus struct {
	logger      *slog.Logger
	mailboxSize int

	mu        sync.RWMutex
	subs      map[event.Kind][]subscription
	mailboxes map[event.Kind]*mailbox
	nextID    uint64
	closed    bool

	outbox   Outbox
	outbound map[event.Kind]bool

	inflight sync.WaitGroup
	workers  sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

type Option func(*Bus)

// WithMailboxSize bounds the number of queued events per kind. Publish
// blocks once a mailbox is full.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// WithOutbox forwards events of the listed kinds to o.
func WithOutbox(o Outbox, kinds ...event.Kind) Option {
	return func(b *Bus) {
		b.outbox = o
		for _, k := range kinds {
			b.outbound[k] = true
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger.With("component", "event_bus"),
		mailboxSize: defaultMailboxSize,
		subs:        make(map[event.Kind][]subscription),
		mailboxes:   make(map[event.Kind]*mailbox),
		outbound:    make(map[event.Kind]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for every event of type E and returns a function
// that removes the subscription. E must be one of the value types declared
// in the event package.
func Subscribe[E event.Event](b *Bus, name string, fn func(ctx context.Context, e E) error) func() {
	var zero E
	kind := zero.Kind()
	return b.subscribe(kind, name, func(ctx context.Context, e event.Event) error {
		typed, ok := e.(E)
		if !ok {
			return fmt.Errorf("event kind %s carried %T", kind, e)
		}
		return fn(ctx, typed)
	})
}

func (b *Bus) subscribe(kind event.Kind, name string, fn handlerFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, name: name, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[kind]
			for i, s := range list {
				if s.id == id {
					b.subs[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish enqueues e on its kind's mailbox. It blocks while the mailbox is
// full and returns ctx.Err() if ctx ends first.
func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	if e == nil {
		return errors.New("publish nil event")
	}
	kind := e.Kind()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	mb := b.mailboxLocked(kind)
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	select {
	case mb.ch <- e:
		metrics.BusEventsPublished.WithLabelValues(kind.String()).Inc()
		metrics.BusMailboxDepth.WithLabelValues(kind.String()).Set(float64(len(mb.ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) mailboxLocked(kind event.Kind) *mailbox {
	if mb, ok := b.mailboxes[kind]; ok {
		return mb
	}
	mb := &mailbox{kind: kind, ch: make(chan event.Event, b.mailboxSize)}
	b.mailboxes[kind] = mb
	b.workers.Add(1)
	go b.drain(mb)
	return mb
}

func (b *Bus) drain(mb *mailbox) {
	defer b.workers.Done()
	for e := range mb.ch {
		metrics.BusMailboxDepth.WithLabelValues(mb.kind.String()).Set(float64(len(mb.ch)))
		b.dispatch(e)
	}
}

func (b *Bus) dispatch(e event.Event) {
	kind := e.Kind()

	b.mu.RLock()
	handlers := append([]subscription(nil), b.subs[kind]...)
	b.mu.RUnlock()

	for _, s := range handlers {
		if err := b.invoke(s, e); err != nil {
			metrics.BusHandlerErrors.WithLabelValues(kind.String(), s.name).Inc()
			b.logger.Error("event handler failed",
				"kind", kind,
				"handler", s.name,
				"error", err,
			)
		}
	}

	if b.outbox != nil && b.outbound[kind] {
		if err := b.outbox.Publish(b.ctx, e); err != nil {
			metrics.BusOutboxErrors.WithLabelValues(kind.String()).Inc()
			b.logger.Error("outbox publish failed", "kind", kind, "error", err)
		}
	}
}

func (b *Bus) invoke(s subscription, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.fn(b.ctx, e)
}

// Close stops accepting events, delivers everything already queued and
// waits for the workers to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()

	b.mu.Lock()
	for _, mb := range b.mailboxes {
		close(mb.ch)
	}
	b.mu.Unlock()

	b.workers.Wait()
	b.cancel()
}
