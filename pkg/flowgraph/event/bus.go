package event

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Bus fans published events out to subscribers.
type Bus interface {
	Publisher
	// Subscribe delivers events of the listed types to handler.
	Subscribe(types []Type, handler Handler) (Subscription, error)
	// SubscribeAll delivers every event to handler.
	SubscribeAll(handler Handler) (Subscription, error)
	Close() error
}

// Subscription is one handler attached to a bus.
type Subscription interface {
	ID() string
	// Unsubscribe detaches the handler after its buffered events are
	// delivered. It is safe to call more than once.
	Unsubscribe()
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the per-subscription queue length. Publish blocks
	// while a matching subscriber's queue is full.
	BufferSize int
	// Logger receives handler failures when OnError is nil.
	Logger *slog.Logger
	// OnError receives handler errors and recovered panics.
	OnError func(evt Event, subscriberID string, err error)
}

// DefaultBusConfig buffers 256 events per subscription.
var DefaultBusConfig = BusConfig{BufferSize: 256}

// LocalBus is an in-process Bus. Each subscription runs its handler on its
// own goroutine, in publish order.
type LocalBus struct {
	config BusConfig

	mu   sync.RWMutex
	subs map[string]*subscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewBus returns a running bus. Zero config fields take their defaults.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.OnError == nil {
		logger := config.Logger
		config.OnError = func(evt Event, subscriberID string, err error) {
			logger.Warn("event handler failed",
				slog.String("event_id", evt.ID),
				slog.String("event_type", string(evt.Type)),
				slog.String("subscriber_id", subscriberID),
				slog.String("error", err.Error()),
			)
		}
	}
	return &LocalBus{
		config:  config,
		subs:    make(map[string]*subscription),
		closeCh: make(chan struct{}),
	}
}

// Publish queues evt for every matching subscriber, blocking while a queue
// is full. Handler errors never reach the publisher.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{EventID: evt.ID, Message: "publish", Err: ErrBusClosed}
	}

	b.mu.RLock()
	var targets []*subscription
	for _, sub := range b.subs {
		if sub.wants(evt.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- evt:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return &EventError{EventID: evt.ID, Message: "bus closed during publish", Err: ErrBusClosed}
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(types []Type, handler Handler) (Subscription, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("event: subscribe needs at least one type")
	}
	return b.subscribe(slices.Clone(types), handler)
}

func (b *LocalBus) SubscribeAll(handler Handler) (Subscription, error) {
	return b.subscribe(nil, handler)
}

func (b *LocalBus) subscribe(types []Type, handler Handler) (*subscription, error) {
	if handler == nil {
		panic("event: handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	sub := &subscription{
		id:      fmt.Sprintf("sub-%d", b.nextID.Add(1)),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go sub.run()
	return sub, nil
}

// Close stops accepting events, delivers what is already queued and waits
// for every handler to return.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)

	b.mu.Lock()
	for _, sub := range b.subs {
		sub.stop()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

type subscription struct {
	id       string
	types    []Type // nil matches every type
	handler  Handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	bus      *LocalBus
}

func (s *subscription) wants(t Type) bool {
	return s.types == nil || slices.Contains(s.types, t)
}

func (s *subscription) run() {
	defer s.bus.wg.Done()
	for {
		select {
		case evt := <-s.events:
			s.deliver(evt)
		case <-s.done:
			for {
				select {
				case evt := <-s.events:
					s.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) deliver(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.config.OnError(evt, s.id, fmt.Errorf("handler panicked: %v", r))
		}
	}()
	if err := s.handler(context.Background(), evt); err != nil {
		s.bus.config.OnError(evt, s.id, err)
	}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
}
