// Package notify fans task change events out to live subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"taskhub/internal/domain"
)

// Topic is the single broadcast channel the bus serves.
const Topic = "tasks"

// Subscriber receives events from the bus. Deliver is called from the
// subscription's own goroutine, one event at a time, in publish order.
type Subscriber interface {
	ID() string
	Deliver(ctx context.Context, event domain.TaskEvent) error
}

// Publisher is the write side of the bus used by services.
type Publisher interface {
	Publish(ctx context.Context, event domain.TaskEvent)
}

type Config struct {
	// QueueSize bounds the per-subscriber backlog; events beyond it are dropped.
	QueueSize int
	// DeliverTimeout caps a single Deliver call.
	DeliverTimeout time.Duration
	// Relay, when set, carries events between instances. Local subscribers
	// are always served at publish time; echoes of our own events are skipped.
	Relay  Relay
	Logger *logrus.Logger
}

// Bus is a publish/subscribe hub for the tasks topic.
type Bus struct {
	cfg      Config
	instance string

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID atomic.Uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id    uint64
	bus   *Bus
	sub   Subscriber
	queue chan domain.TaskEvent
	done  chan struct{}
	once  sync.Once
}

func NewBus(cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:      cfg,
		instance: uuid.NewString(),
		subs:     make(map[uint64]*Subscription),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins consuming the relay, if one is configured, and returns once
// the relay subscription is live.
func (b *Bus) Start(ctx context.Context) error {
	if b.cfg.Relay == nil {
		return nil
	}
	ready := make(chan struct{})
	var readyOnce sync.Once
	exited := make(chan error, 1)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := b.cfg.Relay.Listen(b.ctx, func() { readyOnce.Do(func() { close(ready) }) }, b.receive)
		if err != nil && b.ctx.Err() == nil {
			b.cfg.Logger.Errorf("relay listener stopped: %v", err)
		}
		exited <- err
	}()

	select {
	case <-ready:
		return nil
	case err := <-exited:
		if err == nil {
			err = errors.New("listener exited before subscribing")
		}
		return fmt.Errorf("start relay: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("start relay: %w", ctx.Err())
	}
}

// Subscribe registers sub. Every Publish that starts after Subscribe returns
// reaches it; earlier events are never replayed.
func (b *Bus) Subscribe(sub Subscriber) *Subscription {
	s := &Subscription{
		id:    b.nextID.Add(1),
		bus:   b,
		sub:   sub,
		queue: make(chan domain.TaskEvent, b.cfg.QueueSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		return s
	}
	b.subs[s.id] = s
	count := len(b.subs)
	b.wg.Add(1)
	b.mu.Unlock()

	go s.run()

	b.cfg.Logger.WithField("subscriber", sub.ID()).Debugf("subscribed to %s (total: %d)", Topic, count)
	return s
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[s.id]
	delete(b.subs, s.id)
	count := len(b.subs)
	b.mu.Unlock()

	s.once.Do(func() { close(s.done) })
	if ok {
		b.cfg.Logger.WithField("subscriber", s.sub.ID()).Debugf("unsubscribed from %s (total: %d)", Topic, count)
	}
}

// Publish announces event without waiting for delivery. Local subscribers
// registered at this moment receive it; the relay forwards it to other instances.
func (b *Bus) Publish(ctx context.Context, event domain.TaskEvent) {
	b.dispatch(event)
	if b.cfg.Relay == nil {
		return
	}
	relayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.cfg.Relay.Publish(relayCtx, Envelope{Origin: b.instance, Event: event}); err != nil {
		b.cfg.Logger.WithField("task_id", event.TaskID).Warnf("relay publish failed, event delivered locally only: %v", err)
	}
}

// receive handles an envelope from the relay.
func (b *Bus) receive(env Envelope) {
	if env.Origin == b.instance {
		return
	}
	b.dispatch(env.Event)
}

// dispatch enqueues event for every subscriber registered right now.
func (b *Bus) dispatch(event domain.TaskEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case <-s.done:
		case s.queue <- event:
		default:
			b.cfg.Logger.WithFields(logrus.Fields{
				"subscriber": s.sub.ID(),
				"task_id":    event.TaskID,
			}).Warn("subscriber queue full, dropping event")
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops every subscription worker and the relay listener.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.done) })
	}
	b.cancel()
	if b.cfg.Relay != nil {
		if err := b.cfg.Relay.Close(); err != nil {
			b.cfg.Logger.Warnf("close relay: %v", err)
		}
	}
	b.wg.Wait()
}

// Close detaches the subscription from its bus.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

func (s *Subscription) run() {
	defer s.bus.wg.Done()
	logger := s.bus.cfg.Logger.WithField("subscriber", s.sub.ID())
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(logger, event)
		}
	}
}

func (s *Subscription) deliver(logger *logrus.Entry, event domain.TaskEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("subscriber panic recovered: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(s.bus.ctx, s.bus.cfg.DeliverTimeout)
	defer cancel()
	if err := s.sub.Deliver(ctx, event); err != nil {
		logger.WithFields(logrus.Fields{
			"task_id": event.TaskID,
			"action":  event.Action,
		}).Warnf("delivery failed, event dropped: %v", err)
	}
}
