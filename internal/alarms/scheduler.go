// Package alarms provides named, durable one-shot timers. A live timer dies
// with the process, but its deadline is persisted; Start re-attaches every
// persisted alarm and fires past-due ones immediately.
package alarms

import (
	"context"
	"sync"
	"time"

	"github.com/walletgate/walletgate/internal/logger"
)

// Store is the persistence backend for alarm deadlines.
type Store interface {
	Set(ctx context.Context, name string, firesAt time.Time) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) (map[string]time.Time, error)
}

// Handler runs when an alarm fires. It is invoked outside the scheduler lock.
type Handler func(ctx context.Context)

// liveTimer pairs a timer with the generation it was armed under, so a fire
// callback that raced a reschedule can recognize it is stale.
type liveTimer struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler owns the live timers for all named alarms.
type Scheduler struct {
	mu       sync.Mutex
	timers   map[string]*liveTimer
	handlers map[string]Handler
	gen      uint64
	store    Store
}

// NewScheduler creates a scheduler backed by the given store.
func NewScheduler(store Store) *Scheduler {
	return &Scheduler{
		timers:   make(map[string]*liveTimer),
		handlers: make(map[string]Handler),
		store:    store,
	}
}

// Handle registers the handler for a named alarm. Must be called before
// Start so that persisted alarms can be re-attached.
func (s *Scheduler) Handle(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// Start re-attaches every persisted alarm. Deadlines that passed while the
// process was down fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	persisted, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	for name, firesAt := range persisted {
		s.mu.Lock()
		_, known := s.handlers[name]
		s.mu.Unlock()
		if !known {
			logger.Warn(ctx, "dropping alarm with no handler", "alarm", name)
			_ = s.store.Delete(ctx, name)
			continue
		}
		s.attach(name, firesAt)
	}

	return nil
}

// Schedule persists and arms a named alarm, replacing any previous one with
// the same name.
func (s *Scheduler) Schedule(ctx context.Context, name string, firesAt time.Time) error {
	if err := s.store.Set(ctx, name, firesAt); err != nil {
		return err
	}
	s.attach(name, firesAt)
	return nil
}

// Clear cancels a named alarm and removes its persisted deadline.
func (s *Scheduler) Clear(ctx context.Context, name string) error {
	s.mu.Lock()
	if lt, ok := s.timers[name]; ok {
		lt.timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	return s.store.Delete(ctx, name)
}

// Stop cancels all live timers without touching persisted deadlines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, lt := range s.timers {
		lt.timer.Stop()
		delete(s.timers, name)
	}
}

func (s *Scheduler) attach(name string, firesAt time.Time) {
	s.mu.Lock()
	if lt, ok := s.timers[name]; ok {
		lt.timer.Stop()
	}
	s.gen++
	gen := s.gen
	delay := time.Until(firesAt)
	if delay < 0 {
		delay = 0
	}
	lt := &liveTimer{gen: gen}
	lt.timer = time.AfterFunc(delay, func() { s.fire(name, gen) })
	s.timers[name] = lt
	s.mu.Unlock()
}

func (s *Scheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	lt, ok := s.timers[name]
	if !ok || lt.gen != gen {
		// The alarm was rescheduled or cleared after this callback left the
		// timer queue; the persisted deadline belongs to the new incarnation.
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	h := s.handlers[name]
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.store.Delete(ctx, name); err != nil {
		logger.Error(ctx, "failed to clear fired alarm", "alarm", name, "error", err)
	}
	if h != nil {
		h(ctx)
	}
}
