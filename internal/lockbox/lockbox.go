// Package lockbox holds the keyring unlock secret in a session-scoped slot
// guarded by an auto-expiring timer. The slot is volatile: a process restart
// always comes up locked. The auto-lock deadline, by contrast, is durable and
// re-attaches across restarts.
package lockbox

import (
	"context"
	"sync"
	"time"

	"github.com/walletgate/walletgate/internal/alarms"
	"github.com/walletgate/walletgate/internal/logger"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/internal/storage"
	"github.com/walletgate/walletgate/pkg/errors"
)

const (
	// AlarmName is the logical id of the auto-lock alarm. Stable across
	// restarts so the scheduler re-attaches the same timer.
	AlarmName = "lockbox/auto_lock"

	slotKey = "lockbox/secret"
)

// PreferenceStore is the durable store for the auto-lock interval.
type PreferenceStore interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Lockbox is the time-locked secret store. One instance exists per keyring
// per process lifetime.
type Lockbox struct {
	mu        sync.Mutex
	session   *storage.Session
	prefs     PreferenceStore
	scheduler *alarms.Scheduler

	defaultMinutes int

	// cache is the in-process ephemeral copy of the secret, distinct from the
	// session slot. An ephemeral unlock populates only this; it keeps the
	// process unlocked without ever writing the slot.
	cache []byte

	onLock []func(ctx context.Context)
}

// New creates a Lockbox and registers its auto-lock alarm handler. The
// scheduler must be started after construction so a persisted past-due
// deadline still locks.
func New(session *storage.Session, prefs PreferenceStore, scheduler *alarms.Scheduler, defaultMinutes int) *Lockbox {
	l := &Lockbox{
		session:        session,
		prefs:          prefs,
		scheduler:      scheduler,
		defaultMinutes: defaultMinutes,
	}
	scheduler.Handle(AlarmName, func(ctx context.Context) {
		metrics.AutoLocksFired.Inc()
		logger.Info(ctx, "auto-lock alarm fired")
		l.Lock(ctx)
	})
	return l
}

// OnLock registers a callback invoked after every lock transition. Used by
// the keyring to drop decrypted material.
func (l *Lockbox) OnLock(fn func(ctx context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLock = append(l.onLock, fn)
}

// Unlock stores the secret. With ephemeral set, only the in-process cache is
// populated and the session slot is never written, so the unlock does not
// survive a restart either way the slot is checked. The auto-lock timer is
// restarted on every unlock.
func (l *Lockbox) Unlock(ctx context.Context, secret []byte, ephemeral bool) error {
	l.mu.Lock()
	l.cache = append([]byte(nil), secret...)
	if !ephemeral {
		l.session.Set(slotKey, secret)
	}
	l.mu.Unlock()

	return l.RestartTimer(ctx)
}

// Lock clears the session slot and the in-process cache, cancels the
// auto-lock alarm, and notifies lock listeners. In-flight operations already
// holding a copy of the secret are not aborted; only new GetData calls fail.
func (l *Lockbox) Lock(ctx context.Context) {
	l.mu.Lock()
	l.cache = nil
	l.session.Delete(slotKey)
	listeners := append([]func(ctx context.Context){}, l.onLock...)
	l.mu.Unlock()

	if err := l.scheduler.Clear(ctx, AlarmName); err != nil {
		logger.Error(ctx, "failed to clear auto-lock alarm", "error", err)
	}

	for _, fn := range listeners {
		fn(ctx)
	}
}

// GetData returns the secret, or ErrLocked when neither the slot nor the
// in-process cache holds one.
func (l *Lockbox) GetData(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache != nil {
		return append([]byte(nil), l.cache...), nil
	}
	if v, ok := l.session.Get(slotKey); ok {
		l.cache = append([]byte(nil), v...)
		return append([]byte(nil), v...), nil
	}
	return nil, errors.ErrLocked
}

// IsLocked reports whether the store holds a secret.
func (l *Lockbox) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache != nil {
		return false
	}
	_, ok := l.session.Get(slotKey)
	return !ok
}

// MinutesUntilAutoLock returns the persisted auto-lock interval, falling back
// to the configured default.
func (l *Lockbox) MinutesUntilAutoLock(ctx context.Context) int {
	var minutes int
	ok, err := l.prefs.Get(ctx, storage.PrefAutoLockMinutes, &minutes)
	if err != nil {
		logger.Error(ctx, "failed to read auto-lock minutes", "error", err)
		return l.defaultMinutes
	}
	if !ok {
		return l.defaultMinutes
	}
	return minutes
}

// SetMinutesUntilAutoLock persists a new interval. It does not reschedule the
// running timer; call RestartTimer to apply it.
func (l *Lockbox) SetMinutesUntilAutoLock(ctx context.Context, minutes int) error {
	return l.prefs.Set(ctx, storage.PrefAutoLockMinutes, minutes)
}

// RestartTimer cancels any scheduled auto-lock and, if the interval is
// positive, schedules a new one. A zero interval locks immediately instead of
// scheduling.
func (l *Lockbox) RestartTimer(ctx context.Context) error {
	minutes := l.MinutesUntilAutoLock(ctx)

	if minutes == 0 {
		l.Lock(ctx)
		return nil
	}

	return l.scheduler.Schedule(ctx, AlarmName, time.Now().Add(time.Duration(minutes)*time.Minute))
}
