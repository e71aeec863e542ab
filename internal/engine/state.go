package engine

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mailsched/mailsched/internal/observability"
)

// Well-known correlation store keys.
const (
	KeyPendingScheduledAt = "pending_scheduled_at"
	KeyPatchesApplied     = "patches_applied"
	KeyInitialized        = "is_initialized"
	KeyScheduledCount     = "scheduled_count"
	KeyLastConfirmation   = "last_confirmation"
	KeyLastError          = "last_error"
	KeyAbandonedAt        = "abandoned_at"
)

// Change describes a single store mutation.
type Change struct {
	Key      string
	OldValue any
	NewValue any
}

// Observer receives change notifications.
type Observer func(Change)

// Store is an observable key/value holder for engine state.
type Store struct {
	logger observability.Logger

	mu        sync.RWMutex
	values    map[string]any
	observers map[int]Observer
	nextID    int
}

func initialState() map[string]any {
	return map[string]any{
		KeyPendingScheduledAt: "",
		KeyPatchesApplied:     false,
		KeyInitialized:        false,
		KeyScheduledCount:     0,
		KeyLastConfirmation:   "",
		KeyLastError:          "",
		KeyAbandonedAt:        "",
	}
}

// NewStore creates a store holding the initial defaults.
func NewStore(logger observability.Logger) *Store {
	return &Store{
		logger:    observability.OrNop(logger),
		values:    initialState(),
		observers: make(map[int]Observer),
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// GetString returns the value under key as a string.
func (s *Store) GetString(key string) string {
	v, _ := s.Get(key).(string)
	return v
}

// GetBool returns the value under key as a bool.
func (s *Store) GetBool(key string) bool {
	v, _ := s.Get(key).(bool)
	return v
}

// GetInt returns the value under key as an int.
func (s *Store) GetInt(key string) int {
	v, _ := s.Get(key).(int)
	return v
}

// Set stores value and notifies observers synchronously.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	old := s.values[key]
	s.values[key] = value
	observers := s.snapshotObservers()
	s.mu.Unlock()

	s.notify(observers, Change{Key: key, OldValue: old, NewValue: value})
}

// swap sets key only when the current value equals expect. Observers are
// notified on success.
func (s *Store) swap(key string, expect, value any) bool {
	s.mu.Lock()
	if s.values[key] != expect {
		s.mu.Unlock()
		return false
	}
	s.values[key] = value
	observers := s.snapshotObservers()
	s.mu.Unlock()

	s.notify(observers, Change{Key: key, OldValue: expect, NewValue: value})
	return true
}

// take replaces a non-empty string under key with "" and returns the old
// value. The check and the clear happen under one lock.
func (s *Store) take(key string) string {
	s.mu.Lock()
	old, _ := s.values[key].(string)
	if old == "" {
		s.mu.Unlock()
		return ""
	}
	s.values[key] = ""
	observers := s.snapshotObservers()
	s.mu.Unlock()

	s.notify(observers, Change{Key: key, OldValue: old, NewValue: ""})
	return old
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Reset restores every key to its default. Observers stay registered.
func (s *Store) Reset() {
	s.mu.Lock()
	old := s.values
	s.values = initialState()
	observers := s.snapshotObservers()
	fresh := s.values
	s.mu.Unlock()

	keys := make([]string, 0, len(fresh))
	for key := range fresh {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if old[key] != fresh[key] {
			s.notify(observers, Change{Key: key, OldValue: old[key], NewValue: fresh[key]})
		}
	}
}

// Snapshot returns a copy of all values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// snapshotObservers copies observers in registration order; caller holds mu.
func (s *Store) snapshotObservers() []Observer {
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

func (s *Store) notify(observers []Observer, change Change) {
	for _, fn := range observers {
		s.safeCall(fn, change)
	}
}

func (s *Store) safeCall(fn Observer, change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state observer panicked",
				zap.String("key", change.Key),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(change)
}
