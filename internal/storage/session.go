package storage

import "sync"

// Session is the volatile session-scoped key-value slot. Nothing written here
// survives a process restart; the unlock secret and one-shot UI payloads live
// in this store precisely because they must not outlive the process.
//
// A mutex guards the map because transport connections deliver messages from
// their own read loops.
type Session struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewSession creates an empty session store.
func NewSession() *Session {
	return &Session{values: make(map[string][]byte)}
}

// Get returns the value for key and whether it was present.
func (s *Session) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *Session) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
