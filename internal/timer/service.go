package timer

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service provides named, cancelable, single-fire delayed callbacks scoped
// to a session id. Setting a timer under a key that already holds a live
// timer cancels the old one first; there are never two live timers under
// one (sessionID, key) pair.
type Service struct {
	clock clockwork.Clock

	mu     sync.Mutex
	timers map[string]map[string]*entry // session id -> key -> entry
}

type entry struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// NewService creates a timer service backed by the given clock.
// Use clockwork.NewRealClock() in production and a FakeClock in tests.
func NewService(clock clockwork.Clock) *Service {
	return &Service{
		clock:  clock,
		timers: make(map[string]map[string]*entry),
	}
}

// Set schedules fn to fire once after delay. Last writer wins: an existing
// timer under the same key is canceled before the new one is registered.
func (s *Service) Set(sessionID, key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	byKey := s.timers[sessionID]
	if byKey == nil {
		byKey = make(map[string]*entry)
		s.timers[sessionID] = byKey
	}
	if old := byKey[key]; old != nil {
		stopAndDrainTimer(old.timer)
		close(old.cancel)
		log.Debug().Str("session_id", sessionID).Str("key", key).Msg("replaced existing timer")
	}

	e := &entry{
		timer:  s.clock.NewTimer(delay),
		cancel: make(chan struct{}),
	}
	byKey[key] = e
	s.mu.Unlock()

	go func() {
		select {
		case <-e.timer.Chan():
			// A concurrent Clear may have won between the fire and this
			// handoff; only the goroutine that removes the entry runs fn.
			if !s.removeIfCurrent(sessionID, key, e) {
				return
			}
			s.invoke(sessionID, key, fn)
		case <-e.cancel:
		}
	}()
}

// Clear cancels and removes the timer under (sessionID, key).
// Returns false if no such timer exists.
func (s *Service) Clear(sessionID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.timers[sessionID]
	e, ok := byKey[key]
	if !ok {
		return false
	}
	stopAndDrainTimer(e.timer)
	close(e.cancel)
	delete(byKey, key)
	if len(byKey) == 0 {
		delete(s.timers, sessionID)
	}
	return true
}

// ClearAll cancels every timer for a session. Used on forced phase
// transitions and session teardown.
func (s *Service) ClearAll(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.timers[sessionID]
	for key, e := range byKey {
		stopAndDrainTimer(e.timer)
		close(e.cancel)
		delete(byKey, key)
	}
	delete(s.timers, sessionID)
}

// Has reports whether a live timer exists under (sessionID, key)
func (s *Service) Has(sessionID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[sessionID][key]
	return ok
}

// ActiveKeys returns the sorted keys of every live timer for a session
func (s *Service) ActiveKeys(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.timers[sessionID]
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// removeIfCurrent removes the entry only if it is still the registered one
// for its key. Returns false when a Clear or a replacing Set got there first.
func (s *Service) removeIfCurrent(sessionID, key string, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.timers[sessionID]
	if byKey[key] != e {
		return false
	}
	delete(byKey, key)
	if len(byKey) == 0 {
		delete(s.timers, sessionID)
	}
	return true
}

// invoke runs a fired callback. The registry entry is already removed, so a
// panicking callback cannot leave a ghost timer behind.
func (s *Service) invoke(sessionID, key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session_id", sessionID).
				Str("key", key).
				Interface("panic", r).
				Msg("timer callback panicked")
		}
	}()
	fn()
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks, per the time.Timer.Stop() documentation.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
