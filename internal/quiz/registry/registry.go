package registry

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizdash/quizdash/internal/quiz"
)

const pinLength = 6

// Registry owns every live session, keyed by id and by PIN. The two maps
// are always updated together under one lock so the id<->PIN mapping stays
// injective; no caller can observe one entry removed and not the other.
type Registry struct {
	clock clockwork.Clock

	mu   sync.RWMutex
	byID map[string]*quiz.Session
	pins map[string]string // PIN -> session id
}

// New creates an empty registry
func New(clock clockwork.Clock) *Registry {
	return &Registry{
		clock: clock,
		byID:  make(map[string]*quiz.Session),
		pins:  make(map[string]string),
	}
}

// Create allocates a new session with a fresh id, a host player bound to
// hostConnectionID, and a PIN unique among currently-live sessions.
func (r *Registry) Create(hostConnectionID, title string, questions []quiz.Question, settings quiz.Settings) *quiz.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pin string
	for {
		pin = generatePIN()
		if _, taken := r.pins[pin]; !taken {
			break
		}
	}

	now := r.clock.Now()
	host := &quiz.Player{
		PersistentID: uuid.New().String(),
		ConnectionID: hostConnectionID,
		Name:         "host",
		IsHost:       true,
		Connected:    true,
		JoinedAt:     now,
	}
	s := &quiz.Session{
		ID:              uuid.New().String(),
		PIN:             pin,
		Title:           title,
		Questions:       questions,
		Settings:        settings,
		CurrentQuestion: -1,
		Phase:           quiz.PhaseWaiting,
		Players:         []*quiz.Player{host},
		CreatedAt:       now,
	}

	r.byID[s.ID] = s
	r.pins[pin] = s.ID

	log.Info().
		Str("session_id", s.ID).
		Str("pin", pin).
		Str("title", title).
		Int("questions", len(questions)).
		Msg("session created")
	return s
}

// GetByID returns the session with the given id. Absence is a normal
// outcome, not a fault.
func (r *Registry) GetByID(id string) (*quiz.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	return s, ok
}

// GetByPIN returns the live session holding the given PIN
func (r *Registry) GetByPIN(pin string) (*quiz.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pins[pin]
	if !ok {
		return nil, false
	}
	s, ok := r.byID[id]
	return s, ok
}

// Delete removes the session and frees its PIN atomically.
// Returns false if the session was already gone.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.pins, s.PIN)

	log.Info().Str("session_id", id).Str("pin", s.PIN).Msg("session deleted")
	return true
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// UpdatePhase writes the session phase. Caller holds the session lock.
func (r *Registry) UpdatePhase(s *quiz.Session, phase quiz.Phase) {
	s.Phase = phase
}

// SetQuestionStartTime writes the answering-window start. Caller holds the
// session lock.
func (r *Registry) SetQuestionStartTime(s *quiz.Session, t time.Time) {
	s.QuestionStartTime = t
}

// SetPhaseStartTime writes the current phase start. Caller holds the
// session lock.
func (r *Registry) SetPhaseStartTime(s *quiz.Session, t time.Time) {
	s.PhaseStartTime = t
}

// generatePIN generates a fixed-width numeric PIN
func generatePIN() string {
	const digits = "0123456789"
	b := make([]byte, pinLength)
	rand.Read(b)

	for i := range b {
		b[i] = digits[b[i]%10]
	}
	return string(b)
}
