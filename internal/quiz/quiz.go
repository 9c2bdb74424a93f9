package quiz

import (
	"fmt"
	"sync"
	"time"
)

// Phase represents the current stage of a running session
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhasePreparation Phase = "preparation"
	PhaseThinking    Phase = "thinking"
	PhaseAnswering   Phase = "answering"
	PhaseResults     Phase = "results"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinished    Phase = "finished"
)

// Settings holds the per-session phase durations
type Settings struct {
	ThinkSeconds  int `json:"think_seconds"`
	AnswerSeconds int `json:"answer_seconds"`
}

// ThinkDuration returns the thinking phase length
func (s Settings) ThinkDuration() time.Duration {
	return time.Duration(s.ThinkSeconds) * time.Second
}

// AnswerDuration returns the answering phase length
func (s Settings) AnswerDuration() time.Duration {
	return time.Duration(s.AnswerSeconds) * time.Second
}

// Question is a single-choice question with up to four options.
// Immutable once attached to a session.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
}

// Validate checks the question shape before it is attached to a session
func (q Question) Validate() error {
	if q.Prompt == "" {
		return fmt.Errorf("question %s: empty prompt", q.ID)
	}
	if len(q.Options) < 2 || len(q.Options) > 4 {
		return fmt.Errorf("question %s: need 2-4 options, got %d", q.ID, len(q.Options))
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("question %s: correct answer index %d out of range", q.ID, q.CorrectAnswer)
	}
	return nil
}

// Player represents a participant in a session. PersistentID is stable
// across reconnects; ConnectionID changes on every reconnect.
type Player struct {
	PersistentID    string
	ConnectionID    string
	Name            string
	Score           int
	IsHost          bool
	Connected       bool
	CurrentAnswer   *int
	AnswerTimestamp *time.Time
	JoinedAt        time.Time
}

// AnswerRecord is one player's archived answer for a finished question
type AnswerRecord struct {
	PlayerID   string    `json:"player_id"`
	Option     int       `json:"option"`
	Correct    bool      `json:"correct"`
	Points     int       `json:"points"`
	AnsweredAt time.Time `json:"answered_at"`
}

// QuestionRecord archives the answers for one question once the session
// has moved past it
type QuestionRecord struct {
	QuestionID string         `json:"question_id"`
	Index      int            `json:"index"`
	Answers    []AnswerRecord `json:"answers"`
}

// Session is the authoritative state of one running quiz.
// All mutation happens while the session lock is held; inbound handlers
// and timer callbacks lock the session for their full duration.
type Session struct {
	ID                string
	PIN               string
	Title             string
	Questions         []Question
	Settings          Settings
	CurrentQuestion   int // index into Questions, -1 before the first
	Phase             Phase
	Players           []*Player // join order preserved
	QuestionStartTime time.Time
	PhaseStartTime    time.Time
	LoopActive        bool
	History           []QuestionRecord
	CreatedAt         time.Time

	mu sync.Mutex
}

// Lock acquires the session lock. Every inbound operation and every timer
// callback holds it for the full duration of its work.
func (s *Session) Lock() {
	s.mu.Lock()
}

// Unlock releases the session lock
func (s *Session) Unlock() {
	s.mu.Unlock()
}

// Host returns the session's host player
func (s *Session) Host() *Player {
	for _, p := range s.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// PlayerByPersistentID looks up a player by its stable id
func (s *Session) PlayerByPersistentID(id string) *Player {
	for _, p := range s.Players {
		if p.PersistentID == id {
			return p
		}
	}
	return nil
}

// PlayerByConnectionID looks up a player by its current transport connection
func (s *Session) PlayerByConnectionID(id string) *Player {
	for _, p := range s.Players {
		if p.ConnectionID == id {
			return p
		}
	}
	return nil
}

// ActivePlayers returns the non-host players in join order
func (s *Session) ActivePlayers() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsHost {
			out = append(out, p)
		}
	}
	return out
}

// ConnectedActivePlayers returns the connected non-host players in join order
func (s *Session) ConnectedActivePlayers() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.IsHost && p.Connected {
			out = append(out, p)
		}
	}
	return out
}
