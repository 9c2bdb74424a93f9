package players

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizdash/quizdash/internal/quiz"
)

// MaxPoints is the score awarded for an instant correct answer
const MaxPoints = 1000

// Directory manages player identity, connection state, answer submission
// and scoring. All methods assume the caller holds the session lock.
type Directory struct {
	clock clockwork.Clock
}

// NewDirectory creates a player directory backed by the given clock
func NewDirectory(clock clockwork.Clock) *Directory {
	return &Directory{clock: clock}
}

// JoinResult reports the outcome of a join attempt
type JoinResult struct {
	Accepted     bool
	Reconnection bool
	PlayerID     string
	Player       *quiz.Player
	Reason       string
}

// Join adds a new player or reconnects a returning one. A persistentID that
// matches an existing player is a reconnection and is accepted in any phase;
// a fresh join is accepted only while the session is waiting.
func (d *Directory) Join(s *quiz.Session, connectionID, name, persistentID string) JoinResult {
	if persistentID != "" {
		if p := s.PlayerByPersistentID(persistentID); p != nil {
			p.ConnectionID = connectionID
			p.Connected = true
			log.Info().
				Str("session_id", s.ID).
				Str("player_id", p.PersistentID).
				Str("name", p.Name).
				Msg("player reconnected")
			return JoinResult{Accepted: true, Reconnection: true, PlayerID: p.PersistentID, Player: p}
		}
	}

	if s.Phase != quiz.PhaseWaiting {
		return JoinResult{Reason: "session already started"}
	}
	for _, p := range s.ActivePlayers() {
		if strings.EqualFold(p.Name, name) {
			return JoinResult{Reason: "name already taken"}
		}
	}

	p := &quiz.Player{
		PersistentID: uuid.New().String(),
		ConnectionID: connectionID,
		Name:         name,
		Connected:    true,
		JoinedAt:     d.clock.Now(),
	}
	s.Players = append(s.Players, p)

	log.Info().
		Str("session_id", s.ID).
		Str("player_id", p.PersistentID).
		Str("name", name).
		Msg("player joined")
	return JoinResult{Accepted: true, PlayerID: p.PersistentID, Player: p}
}

// Disconnect flips the player's connected flag without removing the record
func (d *Directory) Disconnect(s *quiz.Session, connectionID string) (*quiz.Player, bool) {
	p := s.PlayerByConnectionID(connectionID)
	if p == nil {
		return nil, false
	}
	p.Connected = false
	return p, true
}

// Remove deletes the player record permanently. Used only after a
// grace-period timeout with no reconnection.
func (d *Directory) Remove(s *quiz.Session, playerID string) bool {
	for i, p := range s.Players {
		if p.PersistentID == playerID {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			log.Info().
				Str("session_id", s.ID).
				Str("player_id", playerID).
				Msg("player removed")
			return true
		}
	}
	return false
}

// SubmitAnswer records a player's answer for the current question. The key
// is a persistent id or a connection id depending on byPersistentID.
// Rejected if the player is unknown, is the host, or already answered.
func (d *Directory) SubmitAnswer(s *quiz.Session, key string, option int, byPersistentID bool) bool {
	var p *quiz.Player
	if byPersistentID {
		p = s.PlayerByPersistentID(key)
	} else {
		p = s.PlayerByConnectionID(key)
	}
	if p == nil || p.IsHost || p.CurrentAnswer != nil {
		return false
	}

	now := d.clock.Now()
	answer := option
	p.CurrentAnswer = &answer
	p.AnswerTimestamp = &now
	return true
}

// ClearAnswers resets every non-host player's answer slot. Called exactly
// once per question, before its thinking phase begins.
func (d *Directory) ClearAnswers(s *quiz.Session) {
	for _, p := range s.Players {
		if p.IsHost {
			continue
		}
		p.CurrentAnswer = nil
		p.AnswerTimestamp = nil
	}
}

// ScoreAnswer awards points to every non-host player whose recorded answer
// matches correctOption. Must be called exactly once per question.
func (d *Directory) ScoreAnswer(s *quiz.Session, correctOption int) {
	window := s.Settings.AnswerDuration()
	for _, p := range s.Players {
		if p.IsHost || p.CurrentAnswer == nil || *p.CurrentAnswer != correctOption {
			continue
		}
		response := p.AnswerTimestamp.Sub(s.QuestionStartTime)
		p.Score += ScorePoints(response, window)
	}
}

// ScorePoints computes the time-decayed score for a correct answer:
// round(MaxPoints * (1 - responseTime/window)), clamped to [0, MaxPoints].
func ScorePoints(responseTime, window time.Duration) int {
	if window <= 0 {
		return 0
	}
	frac := 1 - float64(responseTime)/float64(window)
	pts := int(math.Round(MaxPoints * frac))
	if pts < 0 {
		return 0
	}
	if pts > MaxPoints {
		return MaxPoints
	}
	return pts
}

// Leaderboard returns the non-host players sorted by score descending.
// Ties keep the original join order.
func (d *Directory) Leaderboard(s *quiz.Session) []*quiz.Player {
	board := s.ActivePlayers()
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Score > board[j].Score
	})
	return board
}
