package questions

import (
	"math"

	"github.com/quizdash/quizdash/internal/quiz"
	"github.com/quizdash/quizdash/internal/quiz/players"
)

// Stats holds the per-option answer distribution for a finished question,
// computed over non-host players.
type Stats struct {
	QuestionID     string `json:"question_id"`
	OptionCounts   []int  `json:"option_counts"`
	OptionPercents []int  `json:"option_percents"`
	CorrectOption  int    `json:"correct_option"`
	CorrectCount   int    `json:"correct_count"`
	TotalPlayers   int    `json:"total_players"`
}

// PersonalResult is one player's outcome for the current question plus
// their standing relative to the player immediately above them.
type PersonalResult struct {
	PlayerID        string `json:"player_id"`
	WasCorrect      bool   `json:"was_correct"`
	PointsEarned    int    `json:"points_earned"`
	TotalScore      int    `json:"total_score"`
	Position        int    `json:"position"`
	PointsBehind    int    `json:"points_behind"`
	AheadPlayerName string `json:"ahead_player_name,omitempty"`
}

// Advance moves the session to the next question. Returns false when no
// questions remain; the caller must then finish the session.
func Advance(s *quiz.Session) (*quiz.Question, bool) {
	if s.CurrentQuestion >= len(s.Questions) {
		return nil, false
	}
	s.CurrentQuestion++
	if s.CurrentQuestion >= len(s.Questions) {
		return nil, false
	}
	return &s.Questions[s.CurrentQuestion], true
}

// Current returns the question the session is on, if any
func Current(s *quiz.Session) (*quiz.Question, bool) {
	if s.CurrentQuestion < 0 || s.CurrentQuestion >= len(s.Questions) {
		return nil, false
	}
	return &s.Questions[s.CurrentQuestion], true
}

// ComputeStats computes the answer distribution for the current question.
// Percentages are over the non-host player count, zero-safe.
func ComputeStats(s *quiz.Session) (*Stats, bool) {
	q, ok := Current(s)
	if !ok {
		return nil, false
	}

	active := s.ActivePlayers()
	stats := &Stats{
		QuestionID:     q.ID,
		OptionCounts:   make([]int, len(q.Options)),
		OptionPercents: make([]int, len(q.Options)),
		CorrectOption:  q.CorrectAnswer,
		TotalPlayers:   len(active),
	}
	for _, p := range active {
		if p.CurrentAnswer == nil {
			continue
		}
		opt := *p.CurrentAnswer
		if opt < 0 || opt >= len(q.Options) {
			continue
		}
		stats.OptionCounts[opt]++
		if opt == q.CorrectAnswer {
			stats.CorrectCount++
		}
	}
	if len(active) > 0 {
		for i, count := range stats.OptionCounts {
			stats.OptionPercents[i] = int(math.Round(float64(count) / float64(len(active)) * 100))
		}
	}
	return stats, true
}

// PersonalResultFor computes one player's outcome for the current question
// and their 1-based leaderboard position.
func PersonalResultFor(s *quiz.Session, dir *players.Directory, playerID string) (*PersonalResult, bool) {
	q, ok := Current(s)
	if !ok {
		return nil, false
	}
	p := s.PlayerByPersistentID(playerID)
	if p == nil || p.IsHost {
		return nil, false
	}

	result := &PersonalResult{
		PlayerID:   playerID,
		TotalScore: p.Score,
	}
	if p.CurrentAnswer != nil && *p.CurrentAnswer == q.CorrectAnswer {
		result.WasCorrect = true
		result.PointsEarned = players.ScorePoints(p.AnswerTimestamp.Sub(s.QuestionStartTime), s.Settings.AnswerDuration())
	}

	board := dir.Leaderboard(s)
	for i, entry := range board {
		if entry.PersistentID != playerID {
			continue
		}
		result.Position = i + 1
		if i > 0 {
			above := board[i-1]
			result.PointsBehind = above.Score - entry.Score
			result.AheadPlayerName = above.Name
		}
		break
	}
	return result, true
}

// AllAnswered reports whether every connected non-host player has answered
// the current question. A session with no connected non-host players is
// never considered all-answered.
func AllAnswered(s *quiz.Session) bool {
	connected := s.ConnectedActivePlayers()
	if len(connected) == 0 {
		return false
	}
	for _, p := range connected {
		if p.CurrentAnswer == nil {
			return false
		}
	}
	return true
}

// IsLastQuestion reports whether the session is on its final question
func IsLastQuestion(s *quiz.Session) bool {
	return s.CurrentQuestion >= 0 && s.CurrentQuestion == len(s.Questions)-1
}
