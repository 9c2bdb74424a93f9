package questions

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizdash/quizdash/internal/quiz"
	"github.com/quizdash/quizdash/internal/quiz/players"
)

func answer(opt int, at time.Time) (*int, *time.Time) {
	return &opt, &at
}

func newSession() *quiz.Session {
	return &quiz.Session{
		ID:              "s1",
		Settings:        quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 20},
		CurrentQuestion: -1,
		Phase:           quiz.PhaseWaiting,
		Questions: []quiz.Question{
			{ID: "q1", Prompt: "2+2?", Options: []string{"3", "4", "5"}, CorrectAnswer: 1},
			{ID: "q2", Prompt: "3+3?", Options: []string{"6", "7"}, CorrectAnswer: 0},
		},
		Players: []*quiz.Player{
			{PersistentID: "host-id", ConnectionID: "host-conn", Name: "host", IsHost: true, Connected: true},
			{PersistentID: "p1", ConnectionID: "c1", Name: "alice", Connected: true},
			{PersistentID: "p2", ConnectionID: "c2", Name: "bob", Connected: true},
		},
	}
}

func TestAdvanceWalksAllQuestions(t *testing.T) {
	s := newSession()

	q, ok := Advance(s)
	require.True(t, ok)
	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, 0, s.CurrentQuestion)

	q, ok = Advance(s)
	require.True(t, ok)
	assert.Equal(t, "q2", q.ID)

	_, ok = Advance(s)
	assert.False(t, ok)
	// Index stays bounded even on repeated calls past the end
	_, ok = Advance(s)
	assert.False(t, ok)
	assert.Equal(t, len(s.Questions), s.CurrentQuestion)
}

func TestCurrent(t *testing.T) {
	s := newSession()

	_, ok := Current(s)
	assert.False(t, ok)

	Advance(s)
	q, ok := Current(s)
	require.True(t, ok)
	assert.Equal(t, "q1", q.ID)
}

func TestComputeStats(t *testing.T) {
	s := newSession()
	Advance(s)
	now := time.Now()

	s.Players[1].CurrentAnswer, s.Players[1].AnswerTimestamp = answer(1, now)
	s.Players[2].CurrentAnswer, s.Players[2].AnswerTimestamp = answer(0, now)

	stats, ok := ComputeStats(s)
	require.True(t, ok)
	assert.Equal(t, "q1", stats.QuestionID)
	assert.Equal(t, []int{1, 1, 0}, stats.OptionCounts)
	assert.Equal(t, []int{50, 50, 0}, stats.OptionPercents)
	assert.Equal(t, 1, stats.CorrectCount)
	assert.Equal(t, 2, stats.TotalPlayers)
}

func TestComputeStatsZeroPlayers(t *testing.T) {
	s := newSession()
	s.Players = s.Players[:1] // host only
	Advance(s)

	stats, ok := ComputeStats(s)
	require.True(t, ok)
	assert.Equal(t, []int{0, 0, 0}, stats.OptionPercents)
	assert.Zero(t, stats.TotalPlayers)
}

func TestPersonalResult(t *testing.T) {
	dir := players.NewDirectory(clockwork.NewFakeClock())
	s := newSession()
	Advance(s)

	start := time.Now()
	s.QuestionStartTime = start
	s.Players[1].Score = 500
	s.Players[2].Score = 800
	s.Players[1].CurrentAnswer, s.Players[1].AnswerTimestamp = answer(1, start.Add(10*time.Second))
	s.Players[2].CurrentAnswer, s.Players[2].AnswerTimestamp = answer(0, start.Add(2*time.Second))

	res, ok := PersonalResultFor(s, dir, "p1")
	require.True(t, ok)
	assert.True(t, res.WasCorrect)
	assert.Equal(t, 500, res.PointsEarned)
	assert.Equal(t, 2, res.Position)
	assert.Equal(t, 300, res.PointsBehind)
	assert.Equal(t, "bob", res.AheadPlayerName)

	res, ok = PersonalResultFor(s, dir, "p2")
	require.True(t, ok)
	assert.False(t, res.WasCorrect)
	assert.Zero(t, res.PointsEarned)
	assert.Equal(t, 1, res.Position)
	assert.Zero(t, res.PointsBehind)
	assert.Empty(t, res.AheadPlayerName)

	_, ok = PersonalResultFor(s, dir, "host-id")
	assert.False(t, ok)
	_, ok = PersonalResultFor(s, dir, "nobody")
	assert.False(t, ok)
}

func TestAllAnswered(t *testing.T) {
	s := newSession()
	Advance(s)
	now := time.Now()

	assert.False(t, AllAnswered(s))

	s.Players[1].CurrentAnswer, s.Players[1].AnswerTimestamp = answer(0, now)
	assert.False(t, AllAnswered(s))

	s.Players[2].CurrentAnswer, s.Players[2].AnswerTimestamp = answer(1, now)
	assert.True(t, AllAnswered(s))

	// Disconnected players do not block completion
	s.Players[2].CurrentAnswer = nil
	s.Players[2].Connected = false
	assert.True(t, AllAnswered(s))
}

func TestAllAnsweredEmptyRoom(t *testing.T) {
	s := newSession()
	Advance(s)
	s.Players = s.Players[:1] // host only

	// The vacuous "everyone answered" must not trigger early completion
	assert.False(t, AllAnswered(s))
}

func TestIsLastQuestion(t *testing.T) {
	s := newSession()
	assert.False(t, IsLastQuestion(s))

	Advance(s)
	assert.False(t, IsLastQuestion(s))

	Advance(s)
	assert.True(t, IsLastQuestion(s))
}
