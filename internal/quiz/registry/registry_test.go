package registry

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizdash/quizdash/internal/quiz"
)

func testQuestions() []quiz.Question {
	return []quiz.Question{
		{ID: "q1", Prompt: "capital of France?", Options: []string{"Paris", "Lyon"}, CorrectAnswer: 0},
	}
}

func testSettings() quiz.Settings {
	return quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 20}
}

func TestCreate(t *testing.T) {
	reg := New(clockwork.NewFakeClock())

	s := reg.Create("conn-1", "geography", testQuestions(), testSettings())

	require.NotEmpty(t, s.ID)
	require.Len(t, s.PIN, pinLength)
	assert.Equal(t, quiz.PhaseWaiting, s.Phase)
	assert.Equal(t, -1, s.CurrentQuestion)
	assert.False(t, s.LoopActive)

	host := s.Host()
	require.NotNil(t, host)
	assert.True(t, host.IsHost)
	assert.True(t, host.Connected)
	assert.Equal(t, "conn-1", host.ConnectionID)
	assert.NotEmpty(t, host.PersistentID)
}

func TestPINUniqueAmongLiveSessions(t *testing.T) {
	reg := New(clockwork.NewFakeClock())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		s := reg.Create("conn", "quiz", testQuestions(), testSettings())
		require.False(t, seen[s.PIN], "PIN %s allocated twice among live sessions", s.PIN)
		seen[s.PIN] = true
	}
	assert.Equal(t, 200, reg.Count())
}

func TestLookups(t *testing.T) {
	reg := New(clockwork.NewFakeClock())
	s := reg.Create("conn", "quiz", testQuestions(), testSettings())

	byID, ok := reg.GetByID(s.ID)
	require.True(t, ok)
	assert.Same(t, s, byID)

	byPIN, ok := reg.GetByPIN(s.PIN)
	require.True(t, ok)
	assert.Same(t, s, byPIN)

	// Absence is a normal outcome
	_, ok = reg.GetByID("missing")
	assert.False(t, ok)
	_, ok = reg.GetByPIN("000000")
	assert.False(t, ok)
}

func TestDeleteFreesBothKeys(t *testing.T) {
	reg := New(clockwork.NewFakeClock())
	s := reg.Create("conn", "quiz", testQuestions(), testSettings())

	require.True(t, reg.Delete(s.ID))

	_, ok := reg.GetByID(s.ID)
	assert.False(t, ok)
	_, ok = reg.GetByPIN(s.PIN)
	assert.False(t, ok)
	assert.Zero(t, reg.Count())

	assert.False(t, reg.Delete(s.ID))
}

func TestNarrowMutators(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := New(clock)
	s := reg.Create("conn", "quiz", testQuestions(), testSettings())

	reg.UpdatePhase(s, quiz.PhaseThinking)
	assert.Equal(t, quiz.PhaseThinking, s.Phase)

	now := clock.Now()
	reg.SetPhaseStartTime(s, now)
	assert.Equal(t, now, s.PhaseStartTime)
	reg.SetQuestionStartTime(s, now)
	assert.Equal(t, now, s.QuestionStartTime)
}
