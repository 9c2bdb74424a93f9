package gateway

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizdash/quizdash/internal/quiz"
	"github.com/quizdash/quizdash/internal/quiz/events"
	"github.com/quizdash/quizdash/internal/quiz/players"
	"github.com/quizdash/quizdash/internal/quiz/registry"
	"github.com/quizdash/quizdash/internal/quiz/scheduler"
	"github.com/quizdash/quizdash/internal/timer"
)

type recorder struct {
	mu      sync.Mutex
	entries []recorded
}

type recorded struct {
	connectionID string
	event        *events.Event
}

func (r *recorder) ToSession(sessionID string, ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{event: ev})
}

func (r *recorder) ToConnection(connectionID string, ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{connectionID: connectionID, event: ev})
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.event.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t events.Type) (recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].event.Type == t {
			return r.entries[i], true
		}
	}
	return recorded{}, false
}

func waitFor(t *testing.T, rec *recorder, typ events.Type, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.count(typ) >= n
	}, 2*time.Second, 5*time.Millisecond, "never saw %d %s event(s)", n, typ)
}

func decode[T any](t *testing.T, ev *events.Event) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	return payload
}

type fixture struct {
	clock *clockwork.FakeClock
	reg   *registry.Registry
	rec   *recorder
	tms   *timer.Service
	gw    *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	reg := registry.New(clock)
	dir := players.NewDirectory(clock)
	tms := timer.NewService(clock)
	rec := &recorder{}
	sched := scheduler.New(reg, dir, tms, clock, rec, scheduler.Config{ReplayPersonalResult: true})
	gw := New(reg, dir, sched, tms, rec, clock, Config{
		HostGrace:     30 * time.Second,
		PlayerCleanup: 120 * time.Second,
	})
	return &fixture{clock: clock, reg: reg, rec: rec, tms: tms, gw: gw}
}

func questionSet(n int) []quiz.Question {
	qs := make([]quiz.Question, 0, n)
	for i := 0; i < n; i++ {
		qs = append(qs, quiz.Question{
			ID:            string(rune('a' + i)),
			Prompt:        "prompt",
			Options:       []string{"red", "green", "blue", "yellow"},
			CorrectAnswer: 2,
		})
	}
	return qs
}

func (f *fixture) create(t *testing.T, questionCount int, settings quiz.Settings) *quiz.Session {
	t.Helper()
	s, err := f.gw.CreateSession("host-conn", "capitals", questionSet(questionCount), settings)
	require.NoError(t, err)
	return s
}

func phase(s *quiz.Session) quiz.Phase {
	s.Lock()
	defer s.Unlock()
	return s.Phase
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	good := quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5}

	_, err := f.gw.CreateSession("c", "empty", nil, good)
	assert.Error(t, err)

	bad := questionSet(1)
	bad[0].Options = []string{"only one"}
	_, err = f.gw.CreateSession("c", "bad question", bad, good)
	assert.Error(t, err)

	_, err = f.gw.CreateSession("c", "bad settings", questionSet(1), quiz.Settings{ThinkSeconds: 0, AnswerSeconds: 5})
	assert.Error(t, err)

	s, err := f.gw.CreateSession("c", "good", questionSet(1), good)
	require.NoError(t, err)
	assert.Len(t, s.PIN, 6)
	assert.Equal(t, quiz.PhaseWaiting, s.Phase)
}

func TestJoinUnknownPINRejectedCleanly(t *testing.T) {
	f := newFixture(t)
	f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})

	out := f.gw.JoinSession("c1", "000000", "alice", "")
	assert.False(t, out.Accepted)
	assert.Nil(t, out.Session)
	assert.Zero(t, f.rec.count(events.TypePlayerJoined))
}

func TestJoinBroadcastsAndDuplicateNameRejected(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})

	out := f.gw.JoinSession("c1", s.PIN, "alice", "")
	require.True(t, out.Accepted)
	assert.NotEmpty(t, out.PlayerID)
	assert.Equal(t, 1, f.rec.count(events.TypePlayerJoined))

	dup := f.gw.JoinSession("c2", s.PIN, "ALICE", "")
	assert.False(t, dup.Accepted)
	assert.Equal(t, 1, f.rec.count(events.TypePlayerJoined))
}

func TestHostActionsIgnoredFromNonHost(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	require.True(t, f.gw.JoinSession("c1", s.PIN, "alice", "").Accepted)

	f.gw.StartSession("c1", s.ID)
	assert.Equal(t, quiz.PhaseWaiting, phase(s), "non-host start must not mutate state")
	assert.Zero(t, f.rec.count(events.TypeSessionStarted))

	f.gw.EndSession("c1", s.ID)
	_, ok := f.reg.GetByID(s.ID)
	assert.True(t, ok, "non-host end must not tear the session down")
}

func TestSubmitAnswerGuards(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	out := f.gw.JoinSession("c1", s.PIN, "alice", "")
	require.True(t, out.Accepted)

	// Waiting phase: ignored
	f.gw.SubmitAnswer("c1", s.ID, "a", 2, out.PlayerID)
	assert.Zero(t, f.rec.count(events.TypePlayerAnswered))

	f.gw.StartSession("host-conn", s.ID)
	f.clock.Advance(5 * time.Second)
	waitFor(t, f.rec, events.TypeAnsweringPhase, 1)

	// Wrong question id: ignored
	f.gw.SubmitAnswer("c1", s.ID, "stale-question", 2, out.PlayerID)
	assert.Zero(t, f.rec.count(events.TypePlayerAnswered))

	f.gw.SubmitAnswer("c1", s.ID, "a", 2, out.PlayerID)
	assert.Equal(t, 1, f.rec.count(events.TypePlayerAnswered))
}

// A single player answers correctly one second into a five second window and
// the whole loop runs through to the final standings.
func TestFullGameSinglePlayer(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	out := f.gw.JoinSession("c1", s.PIN, "alice", "")
	require.True(t, out.Accepted)

	f.gw.StartSession("host-conn", s.ID)
	assert.Equal(t, 1, f.rec.count(events.TypeSessionStarted))
	assert.Equal(t, quiz.PhaseThinking, phase(s))

	f.clock.Advance(5 * time.Second)
	waitFor(t, f.rec, events.TypeAnsweringPhase, 1)

	f.clock.Advance(time.Second)
	f.gw.SubmitAnswer("c1", s.ID, "a", 2, out.PlayerID)

	answered, _ := f.rec.last(events.TypePlayerAnswered)
	progress := decode[events.PlayerAnsweredPayload](t, answered.event)
	assert.Equal(t, 1, progress.AnswerCount)
	assert.Equal(t, 1, progress.TotalPlayers)

	// Sole player answered, so the question closes early
	waitFor(t, f.rec, events.TypeQuestionEnded, 1)
	assert.Equal(t, quiz.PhaseResults, phase(s))

	ended, _ := f.rec.last(events.TypeQuestionEnded)
	stats := decode[events.QuestionEndedPayload](t, ended.event)
	assert.Equal(t, 1, stats.CorrectCount)
	assert.Equal(t, 1, stats.TotalPlayers)
	assert.Equal(t, 2, stats.CorrectOption)

	pr, ok := f.rec.last(events.TypePersonalResult)
	require.True(t, ok)
	assert.Equal(t, "c1", pr.connectionID)
	personal := decode[events.PersonalResultPayload](t, pr.event)
	assert.True(t, personal.WasCorrect)
	assert.Equal(t, 800, personal.PointsEarned)
	assert.Equal(t, 1, personal.Position)

	f.gw.RequestLeaderboard("host-conn", s.ID)
	lb, _ := f.rec.last(events.TypeLeaderboardShown)
	board := decode[events.LeaderboardShownPayload](t, lb.event)
	require.Len(t, board.Players, 1)
	assert.Equal(t, "alice", board.Players[0].Name)
	assert.Equal(t, 800, board.Players[0].Score)

	f.gw.RequestNextPhase("host-conn", s.ID)
	assert.Equal(t, quiz.PhaseFinished, phase(s))
	fin, _ := f.rec.last(events.TypeSessionFinished)
	standings := decode[events.SessionFinishedPayload](t, fin.event)
	require.Len(t, standings.Standings, 1)
	assert.Equal(t, 800, standings.Standings[0].Score)
}

// Early completion through the gateway: the pending answer timer must never
// produce a second transition.
func TestEarlyCompletionThroughGateway(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 20})
	a := f.gw.JoinSession("c1", s.PIN, "alice", "")
	b := f.gw.JoinSession("c2", s.PIN, "bob", "")
	require.True(t, a.Accepted)
	require.True(t, b.Accepted)

	f.gw.StartSession("host-conn", s.ID)
	f.clock.Advance(5 * time.Second)
	waitFor(t, f.rec, events.TypeAnsweringPhase, 1)

	f.gw.SubmitAnswer("c1", s.ID, "a", 2, a.PlayerID)
	assert.Equal(t, quiz.PhaseAnswering, phase(s))
	f.gw.SubmitAnswer("c2", s.ID, "a", 0, b.PlayerID)

	waitFor(t, f.rec, events.TypeQuestionEnded, 1)
	assert.Equal(t, quiz.PhaseResults, phase(s))

	f.clock.Advance(20 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.rec.count(events.TypeQuestionEnded))
}

func TestHostDisconnectGraceTearsDownSession(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	require.True(t, f.gw.JoinSession("c1", s.PIN, "alice", "").Accepted)
	f.gw.StartSession("host-conn", s.ID)

	f.gw.Disconnect(s.ID, "host-conn")
	assert.Equal(t, 1, f.rec.count(events.TypePlayerDisconnected))
	_, ok := f.reg.GetByID(s.ID)
	assert.True(t, ok, "session survives until the grace period passes")

	f.clock.Advance(30 * time.Second)
	waitFor(t, f.rec, events.TypeSessionFinished, 1)
	require.Eventually(t, func() bool {
		_, ok := f.reg.GetByID(s.ID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "session not deleted after host grace expiry")
}

func TestHostReconnectCancelsGrace(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	f.gw.Disconnect(s.ID, "host-conn")

	got, ok := f.gw.ValidateSession("host-conn-2", s.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, 1, f.rec.count(events.TypePlayerReconnected))

	f.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	_, ok = f.reg.GetByID(s.ID)
	assert.True(t, ok, "reconnected host must cancel the grace timer")
	assert.Zero(t, f.rec.count(events.TypeSessionFinished))

	// The rebound connection drives host actions
	f.gw.StartSession("host-conn-2", s.ID)
	assert.Equal(t, 1, f.rec.count(events.TypeSessionStarted))
}

func TestPlayerCleanupAfterGrace(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	out := f.gw.JoinSession("c1", s.PIN, "alice", "")
	require.True(t, out.Accepted)

	f.gw.Disconnect(s.ID, "c1")
	f.clock.Advance(120 * time.Second)
	waitFor(t, f.rec, events.TypePlayerLeft, 1)

	s.Lock()
	assert.Nil(t, s.PlayerByPersistentID(out.PlayerID))
	s.Unlock()
}

func TestPlayerReconnectCancelsCleanup(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 2, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	out := f.gw.JoinSession("c1", s.PIN, "alice", "")
	require.True(t, out.Accepted)
	f.gw.StartSession("host-conn", s.ID)

	f.gw.Disconnect(s.ID, "c1")

	// Mid-game rejoin by persistent id keeps the seat and the score
	back := f.gw.JoinSession("c1-new", s.PIN, "alice", out.PlayerID)
	require.True(t, back.Accepted)
	assert.True(t, back.Reconnection)
	assert.Equal(t, out.PlayerID, back.PlayerID)
	assert.Equal(t, 1, f.rec.count(events.TypePlayerReconnected))

	f.clock.Advance(5 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	s.Lock()
	assert.NotNil(t, s.PlayerByPersistentID(out.PlayerID))
	s.Unlock()
	assert.Zero(t, f.rec.count(events.TypePlayerLeft))
}

func TestEndSessionDeletes(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, 1, quiz.Settings{ThinkSeconds: 5, AnswerSeconds: 5})
	require.True(t, f.gw.JoinSession("c1", s.PIN, "alice", "").Accepted)
	f.gw.StartSession("host-conn", s.ID)

	f.gw.EndSession("host-conn", s.ID)
	assert.Equal(t, quiz.PhaseFinished, phase(s))
	assert.Equal(t, 1, f.rec.count(events.TypeSessionFinished))
	_, ok := f.reg.GetByID(s.ID)
	assert.False(t, ok)
	assert.Empty(t, f.tms.ActiveKeys(s.ID))
}
