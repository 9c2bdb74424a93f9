package scheduler

import (
	"errors"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizdash/quizdash/internal/quiz"
	"github.com/quizdash/quizdash/internal/quiz/events"
	"github.com/quizdash/quizdash/internal/quiz/players"
	"github.com/quizdash/quizdash/internal/quiz/questions"
	"github.com/quizdash/quizdash/internal/quiz/registry"
	"github.com/quizdash/quizdash/internal/timer"
)

// Timer keys owned by the scheduler. One live timer per key per session.
const (
	keyThinking  = "thinking"
	keyAnswering = "answering"
)

// ErrInvalidTransition is returned when a host action does not apply to the
// session's current phase. Callers log and drop it; no state changes.
var ErrInvalidTransition = errors.New("action not valid for current phase")

// Broadcaster fans outbound events to a session's connections. The
// transport layer provides the real implementation.
type Broadcaster interface {
	ToSession(sessionID string, event *events.Event)
	ToConnection(connectionID string, event *events.Event)
}

// Config holds scheduler policy knobs
type Config struct {
	// ReplayPersonalResult controls whether a reconnect during the results
	// phase gets the just-computed personal result resent.
	ReplayPersonalResult bool
}

// Scheduler drives a session through its phase sequence. It is the single
// owner of phase-timer creation and cancellation, which is what makes the
// stale-timer guard enforceable in one place.
//
// Every method that takes a *quiz.Session expects the caller to hold the
// session lock; timer callbacks acquire it themselves.
type Scheduler struct {
	registry  *registry.Registry
	players   *players.Directory
	timers    *timer.Service
	clock     clockwork.Clock
	broadcast Broadcaster
	cfg       Config
}

// New creates a scheduler
func New(reg *registry.Registry, dir *players.Directory, timers *timer.Service, clock clockwork.Clock, broadcast Broadcaster, cfg Config) *Scheduler {
	return &Scheduler{
		registry:  reg,
		players:   dir,
		timers:    timers,
		clock:     clock,
		broadcast: broadcast,
		cfg:       cfg,
	}
}

// StartSession begins the question loop for a waiting session
func (sc *Scheduler) StartSession(s *quiz.Session) error {
	if s.Phase != quiz.PhaseWaiting {
		return ErrInvalidTransition
	}
	s.LoopActive = true

	sc.emit(s, events.TypeSessionStarted, events.SessionStartedPayload{
		Title:         s.Title,
		QuestionCount: len(s.Questions),
		StartedAt:     sc.clock.Now().UTC(),
	})
	log.Info().Str("session_id", s.ID).Msg("session started")

	sc.beginPreparation(s)
	return nil
}

// ShowLeaderboard moves results -> leaderboard on host request
func (sc *Scheduler) ShowLeaderboard(s *quiz.Session) error {
	if s.Phase != quiz.PhaseResults {
		return ErrInvalidTransition
	}
	sc.registry.UpdatePhase(s, quiz.PhaseLeaderboard)
	sc.registry.SetPhaseStartTime(s, sc.clock.Now())

	sc.emit(s, events.TypeLeaderboardShown, events.LeaderboardShownPayload{
		Players: sc.playerViews(sc.players.Leaderboard(s)),
	})
	return nil
}

// NextPhase moves leaderboard -> preparation, or finishes the session when
// no questions remain
func (sc *Scheduler) NextPhase(s *quiz.Session) error {
	if s.Phase != quiz.PhaseLeaderboard {
		return ErrInvalidTransition
	}
	if questions.IsLastQuestion(s) {
		sc.finish(s)
		return nil
	}
	sc.beginPreparation(s)
	return nil
}

// EndSession force-finishes a session from any phase
func (sc *Scheduler) EndSession(s *quiz.Session) {
	if s.Phase == quiz.PhaseFinished {
		return
	}
	sc.finish(s)
}

// HandleAnswerProgress checks for early completion after an answer was
// recorded: once every connected non-host player has answered, the answer
// timer is canceled and the question closes immediately.
func (sc *Scheduler) HandleAnswerProgress(s *quiz.Session) {
	if s.Phase != quiz.PhaseAnswering {
		return
	}
	if !questions.AllAnswered(s) {
		return
	}
	log.Info().Str("session_id", s.ID).Msg("all players answered, closing question early")
	sc.timers.Clear(s.ID, keyAnswering)
	sc.completeAnswering(s)
}

// beginPreparation archives the previous question's answers, clears answer
// slots, and advances. With no questions left the session finishes.
func (sc *Scheduler) beginPreparation(s *quiz.Session) {
	sc.registry.UpdatePhase(s, quiz.PhasePreparation)
	sc.registry.SetPhaseStartTime(s, sc.clock.Now())

	sc.archiveAnswers(s)
	sc.players.ClearAnswers(s)

	q, ok := questions.Advance(s)
	if !ok {
		sc.finish(s)
		return
	}
	sc.beginThinking(s, q)
}

func (sc *Scheduler) beginThinking(s *quiz.Session, q *quiz.Question) {
	sc.registry.UpdatePhase(s, quiz.PhaseThinking)
	sc.registry.SetPhaseStartTime(s, sc.clock.Now())

	sc.emit(s, events.TypeThinkingPhase, events.ThinkingPhasePayload{
		Question:     sc.questionView(s, q),
		ThinkSeconds: s.Settings.ThinkSeconds,
	})
	log.Info().
		Str("session_id", s.ID).
		Int("question", s.CurrentQuestion).
		Msg("thinking phase started")

	sc.timers.Set(s.ID, keyThinking, s.Settings.ThinkDuration(), func() {
		sc.onThinkTimer(s.ID)
	})
}

// onThinkTimer fires when the thinking window elapses. A session that has
// already left thinking treats the firing as a no-op.
func (sc *Scheduler) onThinkTimer(sessionID string) {
	s, ok := sc.registry.GetByID(sessionID)
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	if s.Phase != quiz.PhaseThinking {
		log.Debug().Str("session_id", sessionID).Str("phase", string(s.Phase)).Msg("stale think timer, ignoring")
		return
	}
	sc.beginAnswering(s)
}

func (sc *Scheduler) beginAnswering(s *quiz.Session) {
	now := sc.clock.Now()
	sc.registry.UpdatePhase(s, quiz.PhaseAnswering)
	sc.registry.SetPhaseStartTime(s, now)
	sc.registry.SetQuestionStartTime(s, now)

	sc.emit(s, events.TypeAnsweringPhase, events.AnsweringPhasePayload{
		AnswerSeconds: s.Settings.AnswerSeconds,
	})
	log.Info().
		Str("session_id", s.ID).
		Int("question", s.CurrentQuestion).
		Msg("answering phase started")

	sc.timers.Set(s.ID, keyAnswering, s.Settings.AnswerDuration(), func() {
		sc.onAnswerTimer(s.ID)
	})
}

// onAnswerTimer fires when the answer window elapses. The phase guard makes
// it mutually exclusive with the early-completion path: whichever runs
// first moves the session out of answering, and the loser no-ops.
func (sc *Scheduler) onAnswerTimer(sessionID string) {
	s, ok := sc.registry.GetByID(sessionID)
	if !ok {
		return
	}
	s.Lock()
	defer s.Unlock()

	if s.Phase != quiz.PhaseAnswering {
		log.Debug().Str("session_id", sessionID).Str("phase", string(s.Phase)).Msg("stale answer timer, ignoring")
		return
	}
	sc.completeAnswering(s)
}

// completeAnswering scores the question and broadcasts its results
func (sc *Scheduler) completeAnswering(s *quiz.Session) {
	sc.registry.UpdatePhase(s, quiz.PhaseResults)
	sc.registry.SetPhaseStartTime(s, sc.clock.Now())

	q, ok := questions.Current(s)
	if !ok {
		return
	}
	sc.players.ScoreAnswer(s, q.CorrectAnswer)

	stats, ok := questions.ComputeStats(s)
	if !ok {
		return
	}
	sc.emit(s, events.TypeQuestionEnded, events.QuestionEndedPayload{
		QuestionID:     stats.QuestionID,
		OptionCounts:   stats.OptionCounts,
		OptionPercents: stats.OptionPercents,
		CorrectOption:  stats.CorrectOption,
		CorrectCount:   stats.CorrectCount,
		TotalPlayers:   stats.TotalPlayers,
		Explanation:    q.Explanation,
	})

	for _, p := range s.ConnectedActivePlayers() {
		sc.sendPersonalResult(s, p)
	}
	log.Info().
		Str("session_id", s.ID).
		Int("question", s.CurrentQuestion).
		Int("correct", stats.CorrectCount).
		Msg("question ended")
}

func (sc *Scheduler) sendPersonalResult(s *quiz.Session, p *quiz.Player) {
	result, ok := questions.PersonalResultFor(s, sc.players, p.PersistentID)
	if !ok {
		return
	}
	sc.emitTo(p.ConnectionID, s, events.TypePersonalResult, events.PersonalResultPayload{
		WasCorrect:      result.WasCorrect,
		PointsEarned:    result.PointsEarned,
		TotalScore:      result.TotalScore,
		Position:        result.Position,
		PointsBehind:    result.PointsBehind,
		AheadPlayerName: result.AheadPlayerName,
	})
}

// finish is the terminal transition. All timers are canceled so the session
// is fully quiescent.
func (sc *Scheduler) finish(s *quiz.Session) {
	sc.timers.ClearAll(s.ID)
	sc.archiveAnswers(s)
	sc.registry.UpdatePhase(s, quiz.PhaseFinished)
	sc.registry.SetPhaseStartTime(s, sc.clock.Now())
	s.LoopActive = false

	sc.emit(s, events.TypeSessionFinished, events.SessionFinishedPayload{
		Standings: sc.playerViews(sc.players.Leaderboard(s)),
	})
	log.Info().Str("session_id", s.ID).Msg("session finished")
}

// ReconnectSync reconstructs the outbound event sequence a (re)joining
// connection missed, with countdowns recomputed from the phase start time.
// A remaining time of zero or less is treated as already expired and the
// countdown is omitted; the pending timer will perform the real transition.
func (sc *Scheduler) ReconnectSync(s *quiz.Session, connectionID string) {
	switch s.Phase {
	case quiz.PhaseThinking:
		q, ok := questions.Current(s)
		if !ok {
			return
		}
		remaining := sc.remainingSeconds(s.PhaseStartTime, s.Settings.ThinkDuration())
		if remaining <= 0 {
			return
		}
		sc.emitTo(connectionID, s, events.TypeThinkingPhase, events.ThinkingPhasePayload{
			Question:     sc.questionView(s, q),
			ThinkSeconds: remaining,
		})

	case quiz.PhaseAnswering:
		q, ok := questions.Current(s)
		if !ok {
			return
		}
		// The thinking event is replayed first so the client can render the
		// question before the answer window opens.
		sc.emitTo(connectionID, s, events.TypeThinkingPhase, events.ThinkingPhasePayload{
			Question:     sc.questionView(s, q),
			ThinkSeconds: 0,
		})
		if !sc.timers.Has(s.ID, keyAnswering) {
			return
		}
		remaining := sc.remainingSeconds(s.QuestionStartTime, s.Settings.AnswerDuration())
		if remaining <= 0 {
			return
		}
		sc.emitTo(connectionID, s, events.TypeAnsweringPhase, events.AnsweringPhasePayload{
			AnswerSeconds: remaining,
		})

	case quiz.PhaseResults:
		if !sc.cfg.ReplayPersonalResult {
			return
		}
		stats, ok := questions.ComputeStats(s)
		if !ok {
			return
		}
		sc.emitTo(connectionID, s, events.TypeQuestionEnded, events.QuestionEndedPayload{
			QuestionID:     stats.QuestionID,
			OptionCounts:   stats.OptionCounts,
			OptionPercents: stats.OptionPercents,
			CorrectOption:  stats.CorrectOption,
			CorrectCount:   stats.CorrectCount,
			TotalPlayers:   stats.TotalPlayers,
		})
		if p := s.PlayerByConnectionID(connectionID); p != nil && !p.IsHost {
			sc.sendPersonalResult(s, p)
		}

	case quiz.PhaseLeaderboard:
		sc.emitTo(connectionID, s, events.TypeLeaderboardShown, events.LeaderboardShownPayload{
			Players: sc.playerViews(sc.players.Leaderboard(s)),
		})

	case quiz.PhaseFinished:
		sc.emitTo(connectionID, s, events.TypeSessionFinished, events.SessionFinishedPayload{
			Standings: sc.playerViews(sc.players.Leaderboard(s)),
		})
	}
}

// remainingSeconds computes how much of a countdown is left, rounded up
func (sc *Scheduler) remainingSeconds(startedAt time.Time, window time.Duration) int {
	remaining := window - sc.clock.Now().Sub(startedAt)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// archiveAnswers snapshots the previous question's answers into the
// session history before the slots are cleared
func (sc *Scheduler) archiveAnswers(s *quiz.Session) {
	q, ok := questions.Current(s)
	if !ok {
		return
	}
	if n := len(s.History); n > 0 && s.History[n-1].Index == s.CurrentQuestion {
		return // already archived
	}
	record := quiz.QuestionRecord{
		QuestionID: q.ID,
		Index:      s.CurrentQuestion,
	}
	window := s.Settings.AnswerDuration()
	for _, p := range s.ActivePlayers() {
		if p.CurrentAnswer == nil {
			continue
		}
		correct := *p.CurrentAnswer == q.CorrectAnswer
		pts := 0
		if correct {
			pts = players.ScorePoints(p.AnswerTimestamp.Sub(s.QuestionStartTime), window)
		}
		record.Answers = append(record.Answers, quiz.AnswerRecord{
			PlayerID:   p.PersistentID,
			Option:     *p.CurrentAnswer,
			Correct:    correct,
			Points:     pts,
			AnsweredAt: *p.AnswerTimestamp,
		})
	}
	s.History = append(s.History, record)
}

func (sc *Scheduler) questionView(s *quiz.Session, q *quiz.Question) events.QuestionView {
	return events.QuestionView{
		QuestionID: q.ID,
		Prompt:     q.Prompt,
		Options:    q.Options,
		ImageURL:   q.ImageURL,
		Index:      s.CurrentQuestion,
		Total:      len(s.Questions),
	}
}

func (sc *Scheduler) playerViews(list []*quiz.Player) []events.PlayerView {
	views := make([]events.PlayerView, 0, len(list))
	for _, p := range list {
		views = append(views, events.PlayerView{
			PlayerID:  p.PersistentID,
			Name:      p.Name,
			Score:     p.Score,
			Connected: p.Connected,
		})
	}
	return views
}

func (sc *Scheduler) emit(s *quiz.Session, t events.Type, payload any) {
	ev, err := events.New(s.ID, t, payload)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("failed to build event")
		return
	}
	sc.broadcast.ToSession(s.ID, ev)
}

func (sc *Scheduler) emitTo(connectionID string, s *quiz.Session, t events.Type, payload any) {
	ev, err := events.New(s.ID, t, payload)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("failed to build event")
		return
	}
	sc.broadcast.ToConnection(connectionID, ev)
}
