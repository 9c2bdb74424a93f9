package gateway

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizdash/quizdash/internal/quiz"
	"github.com/quizdash/quizdash/internal/quiz/events"
	"github.com/quizdash/quizdash/internal/quiz/players"
	"github.com/quizdash/quizdash/internal/quiz/questions"
	"github.com/quizdash/quizdash/internal/quiz/registry"
	"github.com/quizdash/quizdash/internal/quiz/scheduler"
	"github.com/quizdash/quizdash/internal/timer"
)

// Timer keys owned by the gateway for disconnect grace handling
const keyHostGrace = "host-grace"

func cleanupKey(playerID string) string {
	return "cleanup:" + playerID
}

// Config holds the gateway grace periods
type Config struct {
	// HostGrace is how long a session survives a host disconnect before it
	// is force-finished.
	HostGrace time.Duration
	// PlayerCleanup is how long a disconnected non-host player's seat is
	// held open before the record is removed.
	PlayerCleanup time.Duration
}

// Gateway binds inbound transport events to the engine components, enforces
// host-only authorization, and fans outbound events back to connections.
type Gateway struct {
	registry  *registry.Registry
	players   *players.Directory
	scheduler *scheduler.Scheduler
	timers    *timer.Service
	broadcast scheduler.Broadcaster
	clock     clockwork.Clock
	cfg       Config
}

// New creates a gateway
func New(reg *registry.Registry, dir *players.Directory, sched *scheduler.Scheduler, timers *timer.Service, broadcast scheduler.Broadcaster, clock clockwork.Clock, cfg Config) *Gateway {
	return &Gateway{
		registry:  reg,
		players:   dir,
		scheduler: sched,
		timers:    timers,
		broadcast: broadcast,
		clock:     clock,
		cfg:       cfg,
	}
}

// JoinOutcome reports the result of a join attempt to the transport layer
type JoinOutcome struct {
	Accepted     bool
	Reconnection bool
	Session      *quiz.Session
	PlayerID     string
	Reason       string
}

// CreateSession validates the quiz content and registers a new session
// with the calling connection as host. No authorization required.
func (g *Gateway) CreateSession(connectionID, title string, qs []quiz.Question, settings quiz.Settings) (*quiz.Session, error) {
	if len(qs) == 0 {
		return nil, fmt.Errorf("session needs at least one question")
	}
	for _, q := range qs {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	if settings.ThinkSeconds <= 0 || settings.AnswerSeconds <= 0 {
		return nil, fmt.Errorf("phase durations must be positive")
	}
	return g.registry.Create(connectionID, title, qs, settings), nil
}

// JoinSession resolves a PIN and joins or reconnects the caller. An invalid
// PIN is a normal rejection and creates no player record anywhere.
func (g *Gateway) JoinSession(connectionID, pin, name, persistentID string) JoinOutcome {
	s, ok := g.registry.GetByPIN(pin)
	if !ok {
		log.Debug().Str("pin", pin).Msg("join attempt with unknown pin")
		return JoinOutcome{Reason: "session not found"}
	}

	s.Lock()
	defer s.Unlock()

	res := g.players.Join(s, connectionID, name, persistentID)
	if !res.Accepted {
		return JoinOutcome{Session: s, Reason: res.Reason}
	}

	view := events.PlayerView{
		PlayerID:  res.Player.PersistentID,
		Name:      res.Player.Name,
		Score:     res.Player.Score,
		Connected: true,
	}
	if res.Reconnection {
		// A reconnect before the grace timer expires keeps the seat.
		g.timers.Clear(s.ID, cleanupKey(res.PlayerID))
		if res.Player.IsHost {
			g.timers.Clear(s.ID, keyHostGrace)
		}
		g.emit(s, events.TypePlayerReconnected, events.PlayerReconnectedPayload{Player: view})
		g.scheduler.ReconnectSync(s, connectionID)
	} else {
		g.emit(s, events.TypePlayerJoined, events.PlayerJoinedPayload{Player: view})
	}

	return JoinOutcome{
		Accepted:     true,
		Reconnection: res.Reconnection,
		Session:      s,
		PlayerID:     res.PlayerID,
	}
}

// ValidateSession checks that a session exists and its host seat is held.
// Possession of the session id is the host credential: a caller validating
// a session whose host is disconnected is the returning host and gets
// rebound plus a reconnection sync.
func (g *Gateway) ValidateSession(connectionID, sessionID string) (*quiz.Session, bool) {
	s, ok := g.registry.GetByID(sessionID)
	if !ok {
		return nil, false
	}

	s.Lock()
	defer s.Unlock()

	host := s.Host()
	if host == nil {
		return nil, false
	}
	if !host.Connected {
		host.ConnectionID = connectionID
		host.Connected = true
		g.timers.Clear(s.ID, keyHostGrace)
		g.emit(s, events.TypePlayerReconnected, events.PlayerReconnectedPayload{
			Player: events.PlayerView{PlayerID: host.PersistentID, Name: host.Name, Connected: true},
		})
		g.scheduler.ReconnectSync(s, connectionID)
		log.Info().Str("session_id", s.ID).Msg("host reconnected")
	}
	return s, true
}

// StartSession is host-only
func (g *Gateway) StartSession(connectionID, sessionID string) {
	g.hostAction(connectionID, sessionID, "startSession", func(s *quiz.Session) error {
		return g.scheduler.StartSession(s)
	})
}

// RequestLeaderboard is host-only
func (g *Gateway) RequestLeaderboard(connectionID, sessionID string) {
	g.hostAction(connectionID, sessionID, "requestLeaderboard", func(s *quiz.Session) error {
		return g.scheduler.ShowLeaderboard(s)
	})
}

// RequestNextPhase is host-only
func (g *Gateway) RequestNextPhase(connectionID, sessionID string) {
	g.hostAction(connectionID, sessionID, "requestNextPhase", func(s *quiz.Session) error {
		return g.scheduler.NextPhase(s)
	})
}

// EndSession is host-only and tears the session down
func (g *Gateway) EndSession(connectionID, sessionID string) {
	ended := false
	g.hostAction(connectionID, sessionID, "endSession", func(s *quiz.Session) error {
		g.scheduler.EndSession(s)
		ended = true
		return nil
	})
	if ended {
		g.registry.Delete(sessionID)
	}
}

// SubmitAnswer records an answer for the current question. Ignored unless
// the session is answering and questionID matches the current question.
func (g *Gateway) SubmitAnswer(connectionID, sessionID, questionID string, option int, persistentID string) {
	s, ok := g.registry.GetByID(sessionID)
	if !ok {
		return
	}

	s.Lock()
	defer s.Unlock()

	if s.Phase != quiz.PhaseAnswering {
		log.Debug().Str("session_id", sessionID).Str("phase", string(s.Phase)).Msg("answer outside answering phase, ignoring")
		return
	}
	q, ok := questions.Current(s)
	if !ok || q.ID != questionID {
		log.Debug().Str("session_id", sessionID).Str("question_id", questionID).Msg("answer for non-current question, ignoring")
		return
	}

	key, byPersistent := connectionID, false
	if persistentID != "" {
		key, byPersistent = persistentID, true
	}
	if !g.players.SubmitAnswer(s, key, option, byPersistent) {
		return
	}

	var p *quiz.Player
	if byPersistent {
		p = s.PlayerByPersistentID(key)
	} else {
		p = s.PlayerByConnectionID(key)
	}
	answered := 0
	for _, ap := range s.ActivePlayers() {
		if ap.CurrentAnswer != nil {
			answered++
		}
	}
	g.emit(s, events.TypePlayerAnswered, events.PlayerAnsweredPayload{
		PlayerID:     p.PersistentID,
		AnswerCount:  answered,
		TotalPlayers: len(s.ActivePlayers()),
	})

	g.scheduler.HandleAnswerProgress(s)
}

// Disconnect handles transport-level loss of a connection. The player is
// flagged disconnected and a grace timer starts: the host's expiry
// force-finishes the session, a player's expiry removes the record.
func (g *Gateway) Disconnect(sessionID, connectionID string) {
	s, ok := g.registry.GetByID(sessionID)
	if !ok {
		return
	}

	s.Lock()
	defer s.Unlock()

	p, ok := g.players.Disconnect(s, connectionID)
	if !ok {
		return
	}
	log.Info().
		Str("session_id", s.ID).
		Str("player_id", p.PersistentID).
		Bool("is_host", p.IsHost).
		Msg("player disconnected")
	g.emit(s, events.TypePlayerDisconnected, events.PlayerDisconnectedPayload{PlayerID: p.PersistentID})

	if p.IsHost {
		g.timers.Set(s.ID, keyHostGrace, g.cfg.HostGrace, func() {
			g.onHostGraceExpired(s.ID)
		})
	} else {
		playerID := p.PersistentID
		g.timers.Set(s.ID, cleanupKey(playerID), g.cfg.PlayerCleanup, func() {
			g.onPlayerCleanup(s.ID, playerID)
		})
	}
}

// onHostGraceExpired force-finishes and tears down a session whose host
// never came back
func (g *Gateway) onHostGraceExpired(sessionID string) {
	s, ok := g.registry.GetByID(sessionID)
	if !ok {
		return
	}

	s.Lock()
	host := s.Host()
	if host != nil && host.Connected {
		s.Unlock()
		return
	}
	log.Info().Str("session_id", sessionID).Msg("host grace expired, finishing session")
	g.scheduler.EndSession(s)
	s.Unlock()

	g.registry.Delete(sessionID)
}

// onPlayerCleanup removes a player whose grace period passed without a
// reconnection
func (g *Gateway) onPlayerCleanup(sessionID, playerID string) {
	s, ok := g.registry.GetByID(sessionID)
	if !ok {
		return
	}

	s.Lock()
	defer s.Unlock()

	p := s.PlayerByPersistentID(playerID)
	if p == nil || p.Connected {
		return
	}
	if g.players.Remove(s, playerID) {
		g.emit(s, events.TypePlayerLeft, events.PlayerLeftPayload{PlayerID: playerID})
	}
}

// hostAction runs fn only when the calling connection is bound to the
// session's host. Unauthorized and invalid-transition attempts are logged
// and dropped without touching state.
func (g *Gateway) hostAction(connectionID, sessionID, action string, fn func(*quiz.Session) error) {
	s, ok := g.registry.GetByID(sessionID)
	if !ok {
		log.Debug().Str("session_id", sessionID).Str("action", action).Msg("action on unknown session, ignoring")
		return
	}

	s.Lock()
	defer s.Unlock()

	host := s.Host()
	if host == nil || host.ConnectionID != connectionID {
		log.Warn().
			Str("session_id", sessionID).
			Str("connection_id", connectionID).
			Str("action", action).
			Msg("unauthorized host action, ignoring")
		return
	}
	if err := fn(s); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("action", action).
			Str("phase", string(s.Phase)).
			Msg("host action rejected")
	}
}

func (g *Gateway) emit(s *quiz.Session, t events.Type, payload any) {
	ev, err := events.New(s.ID, t, payload)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("failed to build event")
		return
	}
	g.broadcast.ToSession(s.ID, ev)
}
