package gateway

import (
	"encoding/json"

	"github.com/quizdash/quizdash/internal/quiz"
	"github.com/quizdash/quizdash/internal/quiz/events"
)

// ClientMessage is the envelope for every inbound transport message
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound message types
const (
	MsgCreateSession      = "createSession"
	MsgJoinSession        = "joinSession"
	MsgValidateSession    = "validateSession"
	MsgStartSession       = "startSession"
	MsgRequestNextPhase   = "requestNextPhase"
	MsgRequestLeaderboard = "requestLeaderboard"
	MsgEndSession         = "endSession"
	MsgSubmitAnswer       = "submitAnswer"
)

// Transport acknowledgement event types, unicast to the caller
const (
	TypeSessionCreated events.Type = "sessionCreated"
	TypeJoinResult     events.Type = "joinResult"
	TypeValidateResult events.Type = "validateResult"
)

// CreateSessionRequest carries the quiz content for a new session
type CreateSessionRequest struct {
	Title     string          `json:"title"`
	Questions []quiz.Question `json:"questions"`
	Settings  quiz.Settings   `json:"settings"`
}

// SessionCreatedPayload acknowledges session creation to the host
type SessionCreatedPayload struct {
	SessionID string `json:"session_id"`
	PIN       string `json:"pin"`
	HostID    string `json:"host_id"`
}

// JoinSessionRequest joins a session by PIN
type JoinSessionRequest struct {
	PIN          string `json:"pin"`
	Name         string `json:"name"`
	PersistentID string `json:"persistent_id,omitempty"`
}

// JoinResultPayload acknowledges a join attempt
type JoinResultPayload struct {
	Accepted     bool   `json:"accepted"`
	Reconnection bool   `json:"reconnection,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Title        string `json:"title,omitempty"`
	PlayerID     string `json:"player_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ValidateSessionRequest checks a session id held by a host client
type ValidateSessionRequest struct {
	SessionID string `json:"session_id"`
}

// ValidateResultPayload acknowledges a validate call
type ValidateResultPayload struct {
	Valid     bool   `json:"valid"`
	SessionID string `json:"session_id,omitempty"`
	PIN       string `json:"pin,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// HostActionRequest addresses a host-only fire-and-forget action
type HostActionRequest struct {
	SessionID string `json:"session_id"`
}

// SubmitAnswerRequest records an answer for the current question
type SubmitAnswerRequest struct {
	SessionID    string `json:"session_id"`
	QuestionID   string `json:"question_id"`
	AnswerIndex  int    `json:"answer_index"`
	PersistentID string `json:"persistent_id,omitempty"`
}
