package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of session event
type Type string

const (
	TypeSessionStarted     Type = "sessionStarted"
	TypeThinkingPhase      Type = "thinkingPhase"
	TypeAnsweringPhase     Type = "answeringPhase"
	TypeQuestionEnded      Type = "questionEnded"
	TypePersonalResult     Type = "personalResult"
	TypeLeaderboardShown   Type = "leaderboardShown"
	TypeSessionFinished    Type = "sessionFinished"
	TypePlayerJoined       Type = "playerJoined"
	TypePlayerReconnected  Type = "playerReconnected"
	TypePlayerLeft         Type = "playerLeft"
	TypePlayerDisconnected Type = "playerDisconnected"
	TypePlayerAnswered     Type = "playerAnswered"
)

// Event is the envelope for every outbound session event
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event envelope around the given payload
func New(sessionID string, t Type, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// PlayerView is the client-facing projection of a player
type PlayerView struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

// QuestionView is the client-facing projection of a question. The correct
// answer index is deliberately absent.
type QuestionView struct {
	QuestionID string   `json:"question_id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	ImageURL   string   `json:"image_url,omitempty"`
	Index      int      `json:"index"`
	Total      int      `json:"total"`
}

// SessionStartedPayload is the payload for a sessionStarted event
type SessionStartedPayload struct {
	Title         string    `json:"title"`
	QuestionCount int       `json:"question_count"`
	StartedAt     time.Time `json:"started_at"`
}

// ThinkingPhasePayload announces the next question without opening answers
type ThinkingPhasePayload struct {
	Question     QuestionView `json:"question"`
	ThinkSeconds int          `json:"think_seconds"`
}

// AnsweringPhasePayload opens the answer window
type AnsweringPhasePayload struct {
	AnswerSeconds int `json:"answer_seconds"`
}

// QuestionEndedPayload carries the answer distribution for the question
// that just closed
type QuestionEndedPayload struct {
	QuestionID     string `json:"question_id"`
	OptionCounts   []int  `json:"option_counts"`
	OptionPercents []int  `json:"option_percents"`
	CorrectOption  int    `json:"correct_option"`
	CorrectCount   int    `json:"correct_count"`
	TotalPlayers   int    `json:"total_players"`
	Explanation    string `json:"explanation,omitempty"`
}

// PersonalResultPayload is unicast to one player after a question closes
type PersonalResultPayload struct {
	WasCorrect      bool   `json:"was_correct"`
	PointsEarned    int    `json:"points_earned"`
	TotalScore      int    `json:"total_score"`
	Position        int    `json:"position"`
	PointsBehind    int    `json:"points_behind"`
	AheadPlayerName string `json:"ahead_player_name,omitempty"`
}

// LeaderboardShownPayload carries the current standings
type LeaderboardShownPayload struct {
	Players []PlayerView `json:"players"`
}

// SessionFinishedPayload carries the final standings
type SessionFinishedPayload struct {
	Standings []PlayerView `json:"standings"`
}

// PlayerJoinedPayload is broadcast when a new player joins the lobby
type PlayerJoinedPayload struct {
	Player PlayerView `json:"player"`
}

// PlayerReconnectedPayload is broadcast when a player returns
type PlayerReconnectedPayload struct {
	Player PlayerView `json:"player"`
}

// PlayerLeftPayload is broadcast when a player record is removed
type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
}

// PlayerDisconnectedPayload is broadcast on transport loss
type PlayerDisconnectedPayload struct {
	PlayerID string `json:"player_id"`
}

// PlayerAnsweredPayload is broadcast when an answer is recorded; it never
// reveals which option was chosen
type PlayerAnsweredPayload struct {
	PlayerID     string `json:"player_id"`
	AnswerCount  int    `json:"answer_count"`
	TotalPlayers int    `json:"total_players"`
}
