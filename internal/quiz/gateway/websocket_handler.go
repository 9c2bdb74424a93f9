package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quizdash/quizdash/internal/quiz/events"
)

// WebSocketHandler handles WebSocket upgrade requests and routes client
// messages into the gateway
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	gateway           *Gateway
}

// NewWebSocketHandler creates a handler and wires it into the connection
// manager's message and disconnect hooks
func NewWebSocketHandler(cm *ConnectionManager, gw *Gateway) *WebSocketHandler {
	h := &WebSocketHandler{
		connectionManager: cm,
		gateway:           gw,
	}
	cm.OnMessage = h.handleClientMessage
	cm.OnDisconnect = h.handleDisconnect
	return h
}

// HandleSessionConnection upgrades the HTTP request to a WebSocket. The
// connection joins a session's broadcast group later, via a create, join or
// validate message.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleConnectionStats returns counters about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	conns, sessions := h.connectionManager.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total_connections":%d,"active_sessions":%d}`, conns, sessions)
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// handleDisconnect reports transport loss to the gateway
func (h *WebSocketHandler) handleDisconnect(conn *Connection) {
	sessionID := h.connectionManager.SessionID(conn)
	if sessionID == "" {
		return
	}
	h.gateway.Disconnect(sessionID, conn.ID)
}

// handleClientMessage dispatches one inbound message. Malformed messages
// are logged and dropped; the engine surfaces rejections through ack
// events, never protocol errors.
func (h *WebSocketHandler) handleClientMessage(conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("malformed client message, dropping")
		return
	}

	switch msg.Type {
	case MsgCreateSession:
		var req CreateSessionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Debug().Err(err).Str("connection_id", conn.ID).Msg("malformed createSession, dropping")
			return
		}
		for i := range req.Questions {
			if req.Questions[i].ID == "" {
				req.Questions[i].ID = uuid.New().String()
			}
		}
		s, err := h.gateway.CreateSession(conn.ID, req.Title, req.Questions, req.Settings)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("createSession rejected")
			return
		}
		h.connectionManager.BindSession(conn, s.ID)
		h.ack(conn, s.ID, TypeSessionCreated, SessionCreatedPayload{
			SessionID: s.ID,
			PIN:       s.PIN,
			HostID:    s.Host().PersistentID,
		})

	case MsgJoinSession:
		var req JoinSessionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		outcome := h.gateway.JoinSession(conn.ID, req.PIN, req.Name, req.PersistentID)
		ack := JoinResultPayload{Accepted: outcome.Accepted, Reason: outcome.Reason}
		if outcome.Accepted {
			h.connectionManager.BindSession(conn, outcome.Session.ID)
			ack.Reconnection = outcome.Reconnection
			ack.SessionID = outcome.Session.ID
			ack.Title = outcome.Session.Title
			ack.PlayerID = outcome.PlayerID
		}
		h.ack(conn, ack.SessionID, TypeJoinResult, ack)

	case MsgValidateSession:
		var req ValidateSessionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		s, valid := h.gateway.ValidateSession(conn.ID, req.SessionID)
		ack := ValidateResultPayload{Valid: valid}
		if valid {
			h.connectionManager.BindSession(conn, s.ID)
			ack.SessionID = s.ID
			ack.PIN = s.PIN
			ack.Phase = string(s.Phase)
		}
		h.ack(conn, req.SessionID, TypeValidateResult, ack)

	case MsgStartSession:
		var req HostActionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		h.gateway.StartSession(conn.ID, req.SessionID)

	case MsgRequestNextPhase:
		var req HostActionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		h.gateway.RequestNextPhase(conn.ID, req.SessionID)

	case MsgRequestLeaderboard:
		var req HostActionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		h.gateway.RequestLeaderboard(conn.ID, req.SessionID)

	case MsgEndSession:
		var req HostActionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		h.gateway.EndSession(conn.ID, req.SessionID)

	case MsgSubmitAnswer:
		var req SubmitAnswerRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		h.gateway.SubmitAnswer(conn.ID, req.SessionID, req.QuestionID, req.AnswerIndex, req.PersistentID)

	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("type", msg.Type).
			Msg("unknown message type, ignoring")
	}
}

// ack unicasts a transport acknowledgement back to the caller
func (h *WebSocketHandler) ack(conn *Connection, sessionID string, t events.Type, payload any) {
	ev, err := events.New(sessionID, t, payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to build ack event")
		return
	}
	h.connectionManager.ToConnection(conn.ID, ev)
}
