package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quizdash/quizdash/internal/quiz/events"
)

// ConnectionManager manages WebSocket connections for session events. It
// implements scheduler.Broadcaster: room-style multicast per session plus
// per-connection addressing.
type ConnectionManager struct {
	// Connection pools organized by session id, plus a flat index for
	// unicast delivery
	sessionConnections map[string]map[*Connection]bool
	byID               map[string]*Connection
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// OnMessage is invoked for every client message; OnDisconnect fires
	// when a connection's read loop ends. Both are set once before Start.
	OnMessage    func(conn *Connection, data []byte)
	OnDisconnect func(conn *Connection)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// sessionID is set once the connection joins or validates a session;
	// guarded by the manager lock
	sessionID string

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	SessionID    string
	ConnectionID string // if set, unicast to this connection only
	Event        *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessionConnections: make(map[string]map[*Connection]bool),
		byID:               make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// read/write pumps. The connection is not bound to a session yet.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.mu.Lock()
	cm.byID[connection.ID] = connection
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.ID).Msg("websocket connection established")
	return connection, nil
}

// BindSession places a connection into a session's broadcast group. A
// connection belongs to at most one session; rebinding moves it.
func (cm *ConnectionManager) BindSession(conn *Connection, sessionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.sessionID != "" && conn.sessionID != sessionID {
		if pool := cm.sessionConnections[conn.sessionID]; pool != nil {
			delete(pool, conn)
			if len(pool) == 0 {
				delete(cm.sessionConnections, conn.sessionID)
			}
		}
	}
	conn.sessionID = sessionID
	if cm.sessionConnections[sessionID] == nil {
		cm.sessionConnections[sessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[sessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Int("session_connections", len(cm.sessionConnections[sessionID])).
		Msg("connection bound to session")
}

// SessionID returns the session the connection is currently bound to
func (cm *ConnectionManager) SessionID(conn *Connection) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return conn.sessionID
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()

	if _, known := cm.byID[conn.ID]; !known {
		cm.mu.Unlock()
		return
	}
	delete(cm.byID, conn.ID)
	if pool := cm.sessionConnections[conn.sessionID]; pool != nil {
		delete(pool, conn)
		if len(pool) == 0 {
			delete(cm.sessionConnections, conn.sessionID)
		}
	}
	close(conn.Send)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("session_id", conn.sessionID).
		Msg("connection unregistered")

	if cm.OnDisconnect != nil {
		cm.OnDisconnect(conn)
	}
}

// ToSession sends an event to every connection bound to a session
func (cm *ConnectionManager) ToSession(sessionID string, event *events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{SessionID: sessionID, Event: event}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// ToConnection sends an event to a single connection
func (cm *ConnectionManager) ToConnection(connectionID string, event *events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{ConnectionID: connectionID, Event: event}:
	default:
		log.Warn().Str("connection_id", connectionID).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.ConnectionID != "" {
		if conn, ok := cm.byID[message.ConnectionID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.sessionConnections[message.SessionID] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow or dead, close it
			log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("session_id", message.Event.SessionID).
		Int("connections", len(targets)).
		Msg("event delivered")
}

// Stats returns counters about active connections
func (cm *ConnectionManager) Stats() (totalConnections, activeSessions int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.byID), len(cm.sessionConnections)
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		if c.Manager.OnMessage != nil {
			c.Manager.OnMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
