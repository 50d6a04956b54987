// Package gateway exposes the extension surfaces over WebSocket. Each UI
// surface (panel, overlay, settings) connects here; outbound whispers from the
// engine are fanned out to connected clients and inbound frames are relayed
// back onto the bus.
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
)

// Known surface names. Unknown surfaces are rejected at upgrade time.
const (
	SurfacePanel    = "panel"
	SurfaceOverlay  = "overlay"
	SurfaceSettings = "settings"
)

// Manager owns the per-surface connection pools and the fan-out loop.
type Manager struct {
	surfaces map[string]map[*Connection]bool
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   Config

	broadcastCh chan outboundFrame

	// onInbound receives raw frames sent by clients, for relay onto the bus.
	onInbound func(data []byte)
}

// Connection is one WebSocket client on one surface.
type Connection struct {
	ID      string
	UserID  string
	Surface string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *Manager

	ConnectedAt time.Time
	LastPing    time.Time
}

// Config holds WebSocket tuning knobs.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type outboundFrame struct {
	data         []byte
	targetUserID string
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewManager creates a connection manager. onInbound may be nil.
func NewManager(config Config, onInbound func(data []byte)) *Manager {
	return &Manager{
		surfaces: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan outboundFrame, 1000),
		onInbound:   onInbound,
	}
}

// Start runs the fan-out loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("gateway started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway shutting down")
			return
		case frame := <-m.broadcastCh:
			m.handleBroadcast(frame)
		}
	}
}

// HandleWS upgrades /ws?surface=&userId= requests.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	surface := r.URL.Query().Get("surface")
	if surface != SurfacePanel && surface != SurfaceOverlay && surface != SurfaceSettings {
		http.Error(w, "unknown surface", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("userId")

	if err := m.upgrade(w, r, userID, surface); err != nil {
		log.Error().Err(err).Str("surface", surface).Msg("websocket upgrade failed")
	}
}

func (m *Manager) upgrade(w http.ResponseWriter, r *http.Request, userID, surface string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Surface:     surface,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     m,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	m.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("surface", surface).
		Msg("surface connected")

	return nil
}

func (m *Manager) register(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.surfaces[conn.Surface] == nil {
		m.surfaces[conn.Surface] = make(map[*Connection]bool)
	}
	m.surfaces[conn.Surface][conn] = true
}

func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if connections, exists := m.surfaces[conn.Surface]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			if len(connections) == 0 {
				delete(m.surfaces, conn.Surface)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("surface", conn.Surface).
				Msg("surface disconnected")
		}
	}
}

// Dispatch enqueues an already-encoded whisper for fan-out. Frames carrying a
// targetUserId reach only that user's connections; everything else goes to all
// surfaces.
func (m *Manager) Dispatch(data []byte) {
	var target struct {
		TargetUserID string `json:"targetUserId"`
	}
	_ = json.Unmarshal(data, &target)

	select {
	case m.broadcastCh <- outboundFrame{data: data, targetUserID: target.TargetUserID}:
	default:
		log.Warn().Msg("broadcast channel full, dropping frame")
	}
}

func (m *Manager) handleBroadcast(frame outboundFrame) {
	m.mu.RLock()
	var targets []*Connection
	for _, connections := range m.surfaces {
		for conn := range connections {
			if frame.targetUserID != "" && conn.UserID != frame.targetUserID {
				continue
			}
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- frame.data:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("send buffer full, closing connection")
			m.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// Stats reports active connection counts per surface.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.surfaces))
	for surface, connections := range m.surfaces {
		counts[surface] = len(connections)
	}
	return counts
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close")
			}
			break
		}

		c.handleInbound(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleInbound relays a client frame to the bus, stamping the connection's
// user id so clients cannot act on behalf of others.
func (c *Connection) handleInbound(message []byte) {
	if c.Manager.onInbound == nil {
		return
	}

	var frame map[string]any
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Debug().Str("connection_id", c.ID).Msg("dropping malformed frame")
		return
	}
	if c.UserID != "" {
		frame["userId"] = c.UserID
	}
	stamped, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.Manager.onInbound(stamped)
}
