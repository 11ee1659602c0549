package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"studio-backend/internal/models"
	"studio-backend/pkg/logger"
)

const (
	MessageTypeSessionUpdate = "session_update"
	MessageTypeSessionClosed = "session_closed"

	channelPrefix = "session_updates:"
	writeWait     = 10 * time.Second
	publishWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type sessionSource interface {
	Snapshot(id string) (models.SessionSnapshot, bool)
}

// client serializes writes; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes session snapshots to every browser watching that session. With a
// redis client, updates go through pub/sub so any instance can serve the socket.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*client
	redisClient *redis.Client
	sessions    sessionSource
	logger      *slog.Logger
	cancelFuncs map[string]context.CancelFunc
}

func NewHub(redisClient *redis.Client, sessions sessionSource, log *slog.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		connections: make(map[string][]*client),
		redisClient: redisClient,
		sessions:    sessions,
		logger:      log,
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// SetSessions wires the session source after construction. The session
// manager needs the hub as its notifier, so one of them has to come second.
func (h *Hub) SetSessions(sessions sessionSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = sessions
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	sessions := h.sessions
	h.mu.RUnlock()
	if sessions == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	snap, ok := sessions.Snapshot(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn}
	h.registerConnection(sessionID, c)

	if data, err := encodeUpdate(snap); err == nil {
		c.write(data)
	}

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(sessionID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Notify implements studio.Notifier.
func (h *Hub) Notify(sessionID string, snap models.SessionSnapshot) {
	data, err := encodeUpdate(snap)
	if err != nil {
		h.logger.Error("failed to encode session update", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	if h.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishWait)
		defer cancel()
		err := h.redisClient.Publish(ctx, channelPrefix+sessionID, data).Err()
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	h.broadcast(sessionID, data)
}

// SessionClosed implements studio.SessionCloser. Watchers get a final
// session_closed message and their sockets are closed on every instance.
func (h *Hub) SessionClosed(sessionID string) {
	data, err := json.Marshal(models.WSMessage{
		Type:    MessageTypeSessionClosed,
		Payload: map[string]string{"id": sessionID},
	})
	if err != nil {
		h.logger.Error("failed to encode session close", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	if h.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishWait)
		defer cancel()
		err := h.redisClient.Publish(ctx, channelPrefix+sessionID, data).Err()
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, closing locally",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	h.closeSession(sessionID, data)
}

// closeSession sends data to every local socket of the session, closes them
// and stops the session's subscription.
func (h *Hub) closeSession(sessionID string, data []byte) {
	h.mu.Lock()
	clients := h.connections[sessionID]
	delete(h.connections, sessionID)
	if cancel, ok := h.cancelFuncs[sessionID]; ok {
		cancel()
		delete(h.cancelFuncs, sessionID)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.write(data)
		c.conn.Close()
	}
	if len(clients) > 0 {
		h.logger.Info("session sockets closed", slog.String("session_id", sessionID), slog.Int("connections", len(clients)))
	}
}

// Connections returns the number of open sockets for a session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

// Close drops every socket and stops all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, clients := range h.connections {
		for _, c := range clients {
			c.conn.Close()
		}
		delete(h.connections, id)
	}
	for id, cancel := range h.cancelFuncs {
		cancel()
		delete(h.cancelFuncs, id)
	}
}

func (h *Hub) registerConnection(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], c)

	// Start pub/sub subscription if this is the first connection for this session
	if h.redisClient != nil && len(h.connections[sessionID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[sessionID] = cancel
		go h.subscribeToPubSub(ctx, sessionID)
	}

	h.logger.Info("websocket connected",
		slog.String("session_id", sessionID),
		slog.Int("connections", len(h.connections[sessionID])),
	)
}

func (h *Hub) unregisterConnection(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	clients := h.connections[sessionID]
	for i, other := range clients {
		if other == c {
			h.connections[sessionID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if cancel, ok := h.cancelFuncs[sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, sessionID)
		}
	}

	h.logger.Info("websocket disconnected", slog.String("session_id", sessionID))
}

func (h *Hub) subscribeToPubSub(ctx context.Context, sessionID string) {
	pubsub := h.redisClient.Subscribe(ctx, channelPrefix+sessionID)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data := []byte(msg.Payload)
			if isCloseMessage(data) {
				h.closeSession(sessionID, data)
				return
			}
			h.broadcast(sessionID, data)
		}
	}
}

func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	clients := append([]*client(nil), h.connections[sessionID]...)
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug("websocket write failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	}
}

func encodeUpdate(snap models.SessionSnapshot) ([]byte, error) {
	return json.Marshal(models.WSMessage{Type: MessageTypeSessionUpdate, Payload: snap})
}

func isCloseMessage(data []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &msg) == nil && msg.Type == MessageTypeSessionClosed
}
