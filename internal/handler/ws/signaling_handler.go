package ws

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telecare-backend/internal/domain"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/logger"
	"telecare-backend/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// SignalingHub bridges WebSocket clients onto the conversation signal
// channels so browser peers and native agents share one signaling plane.
type SignalingHub struct {
	// Registered clients per conversation
	conversations map[uuid.UUID]map[*SignalingClient]bool

	// Cancel functions for conversation subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	bus    signaling.Bus
	naming signaling.Naming
	m      *metrics.Metrics

	mu sync.RWMutex

	register   chan *SignalingClient
	unregister chan *SignalingClient
	broadcast  chan *domain.SignalMessage

	// maxConnections bounds concurrent WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

// SignalingClient represents a WebSocket client for signaling
type SignalingClient struct {
	hub            *SignalingHub
	conn           *websocket.Conn
	send           chan []byte
	userID         uuid.UUID
	conversationID uuid.UUID
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
	}
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins[o] = true
			}
		}
	}
	return origins
}

// NewSignalingHub creates a new signaling hub
func NewSignalingHub(bus signaling.Bus, naming signaling.Naming, m *metrics.Metrics) *SignalingHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &SignalingHub{
		conversations:       make(map[uuid.UUID]map[*SignalingClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		bus:                 bus,
		naming:              naming,
		m:                   m,
		register:            make(chan *SignalingClient),
		unregister:          make(chan *SignalingClient),
		broadcast:           make(chan *domain.SignalMessage, 256),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *SignalingHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.conversations[client.conversationID] == nil {
				h.conversations[client.conversationID] = make(map[*SignalingClient]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.subscriptionCancels[client.conversationID] = cancel

				go h.subscribeToConversation(ctx, client.conversationID)
			}
			h.conversations[client.conversationID][client] = true
			h.mu.Unlock()

			if h.m != nil {
				h.m.WebSocketConnected()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.conversations[client.conversationID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)

					if h.m != nil {
						h.m.WebSocketDisconnected()
					}

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.conversationID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.conversationID)
						}
						delete(h.conversations, client.conversationID)
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.conversations[message.ConversationID]; ok {
				messageJSON, _ := json.Marshal(message)

				// Every signal carries its origin; never echo back to it
				for client := range clients {
					if client.userID == message.CallerID {
						continue
					}
					select {
					case client.send <- messageJSON:
					default:
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToConversation joins the conversation's signal channels and feeds
// decoded messages into the hub. The same signal arrives on more than one
// channel, so payloads are deduplicated before broadcast.
func (h *SignalingHub) subscribeToConversation(ctx context.Context, conversationID uuid.UUID) {
	sub, err := h.bus.Subscribe(ctx, h.naming.ReceiveChannels(conversationID)...)
	if err != nil {
		logger.Error("failed to subscribe to conversation channels",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
		return
	}
	defer sub.Close()

	seen := make([]uint64, 0, 32)
	dup := func(payload []byte) bool {
		hasher := fnv.New64a()
		hasher.Write(payload)
		sum := hasher.Sum64()
		for _, s := range seen {
			if s == sum {
				return true
			}
		}
		if len(seen) == cap(seen) {
			seen = seen[1:]
		}
		seen = append(seen, sum)
		return false
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if dup(msg.Payload) {
				continue
			}

			var signal domain.SignalMessage
			if err := json.Unmarshal(msg.Payload, &signal); err != nil {
				logger.Warn("undecodable signal payload",
					zap.String("conversation_id", conversationID.String()),
					zap.Error(err))
				continue
			}

			if h.m != nil {
				h.m.RecordSignalReceived(signal.Type)
				h.m.RecordWebSocketMessage("out")
			}
			h.broadcast <- &signal
		}
	}
}

// publish fans one client signal out to the conversation's channels.
func (h *SignalingHub) publish(ctx context.Context, msg *domain.SignalMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal signal", zap.Error(err))
		return
	}

	for _, channel := range h.naming.SendChannels(msg.Type, msg.ConversationID) {
		if err := h.bus.Publish(ctx, channel, payload); err != nil {
			logger.Warn("signal publish failed",
				zap.String("channel", channel),
				zap.String("type", msg.Type),
				zap.Error(err))
		}
	}

	if h.m != nil {
		h.m.RecordSignalPublished(msg.Type)
	}
}

// ServeWS handles WebSocket requests for signaling
// GET /v1/ws/signaling?conversation_id=...
func (h *SignalingHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conversationIDStr := c.Query("conversation_id")
	if conversationIDStr == "" {
		c.JSON(400, gin.H{"error": "conversation_id required"})
		return
	}

	conversationID, err := uuid.Parse(conversationIDStr)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid conversation_id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(401, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(500, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &SignalingClient{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 256),
		userID:         userID,
		conversationID: conversationID,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from WebSocket
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("conversation_id", c.conversationID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg domain.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message from WebSocket",
				zap.String("conversation_id", c.conversationID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		// The socket's identity wins over whatever the client claims
		msg.CallerID = c.userID
		msg.ConversationID = c.conversationID

		if c.hub.m != nil {
			c.hub.m.RecordWebSocketMessage("in")
		}
		c.hub.publish(context.Background(), &msg)
	}
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
