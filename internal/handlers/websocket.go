package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/models"
	"golang.org/x/time/rate"
)

// ErrNoSubscriber is returned when an owner has no open progress stream
var ErrNoSubscriber = errors.New("owner has no connected client")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the envelope of every message sent to a client
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// FilePayload carries a report inline
type FilePayload struct {
	Name    string `json:"name"`
	Caption string `json:"caption"`
	Data    string `json:"data"` // base64
}

type client struct {
	id    string
	owner int64
	conn  *websocket.Conn
	mu    sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketHandler streams progress to owners and doubles as their Notifier.
// Each owner's messages pass through a rate limiter so bursts do not flood slow clients.
type WebSocketHandler struct {
	logger   arbor.ILogger
	mu       sync.RWMutex
	clients  map[int64]map[string]*client
	limiters map[int64]*rate.Limiter
	every    rate.Limit
	burst    int
}

func NewWebSocketHandler(config common.NotifyConfig, logger arbor.ILogger) *WebSocketHandler {
	interval := common.ParseDuration(config.Throttle, 250*time.Millisecond)
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	return &WebSocketHandler{
		logger:   logger,
		clients:  make(map[int64]map[string]*client),
		limiters: make(map[int64]*rate.Limiter),
		every:    rate.Every(interval),
		burst:    burst,
	}
}

// HandleWebSocket subscribes the connection to ?owner_id=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	c := &client{id: uuid.New().String(), owner: owner, conn: conn}
	h.mu.Lock()
	if h.clients[owner] == nil {
		h.clients[owner] = make(map[string]*client)
	}
	h.clients[owner][c.id] = c
	h.mu.Unlock()

	h.logger.Debug().Int64("owner_id", owner).Str("client_id", c.id).Msg("WebSocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients[owner], c.id)
		if len(h.clients[owner]) == 0 {
			delete(h.clients, owner)
		}
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int64("owner_id", owner).Str("client_id", c.id).Msg("WebSocket client disconnected")
	}()

	// Read until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// Subscribers returns the number of open streams for owner
func (h *WebSocketHandler) Subscribers(owner int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[owner])
}

func (h *WebSocketHandler) limiter(owner int64) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[owner]
	if !ok {
		l = rate.NewLimiter(h.every, h.burst)
		h.limiters[owner] = l
	}
	return l
}

func (h *WebSocketHandler) send(ctx context.Context, owner int64, msg WSMessage) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[owner]))
	for _, c := range h.clients[owner] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return ErrNoSubscriber
	}

	if err := h.limiter(owner).Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}

	sent := 0
	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.logger.Warn().Int64("owner_id", owner).Str("client_id", c.id).Err(err).Msg("Failed to send to client")
			continue
		}
		sent++
	}
	if sent == 0 {
		return ErrNoSubscriber
	}
	return nil
}

// Notify sends a progress message. Owners without a stream are skipped silently.
func (h *WebSocketHandler) Notify(ctx context.Context, n models.Notification) error {
	err := h.send(ctx, n.OwnerID, WSMessage{Type: string(n.Kind), Payload: n})
	if errors.Is(err, ErrNoSubscriber) {
		return nil
	}
	return err
}

// SendFile sends the file base64-encoded. It fails when the owner is not connected.
func (h *WebSocketHandler) SendFile(ctx context.Context, ownerID int64, path, caption string) error {
	if h.Subscribers(ownerID) == 0 {
		return ErrNoSubscriber
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return h.send(ctx, ownerID, WSMessage{
		Type: string(models.NotifyFile),
		Payload: FilePayload{
			Name:    filepath.Base(path),
			Caption: caption,
			Data:    base64.StdEncoding.EncodeToString(data),
		},
	})
}
