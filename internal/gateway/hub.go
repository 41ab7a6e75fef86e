package gateway

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// DefaultPromptTimeout bounds how long a prompt waits for a reply before it counts as dismissed.
	DefaultPromptTimeout = 5 * time.Minute

	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub fans wizard updates out to the websocket clients of one workspace and
// routes their replies back to waiting prompts. It implements notify.UI and
// notify.Notifier.
type Hub struct {
	workspaceID   string
	logger        *zap.Logger
	promptTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	pending map[string]*prompt
	latest  *models.WizardState
}

type prompt struct {
	options []string
	reply   chan string
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub.
func NewHub(workspaceID string, logger *zap.Logger, promptTimeout time.Duration) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if promptTimeout <= 0 {
		promptTimeout = DefaultPromptTimeout
	}
	return &Hub{
		workspaceID:   workspaceID,
		logger:        logger.With(zap.String("workspace_id", workspaceID)),
		promptTimeout: promptTimeout,
		clients:       make(map[*client]struct{}),
		pending:       make(map[string]*prompt),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Sync implements notify.UI. The snapshot is kept for clients that connect later.
func (h *Hub) Sync(state *models.WizardState) {
	h.mu.Lock()
	h.latest = state
	h.mu.Unlock()
	h.broadcast(models.SocketEvent{Type: models.SocketEventStateSync, Data: state})
}

// Rerender implements notify.UI.
func (h *Hub) Rerender() {
	h.broadcast(models.SocketEvent{Type: models.SocketEventRerender})
}

// ShowInfo implements notify.Notifier.
func (h *Hub) ShowInfo(ctx context.Context, message string, actions ...string) (string, error) {
	return h.notify(ctx, models.Notification{Level: models.NotificationInfo, Message: message, Actions: actions})
}

// ShowWarning implements notify.Notifier.
func (h *Hub) ShowWarning(ctx context.Context, message string, actions ...string) (string, error) {
	return h.notify(ctx, models.Notification{Level: models.NotificationWarning, Message: message, Actions: actions})
}

// ShowError implements notify.Notifier.
func (h *Hub) ShowError(ctx context.Context, message string, actions ...string) (string, error) {
	return h.notify(ctx, models.Notification{Level: models.NotificationError, Message: message, Actions: actions})
}

// Confirm implements notify.Notifier with a modal prompt.
func (h *Hub) Confirm(ctx context.Context, message string, options ...string) (string, error) {
	return h.notify(ctx, models.Notification{Level: models.NotificationConfirm, Message: message, Actions: options, Modal: true})
}

// notify pushes n and, when it offers actions, waits for the first valid
// reply. A prompt nobody can see, or that times out, is dismissed with "".
func (h *Hub) notify(ctx context.Context, n models.Notification) (string, error) {
	if len(n.Actions) == 0 {
		h.broadcast(models.SocketEvent{Type: models.SocketEventNotification, Data: n})
		return "", nil
	}

	id := uuid.NewString()
	p := &prompt{options: n.Actions, reply: make(chan string, 1)}

	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		h.logger.Info("prompt dismissed, no client connected", zap.String("message", n.Message))
		return "", nil
	}
	h.pending[id] = p
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	h.broadcast(models.SocketEvent{Type: models.SocketEventNotification, ID: id, Data: n})

	timer := time.NewTimer(h.promptTimeout)
	defer timer.Stop()
	select {
	case choice := <-p.reply:
		return choice, nil
	case <-timer.C:
		h.logger.Info("prompt timed out", zap.String("prompt_id", id))
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// reply resolves a pending prompt. Unknown ids and actions that were not offered are ignored.
func (h *Hub) reply(id, action string) bool {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok && slices.Contains(p.options, action) {
		delete(h.pending, id)
	} else {
		ok = false
	}
	h.mu.Unlock()
	if !ok {
		h.logger.Warn("ignored reply", zap.String("prompt_id", id), zap.String("action", action))
		return false
	}
	p.reply <- action
	return true
}

func (h *Hub) broadcast(ev models.SocketEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode socket event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; it resyncs from the latest snapshot on reconnect.
			delete(h.clients, c)
			c.close()
			h.logger.Warn("dropped slow websocket client")
		}
	}
}

// Serve runs one client connection until it closes or ctx is done. The
// client first receives the latest state snapshot, if there is one.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) error {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.latest != nil {
		if data, err := json.Marshal(models.SocketEvent{Type: models.SocketEventStateSync, Data: h.latest}); err == nil {
			c.send <- data
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("websocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
		h.logger.Info("websocket client disconnected")
	}()

	errChan := make(chan error, 2)

	// Client -> prompts
	go func() {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}
			h.handleClientMessage(c, msg)
		}
	}()

	// Hub -> client
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case data, ok := <-c.send:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					errChan <- nil
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					errChan <- err
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					errChan <- err
					return
				}
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	err := <-errChan
	conn.Close()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return err
	}
	return nil
}

func (h *Hub) handleClientMessage(c *client, msg []byte) {
	if !gjson.ValidBytes(msg) {
		h.sendError(c, "message is not valid JSON")
		return
	}
	ev := gjson.ParseBytes(msg)
	switch ev.Get("type").String() {
	case models.SocketEventReply:
		if !h.reply(ev.Get("id").String(), ev.Get("data.action").String()) {
			h.sendError(c, "no pending prompt accepts that reply")
		}
	default:
		h.sendError(c, "unsupported message type")
	}
}

func (h *Hub) sendError(c *client, message string) {
	data, err := json.Marshal(models.SocketEvent{Type: models.SocketEventError, Data: models.ErrorResponse{
		Error: message,
		Code:  models.ErrCodeInvalidRequest,
	}})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c]; !live {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
