package models

// SocketEvent is the envelope for every message on the wizard websocket.
type SocketEvent struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// Socket event types
const (
	SocketEventStateSync    = "state_sync"
	SocketEventRerender     = "rerender"
	SocketEventNotification = "notification"
	SocketEventReply        = "reply"
	SocketEventError        = "error"
)

// Notification levels
const (
	NotificationInfo    = "info"
	NotificationWarning = "warning"
	NotificationError   = "error"
	NotificationConfirm = "confirm"
)

// Notification is pushed to the client; Actions non-empty means a reply is awaited.
type Notification struct {
	Level   string   `json:"level"`
	Message string   `json:"message"`
	Actions []string `json:"actions,omitempty"`
	Modal   bool     `json:"modal,omitempty"`
}

// NotificationReply carries the action the user picked.
type NotificationReply struct {
	Action string `json:"action"`
}
