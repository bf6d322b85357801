package contract

import (
	"time"

	"github.com/drblury/contractflow/internal/runtime/metadata"
)

// Requests every server answers.
const (
	SystemRegister    = SystemPrefix + "register"
	SystemHeartbeat   = SystemPrefix + "heartbeat"
	SystemPing        = SystemPrefix + "ping"
	SystemSubscribe   = SystemPrefix + "subscribe"
	SystemUnsubscribe = SystemPrefix + "unsubscribe"
	SystemDisconnect  = SystemPrefix + "disconnect"
)

// Events the server emits.
const (
	SystemClientConnected    = SystemPrefix + "clientConnected"
	SystemClientDisconnected = SystemPrefix + "clientDisconnected"
)

// SystemRequests lists the built-in request names.
func SystemRequests() []string {
	return []string{SystemRegister, SystemHeartbeat, SystemPing, SystemSubscribe, SystemUnsubscribe, SystemDisconnect}
}

// SystemEvents lists the built-in event names. SystemDisconnect doubles as
// the event a stopping server sends its clients.
func SystemEvents() []string {
	return []string{SystemClientConnected, SystemClientDisconnected, SystemDisconnect}
}

// RegisterRequest announces a client to the server.
type RegisterRequest struct {
	ClientID     string            `json:"clientId"`
	ClientType   string            `json:"clientType,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     metadata.Metadata `json:"metadata,omitempty"`
}

// RegisterResponse confirms a registration.
type RegisterResponse struct {
	ClientID            string `json:"clientId"`
	ServerID            string `json:"serverId"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

// PingResponse carries the server clock.
type PingResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

// SubscribeRequest asks for filtered delivery of events. Filter keys are
// top-level payload fields that must equal the given values. SubscriptionID
// is set when a reconnecting client restores a subscription.
type SubscribeRequest struct {
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	Events         []string       `json:"events"`
	Filter         map[string]any `json:"filter,omitempty"`
}

// SubscribeResponse returns the subscription id.
type SubscribeResponse struct {
	SubscriptionID string `json:"subscriptionId"`
}

// UnsubscribeRequest cancels a subscription.
type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// UnsubscribeResponse reports whether anything was removed.
type UnsubscribeResponse struct {
	Removed bool `json:"removed"`
}

// ClientEvent is the payload of the connected and disconnected events.
type ClientEvent struct {
	ClientID   string `json:"clientId"`
	ClientType string `json:"clientType,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// DisconnectEvent tells clients the server is going away.
type DisconnectEvent struct {
	Reason string `json:"reason"`
}
