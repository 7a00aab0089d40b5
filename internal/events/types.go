// Package events defines event types and payloads for the osus-proxy event system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Interception events
	EventChatMessage      EventType = "chat_message"
	EventPrivilegeSpoofed EventType = "privilege_spoofed"
	EventDirectSuppressed EventType = "direct_suppressed"
	EventCountrySpoofed   EventType = "country_spoofed"
	EventUserIdentified   EventType = "user_identified"

	// Exchange events
	EventExchangeCompleted EventType = "exchange_completed"
	EventExchangeFailed    EventType = "exchange_failed"

	// System events
	EventPreferencesChanged EventType = "preferences_changed"
	EventUpdateAvailable    EventType = "update_available"
	EventBackendHealth      EventType = "backend_health"
	EventShutdown           EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ChatMessagePayload is emitted for every chat packet seen in either direction.
type ChatMessagePayload struct {
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender"`
	SenderID  int32     `json:"sender_id"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	Rewritten bool      `json:"rewritten"`
	Time      time.Time `json:"time"`
}

// SpoofPayload is emitted when a packet was altered or dropped by a rule.
type SpoofPayload struct {
	Direction string `json:"direction"`
	PacketID  uint16 `json:"packet_id"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// UserIdentifiedPayload carries the id learned from the server.
type UserIdentifiedPayload struct {
	UserID int32 `json:"user_id"`
}

// ExchangePayload describes one proxied HTTP exchange.
type ExchangePayload struct {
	RequestID   string        `json:"request_id"`
	Method      string        `json:"method"`
	Host        string        `json:"host"`
	Path        string        `json:"path"`
	Backend     string        `json:"backend"`
	Status      int           `json:"status"`
	Bancho      bool          `json:"bancho"`
	PacketsIn   int           `json:"packets_in"`
	PacketsOut  int           `json:"packets_out"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// PreferencesChangedPayload is emitted after an editor applies a change.
type PreferencesChangedPayload struct {
	Source      string      `json:"source"`
	Preferences interface{} `json:"preferences"`
}

// UpdateAvailablePayload is emitted when the executable hash differs from
// the one advertised by the update server.
type UpdateAvailablePayload struct {
	LocalHash  string `json:"local_hash"`
	RemoteHash string `json:"remote_hash"`
}

// BackendHealthPayload is emitted when backend reachability changes.
type BackendHealthPayload struct {
	Host      string `json:"host"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}
