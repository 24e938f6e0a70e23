// Package network owns the listening socket, dispatches inbound protocol
// messages and delivers outbound chat messages with multi-port fallback
// and per-message delivery tracking.
package network

import (
	"errors"
	"strings"
	"time"
)

// Network errors
var (
	ErrConnectionFailed = errors.New("network: connection failed")
	ErrTimeout          = errors.New("network: operation timed out")
	ErrNotRunning       = errors.New("network: server not running")
	ErrAlreadyRunning   = errors.New("network: server already running")
)

// ContactStatus is a contact's presence state.
type ContactStatus string

const (
	StatusOnline  ContactStatus = "online"
	StatusOffline ContactStatus = "offline"
	StatusAway    ContactStatus = "away"
	StatusBusy    ContactStatus = "busy"
)

// TrustLevel expresses how much the user trusts a contact.
type TrustLevel string

const (
	TrustUnknown TrustLevel = "unknown"
	TrustPending TrustLevel = "pending"
	TrustLow     TrustLevel = "low"
	TrustMedium  TrustLevel = "medium"
	TrustHigh    TrustLevel = "high"
	TrustTrusted TrustLevel = "trusted"
	TrustBlocked TrustLevel = "blocked"
)

// Contact is a known peer with a reachable address.
type Contact struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Address    string        `json:"address"` // host:port
	Status     ContactStatus `json:"status"`
	TrustLevel TrustLevel    `json:"trust_level"`
	LastSeen   time.Time     `json:"last_seen"`
}

// ChatMessageType classifies a chat log entry.
type ChatMessageType string

const (
	ChatText  ChatMessageType = "text"
	ChatFile  ChatMessageType = "file"
	ChatImage ChatMessageType = "image"
	ChatVoice ChatMessageType = "voice"
)

// DeliveryStatus tracks a chat message through delivery.
// Pending -> Sent -> Delivered | Failed, with Read after Delivered.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ChatMessage is an application-level chat log entry, distinct from the
// wire envelope. Only the delivery manager mutates its status.
type ChatMessage struct {
	ID             string          `json:"id"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Content        string          `json:"content"`
	MsgType        ChatMessageType `json:"msg_type"`
	Timestamp      uint64          `json:"timestamp"`
	DeliveryStatus DeliveryStatus  `json:"delivery_status"`
}

// Stats aggregates transport counters.
type Stats struct {
	ConnectedPeers        uint32 `json:"connected_peers"`
	TotalMessagesSent     uint64 `json:"total_messages_sent"`
	TotalMessagesReceived uint64 `json:"total_messages_received"`
	BytesSent             uint64 `json:"bytes_sent"`
	BytesReceived         uint64 `json:"bytes_received"`
	TotalConnections      uint32 `json:"total_connections"`
	UptimeSeconds         uint64 `json:"uptime_seconds"`
}

// Peer is this node's own identity.
type Peer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// ChatKey returns the canonical conversation key for two participant
// names. Both sides compute the same key regardless of who initiates.
func ChatKey(a, b string) string {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la > lb {
		la, lb = lb, la
	}
	return la + "_" + lb
}

// Identity is the crypto collaborator. The manager signs outbound chat
// messages when one is attached and never inspects key material itself.
type Identity interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, signature, publicKey []byte) bool
	PublicKey() []byte
}

// ContactResolver supplies display names and addresses for peer ids.
// Implemented by the contact book collaborator.
type ContactResolver interface {
	ResolveName(peerID string) (string, bool)
	ResolveAddress(contactName string) (string, bool)
}

// ChatStore persists chat log entries and their delivery transitions.
// Implemented by the storage collaborator.
type ChatStore interface {
	Persist(chatKey string, msg ChatMessage) error
	UpdateStatus(messageID string, status DeliveryStatus) error
}

// DefaultFallbackPorts are tried against the contact's host when its
// configured port cannot be reached. Commonly open on filtered networks.
var DefaultFallbackPorts = []uint16{443, 80, 8080, 8443, 8000, 9000, 3000}

// Timeouts bounds every blocking step of a delivery attempt. Zero values
// take the defaults; tests shrink them.
type Timeouts struct {
	Connect      time.Duration // per-port dial
	Write        time.Duration // request write
	AckRead      time.Duration // synchronous acknowledgment wait
	AckWindow    time.Duration // async acknowledgment window before Failed
	HandlerRead  time.Duration // inbound connection read
	ShutdownWait time.Duration // accept loop drain on shutdown
}

// DefaultTimeouts returns the production delivery bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:      10 * time.Second,
		Write:        5 * time.Second,
		AckRead:      10 * time.Second,
		AckWindow:    30 * time.Second,
		HandlerRead:  15 * time.Second,
		ShutdownWait: 5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTimeouts.
func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Connect == 0 {
		t.Connect = def.Connect
	}
	if t.Write == 0 {
		t.Write = def.Write
	}
	if t.AckRead == 0 {
		t.AckRead = def.AckRead
	}
	if t.AckWindow == 0 {
		t.AckWindow = def.AckWindow
	}
	if t.HandlerRead == 0 {
		t.HandlerRead = def.HandlerRead
	}
	if t.ShutdownWait == 0 {
		t.ShutdownWait = def.ShutdownWait
	}
	return t
}
