package protocol

import "time"

// Protocol constants
const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion uint8 = 1

	// MaxMessageSize bounds decodable input. Oversized input is rejected
	// before parsing so hostile peers cannot force unbounded allocation.
	MaxMessageSize = 1024 * 1024

	// HandshakeTimeoutSeconds is the window a peer has to complete a handshake.
	HandshakeTimeoutSeconds = 30

	// MessageTimeoutSeconds is the window after which an unconfirmed
	// message is considered expired.
	MessageTimeoutSeconds = 60
)

// MessageType identifies the kind of a protocol message.
type MessageType string

// Message types
const (
	MsgTypePing           MessageType = "Ping"
	MsgTypePong           MessageType = "Pong"
	MsgTypeChat           MessageType = "Chat"
	MsgTypeFile           MessageType = "File"
	MsgTypeHandshake      MessageType = "Handshake"
	MsgTypeAcknowledgment MessageType = "Acknowledgment"
	MsgTypeKeyExchange    MessageType = "KeyExchange"
	MsgTypeStatus         MessageType = "Status"
)

// HandshakePayload introduces a peer to another peer.
type HandshakePayload struct {
	PeerID          string `json:"peer_id"`
	PeerName        string `json:"peer_name"`
	Address         string `json:"address"`
	PublicKey       []byte `json:"public_key"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// TextPayload carries a chat message body.
type TextPayload struct {
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// PingPayload carries the sender's send time for latency measurement.
type PingPayload struct {
	Timestamp uint64 `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
}

// PongPayload echoes the ping timestamp and adds the responder's own.
type PongPayload struct {
	OriginalTimestamp uint64 `json:"original_timestamp"`
	ResponseTimestamp uint64 `json:"response_timestamp"`
	Sequence          uint64 `json:"sequence"`
}

// FilePayload carries one chunk of a file transfer.
type FilePayload struct {
	FileName    string `json:"file_name"`
	FileSize    uint64 `json:"file_size"`
	FileHash    string `json:"file_hash"`
	ChunkData   []byte `json:"chunk_data"`
	ChunkIndex  uint32 `json:"chunk_index"`
	TotalChunks uint32 `json:"total_chunks"`
}

// AckPayload confirms receipt of an earlier message by its id.
type AckPayload struct {
	OriginalMessageID string `json:"original_message_id"`
	Status            string `json:"status"`
}

// Payload is a tagged union with one variant per message kind. The variant
// matching the envelope's MessageType is populated; consumers must dispatch
// on the explicit type tag, never on which variant happens to be non-nil.
type Payload struct {
	Handshake *HandshakePayload `json:"handshake,omitempty"`
	Text      *TextPayload      `json:"text,omitempty"`
	Ping      *PingPayload      `json:"ping,omitempty"`
	Pong      *PongPayload      `json:"pong,omitempty"`
	File      *FilePayload      `json:"file,omitempty"`
	Ack       *AckPayload       `json:"ack,omitempty"`
}

// IsProtocolCompatible reports whether a peer's protocol version can
// interoperate with this node.
func IsProtocolCompatible(version uint8) bool {
	return version == ProtocolVersion
}

// ValidateMessageSize reports whether raw wire data fits the decode bound.
func ValidateMessageSize(data []byte) bool {
	return len(data) <= MaxMessageSize
}

// NowUnix returns the current time in Unix seconds.
func NowUnix() uint64 {
	return uint64(time.Now().Unix())
}
