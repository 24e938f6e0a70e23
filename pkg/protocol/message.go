package protocol

import (
	"github.com/google/uuid"
)

// ProtocolMessage is the JSON wire envelope exchanged between peers.
// Every message carries a type tag, routing header fields and a payload
// variant matching the type. Signature is optional and covers the
// envelope as encoded with the signature field empty.
type ProtocolMessage struct {
	MessageType    MessageType `json:"message_type"`
	SenderID       string      `json:"sender_id"`
	RecipientID    string      `json:"recipient_id"`
	MessageID      string      `json:"message_id"`
	Timestamp      uint64      `json:"timestamp"`
	SequenceNumber uint64      `json:"sequence_number"`
	Version        uint8       `json:"version"`
	Payload        Payload     `json:"payload"`
	Signature      []byte      `json:"signature,omitempty"`
}

// newEnvelope fills the fields common to all constructors.
func newEnvelope(msgType MessageType, sender, recipient string) *ProtocolMessage {
	return &ProtocolMessage{
		MessageType: msgType,
		SenderID:    sender,
		RecipientID: recipient,
		MessageID:   uuid.NewString(),
		Timestamp:   NowUnix(),
		Version:     ProtocolVersion,
	}
}

// NewHandshake builds the introduction message a peer sends when it first
// connects to another peer.
func NewHandshake(sender, recipient, peerName, address string, publicKey []byte) *ProtocolMessage {
	msg := newEnvelope(MsgTypeHandshake, sender, recipient)
	msg.Payload.Handshake = &HandshakePayload{
		PeerID:          sender,
		PeerName:        peerName,
		Address:         address,
		PublicKey:       publicKey,
		ProtocolVersion: ProtocolVersion,
	}
	return msg
}

// NewTextMessage builds a chat message. messageID links the wire envelope
// to the caller's chat entry so acknowledgments can be correlated.
func NewTextMessage(sender, recipient, content, messageID string) *ProtocolMessage {
	msg := newEnvelope(MsgTypeChat, sender, recipient)
	msg.Payload.Text = &TextPayload{
		Content:   content,
		MessageID: messageID,
	}
	return msg
}

// NewPing builds a keep-alive probe carrying the send time.
func NewPing(sender, recipient string, sequence uint64) *ProtocolMessage {
	msg := newEnvelope(MsgTypePing, sender, recipient)
	msg.SequenceNumber = sequence
	msg.Payload.Ping = &PingPayload{
		Timestamp: msg.Timestamp,
		Sequence:  sequence,
	}
	return msg
}

// NewPong builds the response to a ping. The ping's timestamp is copied
// into original_timestamp so the probing side can compute round-trip time.
func NewPong(sender, recipient string, ping *PingPayload) *ProtocolMessage {
	msg := newEnvelope(MsgTypePong, sender, recipient)
	msg.SequenceNumber = ping.Sequence
	msg.Payload.Pong = &PongPayload{
		OriginalTimestamp: ping.Timestamp,
		ResponseTimestamp: msg.Timestamp,
		Sequence:          ping.Sequence,
	}
	return msg
}

// NewAcknowledgment builds a delivery confirmation for an earlier message.
func NewAcknowledgment(sender, recipient, originalMessageID string) *ProtocolMessage {
	msg := newEnvelope(MsgTypeAcknowledgment, sender, recipient)
	msg.Payload.Ack = &AckPayload{
		OriginalMessageID: originalMessageID,
		Status:            "delivered",
	}
	return msg
}

// NewFileChunk builds one chunk of a file transfer.
func NewFileChunk(sender, recipient string, payload FilePayload) *ProtocolMessage {
	msg := newEnvelope(MsgTypeFile, sender, recipient)
	msg.SequenceNumber = uint64(payload.ChunkIndex)
	msg.Payload.File = &payload
	return msg
}

// IsValid reports whether the envelope carries the fields every message
// must have. Invalid inbound messages are dropped before dispatch.
func (m *ProtocolMessage) IsValid() bool {
	return m.SenderID != "" &&
		m.RecipientID != "" &&
		m.MessageID != "" &&
		m.Timestamp > 0
}

// IsCompatible reports whether the sender speaks a protocol version this
// node can interoperate with.
func (m *ProtocolMessage) IsCompatible() bool {
	return IsProtocolCompatible(m.Version)
}

// HandshakePayload returns the handshake variant, or nil when the message
// is not a handshake.
func (m *ProtocolMessage) HandshakePayload() *HandshakePayload {
	if m.MessageType != MsgTypeHandshake {
		return nil
	}
	return m.Payload.Handshake
}

// TextPayload returns the chat variant, or nil when the message is not a chat.
func (m *ProtocolMessage) TextPayload() *TextPayload {
	if m.MessageType != MsgTypeChat {
		return nil
	}
	return m.Payload.Text
}

// PingPayload returns the ping variant, or nil when the message is not a ping.
func (m *ProtocolMessage) PingPayload() *PingPayload {
	if m.MessageType != MsgTypePing {
		return nil
	}
	return m.Payload.Ping
}

// PongPayload returns the pong variant, or nil when the message is not a pong.
func (m *ProtocolMessage) PongPayload() *PongPayload {
	if m.MessageType != MsgTypePong {
		return nil
	}
	return m.Payload.Pong
}

// AckPayload returns the acknowledgment variant, or nil when the message
// is not an acknowledgment.
func (m *ProtocolMessage) AckPayload() *AckPayload {
	if m.MessageType != MsgTypeAcknowledgment {
		return nil
	}
	return m.Payload.Ack
}

// FilePayload returns the file-chunk variant, or nil when the message is
// not a file chunk.
func (m *ProtocolMessage) FilePayload() *FilePayload {
	if m.MessageType != MsgTypeFile {
		return nil
	}
	return m.Payload.File
}

// Signer produces a signature over a byte sequence. Implemented by the
// identity collaborator.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Verifier checks a signature against a public key. Implemented by the
// identity collaborator.
type Verifier interface {
	Verify(data, signature, publicKey []byte) bool
}

// Sign encodes the envelope with an empty signature field and stores the
// signer's signature over those bytes.
func (m *ProtocolMessage) Sign(signer Signer) error {
	m.Signature = nil
	data, err := m.Encode()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// VerifySignature checks the envelope's signature against the sender's
// public key. Unsigned messages verify as false.
func (m *ProtocolMessage) VerifySignature(verifier Verifier, publicKey []byte) bool {
	if len(m.Signature) == 0 {
		return false
	}
	sig := m.Signature
	m.Signature = nil
	data, err := m.Encode()
	m.Signature = sig
	if err != nil {
		return false
	}
	return verifier.Verify(data, sig, publicKey)
}
