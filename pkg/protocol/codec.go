package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors
var (
	ErrDecode          = errors.New("protocol: malformed message")
	ErrMessageTooLarge = errors.New("protocol: message exceeds size limit")
)

// Encode serializes the envelope to its JSON wire form.
func (m *ProtocolMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if !ValidateMessageSize(data) {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// Decode parses a JSON wire envelope. Oversized input is rejected before
// parsing.
func Decode(data []byte) (*ProtocolMessage, error) {
	if !ValidateMessageSize(data) {
		return nil, ErrMessageTooLarge
	}
	var msg ProtocolMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &msg, nil
}

// CreateErrorResponse builds a status message reporting a failure to
// process an earlier message.
func CreateErrorResponse(sender, recipient, originalMessageID string, cause error) *ProtocolMessage {
	msg := newEnvelope(MsgTypeStatus, sender, recipient)
	msg.Payload.Ack = &AckPayload{
		OriginalMessageID: originalMessageID,
		Status:            "error: " + cause.Error(),
	}
	return msg
}
