package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *ProtocolMessage
	}{
		{"handshake", NewHandshake("alice", "bob", "Alice", "10.0.0.5:8080", []byte{9, 8, 7})},
		{"chat", NewTextMessage("alice", "bob", "hello over the wire", "chat-1")},
		{"ping", NewPing("alice", "bob", 12)},
		{"acknowledgment", NewAcknowledgment("bob", "alice", "chat-1")},
		{"file chunk", NewFileChunk("alice", "bob", FilePayload{
			FileName:    "notes.txt",
			FileSize:    100,
			FileHash:    "abc123",
			ChunkData:   []byte("chunk"),
			ChunkIndex:  0,
			TotalChunks: 1,
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if got.MessageType != tt.msg.MessageType {
				t.Errorf("message type = %q, want %q", got.MessageType, tt.msg.MessageType)
			}
			if got.SenderID != tt.msg.SenderID || got.RecipientID != tt.msg.RecipientID {
				t.Errorf("routing = %q->%q, want %q->%q",
					got.SenderID, got.RecipientID, tt.msg.SenderID, tt.msg.RecipientID)
			}
			if got.MessageID != tt.msg.MessageID {
				t.Errorf("message id = %q, want %q", got.MessageID, tt.msg.MessageID)
			}
			if got.Timestamp != tt.msg.Timestamp {
				t.Errorf("timestamp = %d, want %d", got.Timestamp, tt.msg.Timestamp)
			}
		})
	}
}

func TestRoundTripPreservesChatPayload(t *testing.T) {
	msg := NewTextMessage("alice", "bob", "payload survives", "chat-9")
	msg.Payload.Text.ReplyTo = "chat-8"

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	tp := got.TextPayload()
	if tp == nil {
		t.Fatal("text payload missing after round trip")
	}
	if tp.Content != "payload survives" || tp.MessageID != "chat-9" || tp.ReplyTo != "chat-8" {
		t.Errorf("text payload = %+v", tp)
	}
}

func TestRoundTripPreservesFileChunkData(t *testing.T) {
	chunk := bytes.Repeat([]byte{0xab}, 512)
	msg := NewFileChunk("alice", "bob", FilePayload{
		FileName:    "photo.png",
		FileSize:    2048,
		FileHash:    "deadbeef",
		ChunkData:   chunk,
		ChunkIndex:  2,
		TotalChunks: 4,
	})

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	fp := got.FilePayload()
	if fp == nil {
		t.Fatal("file payload missing after round trip")
	}
	if !bytes.Equal(fp.ChunkData, chunk) {
		t.Error("chunk data corrupted by round trip")
	}
	if fp.ChunkIndex != 2 || fp.TotalChunks != 4 {
		t.Errorf("chunk bookkeeping = %d/%d, want 2/4", fp.ChunkIndex, fp.TotalChunks)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"not json", []byte("definitely not json")},
		{"truncated", []byte(`{"message_type":"Chat","sender`)},
		{"wrong type", []byte(`{"message_type":42}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("err = %v, want ErrDecode", err)
			}
		})
	}
}

func TestDecodeRejectsOversizedInput(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, MaxMessageSize+1)
	_, err := Decode(data)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	msg := NewTextMessage("alice", "bob", string(bytes.Repeat([]byte{'x'}, MaxMessageSize)), "chat-1")
	_, err := msg.Encode()
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestValidateMessageSize(t *testing.T) {
	if !ValidateMessageSize(make([]byte, MaxMessageSize)) {
		t.Error("exactly MaxMessageSize should pass")
	}
	if ValidateMessageSize(make([]byte, MaxMessageSize+1)) {
		t.Error("one byte over MaxMessageSize should fail")
	}
}

func TestCreateErrorResponse(t *testing.T) {
	resp := CreateErrorResponse("bob", "alice", "msg-7", errors.New("unsupported payload"))
	if resp.MessageType != MsgTypeStatus {
		t.Errorf("message type = %q, want %q", resp.MessageType, MsgTypeStatus)
	}
	ap := resp.Payload.Ack
	if ap == nil {
		t.Fatal("status payload missing")
	}
	if ap.OriginalMessageID != "msg-7" {
		t.Errorf("original message id = %q, want %q", ap.OriginalMessageID, "msg-7")
	}
	if ap.Status != "error: unsupported payload" {
		t.Errorf("status = %q", ap.Status)
	}
}
