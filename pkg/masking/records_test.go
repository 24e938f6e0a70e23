package masking

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestWrapUnwrapRecordRoundTrip(t *testing.T) {
	payload := []byte("application bytes")
	record, err := WrapRecord(recordApplicationData, payload)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	if record[0] != 0x17 || record[1] != 0x03 || record[2] != 0x03 {
		t.Errorf("record header = % x", record[:3])
	}

	contentType, got, err := UnwrapRecord(record)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if contentType != recordApplicationData {
		t.Errorf("content type = 0x%02x, want 0x17", contentType)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestWrapRecordRejectsOversizedPayload(t *testing.T) {
	_, err := WrapRecord(recordApplicationData, make([]byte, 0x10000))
	if !errors.Is(err, ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}

func TestValidateTLSFrame(t *testing.T) {
	valid, err := WrapRecord(recordHandshake, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"valid handshake record", valid, true},
		{"too short", valid[:4], false},
		{"truncated body", valid[:len(valid)-1], false},
		{"bad content type", append([]byte{0x00}, valid[1:]...), false},
		{"bad version", append([]byte{0x16, 0x02, 0x00}, valid[3:]...), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateTLSFrame(tt.data); got != tt.want {
				t.Errorf("ValidateTLSFrame() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapUnwrapDataFrameRoundTrip(t *testing.T) {
	payload := []byte("p2p message")
	frame := WrapDataFrame(payload, flagEndStream)

	if frame[3] != 0x00 {
		t.Errorf("frame type = 0x%02x, want DATA", frame[3])
	}
	streamID := binary.BigEndian.Uint32(frame[5:9])
	if streamID == 0 || streamID > 0x7FFFFFFF {
		t.Errorf("stream id %d outside client-initiated range", streamID)
	}

	got, flags, err := UnwrapDataFrame(frame)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if flags != flagEndStream {
		t.Errorf("flags = 0x%02x, want END_STREAM", flags)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestUnwrapDataFrameRejectsBadFrames(t *testing.T) {
	frame := WrapDataFrame([]byte("hello"), flagEndStream)

	headers := frame[:frameHeaderLen]
	notData := append([]byte{}, frame...)
	notData[3] = 0x01 // HEADERS

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated header", headers[:5]},
		{"truncated body", frame[:len(frame)-2]},
		{"non-DATA type", notData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := UnwrapDataFrame(tt.data); !errors.Is(err, ErrConnection) {
				t.Errorf("err = %v, want ErrConnection", err)
			}
		})
	}
}

func TestBuildClientHelloShape(t *testing.T) {
	hello, err := BuildClientHello("www.example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if !ValidateTLSFrame(hello) {
		t.Fatal("client hello does not validate as a TLS record")
	}
	if hello[0] != 0x16 {
		t.Errorf("content type = 0x%02x, want handshake", hello[0])
	}
	if hello[5] != 0x01 {
		t.Errorf("handshake type = 0x%02x, want client hello", hello[5])
	}
	if !bytes.Contains(hello, []byte("www.example.com")) {
		t.Error("SNI domain missing from client hello")
	}
	if !bytes.Contains(hello, []byte("h2")) || !bytes.Contains(hello, []byte("http/1.1")) {
		t.Error("ALPN protocols missing from client hello")
	}
}

func TestBuildServerHelloShape(t *testing.T) {
	hello, err := BuildServerHello()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !ValidateTLSFrame(hello) {
		t.Fatal("server hello does not validate as a TLS record")
	}
	if hello[5] != 0x02 {
		t.Errorf("handshake type = 0x%02x, want server hello", hello[5])
	}
}

func TestBuildFinishedShape(t *testing.T) {
	finished, err := BuildFinished()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if finished[0] != recordChangeCipherSpec {
		t.Errorf("first record type = 0x%02x, want change cipher spec", finished[0])
	}
	if !ValidateTLSFrame(finished) {
		t.Error("change cipher spec record does not validate")
	}
	// Second record starts after the 1-byte CCS payload.
	rest := finished[6:]
	if rest[0] != recordHandshake {
		t.Errorf("second record type = 0x%02x, want handshake", rest[0])
	}
	if !ValidateTLSFrame(rest) {
		t.Error("finished record does not validate")
	}
}
