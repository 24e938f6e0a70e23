// Package masking disguises peer traffic as HTTPS. Connections perform a
// synthetic TLS 1.2 handshake (Client Hello with SNI and ALPN, fake Server
// Hello, fake Finished) and then exchange payloads as HTTP/2 DATA frames
// inside TLS Application Data records. No real encryption happens here;
// transported payloads are expected to be encrypted already.
package masking

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mathrand "math/rand"
)

// TLS record content types used by the masked stream.
const (
	recordHandshake        = 0x16
	recordChangeCipherSpec = 0x14
	recordApplicationData  = 0x17
)

// TLS 1.2 wire version bytes.
var tlsVersion = [2]byte{0x03, 0x03}

// maxRecordPayload caps the plaintext carried by one Application Data
// record. Matches the TLS record limit so sizes look plausible on the wire.
const maxRecordPayload = 16384

// frameHeaderLen is the fixed HTTP/2 frame header size.
const frameHeaderLen = 9

// maxMessageSize caps one reassembled message, matching the protocol
// codec bound, so a hostile peer cannot force unbounded allocation by
// streaming DATA frames without END_STREAM.
const maxMessageSize = 1024 * 1024

// flagEndStream marks the last DATA frame of a message.
const flagEndStream = 0x01

// WrapRecord prefixes payload with a TLS record header of the given
// content type.
func WrapRecord(contentType byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("%w: record payload %d bytes", ErrConnection, len(payload))
	}
	record := make([]byte, 5+len(payload))
	record[0] = contentType
	record[1] = tlsVersion[0]
	record[2] = tlsVersion[1]
	binary.BigEndian.PutUint16(record[3:5], uint16(len(payload)))
	copy(record[5:], payload)
	return record, nil
}

// UnwrapRecord splits a complete TLS record into content type and payload.
func UnwrapRecord(data []byte) (byte, []byte, error) {
	if !ValidateTLSFrame(data) {
		return 0, nil, fmt.Errorf("%w: not a TLS record", ErrConnection)
	}
	length := int(binary.BigEndian.Uint16(data[3:5]))
	return data[0], data[5 : 5+length], nil
}

// ValidateTLSFrame reports whether data starts with a plausible TLS record:
// known content type, TLS 1.0-1.2 version bytes and a complete payload.
func ValidateTLSFrame(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	contentType := data[0]
	version := binary.BigEndian.Uint16(data[1:3])
	length := int(binary.BigEndian.Uint16(data[3:5]))
	return contentType >= 0x14 && contentType <= 0x18 &&
		(version == 0x0301 || version == 0x0302 || version == 0x0303) &&
		len(data) >= 5+length
}

// WrapDataFrame builds an HTTP/2 DATA frame around data with a random
// client-initiated stream id. The reserved bit stays zero.
func WrapDataFrame(data []byte, flags byte) []byte {
	frame := make([]byte, frameHeaderLen+len(data))
	frame[0] = byte(len(data) >> 16)
	frame[1] = byte(len(data) >> 8)
	frame[2] = byte(len(data))
	frame[3] = 0x00 // DATA
	frame[4] = flags
	streamID := uint32(mathrand.Int31n(0x7FFFFFFF)) + 1
	binary.BigEndian.PutUint32(frame[5:9], streamID&0x7FFFFFFF)
	copy(frame[frameHeaderLen:], data)
	return frame
}

// UnwrapDataFrame parses an HTTP/2 DATA frame, returning its payload and
// flags. Non-DATA frame types are rejected.
func UnwrapDataFrame(frame []byte) ([]byte, byte, error) {
	if len(frame) < frameHeaderLen {
		return nil, 0, fmt.Errorf("%w: frame header truncated", ErrConnection)
	}
	length := int(frame[0])<<16 | int(frame[1])<<8 | int(frame[2])
	if frame[3] != 0x00 {
		return nil, 0, fmt.Errorf("%w: frame type 0x%02x, want DATA", ErrConnection, frame[3])
	}
	if len(frame) < frameHeaderLen+length {
		return nil, 0, fmt.Errorf("%w: frame body truncated", ErrConnection)
	}
	return frame[frameHeaderLen : frameHeaderLen+length], frame[4], nil
}

// BuildClientHello assembles a synthetic TLS 1.2 Client Hello record with an
// SNI extension carrying maskDomain and an ALPN extension advertising h2 and
// http/1.1, so the first bytes on the wire read as an ordinary HTTPS probe.
func BuildClientHello(maskDomain string) ([]byte, error) {
	var body []byte
	body = append(body, tlsVersion[0], tlsVersion[1])

	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	body = append(body, random...)

	body = append(body, 0x00)             // empty session id
	body = append(body, 0x00, 0x02)       // cipher suites length
	body = append(body, 0x00, 0x35)       // TLS_RSA_WITH_AES_256_CBC_SHA
	body = append(body, 0x01, 0x00)       // null compression

	extensions := append(sniExtension(maskDomain), alpnExtension()...)
	body = binary.BigEndian.AppendUint16(body, uint16(len(extensions)))
	body = append(body, extensions...)

	// Handshake message: type ClientHello + 24-bit length.
	handshake := make([]byte, 4, 4+len(body))
	handshake[0] = 0x01
	handshake[1] = byte(len(body) >> 16)
	handshake[2] = byte(len(body) >> 8)
	handshake[3] = byte(len(body))
	handshake = append(handshake, body...)

	return WrapRecord(recordHandshake, handshake)
}

// sniExtension encodes a server_name extension naming domain.
func sniExtension(domain string) []byte {
	var list []byte
	list = binary.BigEndian.AppendUint16(list, uint16(3+len(domain)))
	list = append(list, 0x00) // host_name
	list = binary.BigEndian.AppendUint16(list, uint16(len(domain)))
	list = append(list, domain...)

	var ext []byte
	ext = append(ext, 0x00, 0x00) // server_name
	ext = binary.BigEndian.AppendUint16(ext, uint16(len(list)))
	return append(ext, list...)
}

// alpnExtension encodes an ALPN extension advertising h2 and http/1.1.
func alpnExtension() []byte {
	var protocols []byte
	for _, proto := range []string{"h2", "http/1.1"} {
		protocols = append(protocols, byte(len(proto)))
		protocols = append(protocols, proto...)
	}

	var data []byte
	data = binary.BigEndian.AppendUint16(data, uint16(len(protocols)))
	data = append(data, protocols...)

	var ext []byte
	ext = append(ext, 0x00, 0x10) // application_layer_protocol_negotiation
	ext = binary.BigEndian.AppendUint16(ext, uint16(len(data)))
	return append(ext, data...)
}

// BuildServerHello assembles a synthetic Server Hello record.
func BuildServerHello() ([]byte, error) {
	body := make([]byte, 4, 4+38)
	body[0] = 0x02 // ServerHello
	body[3] = 38

	var hello []byte
	hello = append(hello, tlsVersion[0], tlsVersion[1])
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	hello = append(hello, random...)
	hello = append(hello, 0x00)       // empty session id
	hello = append(hello, 0x00, 0x35) // chosen cipher suite
	hello = append(hello, 0x00)       // null compression
	body = append(body, hello...)

	return WrapRecord(recordHandshake, body)
}

// BuildFinished assembles the ChangeCipherSpec record followed by an opaque
// Finished-shaped handshake record.
func BuildFinished() ([]byte, error) {
	ccs, err := WrapRecord(recordChangeCipherSpec, []byte{0x01})
	if err != nil {
		return nil, err
	}
	verify := make([]byte, 16)
	if _, err := rand.Read(verify); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	finished, err := WrapRecord(recordHandshake, verify)
	if err != nil {
		return nil, err
	}
	return append(ccs, finished...), nil
}
