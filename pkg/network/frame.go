package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/shadowghost/core/pkg/masking"
	"github.com/shadowghost/core/pkg/protocol"
)

// transport is one framed message stream over a single connection.
// Plain connections use a length-prefixed JSON framing; masked
// connections carry the same documents inside fake TLS records.
type transport interface {
	Send(p []byte) error
	Receive() ([]byte, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// plainConn frames messages with a big-endian uint32 length prefix.
type plainConn struct {
	net.Conn
}

func (c plainConn) Send(p []byte) error {
	if len(p) > protocol.MaxMessageSize {
		return protocol.ErrMessageTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(p)))
	if _, err := c.Write(prefix[:]); err != nil {
		return err
	}
	_, err := c.Write(p)
	return err
}

func (c plainConn) Receive() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.Conn, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > protocol.MaxMessageSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", protocol.ErrMessageTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.Conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// wrapInbound turns an accepted connection into a transport, running the
// server side of the masking handshake when masking is on.
func (m *Manager) wrapInbound(conn net.Conn) (transport, error) {
	if !m.cfg.MaskingEnabled {
		return plainConn{conn}, nil
	}
	conn.SetDeadline(time.Now().Add(m.cfg.Timeouts.HandlerRead))
	mc, err := masking.AcceptAsServer(conn, m.cfg.MaskDomain)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return mc, nil
}

// wrapOutbound turns a dialed connection into a transport, running the
// client side of the masking handshake when masking is on.
func (m *Manager) wrapOutbound(conn net.Conn) (transport, error) {
	if !m.cfg.MaskingEnabled {
		return plainConn{conn}, nil
	}
	conn.SetDeadline(time.Now().Add(m.cfg.Timeouts.Connect))
	mc, err := masking.ClientHandshake(conn, m.cfg.MaskDomain)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return mc, nil
}
