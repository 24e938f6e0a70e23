package masking

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Masking errors. All failures out of this package wrap one of these.
var (
	ErrHandshakeFailed = errors.New("masking: handshake failed")
	ErrCertificate     = errors.New("masking: certificate error")
	ErrConnection      = errors.New("masking: connection error")
)

// MaskedConn wraps a TCP connection whose traffic is shaped like HTTPS.
// Failed handshakes are reported to the caller and never retried here.
type MaskedConn struct {
	conn       net.Conn
	maskDomain string
}

// ConnectAsClient dials target, performs the client side of the fake TLS
// handshake and returns the masked connection.
func ConnectAsClient(target, maskDomain string, timeout time.Duration) (*MaskedConn, error) {
	conn, err := net.DialTimeout("tcp", target, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, target, err)
	}
	mc, err := ClientHandshake(conn, maskDomain)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return mc, nil
}

// ClientHandshake runs the client side of the fake handshake over an
// already established connection: send Client Hello, validate the Server
// Hello structurally, send ChangeCipherSpec and Finished.
func ClientHandshake(conn net.Conn, maskDomain string) (*MaskedConn, error) {
	mc := &MaskedConn{conn: conn, maskDomain: maskDomain}

	hello, err := BuildClientHello(maskDomain)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(hello); err != nil {
		return nil, fmt.Errorf("%w: write client hello: %v", ErrHandshakeFailed, err)
	}

	contentType, payload, err := mc.readRecord()
	if err != nil {
		return nil, fmt.Errorf("%w: read server hello: %v", ErrHandshakeFailed, err)
	}
	if contentType != recordHandshake {
		return nil, fmt.Errorf("%w: server responded with record type 0x%02x", ErrHandshakeFailed, contentType)
	}
	if len(payload) < 4 || payload[0] != 0x02 {
		return nil, fmt.Errorf("%w: response is not a server hello", ErrCertificate)
	}

	finished, err := BuildFinished()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(finished); err != nil {
		return nil, fmt.Errorf("%w: write finished: %v", ErrHandshakeFailed, err)
	}
	return mc, nil
}

// AcceptAsServer runs the server side of the fake handshake: read and
// structurally validate the Client Hello, answer with a Server Hello,
// then consume the client's ChangeCipherSpec and Finished records.
func AcceptAsServer(conn net.Conn, maskDomain string) (*MaskedConn, error) {
	mc := &MaskedConn{conn: conn, maskDomain: maskDomain}

	contentType, payload, err := mc.readRecord()
	if err != nil {
		return nil, fmt.Errorf("%w: read client hello: %v", ErrHandshakeFailed, err)
	}
	if contentType != recordHandshake || len(payload) < 4 || payload[0] != 0x01 {
		return nil, fmt.Errorf("%w: first record is not a client hello", ErrHandshakeFailed)
	}

	hello, err := BuildServerHello()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(hello); err != nil {
		return nil, fmt.Errorf("%w: write server hello: %v", ErrHandshakeFailed, err)
	}

	// ChangeCipherSpec then Finished.
	for i := 0; i < 2; i++ {
		if _, _, err := mc.readRecord(); err != nil {
			return nil, fmt.Errorf("%w: read finished: %v", ErrHandshakeFailed, err)
		}
	}
	return mc, nil
}

// readRecord reads one complete TLS record from the stream.
func (c *MaskedConn) readRecord() (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return 0, nil, err
	}
	contentType := header[0]
	version := uint16(header[1])<<8 | uint16(header[2])
	length := int(header[3])<<8 | int(header[4])
	if contentType < 0x14 || contentType > 0x18 ||
		(version != 0x0301 && version != 0x0302 && version != 0x0303) {
		return 0, nil, fmt.Errorf("%w: implausible record header", ErrConnection)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return 0, nil, err
	}
	return contentType, payload, nil
}

// Send transmits p as one or more HTTP/2 DATA frames, each inside a TLS
// Application Data record. The final frame carries END_STREAM so the
// receiving side knows where the message ends.
func (c *MaskedConn) Send(p []byte) error {
	if len(p) > maxMessageSize {
		return fmt.Errorf("%w: message of %d bytes exceeds limit", ErrConnection, len(p))
	}
	for {
		chunk := p
		flags := byte(flagEndStream)
		if len(chunk) > maxRecordPayload-frameHeaderLen {
			chunk = p[:maxRecordPayload-frameHeaderLen]
			flags = 0
		}
		p = p[len(chunk):]

		record, err := WrapRecord(recordApplicationData, WrapDataFrame(chunk, flags))
		if err != nil {
			return err
		}
		if _, err := c.conn.Write(record); err != nil {
			return fmt.Errorf("%w: write: %v", ErrConnection, err)
		}
		if flags&flagEndStream != 0 {
			return nil
		}
	}
}

// Receive reads Application Data records until a frame with END_STREAM and
// returns the reassembled payload. Records of any other content type and
// non-DATA frames abort the read.
func (c *MaskedConn) Receive() ([]byte, error) {
	var msg []byte
	for {
		contentType, payload, err := c.readRecord()
		if err != nil {
			return nil, err
		}
		if contentType != recordApplicationData {
			return nil, fmt.Errorf("%w: record type 0x%02x, want application data", ErrConnection, contentType)
		}
		data, flags, err := UnwrapDataFrame(payload)
		if err != nil {
			return nil, err
		}
		if len(msg)+len(data) > maxMessageSize {
			return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrConnection, maxMessageSize)
		}
		msg = append(msg, data...)
		if flags&flagEndStream != 0 {
			return msg, nil
		}
	}
}

// SetDeadline sets read and write deadlines on the underlying connection.
func (c *MaskedConn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *MaskedConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline on the underlying connection.
func (c *MaskedConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// MaskDomain returns the domain this connection impersonates.
func (c *MaskedConn) MaskDomain() string { return c.maskDomain }

// RemoteAddr returns the peer's address.
func (c *MaskedConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *MaskedConn) Close() error { return c.conn.Close() }
