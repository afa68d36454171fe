package transport

import (
	"net"
	"time"

	"github.com/pion/transport/v3/packetio"
)

type packetKind int

const (
	packetUnknown packetKind = iota
	packetDTLS
	packetRTP
	packetRTCP
)

// classify demultiplexes by the first byte (RFC 7983) and tells RTCP from
// RTP by the packet type octet (RFC 5761).
func classify(b []byte) packetKind {
	if len(b) == 0 {
		return packetUnknown
	}

	switch {
	case b[0] >= 20 && b[0] <= 63:
		return packetDTLS
	case b[0] >= 128 && b[0] <= 191:
		if len(b) < 2 {
			return packetUnknown
		}
		if b[1] >= 192 && b[1] <= 223 {
			return packetRTCP
		}
		return packetRTP
	default:
		return packetUnknown
	}
}

// endpoint is the DTLS view of the shared connection: reads come from the
// demultiplexer, writes go straight to the wire.
type endpoint struct {
	conn   net.Conn
	buffer *packetio.Buffer
}

func newEndpoint(conn net.Conn) *endpoint {
	return &endpoint{conn: conn, buffer: packetio.NewBuffer()}
}

func (e *endpoint) Read(p []byte) (int, error) {
	return e.buffer.Read(p)
}

func (e *endpoint) Write(p []byte) (int, error) {
	return e.conn.Write(p)
}

func (e *endpoint) Close() error {
	return e.buffer.Close()
}

func (e *endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

func (e *endpoint) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

func (e *endpoint) SetDeadline(t time.Time) error {
	return e.buffer.SetReadDeadline(t)
}

func (e *endpoint) SetReadDeadline(t time.Time) error {
	return e.buffer.SetReadDeadline(t)
}

func (e *endpoint) SetWriteDeadline(time.Time) error {
	return nil
}
