package mediabridge

import (
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/pion/mediabridge/pkg/codec"
	mio "github.com/pion/mediabridge/pkg/io"
	"github.com/pion/mediabridge/pkg/transport"
)

const defaultPacketBuffer = 1500

// newInterceptor builds the RTCP report chain shared by all streams of a
// session.
func newInterceptor(interval time.Duration) (interceptor.Interceptor, error) {
	receiver, err := report.NewReceiverInterceptor(report.ReceiverInterval(interval))
	if err != nil {
		return nil, err
	}
	sender, err := report.NewSenderInterceptor(report.SenderInterval(interval))
	if err != nil {
		return nil, err
	}

	var r interceptor.Registry
	r.Add(receiver)
	r.Add(sender)
	return r.Build("")
}

func streamInfo(ssrc uint32, c *codec.RTPCodec) *interceptor.StreamInfo {
	info := &interceptor.StreamInfo{
		SSRC:        ssrc,
		PayloadType: uint8(c.PayloadType),
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
		Attributes:  interceptor.Attributes{},
	}
	for _, fb := range c.RTCPFeedback {
		info.RTCPFeedback = append(info.RTCPFeedback, interceptor.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return info
}

// bindRTCP connects the interceptor chain to the transport. Reports written
// before the transport is established are dropped.
func (s *Session) bindRTCP() {
	s.rtcpWriter = s.interceptor.BindRTCPWriter(interceptor.RTCPWriterFunc(
		func(pkts []rtcp.Packet, _ interceptor.Attributes) (int, error) {
			raw, err := rtcp.Marshal(pkts)
			if err != nil {
				return 0, err
			}
			if err := s.transport.WriteRTCP(raw); err != nil {
				if errors.Is(err, transport.ErrNotEstablished) {
					return 0, nil
				}
				return 0, err
			}
			return len(raw), nil
		},
	))

	s.rtcpIn = &pendingReader{buf: make([]byte, defaultPacketBuffer)}
	s.rtcpReader = s.interceptor.BindRTCPReader(interceptor.RTCPReaderFunc(s.rtcpIn.read))
}

// pendingReader feeds one packet at a time through an interceptor reader
// chain. It is used only from the transport read loop.
type pendingReader struct {
	pending []byte
	buf     []byte
}

func (p *pendingReader) read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, err := mio.Copy(b, p.pending)
	return n, a, err
}

// feed passes packet through r, growing the read buffer when needed.
func (p *pendingReader) feed(packet []byte, read func([]byte, interceptor.Attributes) (int, interceptor.Attributes, error)) ([]byte, interceptor.Attributes, error) {
	p.pending = packet
	defer func() { p.pending = nil }()

	for {
		n, attrs, err := read(p.buf, interceptor.Attributes{})
		var e *mio.InsufficientBufferError
		if errors.As(err, &e) {
			p.buf = mio.Grow(p.buf, e.RequiredSize)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return p.buf[:n], attrs, nil
	}
}

// handleRTCP runs on the transport read loop.
func (s *Session) handleRTCP(raw []byte) {
	b, attrs, err := s.rtcpIn.feed(raw, s.rtcpReader.Read)
	if err != nil {
		s.log.Tracef("rtcp dropped: %v", err)
		return
	}
	if attrs == nil {
		attrs = interceptor.Attributes{}
	}
	pkts, err := attrs.GetRTCPPackets(b)
	if err != nil {
		s.log.Tracef("malformed rtcp: %v", err)
		return
	}

	r := s.routes.Load()
	for _, pkt := range pkts {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			for _, ssrc := range pkt.DestinationSSRC() {
				if binding := r.byLocalSSRC[ssrc]; binding != nil {
					binding.keyFrameRequested()
				}
			}
		}
	}
}

// remoteStream feeds received packets of one remote SSRC through the
// interceptor chain so receiver reports account for them.
type remoteStream struct {
	info   *interceptor.StreamInfo
	reader interceptor.RTPReader
	in     *pendingReader
}

func (s *Session) bindRemoteStream(ssrc uint32, c *codec.RTPCodec) *remoteStream {
	rs := &remoteStream{
		info: streamInfo(ssrc, c),
		in:   &pendingReader{buf: make([]byte, defaultPacketBuffer)},
	}
	rs.reader = s.interceptor.BindRemoteStream(rs.info, interceptor.RTPReaderFunc(rs.in.read))
	return rs
}

func (rs *remoteStream) observe(packet []byte) {
	_, _, _ = rs.in.feed(packet, rs.reader.Read)
}

// localStream wraps the transport writer of one sending SSRC.
type localStream struct {
	info   *interceptor.StreamInfo
	writer interceptor.RTPWriter
}

func (s *Session) bindLocalStream(ssrc uint32, c *codec.RTPCodec) *localStream {
	ls := &localStream{info: streamInfo(ssrc, c)}
	ls.writer = s.interceptor.BindLocalStream(ls.info, interceptor.RTPWriterFunc(
		func(header *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
			pkt := rtp.Packet{Header: *header, Payload: payload}
			raw, err := pkt.Marshal()
			if err != nil {
				return 0, err
			}
			if err := s.transport.WriteRTP(raw); err != nil {
				return 0, err
			}
			return len(raw), nil
		},
	))
	return ls
}

func (s *Session) writeRTCP(pkts ...rtcp.Packet) error {
	_, err := s.rtcpWriter.Write(pkts, interceptor.Attributes{})
	return err
}
