package mediabridge

import (
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pion/mediabridge/pkg/codec"
	"github.com/pion/mediabridge/pkg/transport"
)

const (
	defaultQueueLatency       = 300 * time.Millisecond
	defaultRTCPReportInterval = time.Second
	defaultMidExtensionID     = 1
	minQueueCapacity          = 8
)

// SessionOptions stores parameters used by Session.
type SessionOptions struct {
	codecs             *CodecSelector
	agentFactory       transport.AgentFactory
	handshaker         transport.Handshaker
	iceServers         []string
	certificate        *transport.Certificate
	loggerFactory      logging.LoggerFactory
	tieBreaker         TieBreaker
	mtu                uint16
	queueLatency       time.Duration
	registerer         prometheus.Registerer
	rtcpReportInterval time.Duration
}

// SessionOption is a type of Session functional option.
type SessionOption func(*SessionOptions)

// WithCodecs replaces the default codec list. Codecs are offered in the
// given order, which is also the local preference order.
func WithCodecs(codecs ...*codec.RTPCodec) SessionOption {
	return func(o *SessionOptions) {
		o.codecs = NewCodecSelector(codecs...)
	}
}

// WithAgentFactory specifies the ICE agent implementation.
func WithAgentFactory(f transport.AgentFactory) SessionOption {
	return func(o *SessionOptions) {
		o.agentFactory = f
	}
}

// WithHandshaker specifies the DTLS and SRTP implementation.
func WithHandshaker(h transport.Handshaker) SessionOption {
	return func(o *SessionOptions) {
		o.handshaker = h
	}
}

// WithICEServers specifies STUN and TURN server URLs, e.g.
// "stun:stun.l.google.com:19302".
func WithICEServers(urls ...string) SessionOption {
	return func(o *SessionOptions) {
		o.iceServers = urls
	}
}

// WithCertificate specifies the DTLS certificate. A self signed certificate
// is generated otherwise.
func WithCertificate(c *transport.Certificate) SessionOption {
	return func(o *SessionOptions) {
		o.certificate = c
	}
}

// WithLoggerFactory specifies the logger factory of the session and its
// transport.
func WithLoggerFactory(f logging.LoggerFactory) SessionOption {
	return func(o *SessionOptions) {
		o.loggerFactory = f
	}
}

// WithTieBreaker specifies how glare between two offers is resolved.
func WithTieBreaker(t TieBreaker) SessionOption {
	return func(o *SessionOptions) {
		o.tieBreaker = t
	}
}

// WithMTU specifies the largest outbound RTP packet.
func WithMTU(mtu uint16) SessionOption {
	return func(o *SessionOptions) {
		o.mtu = mtu
	}
}

// WithQueueLatency specifies how much media an endpoint queue holds by
// default before dropping the oldest units.
func WithQueueLatency(d time.Duration) SessionOption {
	return func(o *SessionOptions) {
		o.queueLatency = d
	}
}

// WithMetricsRegisterer registers the session collector with r.
func WithMetricsRegisterer(r prometheus.Registerer) SessionOption {
	return func(o *SessionOptions) {
		o.registerer = r
	}
}

// WithRTCPReportInterval specifies the sender and receiver report interval.
func WithRTCPReportInterval(d time.Duration) SessionOption {
	return func(o *SessionOptions) {
		o.rtcpReportInterval = d
	}
}

// EndpointOptions stores parameters of one pipeline endpoint.
type EndpointOptions struct {
	queueCapacity int
	rawRTP        bool
	codecNames    []string
	streamID      string
}

// EndpointOption is a type of endpoint functional option.
type EndpointOption func(*EndpointOptions)

// WithQueueCapacity overrides the queue capacity derived from the session
// queue latency.
func WithQueueCapacity(n int) EndpointOption {
	return func(o *EndpointOptions) {
		o.queueCapacity = n
	}
}

// WithRawRTP makes the endpoint exchange UnitRTP packets instead of frames.
func WithRawRTP() EndpointOption {
	return func(o *EndpointOptions) {
		o.rawRTP = true
	}
}

// WithCodecPreferences restricts and orders the codecs of the endpoint by
// encoding name, e.g. "H264", "VP8".
func WithCodecPreferences(names ...string) EndpointOption {
	return func(o *EndpointOptions) {
		o.codecNames = names
	}
}

// WithStreamID specifies the msid stream id announced for the endpoint.
func WithStreamID(id string) EndpointOption {
	return func(o *EndpointOptions) {
		o.streamID = id
	}
}
