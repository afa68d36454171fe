package mediabridge

import (
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// BindingStats is a snapshot of the counters of one media line.
type BindingStats struct {
	Mid       string
	Kind      webrtc.RTPCodecType
	Direction webrtc.RTPTransceiverDirection

	PacketsSent     uint64
	BytesSent       uint64
	PacketsReceived uint64
	BytesReceived   uint64
	SendErrors      uint64

	// SendBitrate and ReceiveBitrate are in bits per second over the last
	// two seconds.
	SendBitrate    float64
	ReceiveBitrate float64

	// InboundDropped and OutboundDropped count units evicted from full
	// endpoint queues.
	InboundDropped        uint64
	OutboundDropped       uint64
	OrphanUnits           uint64
	PayloadTypeMismatches uint64
	ReassemblyDrops       uint64
	NotReceivingDrops     uint64
	KeyFrameRequests      uint64
}

// Stats returns the counters of the line.
func (b *TrackBinding) Stats() BindingStats {
	b.session.mu.Lock()
	defer b.session.mu.Unlock()
	return b.statsLocked()
}

func (b *TrackBinding) statsLocked() BindingStats {
	st := BindingStats{
		Mid:                   b.mid,
		Kind:                  b.kind,
		Direction:             b.params.Load().direction,
		PacketsSent:           b.counters.packetsSent.Load(),
		BytesSent:             b.counters.bytesSent.Load(),
		PacketsReceived:       b.counters.packetsReceived.Load(),
		BytesReceived:         b.counters.bytesReceived.Load(),
		SendErrors:            b.counters.sendErrors.Load(),
		OrphanUnits:           b.counters.orphanUnits.Load(),
		PayloadTypeMismatches: b.counters.ptMismatches.Load(),
		ReassemblyDrops:       b.counters.reassemblyDrops.Load(),
		NotReceivingDrops:     b.counters.notReceivingDrop.Load(),
		KeyFrameRequests:      b.counters.keyFrameRequests.Load(),
		SendBitrate:           b.counters.sendRate.GetBitrate(),
		ReceiveBitrate:        b.counters.receiveRate.GetBitrate(),
	}
	if pad := b.pad.Load(); pad != nil {
		st.InboundDropped = pad.in.Dropped()
		st.OutboundDropped = pad.out.Dropped()
	}
	st.InboundDropped += b.orphans.Dropped()
	return st
}

var bindingLabels = []string{"mid", "kind"}

// collector exports the counters of one Session.
type collector struct {
	session *Session

	packetsSent     *prometheus.Desc
	bytesSent       *prometheus.Desc
	packetsReceived *prometheus.Desc
	bytesReceived   *prometheus.Desc
	sendErrors      *prometheus.Desc
	droppedUnits    *prometheus.Desc
	ptMismatches    *prometheus.Desc
	reassemblyDrops *prometheus.Desc
	keyFrames       *prometheus.Desc
	bitrate         *prometheus.Desc
	signalingState  *prometheus.Desc
	connState       *prometheus.Desc
	unroutable      *prometheus.Desc
}

func newCollector(s *Session) *collector {
	constLabels := prometheus.Labels{"session": s.id}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("mediabridge", "", name), help, labels, constLabels)
	}

	return &collector{
		session:         s,
		packetsSent:     desc("packets_sent_total", "RTP packets sent on a media line.", bindingLabels...),
		bytesSent:       desc("bytes_sent_total", "RTP bytes sent on a media line.", bindingLabels...),
		packetsReceived: desc("packets_received_total", "RTP packets received on a media line.", bindingLabels...),
		bytesReceived:   desc("bytes_received_total", "RTP bytes received on a media line.", bindingLabels...),
		sendErrors:      desc("send_errors_total", "RTP packets that could not be written.", bindingLabels...),
		droppedUnits:    desc("dropped_units_total", "Units evicted from full endpoint queues.", "mid", "kind", "queue"),
		ptMismatches:    desc("payload_type_mismatches_total", "Inbound packets with an unexpected payload type.", bindingLabels...),
		reassemblyDrops: desc("reassembly_drops_total", "Partial frames dropped by the depacketizer.", bindingLabels...),
		keyFrames:       desc("key_frame_requests_total", "PLI and FIR requests received for a media line.", bindingLabels...),
		bitrate:         desc("bitrate_bits_per_second", "Recent RTP throughput of a media line.", "mid", "kind", "direction"),
		signalingState:  desc("signaling_state", "Current signaling state, 1 for the active state.", "state"),
		connState:       desc("connection_state", "Current connection state, 1 for the active state.", "state"),
		unroutable:      desc("unroutable_packets_total", "Inbound RTP packets that matched no media line."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsSent
	ch <- c.bytesSent
	ch <- c.packetsReceived
	ch <- c.bytesReceived
	ch <- c.sendErrors
	ch <- c.droppedUnits
	ch <- c.ptMismatches
	ch <- c.reassemblyDrops
	ch <- c.keyFrames
	ch <- c.bitrate
	ch <- c.signalingState
	ch <- c.connState
	ch <- c.unroutable
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.session

	s.mu.Lock()
	stats := make([]BindingStats, 0, len(s.bindings))
	for _, b := range s.bindings {
		if b.mid == "" {
			continue
		}
		stats = append(stats, b.statsLocked())
	}
	signaling := s.signaling.State()
	conn := s.connState
	s.mu.Unlock()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	for _, st := range stats {
		mid, kind := st.Mid, st.Kind.String()
		counter(c.packetsSent, st.PacketsSent, mid, kind)
		counter(c.bytesSent, st.BytesSent, mid, kind)
		counter(c.packetsReceived, st.PacketsReceived, mid, kind)
		counter(c.bytesReceived, st.BytesReceived, mid, kind)
		counter(c.sendErrors, st.SendErrors, mid, kind)
		counter(c.droppedUnits, st.InboundDropped, mid, kind, "inbound")
		counter(c.droppedUnits, st.OutboundDropped, mid, kind, "outbound")
		counter(c.ptMismatches, st.PayloadTypeMismatches, mid, kind)
		counter(c.reassemblyDrops, st.ReassemblyDrops, mid, kind)
		counter(c.keyFrames, st.KeyFrameRequests, mid, kind)
		ch <- prometheus.MustNewConstMetric(c.bitrate, prometheus.GaugeValue, st.SendBitrate, mid, kind, "send")
		ch <- prometheus.MustNewConstMetric(c.bitrate, prometheus.GaugeValue, st.ReceiveBitrate, mid, kind, "receive")
	}

	for _, state := range []webrtc.SignalingState{
		webrtc.SignalingStateStable,
		webrtc.SignalingStateHaveLocalOffer,
		webrtc.SignalingStateHaveRemoteOffer,
		webrtc.SignalingStateClosed,
	} {
		ch <- prometheus.MustNewConstMetric(c.signalingState, prometheus.GaugeValue, boolValue(state == signaling), state.String())
	}
	for _, state := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateNew,
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateConnected,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed,
	} {
		ch <- prometheus.MustNewConstMetric(c.connState, prometheus.GaugeValue, boolValue(state == conn), state.String())
	}
	counter(c.unroutable, s.unroutable.Load())
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
