package mediabridge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/pion/mediabridge/pkg/codec"
	mio "github.com/pion/mediabridge/pkg/io"
)

func sends(d webrtc.RTPTransceiverDirection) bool {
	return d == webrtc.RTPTransceiverDirectionSendrecv || d == webrtc.RTPTransceiverDirectionSendonly
}

func receives(d webrtc.RTPTransceiverDirection) bool {
	return d == webrtc.RTPTransceiverDirectionSendrecv || d == webrtc.RTPTransceiverDirectionRecvonly
}

func direction(send, recv bool) webrtc.RTPTransceiverDirection {
	switch {
	case send && recv:
		return webrtc.RTPTransceiverDirectionSendrecv
	case send:
		return webrtc.RTPTransceiverDirectionSendonly
	case recv:
		return webrtc.RTPTransceiverDirectionRecvonly
	default:
		return webrtc.RTPTransceiverDirectionInactive
	}
}

// negotiatedDirection returns the local direction given what the local side
// wants and the direction the remote side announced.
func negotiatedDirection(local, remote webrtc.RTPTransceiverDirection) webrtc.RTPTransceiverDirection {
	return direction(sends(local) && receives(remote), receives(local) && sends(remote))
}

func sameCodec(a, b *codec.RTPCodec) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.PayloadType == b.PayloadType && strings.EqualFold(a.MimeType, b.MimeType) && a.ClockRate == b.ClockRate
}

// bindingParams is the snapshot the media path works with. A new snapshot
// is published on every change; changed is closed when it is replaced.
type bindingParams struct {
	codec     *codec.RTPCodec
	direction webrtc.RTPTransceiverDirection
	// assembler is only touched by the transport read loop.
	assembler *codec.Assembler
	remote    *remoteStream
	local     *localStream
	changed   chan struct{}
}

// answerPlan holds what a remote offer asks of a binding until the answer is
// applied or the offer rolled back.
type answerPlan struct {
	codecs     []*codec.RTPCodec
	direction  webrtc.RTPTransceiverDirection
	remoteSSRC uint32
	adopted    bool
	created    bool
	// missing marks a negotiated line the offer left out.
	missing    bool
}

// bindingCounters are updated from the media path.
type bindingCounters struct {
	packetsSent      atomic.Uint64
	bytesSent        atomic.Uint64
	packetsReceived  atomic.Uint64
	bytesReceived    atomic.Uint64
	sendErrors       atomic.Uint64
	ptMismatches     atomic.Uint64
	reassemblyDrops  atomic.Uint64
	orphanUnits      atomic.Uint64
	notReceivingDrop atomic.Uint64
	keyFrameRequests atomic.Uint64

	sendRate    *codec.BitrateTracker
	receiveRate *codec.BitrateTracker
}

// TrackBinding is one negotiated media line. Fields without a comment are
// guarded by Session.mu.
type TrackBinding struct {
	session  *Session
	kind     webrtc.RTPCodecType
	kindName string

	mid         string
	proposedMid string
	codecs      []*codec.RTPCodec
	want        webrtc.RTPTransceiverDirection
	current     webrtc.RTPTransceiverDirection
	selected    *codec.RTPCodec
	negotiated  bool
	rejected    bool
	announced   bool
	plan        *answerPlan
	streamID    string
	trackID     string
	localSSRC   uint32

	remoteSSRC atomic.Uint32
	pad        atomic.Pointer[PadBridge]
	params     atomic.Pointer[bindingParams]
	orphans    *mio.Queue[Unit]

	stopSender context.CancelFunc
	counters   bindingCounters
}

func newTrackBinding(s *Session, kind webrtc.RTPCodecType, codecs []*codec.RTPCodec, want webrtc.RTPTransceiverDirection) *TrackBinding {
	b := &TrackBinding{
		session:   s,
		kind:      kind,
		kindName:  kind.String(),
		codecs:    codecs,
		want:      want,
		current:   webrtc.RTPTransceiverDirectionInactive,
		streamID:  s.id,
		trackID:   newID(),
		localSSRC: codec.RandomSSRC(),
		orphans:   mio.NewQueue[Unit](queueCapacity(kind, false, frameDuration(codecs), s.opts.queueLatency)),
	}
	b.counters.sendRate = codec.NewBitrateTracker(bitrateWindow)
	b.counters.receiveRate = codec.NewBitrateTracker(bitrateWindow)
	b.params.Store(&bindingParams{direction: webrtc.RTPTransceiverDirectionInactive, changed: make(chan struct{})})
	return b
}

// bitrateWindow is the span the send and receive bitrates are averaged over.
const bitrateWindow = 2 * time.Second

func frameDuration(codecs []*codec.RTPCodec) time.Duration {
	if len(codecs) > 0 {
		return codecs[0].Latency
	}
	return 0
}

// Mid returns the negotiated mid, empty while the line is pending.
func (b *TrackBinding) Mid() string {
	b.session.mu.Lock()
	defer b.session.mu.Unlock()
	return b.mid
}

// Kind returns the media kind of the line.
func (b *TrackBinding) Kind() webrtc.RTPCodecType {
	return b.kind
}

// Direction returns the direction the media path currently honors.
func (b *TrackBinding) Direction() webrtc.RTPTransceiverDirection {
	return b.params.Load().direction
}

// Codec returns the negotiated codec, nil when none.
func (b *TrackBinding) Codec() *codec.RTPCodec {
	return b.params.Load().codec
}

// LocalSSRC returns the SSRC used when sending.
func (b *TrackBinding) LocalSSRC() uint32 {
	return b.localSSRC
}

// RemoteSSRC returns the SSRC of the remote sender, 0 until known.
func (b *TrackBinding) RemoteSSRC() uint32 {
	return b.remoteSSRC.Load()
}

// offerDirection is the direction proposed in a local offer.
func (b *TrackBinding) offerDirectionLocked() webrtc.RTPTransceiverDirection {
	if b.rejected || b.session.transportFailed {
		return webrtc.RTPTransceiverDirectionInactive
	}
	if b.pad.Load() == nil {
		return direction(false, receives(b.want))
	}
	return b.want
}

func (b *TrackBinding) setRemoteSSRCLocked(ssrc uint32) {
	if b.remoteSSRC.Swap(ssrc) == ssrc {
		return
	}
	b.publishLocked()
}

// commitLocked applies the outcome of a completed negotiation round.
func (b *TrackBinding) commitLocked(selected *codec.RTPCodec, dir webrtc.RTPTransceiverDirection, remoteSSRC uint32) {
	b.negotiated = true
	b.selected = selected
	b.current = dir
	b.rejected = selected == nil && len(b.codecs) > 0
	if remoteSSRC != 0 {
		b.remoteSSRC.Store(remoteSSRC)
	}
	b.publishLocked()
}

// publishLocked builds and stores a new parameter snapshot, binding and
// unbinding interceptor streams as needed.
func (b *TrackBinding) publishLocked() {
	s := b.session
	old := b.params.Load()
	p := &bindingParams{
		codec:     b.selected,
		direction: b.current,
		changed:   make(chan struct{}),
	}
	if s.transportFailed || s.closed || p.codec == nil {
		p.direction = webrtc.RTPTransceiverDirectionInactive
	}

	if p.codec != nil && receives(p.direction) {
		if sameCodec(old.codec, p.codec) && old.assembler != nil {
			p.assembler = old.assembler
		} else {
			p.assembler = codec.NewAssembler(p.codec)
		}
		if ssrc := b.remoteSSRC.Load(); ssrc != 0 {
			if old.remote != nil && old.remote.info.SSRC == ssrc && sameCodec(old.codec, p.codec) {
				p.remote = old.remote
			} else {
				p.remote = s.bindRemoteStream(ssrc, p.codec)
			}
		}
	}
	if p.codec != nil && sends(p.direction) {
		if old.local != nil && sameCodec(old.codec, p.codec) {
			p.local = old.local
		} else {
			p.local = s.bindLocalStream(b.localSSRC, p.codec)
		}
	}

	if old.remote != nil && old.remote != p.remote {
		s.interceptor.UnbindRemoteStream(old.remote.info)
	}
	if old.local != nil && old.local != p.local {
		s.interceptor.UnbindLocalStream(old.local.info)
	}

	b.params.Store(p)
	close(old.changed)
	s.log.Debugf("mid %s: direction %s codec %s", b.mid, p.direction, codecName(p.codec))
}

func codecName(c *codec.RTPCodec) string {
	if c == nil {
		return "none"
	}
	return fmt.Sprintf("%s/%d", c.MimeType, c.PayloadType)
}

// attachLocked connects pad and starts its sender.
func (b *TrackBinding) attachLocked(pad *PadBridge) {
	pad.binding = b
	b.pad.Store(pad)

	ctx, cancel := context.WithCancel(b.session.ctx)
	b.stopSender = cancel
	b.session.wg.Add(1)
	go b.sendLoop(ctx, pad)
}

// detachLocked disconnects the endpoint. Inbound units go to the orphan
// queue from now on.
func (b *TrackBinding) detachLocked() *PadBridge {
	pad := b.pad.Swap(nil)
	if b.stopSender != nil {
		b.stopSender()
		b.stopSender = nil
	}
	b.want = webrtc.RTPTransceiverDirectionInactive
	return pad
}

// closeLocked releases everything the binding holds.
func (b *TrackBinding) closeLocked() {
	if pad := b.detachLocked(); pad != nil {
		pad.shutdown()
	}
	b.orphans.Close()

	p := b.params.Load()
	if p.remote != nil {
		b.session.interceptor.UnbindRemoteStream(p.remote.info)
	}
	if p.local != nil {
		b.session.interceptor.UnbindLocalStream(p.local.info)
	}
	b.params.Store(&bindingParams{direction: webrtc.RTPTransceiverDirectionInactive, changed: make(chan struct{})})
	close(p.changed)
}

func (b *TrackBinding) sendLoop(ctx context.Context, pad *PadBridge) {
	defer b.session.wg.Done()

	var packetizer *codec.Packetizer
	var packetizerCodec *codec.RTPCodec
	for {
		p := b.params.Load()
		if p.local == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.changed:
			}
			continue
		}

		u, err := pad.out.Pop(ctx)
		if err != nil {
			return
		}

		p = b.params.Load()
		if p.local == nil {
			continue
		}
		if packetizer == nil || !sameCodec(packetizerCodec, p.codec) {
			packetizer = codec.NewPacketizer(p.codec, b.localSSRC, b.session.opts.mtu)
			packetizerCodec = p.codec
		}
		b.send(p, packetizer, u)
	}
}

func (b *TrackBinding) send(p *bindingParams, packetizer *codec.Packetizer, u Unit) {
	var packets []*rtp.Packet
	switch u.Kind {
	case UnitRTP:
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(u.Payload); err != nil {
			b.mediaError(err)
			return
		}
		pkt.SSRC = b.localSSRC
		pkt.PayloadType = uint8(p.codec.PayloadType)
		pkt.SequenceNumber = packetizer.NextSequence()
		packets = []*rtp.Packet{pkt}
	default:
		var samples uint32
		if u.Duration > 0 {
			samples = codec.DurationSamples(p.codec.ClockRate, u.Duration)
		}
		packets = packetizer.Packetize(u.Payload, samples)
	}

	for _, pkt := range packets {
		n, err := p.local.writer.Write(&pkt.Header, pkt.Payload, interceptor.Attributes{})
		if err != nil {
			b.counters.sendErrors.Add(1)
			b.mediaError(err)
			continue
		}
		b.counters.packetsSent.Add(1)
		b.counters.bytesSent.Add(uint64(n))
		b.counters.sendRate.AddFrame(n, time.Now())
	}
}

// handleRTP runs on the transport read loop.
func (b *TrackBinding) handleRTP(raw []byte) {
	p := b.params.Load()
	if p.codec == nil || !receives(p.direction) {
		b.counters.notReceivingDrop.Add(1)
		return
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		b.mediaError(err)
		return
	}
	if pkt.PayloadType != uint8(p.codec.PayloadType) {
		b.counters.ptMismatches.Add(1)
		b.mediaError(ErrPayloadTypeMismatch)
		return
	}
	if p.remote != nil {
		p.remote.observe(raw)
	}
	b.counters.packetsReceived.Add(1)
	b.counters.bytesReceived.Add(uint64(len(raw)))
	b.counters.receiveRate.AddFrame(len(raw), time.Now())

	if pad := b.pad.Load(); pad != nil && pad.raw {
		b.deliver(Unit{
			Kind:      UnitRTP,
			Timestamp: pkt.Timestamp,
			Sequence:  pkt.SequenceNumber,
			Marker:    pkt.Marker,
			Payload:   raw,
		})
		return
	}

	frame, err := p.assembler.Push(pkt)
	if err != nil {
		b.counters.reassemblyDrops.Add(1)
		b.mediaError(fmt.Errorf("%w: %v", ErrReassembly, err))
	}
	if frame == nil {
		return
	}

	kind := UnitVideo
	if b.kind == webrtc.RTPCodecTypeAudio {
		kind = UnitAudio
	}
	b.deliver(Unit{
		Kind:      kind,
		Timestamp: frame.Timestamp,
		Sequence:  frame.Sequence,
		Marker:    frame.Marker,
		Payload:   frame.Payload,
	})
}

func (b *TrackBinding) deliver(u Unit) {
	if pad := b.pad.Load(); pad != nil {
		evicted, err := pad.in.Push(u)
		if err == nil {
			if evicted > 0 {
				b.mediaError(ErrQueueOverflow)
			}
			return
		}
	}

	b.counters.orphanUnits.Add(1)
	if evicted, _ := b.orphans.Push(u); evicted > 0 {
		b.mediaError(ErrQueueOverflow)
	}
}

func (b *TrackBinding) mediaError(err error) {
	b.session.log.Tracef("%v", &MediaPathError{Mid: b.routeMid(), Err: err})
}

// routeMid reads the mid without taking Session.mu.
func (b *TrackBinding) routeMid() string {
	for mid, binding := range b.session.routes.Load().byMid {
		if binding == b {
			return mid
		}
	}
	return ""
}

func (b *TrackBinding) keyFrameRequested() {
	b.counters.keyFrameRequests.Add(1)
	if pad := b.pad.Load(); pad != nil {
		pad.keyFrameRequested()
	}
}

func (b *TrackBinding) requestKeyFrame() error {
	ssrc := b.remoteSSRC.Load()
	if ssrc == 0 {
		return fmt.Errorf("%w: remote ssrc unknown", ErrUnroutable)
	}
	return b.session.writeRTCP(&rtcp.PictureLossIndication{
		SenderSSRC: b.localSSRC,
		MediaSSRC:  ssrc,
	})
}
