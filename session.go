// Package mediabridge negotiates WebRTC sessions with a remote peer and routes
// media between negotiated lines and local pipeline endpoints.
package mediabridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"

	ilogging "github.com/pion/mediabridge/internal/logging"
	"github.com/pion/mediabridge/pkg/codec"
	"github.com/pion/mediabridge/pkg/description"
	"github.com/pion/mediabridge/pkg/transport"
)

const learnBacklog = 64

func newID() string {
	return uuid.NewString()
}

// Session is the negotiation controller of one peer connection. It owns the
// transport and every TrackBinding. Session is safe for concurrent use;
// event handlers run one at a time on a goroutine owned by the Session.
type Session struct {
	opts SessionOptions
	log  logging.LeveledLogger
	id   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	transport   *transport.Session
	interceptor interceptor.Interceptor
	rtcpWriter  interceptor.RTCPWriter
	rtcpReader  interceptor.RTCPReader
	rtcpIn      *pendingReader
	routes      atomic.Pointer[routes]
	learn       chan ssrcLearning
	ops         *operations
	collector   *collector
	unroutable  atomic.Uint64

	mu        sync.Mutex
	signaling *signalingMachine
	bindings  []*TrackBinding
	mids      midAllocator

	sessionID    uint64
	localVersion uint64
	fingerprint  description.Fingerprint
	credentials  transport.Credentials
	// restartCredentials are offered until the restart offer is applied.
	restartCredentials *transport.Credentials
	iceRestart         bool
	iceRole            transport.ICERole
	roleDecided        bool
	dtlsRole           transport.DTLSRole
	started            bool

	lastOffer     *description.Description
	lastAnswer    *description.Description
	pendingLocal  *description.Description
	pendingRemote *description.Description
	currentLocal  *description.Description
	currentRemote *description.Description
	pendingSDP    string
	currentSDP    string

	localCandidates   []string
	remoteCandidates  map[string]struct{}
	remoteUfrag       string
	gatheringComplete bool
	gatheringDone     chan struct{}

	// changes counts local endpoint changes; negotiated is the count covered
	// by the last applied local offer.
	changes         uint64
	offerChanges    uint64
	negotiated      uint64
	prevNegotiated  uint64
	localIsOffer    bool
	transportFailed bool
	connState       webrtc.PeerConnectionState
	closed          bool

	onICECandidate      func(*transport.Candidate)
	onConnectionState   func(webrtc.PeerConnectionState)
	onSignalingState    func(webrtc.SignalingState)
	onNegotiationNeeded func()
	onError             func(error)
	onRemoteEndpoint    func(*PadBridge)
}

// NewSession creates an idle Session. Nothing is sent before the first
// description is applied.
func NewSession(opts ...SessionOption) (*Session, error) {
	o := SessionOptions{
		tieBreaker:         SessionIDTieBreaker,
		queueLatency:       defaultQueueLatency,
		rtcpReportInterval: defaultRTCPReportInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codecs == nil {
		o.codecs = NewCodecSelector(codec.Default()...)
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		for _, c := range o.codecs.Codecs(kind) {
			if !codec.Supported(kind, c.Name(), c.ClockRate) {
				return nil, fmt.Errorf("mediabridge: %s/%d can't be carried", c.MimeType, c.ClockRate)
			}
		}
	}
	if o.mtu == 0 {
		o.mtu = codec.DefaultMTU
	}
	o.loggerFactory = ilogging.Or(o.loggerFactory)

	t, err := transport.NewSession(transport.Config{
		AgentFactory:  o.agentFactory,
		Handshaker:    o.handshaker,
		Certificate:   o.certificate,
		ICEServers:    o.iceServers,
		LoggerFactory: o.loggerFactory,
	})
	if err != nil {
		return nil, err
	}
	fp, err := t.Certificate().Fingerprint()
	if err != nil {
		return nil, err
	}
	creds, err := transport.GenerateCredentials()
	if err != nil {
		return nil, err
	}
	sessionID, err := randutil.CryptoUint64()
	if err != nil {
		return nil, err
	}
	ic, err := newInterceptor(o.rtcpReportInterval)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:             o,
		log:              o.loggerFactory.NewLogger("mediabridge"),
		id:               newID(),
		ctx:              ctx,
		cancel:           cancel,
		transport:        t,
		interceptor:      ic,
		learn:            make(chan ssrcLearning, learnBacklog),
		ops:              newOperations(),
		sessionID:        sessionID &^ (1 << 63),
		fingerprint:      description.Fingerprint{Algorithm: fp.Algorithm, Value: fp.Value},
		credentials:      creds,
		remoteCandidates: make(map[string]struct{}),
		gatheringDone:    make(chan struct{}),
		connState:        webrtc.PeerConnectionStateNew,
	}
	s.signaling = newSignalingMachine(s.signalingStateChanged)
	s.routes.Store(emptyRoutes)
	s.bindRTCP()

	t.OnCandidate(s.handleCandidate)
	t.OnStateChange(s.handleTransportState)
	t.OnRTP(s.handleRTP)
	t.OnRTCP(s.handleRTCP)

	if o.registerer != nil {
		s.collector = newCollector(s)
		if err := o.registerer.Register(s.collector); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mediabridge: failed to register metrics: %w", err)
		}
	}

	s.wg.Add(1)
	go s.learnLoop()
	return s, nil
}

// ID identifies the session in metrics and as the RTCP CNAME.
func (s *Session) ID() string {
	return s.id
}

// AddEndpoint adds a pipeline endpoint of kind. The new line is negotiated
// in the next offer or adopted by the next remote offer.
func (s *Session) AddEndpoint(kind webrtc.RTPCodecType, dir webrtc.RTPTransceiverDirection, opts ...EndpointOption) (*PadBridge, error) {
	if kind != webrtc.RTPCodecTypeAudio && kind != webrtc.RTPCodecTypeVideo {
		return nil, ErrInvalidKind
	}
	if !sends(dir) && !receives(dir) {
		return nil, ErrInvalidDirection
	}

	var o EndpointOptions
	for _, opt := range opts {
		opt(&o)
	}
	codecs, err := s.opts.codecs.selectCodecsByNames(kind, o.codecNames...)
	if err != nil {
		return nil, fmt.Errorf("mediabridge: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	b := newTrackBinding(s, kind, codecs, dir)
	if o.streamID != "" {
		b.streamID = o.streamID
	}
	capacity := o.queueCapacity
	if capacity <= 0 {
		capacity = queueCapacity(kind, o.rawRTP, frameDuration(codecs), s.opts.queueLatency)
	}
	pad := newPadBridge(kind, capacity, o)
	b.attachLocked(pad)
	s.bindings = append(s.bindings, b)

	s.log.Debugf("added %s endpoint (%s)", kind, dir)
	s.localChangeLocked()
	return pad, nil
}

func (s *Session) bindingOfLocked(pad *PadBridge) (*TrackBinding, error) {
	if pad == nil || pad.binding == nil || pad.binding.session != s || pad.binding.pad.Load() != pad {
		return nil, ErrUnknownEndpoint
	}
	return pad.binding, nil
}

// RemoveEndpoint detaches pad. A negotiated line becomes inactive in the next
// offer; its mid is never reused.
func (s *Session) RemoveEndpoint(pad *PadBridge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	b, err := s.bindingOfLocked(pad)
	if err != nil {
		return err
	}
	b.detachLocked()
	pad.shutdown()

	if b.mid == "" && b.plan == nil && !s.offeredLocked(b) {
		s.removeBindingLocked(b)
	}
	s.log.Debugf("removed %s endpoint (mid %q)", b.kind, b.mid)
	s.localChangeLocked()
	return nil
}

// offeredLocked reports whether the created but not yet applied offer
// proposes a mid for b. Such a binding keeps its slot, detached, so the offer
// stays consistent with the bindings.
func (s *Session) offeredLocked(b *TrackBinding) bool {
	if b.proposedMid == "" || s.lastOffer == nil {
		return false
	}
	_, ok := s.lastOffer.MediaByMid(b.proposedMid)
	return ok
}

// SetEndpointDirection changes what the endpoint sends and receives. It
// takes effect with the next negotiation.
func (s *Session) SetEndpointDirection(pad *PadBridge, dir webrtc.RTPTransceiverDirection) error {
	if !sends(dir) && !receives(dir) {
		return ErrInvalidDirection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	b, err := s.bindingOfLocked(pad)
	if err != nil {
		return err
	}
	if b.want == dir {
		return nil
	}
	b.want = dir
	s.localChangeLocked()
	return nil
}

func (s *Session) removeBindingLocked(b *TrackBinding) {
	for i, other := range s.bindings {
		if other == b {
			s.bindings = append(s.bindings[:i], s.bindings[i+1:]...)
			break
		}
	}
	b.closeLocked()
}

// Bindings returns the media lines in m-line order, pending ones last.
func (s *Session) Bindings() []*TrackBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*TrackBinding(nil), s.bindings...)
}

func (s *Session) bindingByMidLocked(mid string) *TrackBinding {
	for _, b := range s.bindings {
		if b.mid == mid {
			return b
		}
	}
	return nil
}

// SignalingState returns the offer/answer state.
func (s *Session) SignalingState() webrtc.SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaling.State()
}

// ConnectionState returns the aggregated transport state.
func (s *Session) ConnectionState() webrtc.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// GatheringComplete returns a channel closed once the current generation of
// local candidates is complete.
func (s *Session) GatheringComplete() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gatheringDone
}

// OnICECandidate sets the handler of locally gathered candidates. A nil
// candidate signals the end of gathering.
func (s *Session) OnICECandidate(f func(*transport.Candidate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onICECandidate = f
}

// OnConnectionStateChange sets the handler of transport state changes.
func (s *Session) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnectionState = f
}

// OnSignalingStateChange sets the handler of signaling state changes.
func (s *Session) OnSignalingStateChange(f func(webrtc.SignalingState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSignalingState = f
}

// OnNegotiationNeeded sets the handler called when local changes need a new
// offer. It is called in the stable state only.
func (s *Session) OnNegotiationNeeded(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNegotiationNeeded = f
}

// OnError sets the handler of asynchronous errors: per line negotiation
// failures and fatal transport errors.
func (s *Session) OnError(f func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = f
}

// OnRemoteEndpoint sets the handler called with the endpoint of every line
// the remote peer added.
func (s *Session) OnRemoteEndpoint(f func(*PadBridge)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteEndpoint = f
}

func (s *Session) signalingStateChanged(_, to webrtc.SignalingState) {
	s.log.Debugf("signaling state changed to %s", to)
	s.ops.Enqueue(func() {
		s.mu.Lock()
		h := s.onSignalingState
		s.mu.Unlock()
		if h != nil {
			h(to)
		}
	})
}

func (s *Session) emitErrorLocked(err error) {
	s.log.Warnf("%v", err)
	s.ops.Enqueue(func() {
		s.mu.Lock()
		h := s.onError
		s.mu.Unlock()
		if h != nil {
			h(err)
		}
	})
}

// localChangeLocked records an endpoint change and schedules a
// negotiation-needed event.
func (s *Session) localChangeLocked() {
	s.changes++
	s.checkNegotiationNeededLocked()
}

func (s *Session) checkNegotiationNeededLocked() {
	if s.closed || s.changes == s.negotiated || s.signaling.State() != webrtc.SignalingStateStable {
		return
	}
	s.ops.Enqueue(func() {
		s.mu.Lock()
		needed := !s.closed && s.changes != s.negotiated && s.signaling.State() == webrtc.SignalingStateStable
		h := s.onNegotiationNeeded
		s.mu.Unlock()
		if needed && h != nil {
			h()
		}
	})
}

func (s *Session) handleCandidate(c *transport.Candidate) {
	s.ops.Enqueue(func() {
		s.mu.Lock()
		if s.closed || (c != nil && c.Generation != s.transport.Generation()) {
			s.mu.Unlock()
			return
		}
		if c == nil {
			if s.gatheringComplete {
				s.mu.Unlock()
				return
			}
			s.gatheringComplete = true
			close(s.gatheringDone)
		} else {
			s.localCandidates = append(s.localCandidates, c.Marshal())
		}
		h := s.onICECandidate
		s.mu.Unlock()

		if h != nil {
			h(c)
		}
	})
}

func peerConnectionState(state transport.State) webrtc.PeerConnectionState {
	switch state {
	case transport.StateNew:
		return webrtc.PeerConnectionStateNew
	case transport.StateChecking:
		return webrtc.PeerConnectionStateConnecting
	case transport.StateConnected:
		return webrtc.PeerConnectionStateConnected
	case transport.StateDisconnected:
		return webrtc.PeerConnectionStateDisconnected
	case transport.StateFailed:
		return webrtc.PeerConnectionStateFailed
	case transport.StateClosed:
		return webrtc.PeerConnectionStateClosed
	default:
		return webrtc.PeerConnectionStateUnknown
	}
}

func (s *Session) handleTransportState(state transport.State, err error) {
	s.ops.Enqueue(func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if state == transport.StateFailed && !s.transportFailed {
			s.failLocked(err)
		}
		pc := peerConnectionState(state)
		changed := s.connState != pc
		s.connState = pc
		h := s.onConnectionState
		s.mu.Unlock()

		s.log.Infof("connection state changed to %s", pc)
		if changed && h != nil {
			h(pc)
		}
	})
}

// failLocked handles a fatal transport error: the pending round is dropped
// and every line stops carrying media until RestartICE.
func (s *Session) failLocked(err error) {
	if err == nil {
		err = transport.ErrICEFailed
	}
	s.transportFailed = true
	s.discardPendingLocked()
	_ = s.signaling.fire(eventFail)
	for _, b := range s.bindings {
		if b.mid != "" {
			b.publishLocked()
		}
	}
	s.rebuildRoutesLocked()
	s.emitErrorLocked(&TransportError{Err: err})
}

// RestartICE requests fresh ICE credentials in the next offer. It is the only
// way out of a transport failure.
func (s *Session) RestartICE() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.iceRestart = true
	s.transportFailed = false
	s.localChangeLocked()
	return nil
}

func (s *Session) handleRTP(ssrc uint32, packet []byte) {
	b, learned := s.routes.Load().lookup(ssrc, packet)
	if b == nil {
		s.unroutable.Add(1)
		s.log.Tracef("%v", &MediaPathError{Err: fmt.Errorf("%w: ssrc %d", ErrUnroutable, ssrc)})
		return
	}
	if learned {
		s.learnSSRC(b, ssrc)
	}
	b.handleRTP(packet)
}

// Close tears down the transport and every binding. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	_ = s.signaling.fire(eventClose)
	for _, b := range s.bindings {
		b.closeLocked()
	}
	s.routes.Store(emptyRoutes)
	changed := s.connState != webrtc.PeerConnectionStateClosed
	s.connState = webrtc.PeerConnectionStateClosed
	h := s.onConnectionState
	s.mu.Unlock()

	s.cancel()
	errs := []error{s.transport.Close()}
	s.wg.Wait()
	errs = append(errs, s.interceptor.Close())
	if s.collector != nil {
		s.opts.registerer.Unregister(s.collector)
	}

	s.ops.Enqueue(func() {
		if changed && h != nil {
			h(webrtc.PeerConnectionStateClosed)
		}
	})
	s.ops.Close()
	return errors.Join(errs...)
}
