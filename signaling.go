package mediabridge

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/pion/mediabridge/pkg/codec"
	"github.com/pion/mediabridge/pkg/description"
	"github.com/pion/mediabridge/pkg/transport"
)

const (
	setupActpass = "actpass"
	setupActive  = "active"
	setupPassive = "passive"
)

// OfferOptions tune CreateOffer.
type OfferOptions struct {
	// ICERestart offers fresh ICE credentials.
	ICERestart bool
}

func negotiationError(mid string, err error) error {
	return &NegotiationError{Mid: mid, Err: err}
}

func malformed(err error) error {
	return negotiationError("", fmt.Errorf("%w: %v", ErrMalformedDescription, err))
}

func sameMids(a, b *description.Description) bool {
	if a == nil || b == nil || len(a.Media) != len(b.Media) {
		return false
	}
	for i := range a.Media {
		if a.Media[i].Mid != b.Media[i].Mid {
			return false
		}
	}
	return true
}

func setupAttribute(role transport.DTLSRole) string {
	if role == transport.DTLSRoleClient {
		return setupActive
	}
	return setupPassive
}

// CreateOffer renders the current binding set. Committed mids keep their
// place; pending endpoints are proposed fresh mids.
func (s *Session) CreateOffer(options *OfferOptions) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, raw, err := s.createOfferLocked(options)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: raw}, nil
}

func (s *Session) createOfferLocked(options *OfferOptions) (*description.Description, string, error) {
	if s.closed {
		return nil, "", ErrSessionClosed
	}
	if st := s.signaling.State(); st != webrtc.SignalingStateStable && st != webrtc.SignalingStateHaveLocalOffer {
		return nil, "", negotiationError("", fmt.Errorf("%w: can't create offer in %s", ErrInvalidState, st))
	}

	restart := s.iceRestart || (options != nil && options.ICERestart)
	if s.transportFailed && !restart {
		return nil, "", &TransportError{Err: ErrTransportFailed}
	}

	creds := s.credentials
	if restart {
		if s.restartCredentials == nil {
			c, err := transport.GenerateCredentials()
			if err != nil {
				return nil, "", err
			}
			s.restartCredentials = &c
		}
		creds = *s.restartCredentials
	}

	s.localVersion++
	d := &description.Description{
		SessionID:      s.sessionID,
		SessionVersion: s.localVersion,
		ICEUfrag:       creds.Ufrag,
		ICEPwd:         creds.Pwd,
		Fingerprint:    s.fingerprint,
		Setup:          setupActpass,
		MidExtension:   defaultMidExtensionID,
	}
	if s.currentLocal != nil {
		// The DTLS role can't change once negotiated.
		d.Setup = setupAttribute(s.dtlsRole)
		if s.currentLocal.MidExtension > 0 {
			d.MidExtension = s.currentLocal.MidExtension
		}
	}
	if !restart {
		d.Candidates = append([]string(nil), s.localCandidates...)
		d.EndOfCandidates = s.gatheringComplete
	}

	for _, b := range append([]*TrackBinding(nil), s.bindings...) {
		mid := b.mid
		if mid == "" {
			if b.pad.Load() == nil {
				// Removed after an earlier offer proposed it.
				s.removeBindingLocked(b)
				continue
			}
			if b.proposedMid == "" {
				b.proposedMid = s.mids.allocate()
			}
			mid = b.proposedMid
		}
		d.Media = append(d.Media, s.mediaLocked(b, mid, b.offerDirectionLocked(), b.codecs))
	}

	raw, err := description.Render(d)
	if err != nil {
		return nil, "", err
	}
	s.lastOffer = description.Normalize(d)
	s.offerChanges = s.changes
	return s.lastOffer, raw, nil
}

func (s *Session) mediaLocked(b *TrackBinding, mid string, dir webrtc.RTPTransceiverDirection, codecs []*codec.RTPCodec) description.Media {
	m := description.Media{
		Mid:       mid,
		Kind:      b.kindName,
		Direction: dir,
		Codecs:    toDescriptionCodecs(codecs),
	}
	if sends(dir) {
		m.SSRC = b.localSSRC
		m.CNAME = s.id
		m.StreamID = b.streamID
		m.TrackID = b.trackID
	}
	return m
}

// CreateAnswer answers the pending remote offer.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return webrtc.SessionDescription{}, ErrSessionClosed
	}
	if st := s.signaling.State(); st != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, negotiationError("", fmt.Errorf("%w: can't create answer in %s", ErrInvalidState, st))
	}

	offer := s.pendingRemote
	s.localVersion++
	d := &description.Description{
		SessionID:       s.sessionID,
		SessionVersion:  s.localVersion,
		ICEUfrag:        s.credentials.Ufrag,
		ICEPwd:          s.credentials.Pwd,
		Fingerprint:     s.fingerprint,
		Setup:           setupAttribute(s.dtlsRole),
		MidExtension:    offer.MidExtension,
		Candidates:      append([]string(nil), s.localCandidates...),
		EndOfCandidates: s.gatheringComplete,
	}
	for _, m := range offer.Media {
		b := s.bindingByMidLocked(m.Mid)
		media := s.mediaLocked(b, m.Mid, b.plan.direction, b.plan.codecs)
		media.Kind = m.Kind
		d.Media = append(d.Media, media)
	}

	raw, err := description.Render(d)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	s.lastAnswer = description.Normalize(d)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: raw}, nil
}

// SetLocalDescription applies an offer or answer created by this session, or
// rolls back the pending round.
func (s *Session) SetLocalDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		return s.setLocalOfferLocked(desc.SDP)
	case webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
		return s.setLocalAnswerLocked(desc.SDP)
	case webrtc.SDPTypeRollback:
		return s.rollbackLocked()
	default:
		return negotiationError("", fmt.Errorf("%w: unknown description type %s", ErrMalformedDescription, desc.Type))
	}
}

// verifyLocal checks that raw describes the same media lines as created.
func verifyLocal(raw string, created *description.Description) error {
	if created == nil {
		return negotiationError("", fmt.Errorf("%w: no description was created", ErrDescriptionMismatch))
	}
	if raw == "" {
		return nil
	}
	parsed, err := description.Parse(raw)
	if err != nil {
		return malformed(err)
	}
	if !sameMids(parsed, created) {
		return negotiationError("", fmt.Errorf("%w: media lines differ from the created description", ErrDescriptionMismatch))
	}
	return nil
}

func (s *Session) setLocalOfferLocked(raw string) error {
	if err := verifyLocal(raw, s.lastOffer); err != nil {
		return err
	}
	fromStable := s.signaling.State() == webrtc.SignalingStateStable
	if err := s.signaling.fire(eventSetLocalOffer); err != nil {
		return err
	}

	offer := s.lastOffer
	s.lastOffer = nil
	for _, b := range s.bindings {
		if b.mid == "" && b.proposedMid != "" {
			if _, ok := offer.MediaByMid(b.proposedMid); ok {
				b.mid = b.proposedMid
				b.proposedMid = ""
			}
		}
	}
	s.pendingLocal = offer
	if fromStable {
		s.prevNegotiated = s.negotiated
	}
	s.negotiated = s.offerChanges

	if !s.roleDecided {
		s.iceRole = transport.ICERoleControlling
		s.roleDecided = true
	}
	if offer.ICEUfrag != s.credentials.Ufrag {
		s.credentials = transport.Credentials{Ufrag: offer.ICEUfrag, Pwd: offer.ICEPwd}
		s.restartCredentials = nil
		s.iceRestart = false
		if err := s.restartTransportLocked(); err != nil {
			return err
		}
	}
	return s.startTransportLocked()
}

func (s *Session) setLocalAnswerLocked(raw string) error {
	if st := s.signaling.State(); st != webrtc.SignalingStateHaveRemoteOffer {
		return negotiationError("", fmt.Errorf("%w: can't apply answer in %s", ErrInvalidState, st))
	}
	if err := verifyLocal(raw, s.lastAnswer); err != nil {
		return err
	}
	if !sameMids(s.lastAnswer, s.pendingRemote) {
		return negotiationError("", ErrDescriptionMismatch)
	}
	if err := s.signaling.fire(eventSetLocalAnswer); err != nil {
		return err
	}

	var announce []*PadBridge
	for _, b := range s.bindings {
		plan := b.plan
		if plan == nil {
			continue
		}
		b.plan = nil
		switch {
		case plan.missing:
			b.commitLocked(b.selected, webrtc.RTPTransceiverDirectionInactive, 0)
		case len(plan.codecs) == 0:
			b.commitLocked(nil, webrtc.RTPTransceiverDirectionInactive, 0)
		default:
			b.codecs = plan.codecs
			b.commitLocked(plan.codecs[0], plan.direction, plan.remoteSSRC)
			if plan.created && !b.announced {
				b.announced = true
				if pad := b.pad.Load(); pad != nil {
					announce = append(announce, pad)
				}
			}
		}
	}

	s.currentLocal, s.currentRemote = s.lastAnswer, s.pendingRemote
	s.localIsOffer = false
	s.currentSDP, s.pendingSDP = s.pendingSDP, ""
	s.lastAnswer, s.pendingRemote = nil, nil
	s.rebuildRoutesLocked()

	if len(announce) > 0 {
		s.ops.Enqueue(func() {
			s.mu.Lock()
			h := s.onRemoteEndpoint
			s.mu.Unlock()
			for _, pad := range announce {
				if h != nil {
					h(pad)
				}
			}
		})
	}
	s.checkNegotiationNeededLocked()
	return nil
}

// SetRemoteDescription applies an offer or answer of the remote peer, or
// rolls back the pending round.
func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if desc.Type == webrtc.SDPTypeRollback {
		return s.rollbackLocked()
	}

	d, err := description.Parse(desc.SDP,
		description.WithCodecFilter(s.opts.codecs.supports),
		description.WithLogger(s.log),
	)
	if err != nil {
		return malformed(err)
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		return s.setRemoteOfferLocked(d, desc.SDP)
	case webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
		return s.setRemoteAnswerLocked(d, desc.SDP)
	default:
		return negotiationError("", fmt.Errorf("%w: unknown description type %s", ErrMalformedDescription, desc.Type))
	}
}

func (s *Session) setRemoteAnswerLocked(d *description.Description, raw string) error {
	if st := s.signaling.State(); st != webrtc.SignalingStateHaveLocalOffer {
		return negotiationError("", fmt.Errorf("%w: can't apply answer in %s", ErrInvalidState, st))
	}
	if !sameMids(d, s.pendingLocal) {
		return negotiationError("", fmt.Errorf("%w: answer media lines differ from the offer", ErrDescriptionMismatch))
	}

	role := transport.DTLSRoleServer
	if d.Setup == setupPassive {
		role = transport.DTLSRoleClient
	}
	if s.currentRemote == nil {
		s.dtlsRole = role
	}
	if err := s.signaling.fire(eventSetRemoteAnswer); err != nil {
		return err
	}

	for _, m := range d.Media {
		b := s.bindingByMidLocked(m.Mid)
		offered, _ := s.pendingLocal.MediaByMid(m.Mid)
		negotiated := codec.Intersect(b.codecs, toParameters(b.kind, m.Codecs))
		if len(negotiated) == 0 {
			b.commitLocked(nil, webrtc.RTPTransceiverDirectionInactive, 0)
			if !offered.Rejected() {
				s.emitErrorLocked(negotiationError(m.Mid, ErrNoCommonCodec))
			}
			continue
		}
		b.codecs = negotiated
		b.commitLocked(negotiated[0], negotiatedDirection(offered.Direction, m.Direction), m.SSRC)
	}

	s.currentLocal, s.currentRemote = s.pendingLocal, d
	s.localIsOffer = true
	s.currentSDP = raw
	s.pendingLocal = nil
	s.rebuildRoutesLocked()

	if err := s.applyRemoteTransportLocked(d); err != nil {
		return err
	}
	s.checkNegotiationNeededLocked()
	return nil
}

func (s *Session) setRemoteOfferLocked(d *description.Description, raw string) error {
	switch st := s.signaling.State(); st {
	case webrtc.SignalingStateStable:
	case webrtc.SignalingStateHaveLocalOffer:
		switch resolveGlare(s.opts.tieBreaker, s.pendingLocal, d) {
		case glareIgnore:
			s.log.Infof("glare: keeping the local offer, remote offer ignored")
			return nil
		case glareUnresolved:
			return negotiationError("", ErrGlareUnresolved)
		default:
			s.log.Infof("glare: rolling back the local offer")
			if err := s.rollbackLocked(); err != nil {
				return err
			}
		}
	default:
		return negotiationError("", fmt.Errorf("%w: can't apply offer in %s", ErrInvalidState, st))
	}

	for _, m := range d.Media {
		s.mids.observe(m.Mid)
	}

	offered := make(map[string]struct{}, len(d.Media))
	order := make([]*TrackBinding, 0, len(s.bindings)+len(d.Media))
	for _, m := range d.Media {
		offered[m.Mid] = struct{}{}
		b, plan := s.planLineLocked(m)
		b.plan = plan
		order = append(order, b)

		if len(plan.codecs) == 0 && len(m.Codecs) > 0 {
			s.emitErrorLocked(negotiationError(m.Mid, ErrNoCommonCodec))
		}
	}
	for _, b := range s.bindings {
		if b.plan != nil {
			continue
		}
		if b.mid != "" {
			if _, ok := offered[b.mid]; !ok {
				// Lines the offer dropped stay, inactive.
				b.plan = &answerPlan{direction: webrtc.RTPTransceiverDirectionInactive, missing: true}
			}
		}
		order = append(order, b)
	}
	s.bindings = order

	if err := s.signaling.fire(eventSetRemoteOffer); err != nil {
		return err
	}
	s.pendingRemote = d
	s.pendingSDP = raw

	if !s.roleDecided {
		s.iceRole = transport.ICERoleControlled
		s.roleDecided = true
	}
	if s.currentRemote == nil {
		if d.Setup == setupActive {
			s.dtlsRole = transport.DTLSRoleServer
		} else {
			s.dtlsRole = transport.DTLSRoleClient
		}
	}

	if s.remoteUfrag != "" && d.ICEUfrag != s.remoteUfrag {
		creds, err := transport.GenerateCredentials()
		if err != nil {
			return err
		}
		s.credentials = creds
		s.restartCredentials = nil
		s.iceRestart = false
		if err := s.restartTransportLocked(); err != nil {
			return err
		}
	}
	if err := s.startTransportLocked(); err != nil {
		return err
	}
	return s.applyRemoteTransportLocked(d)
}

// planLineLocked finds or creates the binding of a remote media line and
// computes its answer.
func (s *Session) planLineLocked(m description.Media) (*TrackBinding, *answerPlan) {
	plan := &answerPlan{remoteSSRC: m.SSRC}

	b := s.bindingByMidLocked(m.Mid)
	if b == nil {
		kind := webrtc.NewRTPCodecType(m.Kind)
		if kind == 0 {
			b = newTrackBinding(s, kind, nil, webrtc.RTPTransceiverDirectionInactive)
			b.kindName = m.Kind
			plan.created = true
		} else if b = s.adoptableLocked(kind); b != nil {
			b.proposedMid = ""
			plan.adopted = true
		} else {
			b = newTrackBinding(s, kind, s.opts.codecs.Codecs(kind), webrtc.RTPTransceiverDirectionRecvonly)
			pad := newPadBridge(kind, queueCapacity(kind, false, frameDuration(b.codecs), s.opts.queueLatency), EndpointOptions{})
			b.attachLocked(pad)
			plan.created = true
		}
		b.mid = m.Mid
	}

	if kind := webrtc.NewRTPCodecType(m.Kind); kind != 0 && kind == b.kind {
		plan.codecs = codec.Intersect(b.codecs, toParameters(b.kind, m.Codecs))
	}
	if len(plan.codecs) == 0 {
		plan.direction = webrtc.RTPTransceiverDirectionInactive
		return b, plan
	}
	plan.direction = negotiatedDirection(b.offerDirectionLocked(), m.Direction)
	return b, plan
}

// adoptableLocked returns the first local endpoint of kind still waiting for
// a media line.
func (s *Session) adoptableLocked(kind webrtc.RTPCodecType) *TrackBinding {
	for _, b := range s.bindings {
		if b.kind == kind && b.mid == "" && b.plan == nil && b.pad.Load() != nil {
			return b
		}
	}
	return nil
}

// discardPendingLocked undoes what the pending round did to the bindings.
func (s *Session) discardPendingLocked() {
	if s.pendingLocal != nil {
		for _, b := range s.bindings {
			if b.mid == "" || b.negotiated {
				continue
			}
			if _, ok := s.pendingLocal.MediaByMid(b.mid); ok {
				// The mid value is retired; the binding gets a fresh one.
				b.mid = ""
			}
		}
		s.pendingLocal = nil
	}
	if s.pendingRemote != nil {
		for _, b := range append([]*TrackBinding(nil), s.bindings...) {
			plan := b.plan
			if plan == nil {
				continue
			}
			b.plan = nil
			switch {
			case plan.created:
				s.removeBindingLocked(b)
			case plan.adopted:
				b.mid = ""
			}
		}
		s.pendingRemote = nil
		s.pendingSDP = ""
	}
	s.lastOffer, s.lastAnswer = nil, nil

	for _, b := range append([]*TrackBinding(nil), s.bindings...) {
		if b.mid == "" && b.pad.Load() == nil {
			s.removeBindingLocked(b)
		}
	}
}

func (s *Session) rollbackLocked() error {
	if !s.signaling.can(eventRollback) {
		return negotiationError("", fmt.Errorf("%w: nothing to roll back", ErrInvalidState))
	}
	rolledBackOffer := s.pendingLocal != nil
	s.discardPendingLocked()
	if err := s.signaling.fire(eventRollback); err != nil {
		return err
	}
	if rolledBackOffer {
		// The changes the offer covered still need negotiating.
		s.negotiated = s.prevNegotiated
		if s.currentRemote == nil {
			// No round completed, so the ICE role is open again.
			s.roleDecided = false
		}
	}
	s.checkNegotiationNeededLocked()
	return nil
}

// Renegotiate creates and applies an offer in one step.
func (s *Session) Renegotiate() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, raw, err := s.createOfferLocked(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.setLocalOfferLocked(""); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: raw}, nil
}

func (s *Session) startTransportLocked() error {
	if s.started {
		if err := s.transport.SetRole(s.iceRole); err != nil {
			s.log.Debugf("%v", err)
		}
		return nil
	}
	s.started = true
	if err := s.transport.Start(s.credentials, s.iceRole); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func (s *Session) restartTransportLocked() error {
	s.localCandidates = nil
	if s.gatheringComplete {
		s.gatheringComplete = false
		s.gatheringDone = make(chan struct{})
	}
	if !s.started {
		return nil
	}
	s.remoteCandidates = make(map[string]struct{})
	s.log.Infof("restarting ice with ufrag %s", s.credentials.Ufrag)
	if err := s.transport.Restart(s.credentials); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func (s *Session) applyRemoteTransportLocked(d *description.Description) error {
	if d.ICEUfrag != s.remoteUfrag {
		s.remoteUfrag = d.ICEUfrag
		s.remoteCandidates = make(map[string]struct{})
	}

	err := s.transport.SetRemoteParameters(transport.Parameters{
		Credentials: transport.Credentials{Ufrag: d.ICEUfrag, Pwd: d.ICEPwd},
		Fingerprint: transport.Fingerprint{Algorithm: d.Fingerprint.Algorithm, Value: d.Fingerprint.Value},
		DTLSRole:    s.dtlsRole,
	})
	if err != nil {
		return &TransportError{Err: err}
	}

	for _, raw := range d.Candidates {
		if err := s.addRemoteCandidateLocked(raw); err != nil {
			s.log.Warnf("ignoring remote candidate %q: %v", raw, err)
		}
	}
	return nil
}

func (s *Session) addRemoteCandidateLocked(raw string) error {
	if _, seen := s.remoteCandidates[raw]; seen {
		return nil
	}
	c, err := transport.ParseCandidate(raw)
	if err != nil {
		return err
	}
	s.remoteCandidates[raw] = struct{}{}
	return s.transport.AddRemoteCandidate(c)
}

// AddICECandidate adds a trickled remote candidate. An empty candidate or
// end-of-candidates marks the end of the remote generation.
func (s *Session) AddICECandidate(candidate string) error {
	candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "a=")
	if candidate == "" || candidate == "end-of-candidates" {
		return nil
	}
	candidate = strings.TrimPrefix(candidate, "candidate:")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.addRemoteCandidateLocked(candidate); err != nil {
		return negotiationError("", fmt.Errorf("%w: %v", ErrMalformedDescription, err))
	}
	return nil
}

// LocalDescription returns the pending local description, or the current one
// in the stable state, with the candidates gathered so far.
func (s *Session) LocalDescription() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, typ := s.pendingLocal, webrtc.SDPTypeOffer
	if d == nil {
		d = s.currentLocal
		if !s.localIsOffer {
			typ = webrtc.SDPTypeAnswer
		}
	}
	if d == nil {
		return nil
	}

	withCandidates := *d
	withCandidates.Candidates = append([]string(nil), s.localCandidates...)
	withCandidates.EndOfCandidates = s.gatheringComplete
	raw, err := description.Render(&withCandidates)
	if err != nil {
		s.log.Warnf("failed to render local description: %v", err)
		return nil
	}
	return &webrtc.SessionDescription{Type: typ, SDP: raw}
}

// RemoteDescription returns the pending remote description, or the current
// one in the stable state.
func (s *Session) RemoteDescription() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingRemote != nil {
		return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.pendingSDP}
	}
	if s.currentRemote == nil {
		return nil
	}
	typ := webrtc.SDPTypeAnswer
	if !s.localIsOffer {
		typ = webrtc.SDPTypeOffer
	}
	return &webrtc.SessionDescription{Type: typ, SDP: s.currentSDP}
}
