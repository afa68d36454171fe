package mediabridge

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/mediabridge/pkg/description"
	"github.com/pion/mediabridge/pkg/transport"
	"github.com/pion/mediabridge/pkg/transport/transporttest"
)

func TestSignalingMachine(t *testing.T) {
	testCases := map[string]struct {
		events  []string
		state   webrtc.SignalingState
		invalid bool
	}{
		"LocalOfferRemoteAnswer": {
			events: []string{eventSetLocalOffer, eventSetRemoteAnswer},
			state:  webrtc.SignalingStateStable,
		},
		"RemoteOfferLocalAnswer": {
			events: []string{eventSetRemoteOffer, eventSetLocalAnswer},
			state:  webrtc.SignalingStateStable,
		},
		"ReplaceLocalOffer": {
			events: []string{eventSetLocalOffer, eventSetLocalOffer},
			state:  webrtc.SignalingStateHaveLocalOffer,
		},
		"Rollback": {
			events: []string{eventSetRemoteOffer, eventRollback},
			state:  webrtc.SignalingStateStable,
		},
		"AnswerWithoutOffer": {
			events:  []string{eventSetRemoteAnswer},
			state:   webrtc.SignalingStateStable,
			invalid: true,
		},
		"RemoteOfferOverLocalOffer": {
			events:  []string{eventSetLocalOffer, eventSetRemoteOffer},
			state:   webrtc.SignalingStateHaveLocalOffer,
			invalid: true,
		},
		"FailDropsPendingOffer": {
			events: []string{eventSetLocalOffer, eventFail},
			state:  webrtc.SignalingStateStable,
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			m := newSignalingMachine(func(webrtc.SignalingState, webrtc.SignalingState) {})
			var err error
			for _, e := range testCase.events {
				if err = m.fire(e); err != nil {
					break
				}
			}
			if testCase.invalid {
				assert.ErrorIs(t, err, ErrInvalidState)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, testCase.state, m.State())
		})
	}

	var changes []webrtc.SignalingState
	m := newSignalingMachine(func(_, to webrtc.SignalingState) {
		changes = append(changes, to)
	})
	require.NoError(t, m.fire(eventSetLocalOffer))
	require.NoError(t, m.fire(eventSetLocalOffer))
	require.NoError(t, m.fire(eventClose))
	assert.Equal(t, []webrtc.SignalingState{
		webrtc.SignalingStateHaveLocalOffer,
		webrtc.SignalingStateClosed,
	}, changes)
	assert.ErrorIs(t, m.fire(eventSetLocalOffer), ErrInvalidState)
}

func TestGlare(t *testing.T) {
	a, b := newTestPeers(t, nil, nil)

	_, err := a.AddEndpoint(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	_, err = b.AddEndpoint(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)

	offerA, err := a.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offerA))
	offerB, err := b.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(offerB))

	// Both offers cross on the wire.
	require.NoError(t, a.SetRemoteDescription(offerB))
	require.NoError(t, b.SetRemoteDescription(offerA))

	var winner, loser *testPeer
	switch {
	case a.SignalingState() == webrtc.SignalingStateHaveRemoteOffer:
		winner, loser = b, a
	case b.SignalingState() == webrtc.SignalingStateHaveRemoteOffer:
		winner, loser = a, b
	}
	require.NotNil(t, loser, "exactly one side must roll back")
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, winner.SignalingState())

	answer, err := loser.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, loser.SetLocalDescription(answer))
	require.NoError(t, winner.SetRemoteDescription(answer))

	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, b.SignalingState())

	wb, lb := winner.Bindings(), loser.Bindings()
	require.Len(t, wb, 1)
	require.Len(t, lb, 1)
	assert.Equal(t, wb[0].Mid(), lb[0].Mid())
	assert.Equal(t, wb[0].Codec().MimeType, lb[0].Codec().MimeType)
	assert.Equal(t, wb[0].Codec().PayloadType, lb[0].Codec().PayloadType)
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, wb[0].Direction())
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, lb[0].Direction())

	// The side that rolled back answers, so it is controlled.
	assert.Equal(t, transport.ICERoleControlling, iceRole(winner))
	assert.Equal(t, transport.ICERoleControlled, iceRole(loser))
	waitConnected(t, a, b)
	assert.Equal(t, transport.ICERoleControlled, loser.agent.Role())
}

func iceRole(p *testPeer) transport.ICERole {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iceRole
}

func TestGlareUnresolved(t *testing.T) {
	same := WithTieBreaker(func(*description.Description) string { return "tie" })
	a, b := newTestPeers(t, []SessionOption{same}, []SessionOption{same})

	for _, p := range []*testPeer{a, b} {
		_, err := p.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendrecv)
		require.NoError(t, err)
	}
	offerA, err := a.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offerA))
	offerB, err := b.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(offerB))

	err = a.SetRemoteDescription(offerB)
	assert.ErrorIs(t, err, ErrGlareUnresolved)
	var negErr *NegotiationError
	assert.True(t, errors.As(err, &negErr))
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, a.SignalingState())

	// The session stays usable: rolling back lets the other offer through.
	require.NoError(t, a.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}))
	require.NoError(t, a.SetRemoteDescription(offerB))
	assert.Equal(t, webrtc.SignalingStateHaveRemoteOffer, a.SignalingState())
}

func TestResolveGlare(t *testing.T) {
	low := &description.Description{SessionID: 9}
	high := &description.Description{SessionID: 10}

	assert.Equal(t, glareRollback, resolveGlare(SessionIDTieBreaker, low, high))
	assert.Equal(t, glareIgnore, resolveGlare(SessionIDTieBreaker, high, low))
	assert.Equal(t, glareUnresolved, resolveGlare(SessionIDTieBreaker, low, low))
}

func TestLocalRollback(t *testing.T) {
	p := newTestPeer(t, transporttest.NewPair().A)

	_, err := p.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	<-p.needed

	offer, err := p.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, p.SetLocalDescription(offer))
	assert.Equal(t, "0", p.Bindings()[0].Mid())

	require.NoError(t, p.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}))
	assert.Equal(t, webrtc.SignalingStateStable, p.SignalingState())
	assert.Empty(t, p.Bindings()[0].Mid())

	select {
	case <-p.needed:
	case <-time.After(waitTimeout):
		t.Fatal("rolled back changes must still need negotiation")
	}

	// A rolled back mid is never offered again.
	offer, err = p.CreateOffer(nil)
	require.NoError(t, err)
	d := parseOffer(t, offer)
	require.Len(t, d.Media, 1)
	assert.Equal(t, "1", d.Media[0].Mid)

	err = p.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRollbackOfRepeatedOffer(t *testing.T) {
	p := newTestPeer(t, transporttest.NewPair().A)

	_, err := p.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	<-p.needed

	for i := 0; i < 2; i++ {
		offer, err := p.CreateOffer(nil)
		require.NoError(t, err)
		require.NoError(t, p.SetLocalDescription(offer))
		require.Equal(t, webrtc.SignalingStateHaveLocalOffer, p.SignalingState())
	}

	require.NoError(t, p.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}))
	select {
	case <-p.needed:
	case <-time.After(waitTimeout):
		t.Fatal("the endpoint was never answered and still needs negotiation")
	}
}

func TestRemoteRollback(t *testing.T) {
	a, b := newTestPeers(t, nil, nil)

	_, err := a.AddEndpoint(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverDirectionSendonly)
	require.NoError(t, err)
	offer, err := a.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offer))

	require.NoError(t, b.SetRemoteDescription(offer))
	require.Len(t, b.Bindings(), 1)

	require.NoError(t, b.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}))
	assert.Equal(t, webrtc.SignalingStateStable, b.SignalingState())
	assert.Empty(t, b.Bindings(), "lines created by the rolled back offer are removed")
	assert.Nil(t, b.RemoteDescription())
}

func TestMidsAreNeverReused(t *testing.T) {
	a, b := newTestPeers(t, nil, nil)

	seen := map[string]*TrackBinding{}
	var previous *PadBridge
	for i := 0; i < 5; i++ {
		pad, err := a.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendonly)
		require.NoError(t, err)
		if previous != nil {
			require.NoError(t, previous.Close())
		}
		previous = pad
		negotiate(t, a, b)

		for _, binding := range a.Bindings() {
			mid := binding.Mid()
			require.NotEmpty(t, mid)
			if other, ok := seen[mid]; ok {
				assert.Same(t, other, binding, "mid %s moved to another line", mid)
			}
			seen[mid] = binding
		}
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, "4", previous.Mid())

	// Only the last endpoint still carries media.
	for _, binding := range a.Bindings() {
		want := webrtc.RTPTransceiverDirectionInactive
		if binding.Mid() == "4" {
			want = webrtc.RTPTransceiverDirectionSendonly
		}
		assert.Equal(t, want, binding.Direction(), "mid %s", binding.Mid())
	}
}

func TestNegotiationNeeded(t *testing.T) {
	a, b := newTestPeers(t, nil, nil)

	pad, err := a.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	select {
	case <-a.needed:
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for negotiation needed")
	}

	negotiate(t, a, b)
	drain(a.needed)

	require.NoError(t, a.SetEndpointDirection(pad, webrtc.RTPTransceiverDirectionRecvonly))
	select {
	case <-a.needed:
	case <-time.After(waitTimeout):
		t.Fatal("a direction change needs negotiation")
	}

	negotiate(t, a, b)
	assert.Equal(t, webrtc.RTPTransceiverDirectionInactive, bindingByMid(t, a, "0").Direction(),
		"the remote side only receives too")
	d := parseOffer(t, *a.LocalDescription())
	assert.Equal(t, webrtc.RTPTransceiverDirectionRecvonly, d.Media[0].Direction)
}

func TestDescriptionMismatch(t *testing.T) {
	a, b := newTestPeers(t, nil, nil)

	_, err := a.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	offer, err := a.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offer))

	// An answer to a different offer.
	_, err = b.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	_, err = b.AddEndpoint(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverDirectionSendrecv)
	require.NoError(t, err)
	other, err := b.CreateOffer(nil)
	require.NoError(t, err)

	err = a.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: other.SDP})
	assert.ErrorIs(t, err, ErrDescriptionMismatch)
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, a.SignalingState())

	err = a.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\nbogus"})
	assert.ErrorIs(t, err, ErrMalformedDescription)

	_, err = b.CreateAnswer()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMidAllocator(t *testing.T) {
	var a midAllocator
	assert.Equal(t, "0", a.allocate())
	assert.Equal(t, "1", a.allocate())

	a.observe("audio")
	a.observe("01")
	a.observe("1")
	assert.Equal(t, "2", a.allocate())

	a.observe("7")
	assert.Equal(t, "8", a.allocate())
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestRenegotiate(t *testing.T) {
	a, b := newTestPeers(t, nil, nil)

	pad, err := a.AddEndpoint(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverDirectionSendonly)
	require.NoError(t, err)

	offer, err := a.Renegotiate()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, a.SignalingState())
	assert.Equal(t, "0", pad.Mid(), "the proposed mid is committed")
	require.NotNil(t, a.LocalDescription())
	assert.Equal(t, webrtc.SDPTypeOffer, a.LocalDescription().Type)

	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, a.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendonly, pad.binding.Direction())

	require.NoError(t, b.SetRemoteDescription(mustOffer(t, a)))
	_, err = b.Renegotiate()
	assert.ErrorIs(t, err, ErrInvalidState, "no offer while a remote offer is pending")
}

func mustOffer(t *testing.T, p *testPeer) webrtc.SessionDescription {
	t.Helper()
	offer, err := p.Renegotiate()
	require.NoError(t, err)
	return offer
}
