package mediabridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
)

const (
	eventSetLocalOffer   = "set-local-offer"
	eventSetRemoteOffer  = "set-remote-offer"
	eventSetLocalAnswer  = "set-local-answer"
	eventSetRemoteAnswer = "set-remote-answer"
	eventRollback        = "rollback"
	eventFail            = "fail"
	eventClose           = "close"
)

var (
	stateStable          = webrtc.SignalingStateStable.String()
	stateHaveLocalOffer  = webrtc.SignalingStateHaveLocalOffer.String()
	stateHaveRemoteOffer = webrtc.SignalingStateHaveRemoteOffer.String()
	stateClosed          = webrtc.SignalingStateClosed.String()
)

// signalingMachine tracks the offer/answer state. It is driven with
// Session.mu held.
type signalingMachine struct {
	fsm *fsm.FSM
}

func newSignalingMachine(onChange func(from, to webrtc.SignalingState)) *signalingMachine {
	all := []string{stateStable, stateHaveLocalOffer, stateHaveRemoteOffer}
	pending := []string{stateHaveLocalOffer, stateHaveRemoteOffer}

	return &signalingMachine{
		fsm: fsm.NewFSM(
			stateStable,
			fsm.Events{
				{Name: eventSetLocalOffer, Src: []string{stateStable, stateHaveLocalOffer}, Dst: stateHaveLocalOffer},
				{Name: eventSetRemoteOffer, Src: []string{stateStable}, Dst: stateHaveRemoteOffer},
				{Name: eventSetLocalAnswer, Src: []string{stateHaveRemoteOffer}, Dst: stateStable},
				{Name: eventSetRemoteAnswer, Src: []string{stateHaveLocalOffer}, Dst: stateStable},
				{Name: eventRollback, Src: pending, Dst: stateStable},
				{Name: eventFail, Src: all, Dst: stateStable},
				{Name: eventClose, Src: all, Dst: stateClosed},
			},
			fsm.Callbacks{
				"after_event": func(_ context.Context, e *fsm.Event) {
					if e.Src != e.Dst {
						onChange(parseSignalingState(e.Src), parseSignalingState(e.Dst))
					}
				},
			},
		),
	}
}

func parseSignalingState(s string) webrtc.SignalingState {
	switch s {
	case stateStable:
		return webrtc.SignalingStateStable
	case stateHaveLocalOffer:
		return webrtc.SignalingStateHaveLocalOffer
	case stateHaveRemoteOffer:
		return webrtc.SignalingStateHaveRemoteOffer
	case stateClosed:
		return webrtc.SignalingStateClosed
	default:
		return webrtc.SignalingStateUnknown
	}
}

func (m *signalingMachine) State() webrtc.SignalingState {
	return parseSignalingState(m.fsm.Current())
}

// can reports whether event is allowed in the current state.
func (m *signalingMachine) can(event string) bool {
	return m.fsm.Can(event)
}

// fire runs event. Staying in the same state isn't an error.
func (m *signalingMachine) fire(event string) error {
	err := m.fsm.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return &NegotiationError{Err: fmt.Errorf("%w: %s in %s", ErrInvalidState, event, m.fsm.Current())}
}
