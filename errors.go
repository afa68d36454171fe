package mediabridge

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("mediabridge: session closed")
	// ErrInvalidState is returned when an operation isn't allowed in the
	// current signaling state.
	ErrInvalidState = errors.New("mediabridge: invalid signaling state")
	// ErrNoCommonCodec is reported for a media line whose codec lists share
	// nothing.
	ErrNoCommonCodec = errors.New("mediabridge: no common codec")
	// ErrMalformedDescription wraps SDP parse failures.
	ErrMalformedDescription = errors.New("mediabridge: malformed session description")
	// ErrGlareUnresolved is returned when both offers carry the same
	// tie-breaker value.
	ErrGlareUnresolved = errors.New("mediabridge: glare can't be resolved")
	// ErrDescriptionMismatch is returned when a description doesn't match
	// the pending round, e.g. an answer with different mids.
	ErrDescriptionMismatch = errors.New("mediabridge: description doesn't match the pending negotiation")
	// ErrTransportFailed is returned by CreateOffer after a fatal transport
	// error until RestartICE is called.
	ErrTransportFailed = errors.New("mediabridge: transport failed")
	// ErrUnknownEndpoint is returned for a PadBridge not owned by the session.
	ErrUnknownEndpoint = errors.New("mediabridge: unknown endpoint")
	// ErrInvalidDirection is returned for an endpoint direction that can't
	// carry media.
	ErrInvalidDirection = errors.New("mediabridge: invalid endpoint direction")
	// ErrInvalidKind is returned for an endpoint that is neither audio nor
	// video.
	ErrInvalidKind = errors.New("mediabridge: invalid endpoint kind")

	ErrPayloadTypeMismatch = errors.New("mediabridge: payload type not negotiated")
	ErrQueueOverflow       = errors.New("mediabridge: queue overflow")
	ErrReassembly          = errors.New("mediabridge: frame reassembly failed")
	ErrUnroutable          = errors.New("mediabridge: packet can't be routed")
)

// NegotiationError is a recoverable offer/answer failure. Mid is empty when
// the failure isn't tied to one media line.
type NegotiationError struct {
	Mid string
	Err error
}

func (e *NegotiationError) Error() string {
	if e.Mid == "" {
		return fmt.Sprintf("negotiation failed: %v", e.Err)
	}
	return fmt.Sprintf("negotiation failed for mid %s: %v", e.Mid, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// TransportError is a fatal ICE or DTLS failure. The session stays usable
// only after RestartICE.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MediaPathError describes a dropped packet or unit. Media path errors are
// logged and counted, never returned.
type MediaPathError struct {
	Mid string
	Err error
}

func (e *MediaPathError) Error() string {
	return fmt.Sprintf("media path error on mid %s: %v", e.Mid, e.Err)
}

func (e *MediaPathError) Unwrap() error {
	return e.Err
}
