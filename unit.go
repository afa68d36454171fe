package mediabridge

import "time"

// UnitKind tells what a Unit carries.
type UnitKind int

const (
	// UnitAudio is one encoded audio frame.
	UnitAudio UnitKind = iota + 1
	// UnitVideo is one encoded video frame, possibly larger than the MTU.
	UnitVideo
	// UnitRTP is a complete RTP packet. Outbound packets get the negotiated
	// SSRC, payload type and sequence numbering rewritten.
	UnitRTP
)

func (k UnitKind) String() string {
	switch k {
	case UnitAudio:
		return "audio"
	case UnitVideo:
		return "video"
	case UnitRTP:
		return "rtp"
	default:
		return "unknown"
	}
}

// Unit is the envelope exchanged with pipeline endpoints.
type Unit struct {
	Kind UnitKind
	// Timestamp is the RTP timestamp for inbound units. It is informative for
	// outbound frames, which are timestamped by the packetizer.
	Timestamp uint32
	// Sequence is the RTP sequence number of the first packet of the unit.
	Sequence uint16
	Marker   bool
	// Duration of an outbound frame. Zero lets the codec clock decide.
	Duration time.Duration
	Payload  []byte
}
