// Package description converts negotiated session state to and from SDP
// offer/answer text.
package description

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMalformed is returned when a session description can't be parsed.
var ErrMalformed = errors.New("description: malformed session description")

// Fingerprint is a DTLS certificate fingerprint.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// Codec is one payload format of a media line.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
	Fmtp        string
	// Feedback holds rtcp-fb values without the payload type, e.g. "nack pli".
	Feedback []string
}

// Media describes one media line.
type Media struct {
	Mid       string
	Kind      string
	Direction webrtc.RTPTransceiverDirection
	// Codecs in preference order. A media without codecs is rejected.
	Codecs []Codec

	SSRC     uint32
	CNAME    string
	StreamID string
	TrackID  string
}

// Rejected reports whether the line carries no media.
func (m *Media) Rejected() bool {
	return len(m.Codecs) == 0
}

// Normalize returns a copy of d in the form Parse yields for its rendering:
// a rejected line keeps only its mid and kind and becomes inactive.
func Normalize(d *Description) *Description {
	out := *d
	out.Media = make([]Media, len(d.Media))
	for i, m := range d.Media {
		if m.Rejected() {
			m = Media{Mid: m.Mid, Kind: m.Kind, Direction: webrtc.RTPTransceiverDirectionInactive}
		}
		out.Media[i] = m
	}
	return &out
}

// Description is the negotiated content of one session description. All
// media lines are bundled on one transport sharing the ICE and DTLS
// parameters.
type Description struct {
	SessionID      uint64
	SessionVersion uint64

	ICEUfrag    string
	ICEPwd      string
	Fingerprint Fingerprint
	// Setup is the DTLS role attribute: actpass, active or passive.
	Setup string

	// Candidates are candidate attribute values, without the "candidate:" prefix.
	Candidates      []string
	EndOfCandidates bool

	// MidExtension is the RTP header extension id carrying the mid, 0 when
	// not negotiated.
	MidExtension int

	Media []Media
}

// MediaByMid returns the media line identified by mid.
func (d *Description) MediaByMid(mid string) (*Media, bool) {
	for i := range d.Media {
		if d.Media[i].Mid == mid {
			return &d.Media[i], true
		}
	}
	return nil, false
}

// Bundle returns the mids of the lines that carry media.
func (d *Description) Bundle() []string {
	var mids []string
	for i := range d.Media {
		if !d.Media[i].Rejected() {
			mids = append(mids, d.Media[i].Mid)
		}
	}
	return mids
}
