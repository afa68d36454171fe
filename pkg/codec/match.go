package codec

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// Equal reports whether a and b describe the same encoding. Payload types are
// not compared. H264 also needs the same packetization-mode and profile.
func Equal(a, b webrtc.RTPCodecCapability) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) || a.ClockRate != b.ClockRate {
		return false
	}
	if channels(a.Channels) != channels(b.Channels) {
		return false
	}

	return fmtpCompatible(a.MimeType, a.SDPFmtpLine, b.SDPFmtpLine)
}

func channels(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

// Match picks the first codec of local, in local preference order, that is
// also present in remote. The result carries the remote payload type. ok is
// false when the two lists share no codec.
func Match(local []*RTPCodec, remote []webrtc.RTPCodecParameters) (*RTPCodec, bool) {
	for _, l := range local {
		for _, r := range remote {
			if Equal(l.RTPCodecCapability, r.RTPCodecCapability) {
				return l.WithPayloadType(r.PayloadType), true
			}
		}
	}

	return nil, false
}

// Intersect returns the codecs of local that are also present in remote, in
// local preference order and with remote payload types.
func Intersect(local []*RTPCodec, remote []webrtc.RTPCodecParameters) []*RTPCodec {
	var out []*RTPCodec
	for _, l := range local {
		for _, r := range remote {
			if Equal(l.RTPCodecCapability, r.RTPCodecCapability) {
				out = append(out, l.WithPayloadType(r.PayloadType))
				break
			}
		}
	}
	return out
}
