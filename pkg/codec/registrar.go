package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var errShortPacket = errors.New("codec: packet is too short")

// Builder creates a codec description for the given payload type and clock rate.
type Builder func(payloadType uint8, clockRate uint32) *RTPCodec

type registration struct {
	builder   Builder
	clockRate uint32
}

var builders = make(map[string]registration)

func init() {
	Register(webrtc.MimeTypeVP8, 90000, NewRTPVP8Codec)
	Register(webrtc.MimeTypeVP9, 90000, NewRTPVP9Codec)
	Register(webrtc.MimeTypeH264, 90000, NewRTPH264Codec)
	Register(webrtc.MimeTypeOpus, 48000, NewRTPOpusCodec)
	Register(webrtc.MimeTypeG722, 8000, NewRTPG722Codec)
	Register(webrtc.MimeTypePCMU, 8000, NewRTPPCMUCodec)
	Register(webrtc.MimeTypePCMA, 8000, NewRTPPCMACodec)
}

// Register makes a codec available to Build under its mime type. Register is
// meant to be called from init functions.
func Register(mimeType string, clockRate uint32, builder Builder) {
	builders[strings.ToLower(mimeType)] = registration{builder: builder, clockRate: clockRate}
}

// Build creates the codec registered under mimeType.
func Build(mimeType string, payloadType uint8) (*RTPCodec, error) {
	r, ok := builders[strings.ToLower(mimeType)]
	if !ok {
		return nil, fmt.Errorf("codec: can't find %s codec", mimeType)
	}

	return r.builder(payloadType, r.clockRate), nil
}

// Supported reports whether a codec with the given encoding name and clock
// rate can be carried.
func Supported(kind webrtc.RTPCodecType, name string, clockRate uint32) bool {
	r, ok := builders[strings.ToLower(kind.String()+"/"+name)]
	return ok && r.clockRate == clockRate
}

// Default returns the codecs offered when a session isn't configured with its
// own list, in preference order.
func Default() []*RTPCodec {
	return []*RTPCodec{
		NewRTPVP8Codec(96, 90000),
		NewRTPVP9Codec(98, 90000),
		NewRTPH264Codec(102, 90000),
		NewRTPOpusCodec(111, 48000),
		NewRTPG722Codec(9, 8000),
		NewRTPPCMUCodec(0, 8000),
		NewRTPPCMACodec(8, 8000),
	}
}

// Filter returns the codecs of the given kind, keeping their order.
func Filter(codecs []*RTPCodec, kind webrtc.RTPCodecType) []*RTPCodec {
	var out []*RTPCodec
	for _, c := range codecs {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
