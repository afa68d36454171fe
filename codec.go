package mediabridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/pion/mediabridge/pkg/codec"
	"github.com/pion/mediabridge/pkg/description"
)

// CodecSelector is a container of the audio and video codecs a session can
// negotiate, in preference order.
type CodecSelector struct {
	videoCodecs []*codec.RTPCodec
	audioCodecs []*codec.RTPCodec
}

// NewCodecSelector sorts codecs by kind, keeping their order.
func NewCodecSelector(codecs ...*codec.RTPCodec) *CodecSelector {
	return &CodecSelector{
		videoCodecs: codec.Filter(codecs, webrtc.RTPCodecTypeVideo),
		audioCodecs: codec.Filter(codecs, webrtc.RTPCodecTypeAudio),
	}
}

// Codecs returns the codecs of kind.
func (selector *CodecSelector) Codecs(kind webrtc.RTPCodecType) []*codec.RTPCodec {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return append([]*codec.RTPCodec(nil), selector.videoCodecs...)
	case webrtc.RTPCodecTypeAudio:
		return append([]*codec.RTPCodec(nil), selector.audioCodecs...)
	default:
		return nil
	}
}

// selectCodecsByNames returns the codecs of kind named in codecNames, in the
// order of codecNames. No names selects all codecs of kind.
func (selector *CodecSelector) selectCodecsByNames(kind webrtc.RTPCodecType, codecNames ...string) ([]*codec.RTPCodec, error) {
	available := selector.Codecs(kind)
	if len(codecNames) == 0 {
		if len(available) == 0 {
			return nil, fmt.Errorf("no %s codec configured", kind)
		}
		return available, nil
	}

	var selected []*codec.RTPCodec
	var errReasons []string
	for _, wantCodec := range codecNames {
		found := false
		for _, c := range available {
			if strings.EqualFold(c.Name(), wantCodec) {
				selected = append(selected, c)
				found = true
				break
			}
		}
		if !found {
			errReasons = append(errReasons, fmt.Sprintf("%s: not configured for %s", wantCodec, kind))
		}
	}

	if len(selected) == 0 {
		return nil, errors.New(strings.Join(errReasons, "\n"))
	}
	return selected, nil
}

// supports reports whether a codec of a remote description can be carried.
func (selector *CodecSelector) supports(kind string, c description.Codec) bool {
	t := webrtc.NewRTPCodecType(kind)
	for _, l := range selector.Codecs(t) {
		if codec.Equal(l.RTPCodecCapability, capability(t, c)) {
			return true
		}
	}
	return false
}

func capability(kind webrtc.RTPCodecType, c description.Codec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    kind.String() + "/" + c.Name,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.Fmtp,
	}
}

func toParameters(kind webrtc.RTPCodecType, codecs []description.Codec) []webrtc.RTPCodecParameters {
	params := make([]webrtc.RTPCodecParameters, 0, len(codecs))
	for _, c := range codecs {
		params = append(params, webrtc.RTPCodecParameters{
			RTPCodecCapability: capability(kind, c),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		})
	}
	return params
}

func toDescriptionCodecs(codecs []*codec.RTPCodec) []description.Codec {
	out := make([]description.Codec, 0, len(codecs))
	for _, c := range codecs {
		dc := description.Codec{
			PayloadType: uint8(c.PayloadType),
			Name:        c.Name(),
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
			Fmtp:        c.SDPFmtpLine,
		}
		for _, fb := range c.RTCPFeedback {
			v := fb.Type
			if fb.Parameter != "" {
				v += " " + fb.Parameter
			}
			dc.Feedback = append(dc.Feedback, v)
		}
		out = append(out, dc)
	}
	return out
}
