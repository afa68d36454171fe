package codec

import (
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// RTPCodec couples negotiated codec parameters with the RTP framing used to
// carry the codec.
type RTPCodec struct {
	webrtc.RTPCodecParameters
	Kind webrtc.RTPCodecType
	// Latency is the duration of one audio frame. Zero for video.
	Latency time.Duration

	newPayloader     func() rtp.Payloader
	newDepacketizer  func() rtp.Depacketizer
	keyFrameRequests bool
}

// Name returns the encoding name as it appears in rtpmap, e.g. "VP8".
func (c *RTPCodec) Name() string {
	_, name, _ := strings.Cut(c.MimeType, "/")
	return name
}

// NewPayloader creates a payloader for this codec. Payloaders carry per
// stream state so each sender gets its own.
func (c *RTPCodec) NewPayloader() rtp.Payloader {
	return c.newPayloader()
}

// NewDepacketizer creates a depacketizer for this codec.
func (c *RTPCodec) NewDepacketizer() rtp.Depacketizer {
	return c.newDepacketizer()
}

// KeyFrames reports whether the codec uses key frame requests.
func (c *RTPCodec) KeyFrames() bool {
	return c.keyFrameRequests
}

// WithPayloadType returns a copy of c using pt.
func (c *RTPCodec) WithPayloadType(pt webrtc.PayloadType) *RTPCodec {
	clone := *c
	clone.PayloadType = pt
	clone.RTCPFeedback = append([]webrtc.RTCPFeedback(nil), c.RTCPFeedback...)
	return &clone
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: webrtc.TypeRTCPFBNACK},
	{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
	{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
}

func newVideoCodec(mime string, pt uint8, clockRate uint32, fmtp string, payloader func() rtp.Payloader, depacketizer func() rtp.Depacketizer) *RTPCodec {
	return &RTPCodec{
		RTPCodecParameters: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     mime,
				ClockRate:    clockRate,
				SDPFmtpLine:  fmtp,
				RTCPFeedback: append([]webrtc.RTCPFeedback(nil), videoFeedback...),
			},
			PayloadType: webrtc.PayloadType(pt),
		},
		Kind:             webrtc.RTPCodecTypeVideo,
		newPayloader:     payloader,
		newDepacketizer:  depacketizer,
		keyFrameRequests: true,
	}
}

func newAudioCodec(mime string, pt uint8, clockRate uint32, channels uint16, fmtp string, latency time.Duration, payloader func() rtp.Payloader, depacketizer func() rtp.Depacketizer) *RTPCodec {
	return &RTPCodec{
		RTPCodecParameters: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    mime,
				ClockRate:   clockRate,
				Channels:    channels,
				SDPFmtpLine: fmtp,
			},
			PayloadType: webrtc.PayloadType(pt),
		},
		Kind:            webrtc.RTPCodecTypeAudio,
		Latency:         latency,
		newPayloader:    payloader,
		newDepacketizer: depacketizer,
	}
}

// NewRTPVP8Codec is a helper to create a VP8 codec.
func NewRTPVP8Codec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newVideoCodec(webrtc.MimeTypeVP8, payloadType, clockRate, "",
		func() rtp.Payloader { return &codecs.VP8Payloader{EnablePictureID: true} },
		func() rtp.Depacketizer { return &codecs.VP8Packet{} },
	)
}

// NewRTPVP9Codec is a helper to create a VP9 codec.
func NewRTPVP9Codec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newVideoCodec(webrtc.MimeTypeVP9, payloadType, clockRate, "profile-id=0",
		func() rtp.Payloader { return &codecs.VP9Payloader{} },
		func() rtp.Depacketizer { return &codecs.VP9Packet{} },
	)
}

// NewRTPH264Codec is a helper to create an H264 codec.
func NewRTPH264Codec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newVideoCodec(webrtc.MimeTypeH264, payloadType, clockRate,
		"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		func() rtp.Payloader { return &codecs.H264Payloader{} },
		func() rtp.Depacketizer { return &codecs.H264Packet{} },
	)
}

// NewRTPOpusCodec is a helper to create an Opus codec.
func NewRTPOpusCodec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newAudioCodec(webrtc.MimeTypeOpus, payloadType, clockRate, 2, "minptime=10;useinbandfec=1", 20*time.Millisecond,
		func() rtp.Payloader { return &codecs.OpusPayloader{} },
		func() rtp.Depacketizer { return &codecs.OpusPacket{} },
	)
}

// NewRTPG722Codec is a helper to create a G722 codec.
func NewRTPG722Codec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newAudioCodec(webrtc.MimeTypeG722, payloadType, clockRate, 0, "", 20*time.Millisecond,
		func() rtp.Payloader { return &codecs.G722Payloader{} },
		func() rtp.Depacketizer { return &sampleDepacketizer{} },
	)
}

// NewRTPPCMUCodec is a helper to create a G.711 mu-law codec.
func NewRTPPCMUCodec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newAudioCodec(webrtc.MimeTypePCMU, payloadType, clockRate, 0, "", 20*time.Millisecond,
		func() rtp.Payloader { return &codecs.G711Payloader{} },
		func() rtp.Depacketizer { return &sampleDepacketizer{} },
	)
}

// NewRTPPCMACodec is a helper to create a G.711 a-law codec.
func NewRTPPCMACodec(payloadType uint8, clockRate uint32) *RTPCodec {
	return newAudioCodec(webrtc.MimeTypePCMA, payloadType, clockRate, 0, "", 20*time.Millisecond,
		func() rtp.Payloader { return &codecs.G711Payloader{} },
		func() rtp.Depacketizer { return &sampleDepacketizer{} },
	)
}

// sampleDepacketizer handles sample based audio where each packet carries
// whole samples and needs no reassembly.
type sampleDepacketizer struct{}

func (*sampleDepacketizer) Unmarshal(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, errShortPacket
	}
	return append([]byte(nil), packet...), nil
}

func (*sampleDepacketizer) IsPartitionHead([]byte) bool {
	return true
}

func (*sampleDepacketizer) IsPartitionTail(bool, []byte) bool {
	return true
}
