package codec

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteCodec(mime string, pt uint8, clockRate uint32, channels uint16) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: mime, ClockRate: clockRate, Channels: channels},
		PayloadType:        webrtc.PayloadType(pt),
	}
}

func TestMatch(t *testing.T) {
	local := Filter(Default(), webrtc.RTPCodecTypeVideo)
	require.Len(t, local, 3)

	t.Run("LocalPreference", func(t *testing.T) {
		remote := []webrtc.RTPCodecParameters{
			remoteCodec("video/H264", 100, 90000, 0),
			remoteCodec("video/vp8", 120, 90000, 0),
		}
		c, ok := Match(local, remote)
		require.True(t, ok)
		assert.Equal(t, webrtc.MimeTypeVP8, c.MimeType)
		assert.Equal(t, webrtc.PayloadType(120), c.PayloadType)
		assert.Equal(t, webrtc.PayloadType(96), local[0].PayloadType, "local list must not be modified")
	})

	t.Run("NoIntersection", func(t *testing.T) {
		_, ok := Match(local, []webrtc.RTPCodecParameters{remoteCodec("video/AV1", 45, 90000, 0)})
		assert.False(t, ok)
	})

	t.Run("Channels", func(t *testing.T) {
		audio := Filter(Default(), webrtc.RTPCodecTypeAudio)
		_, ok := Match(audio, []webrtc.RTPCodecParameters{remoteCodec(webrtc.MimeTypeOpus, 111, 48000, 1)})
		assert.False(t, ok)

		c, ok := Match(audio, []webrtc.RTPCodecParameters{remoteCodec(webrtc.MimeTypePCMU, 0, 8000, 1)})
		require.True(t, ok)
		assert.Equal(t, "PCMU", c.Name())
	})

	t.Run("Intersect", func(t *testing.T) {
		h264 := remoteCodec("video/H264", 100, 90000, 0)
		h264.SDPFmtpLine = "packetization-mode=1;profile-level-id=42e01f"
		got := Intersect(local, []webrtc.RTPCodecParameters{
			h264,
			remoteCodec("video/VP9", 101, 90000, 0),
		})
		require.Len(t, got, 2)
		assert.Equal(t, webrtc.MimeTypeVP9, got[0].MimeType)
		assert.Equal(t, webrtc.MimeTypeH264, got[1].MimeType)
	})
}

func TestMatchH264Fmtp(t *testing.T) {
	local := []*RTPCodec{NewRTPH264Codec(102, 90000)}
	h264 := func(pt uint8, fmtp string) webrtc.RTPCodecParameters {
		c := remoteCodec(webrtc.MimeTypeH264, pt, 90000, 0)
		c.SDPFmtpLine = fmtp
		return c
	}

	testCases := map[string]struct {
		remote   []webrtc.RTPCodecParameters
		expected webrtc.PayloadType
	}{
		"PacketizationMode": {
			remote: []webrtc.RTPCodecParameters{
				h264(104, "packetization-mode=0;profile-level-id=42001f"),
				h264(106, "packetization-mode=1;profile-level-id=42e01f"),
			},
			expected: 106,
		},
		"LevelMayDiffer": {
			remote:   []webrtc.RTPCodecParameters{h264(108, "profile-level-id=42e034;packetization-mode=1")},
			expected: 108,
		},
		"OtherProfile": {
			remote: []webrtc.RTPCodecParameters{h264(110, "packetization-mode=1;profile-level-id=64001f")},
		},
		"DefaultMode": {
			remote: []webrtc.RTPCodecParameters{h264(112, "profile-level-id=42e01f")},
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			c, ok := Match(local, testCase.remote)
			if testCase.expected == 0 {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, testCase.expected, c.PayloadType)
			assert.Contains(t, c.SDPFmtpLine, "packetization-mode=1")
		})
	}

	t.Run("OtherCodecsIgnoreFmtp", func(t *testing.T) {
		vp8 := remoteCodec(webrtc.MimeTypeVP8, 96, 90000, 0)
		vp8.SDPFmtpLine = "max-fr=30"
		_, ok := Match([]*RTPCodec{NewRTPVP8Codec(96, 90000)}, []webrtc.RTPCodecParameters{vp8})
		assert.True(t, ok)
	})
}

func TestRegistry(t *testing.T) {
	c, err := Build("AUDIO/OPUS", 109)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), c.ClockRate)
	assert.Equal(t, webrtc.PayloadType(109), c.PayloadType)

	_, err = Build("video/AV1", 45)
	assert.Error(t, err)

	assert.True(t, Supported(webrtc.RTPCodecTypeVideo, "VP8", 90000))
	assert.False(t, Supported(webrtc.RTPCodecTypeVideo, "VP8", 48000))
	assert.False(t, Supported(webrtc.RTPCodecTypeAudio, "VP8", 90000))
}
