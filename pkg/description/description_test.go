package description

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescription() *Description {
	return &Description{
		SessionID:      4611731400430051336,
		SessionVersion: 3,
		ICEUfrag:       "uFrAg",
		ICEPwd:         "pAsSwOrDpAsSwOrDpAsSwOrD",
		Fingerprint: Fingerprint{
			Algorithm: "sha-256",
			Value:     "2E:F0:A8:E1:0B:21:3A:7C:24:62:93:9C:6B:5C:1F:B6:24:8E:AE:EF:DF:F8:69:02:65:16:2D:9F:39:A1:34:3C",
		},
		Setup: "actpass",
		Candidates: []string{
			"1966762133 1 udp 2130706431 192.168.1.7 50000 typ host",
			"1966762134 1 udp 1694498815 203.0.113.9 50001 typ srflx raddr 192.168.1.7 rport 50000",
		},
		EndOfCandidates: true,
		MidExtension:    4,
		Media: []Media{
			{
				Mid:       "0",
				Kind:      "video",
				Direction: webrtc.RTPTransceiverDirectionSendrecv,
				Codecs: []Codec{
					{PayloadType: 96, Name: "VP8", ClockRate: 90000, Feedback: []string{"nack", "nack pli", "ccm fir"}},
					{PayloadType: 102, Name: "H264", ClockRate: 90000, Fmtp: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
				},
				SSRC:     1122334455,
				CNAME:    "cname-a",
				StreamID: "stream-a",
				TrackID:  "track-video",
			},
			{
				Mid:       "1",
				Kind:      "audio",
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
				Codecs: []Codec{
					{PayloadType: 111, Name: "opus", ClockRate: 48000, Channels: 2, Fmtp: "minptime=10;useinbandfec=1"},
					{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
				},
			},
			{
				Mid:       "2",
				Kind:      "video",
				Direction: webrtc.RTPTransceiverDirectionInactive,
			},
		},
	}
}

func TestRenderParseFixedPoint(t *testing.T) {
	d := sampleDescription()

	first, err := Render(d)
	require.NoError(t, err)

	parsed, err := Parse(first)
	require.NoError(t, err)

	if diff := cmp.Diff(d, parsed, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("parsed description differs (-want +got):\n%s", diff)
	}

	second, err := Render(parsed)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderParseRejectedMedia(t *testing.T) {
	d := sampleDescription()
	d.Media = append(d.Media, Media{
		Mid:       "9",
		Kind:      "video",
		Direction: webrtc.RTPTransceiverDirectionSendonly,
		SSRC:      42,
		CNAME:     "cname",
		StreamID:  "stream",
		TrackID:   "track",
	})

	raw, err := Render(d)
	require.NoError(t, err)
	parsed, err := Parse(raw)
	require.NoError(t, err)

	want := Normalize(d)
	if diff := cmp.Diff(want, parsed, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("parsed description differs (-want +got):\n%s", diff)
	}
	assert.Equal(t, Media{Mid: "9", Kind: "video", Direction: webrtc.RTPTransceiverDirectionInactive}, want.Media[len(want.Media)-1])
	assert.Equal(t, uint32(42), d.Media[len(d.Media)-1].SSRC, "d is left untouched")

	again, err := Render(want)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestRenderLayout(t *testing.T) {
	raw, err := Render(sampleDescription())
	require.NoError(t, err)

	for _, want := range []string{
		"a=group:BUNDLE 0 1\r\n",
		"a=fingerprint:sha-256 2E:F0",
		"m=video 9 UDP/TLS/RTP/SAVPF 96 102\r\n",
		"a=rtpmap:111 opus/48000/2\r\n",
		"a=rtcp-fb:96 nack pli\r\n",
		"a=extmap:4 " + SDESMidURI + "\r\n",
		"a=ssrc:1122334455 cname:cname-a\r\n",
		"a=msid:stream-a track-video\r\n",
		"m=video 0 UDP/TLS/RTP/SAVPF 0\r\n",
		"a=end-of-candidates\r\n",
	} {
		assert.Contains(t, raw, want)
	}
	assert.True(t, strings.HasSuffix(raw, "\r\n"))
}

func TestParseDropsUnsupportedCodecs(t *testing.T) {
	raw, err := Render(sampleDescription())
	require.NoError(t, err)

	onlyVideo := func(kind string, c Codec) bool {
		return kind == "video"
	}
	d, err := Parse(raw, WithCodecFilter(onlyVideo))
	require.NoError(t, err)

	require.Len(t, d.Media, 3)
	assert.Len(t, d.Media[0].Codecs, 2)
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, d.Media[0].Direction)
	assert.Empty(t, d.Media[1].Codecs)
	assert.Equal(t, webrtc.RTPTransceiverDirectionInactive, d.Media[1].Direction)
	assert.Equal(t, []string{"0"}, d.Bundle())
}

const browserOffer = "v=0\r\n" +
	"o=- 8234815063472698982 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1\r\n" +
	"a=extmap-allow-mixed\r\n" +
	"a=msid-semantic: WMS stream\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 63 9 0 8 13\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtcp:9 IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:9Fxb\r\n" +
	"a=ice-pwd:jQnxjSyp5dWHcG0bD8Ns3Xcq\r\n" +
	"a=ice-options:trickle\r\n" +
	"a=fingerprint:sha-256 a1:b2:c3:d4:e5:f6:07:18:29:3a:4b:5c:6d:7e:8f:90:a1:b2:c3:d4:e5:f6:07:18:29:3a:4b:5c:6d:7e:8f:90\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:0\r\n" +
	"a=extmap:9 urn:ietf:params:rtp-hdrext:sdes:mid\r\n" +
	"a=sendrecv\r\n" +
	"a=msid:stream audio-track\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtcp-fb:111 transport-cc\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"a=rtpmap:63 red/48000/2\r\n" +
	"a=rtpmap:9 G722/8000\r\n" +
	"a=rtpmap:13 CN/8000\r\n" +
	"a=ssrc:3735928559 cname:browser\r\n" +
	"a=ssrc:3735928559 msid:stream audio-track\r\n" +
	"a=candidate:842163049 1 udp 1677729535 198.51.100.4 61223 typ srflx raddr 0.0.0.0 rport 0 generation 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:9Fxb\r\n" +
	"a=ice-pwd:jQnxjSyp5dWHcG0bD8Ns3Xcq\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:1\r\n" +
	"a=recvonly\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=rtcp-fb:96 nack pli\r\n" +
	"a=rtpmap:97 rtx/90000\r\n" +
	"a=fmtp:97 apt=96\r\n" +
	"a=candidate:842163049 1 udp 1677729535 198.51.100.4 61223 typ srflx raddr 0.0.0.0 rport 0 generation 0\r\n"

func TestParseBrowserOffer(t *testing.T) {
	supported := map[string]bool{"opus": true, "G722": true, "PCMU": true, "PCMA": true, "VP8": true}
	d, err := Parse(browserOffer, WithCodecFilter(func(kind string, c Codec) bool {
		return supported[c.Name]
	}))
	require.NoError(t, err)

	assert.Equal(t, uint64(8234815063472698982), d.SessionID)
	assert.Equal(t, "9Fxb", d.ICEUfrag)
	assert.Equal(t, "actpass", d.Setup)
	assert.Equal(t, "sha-256", d.Fingerprint.Algorithm)
	assert.True(t, strings.HasPrefix(d.Fingerprint.Value, "A1:B2"))
	assert.Equal(t, 9, d.MidExtension)
	require.Len(t, d.Candidates, 1, "candidates of bundled lines are shared")

	require.Len(t, d.Media, 2)
	audio := d.Media[0]
	assert.Equal(t, "0", audio.Mid)
	assert.Equal(t, uint32(3735928559), audio.SSRC)
	assert.Equal(t, "browser", audio.CNAME)
	assert.Equal(t, "audio-track", audio.TrackID)
	names := []string{}
	for _, c := range audio.Codecs {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"opus", "G722", "PCMU", "PCMA"}, names)
	assert.Equal(t, uint16(2), audio.Codecs[0].Channels)
	assert.Equal(t, []string{"transport-cc"}, audio.Codecs[0].Feedback)

	video := d.Media[1]
	assert.Equal(t, webrtc.RTPTransceiverDirectionRecvonly, video.Direction)
	require.Len(t, video.Codecs, 1)
	assert.Equal(t, uint8(96), video.Codecs[0].PayloadType)
}

func TestParseMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"Garbage":    "hello world",
		"MissingMid": "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 0\r\n",
		"DuplicateMid": "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n" +
			"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\na=mid:a\r\n" +
			"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\na=mid:a\r\n",
	} {
		raw := raw
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestRenderRejectsDuplicateMid(t *testing.T) {
	d := sampleDescription()
	d.Media[1].Mid = "0"
	_, err := Render(d)
	assert.Error(t, err)
}
