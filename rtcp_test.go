package mediabridge

import (
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/mediabridge/pkg/transport/transporttest"
)

func TestRTCPKeyFrameRequest(t *testing.T) {
	for packetType, packet := range map[string][]byte{
		"PLI": {
			// v=2, p=0, FMT=1, PSFB, len=1
			0x81, 0xce, 0x00, 0x02,
			// ssrc=0x0
			0x00, 0x00, 0x00, 0x00,
			// ssrc=0x4bc4fcb4
			0x4b, 0xc4, 0xfc, 0xb4,
		},
		"FIR": {
			// v=2, p=0, FMT=4, PSFB, len=3
			0x84, 0xce, 0x00, 0x04,
			// ssrc=0x0
			0x00, 0x00, 0x00, 0x00,
			// ssrc=0x4bc4fcb4
			0x4b, 0xc4, 0xfc, 0xb4,
			// ssrc=0x12345678
			0x12, 0x34, 0x56, 0x78,
			// Seqno=0x42
			0x42, 0x00, 0x00, 0x00,
		},
	} {
		packet := packet
		t.Run(packetType, func(t *testing.T) {
			p := newTestPeer(t, transporttest.NewPair().A)
			pad, err := p.AddEndpoint(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverDirectionSendonly)
			require.NoError(t, err)

			called := make(chan struct{}, 1)
			pad.OnKeyFrameRequest(func() {
				called <- struct{}{}
			})

			// PLI names the media source, FIR the FCI entry.
			p.routes.Store(&routes{byLocalSSRC: map[uint32]*TrackBinding{
				0x4bc4fcb4: pad.binding,
				0x12345678: pad.binding,
			}})
			p.handleRTCP(packet)

			select {
			case <-time.After(time.Second):
				t.Error("Timeout")
			case <-called:
			}
			assert.EqualValues(t, 1, pad.Stats().KeyFrameRequests)
		})
	}

	t.Run("Malformed", func(t *testing.T) {
		p := newTestPeer(t, transporttest.NewPair().A)
		p.handleRTCP([]byte{0x81, 0xce})
	})
}

func TestPendingReader(t *testing.T) {
	r := &pendingReader{buf: make([]byte, 2)}
	packet := []byte{1, 2, 3, 4, 5}

	calls := 0
	out, _, err := r.feed(packet, func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		calls++
		return r.read(b, a)
	})
	require.NoError(t, err)
	assert.Equal(t, packet, out)
	assert.Equal(t, 2, calls, "the buffer grows once")
	assert.Len(t, r.buf, len(packet))

	n, _, err := r.read(make([]byte, 8), nil)
	assert.NoError(t, err)
	assert.Zero(t, n, "nothing is pending after feed")
}
