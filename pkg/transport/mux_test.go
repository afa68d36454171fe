package transport

import "testing"

func TestClassify(t *testing.T) {
	testCases := map[string]struct {
		packet []byte
		kind   packetKind
	}{
		"Empty":         {nil, packetUnknown},
		"STUN":          {[]byte{0x00, 0x01}, packetUnknown},
		"DTLSHandshake": {[]byte{22, 0xfe, 0xfd}, packetDTLS},
		"DTLSUpper":     {[]byte{63}, packetDTLS},
		"RTP":           {[]byte{0x80, 96}, packetRTP},
		"RTPMarker":     {[]byte{0x80, 0x80 | 96}, packetRTP},
		"RTCPSender":    {[]byte{0x80, 200}, packetRTCP},
		"RTCPFeedback":  {[]byte{0x81, 206}, packetRTCP},
		"TruncatedRTP":  {[]byte{0x80}, packetUnknown},
		"TURNChannel":   {[]byte{64, 0}, packetUnknown},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			if got := classify(tc.packet); got != tc.kind {
				t.Fatalf("expected %d, got %d", tc.kind, got)
			}
		})
	}
}
