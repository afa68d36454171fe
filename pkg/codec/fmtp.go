package codec

import (
	"encoding/hex"
	"strings"

	"github.com/pion/webrtc/v4"
)

// defaultProfileLevelID is inferred for H264 without profile-level-id,
// constrained baseline at level 1.
const defaultProfileLevelID = "42000a"

// parseFmtp splits an fmtp line into lower cased keys and their values.
func parseFmtp(line string) map[string]string {
	params := make(map[string]string)
	for _, p := range strings.Split(line, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		if k == "" {
			continue
		}
		params[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return params
}

// fmtpCompatible reports whether two fmtp lines of the same encoding can
// describe one stream. Only H264 carries parameters that must agree.
func fmtpCompatible(mimeType, a, b string) bool {
	if !strings.EqualFold(mimeType, webrtc.MimeTypeH264) {
		return true
	}
	pa, pb := parseFmtp(a), parseFmtp(b)
	return packetizationMode(pa) == packetizationMode(pb) &&
		sameProfile(profileLevelID(pa), profileLevelID(pb))
}

func packetizationMode(params map[string]string) string {
	if mode, ok := params["packetization-mode"]; ok {
		return mode
	}
	return "0"
}

func profileLevelID(params map[string]string) string {
	if id, ok := params["profile-level-id"]; ok {
		return id
	}
	return defaultProfileLevelID
}

// sameProfile compares profile_idc and profile-iop. The level may differ.
func sameProfile(a, b string) bool {
	ba, err := hex.DecodeString(a)
	if err != nil || len(ba) != 3 {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil || len(bb) != 3 {
		return false
	}
	return ba[0] == bb[0] && ba[1] == bb[1]
}
