package description

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const (
	attrSetup           = "setup"
	attrMid             = "mid"
	attrGroup           = "group"
	attrFingerprint     = "fingerprint"
	attrICEUfrag        = "ice-ufrag"
	attrICEPwd          = "ice-pwd"
	attrICEOptions      = "ice-options"
	attrRTCPMux         = "rtcp-mux"
	attrRTCPRsize       = "rtcp-rsize"
	attrRTCPFb          = "rtcp-fb"
	attrRtpmap          = "rtpmap"
	attrFmtp            = "fmtp"
	attrExtMap          = "extmap"
	attrSSRC            = "ssrc"
	attrMsid            = "msid"
	attrMsidSemantic    = "msid-semantic"
	attrCandidate       = "candidate"
	attrEndOfCandidates = "end-of-candidates"

	// SDESMidURI identifies the RTP header extension carrying the mid.
	SDESMidURI = "urn:ietf:params:rtp-hdrext:sdes:mid"
)

var errMissingMid = errors.New("description: media line without mid")

// Render produces SDP text for d. Rendering is deterministic: the same
// Description always yields the same text. Parse of the result equals
// Normalize(d), so a rejected line comes back inactive and without its
// source fields.
func Render(d *Description) (string, error) {
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      d.SessionID,
			SessionVersion: d.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	if d.Fingerprint.Value != "" {
		sd.WithFingerprint(d.Fingerprint.Algorithm, strings.ToUpper(d.Fingerprint.Value))
	}
	if bundle := d.Bundle(); len(bundle) > 0 {
		sd.WithValueAttribute(attrGroup, "BUNDLE "+strings.Join(bundle, " "))
	}
	sd.WithValueAttribute(attrICEOptions, "trickle")
	sd.WithValueAttribute(attrMsidSemantic, "WMS *")

	seen := make(map[string]struct{}, len(d.Media))
	for i := range d.Media {
		m := &d.Media[i]
		if m.Mid == "" {
			return "", errMissingMid
		}
		if _, ok := seen[m.Mid]; ok {
			return "", fmt.Errorf("description: duplicate mid %q", m.Mid)
		}
		seen[m.Mid] = struct{}{}

		if m.Rejected() {
			sd.WithMedia(rejectedMedia(m))
			continue
		}
		if m.Direction == webrtc.RTPTransceiverDirectionUnknown {
			return "", fmt.Errorf("description: media %q has no direction", m.Mid)
		}
		sd.WithMedia(mediaSection(d, m))
	}

	raw, err := sd.Marshal()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func rejectedMedia(m *Media) *sdp.MediaDescription {
	protos, formats := []string{"UDP", "TLS", "RTP", "SAVPF"}, []string{"0"}
	if m.Kind == "application" {
		protos, formats = []string{"UDP", "DTLS", "SCTP"}, []string{"webrtc-datachannel"}
	}
	return (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   m.Kind,
			Port:    sdp.RangedPort{Value: 0},
			Protos:  protos,
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}).
		WithValueAttribute(attrMid, m.Mid).
		WithPropertyAttribute(webrtc.RTPTransceiverDirectionInactive.String())
}

func mediaSection(d *Description, m *Media) *sdp.MediaDescription {
	media := sdp.NewJSEPMediaDescription(m.Kind, []string{}).
		WithValueAttribute(attrSetup, d.Setup).
		WithValueAttribute(attrMid, m.Mid).
		WithICECredentials(d.ICEUfrag, d.ICEPwd).
		WithPropertyAttribute(attrRTCPMux).
		WithPropertyAttribute(attrRTCPRsize)

	if d.MidExtension > 0 {
		media.WithValueAttribute(attrExtMap, fmt.Sprintf("%d %s", d.MidExtension, SDESMidURI))
	}

	for _, c := range m.Codecs {
		media.WithCodec(c.PayloadType, c.Name, c.ClockRate, c.Channels, c.Fmtp)
		for _, fb := range c.Feedback {
			media.WithValueAttribute(attrRTCPFb, fmt.Sprintf("%d %s", c.PayloadType, fb))
		}
	}

	media.WithPropertyAttribute(m.Direction.String())

	if m.SSRC != 0 {
		media.WithValueAttribute(attrMsid, m.StreamID+" "+m.TrackID)
		media.WithMediaSource(m.SSRC, m.CNAME, m.StreamID, m.TrackID)
	}

	for _, c := range d.Candidates {
		media.WithValueAttribute(attrCandidate, c)
	}
	if d.EndOfCandidates {
		media.WithPropertyAttribute(attrEndOfCandidates)
	}

	return media
}
