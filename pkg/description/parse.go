package description

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	ilogging "github.com/pion/mediabridge/internal/logging"
)

// CodecFilter reports whether a codec offered on a media line of the given
// kind can be used.
type CodecFilter func(kind string, c Codec) bool

type parseOptions struct {
	filter CodecFilter
	log    logging.LeveledLogger
}

// ParseOption configures Parse.
type ParseOption func(*parseOptions)

// WithCodecFilter drops codecs rejected by f.
func WithCodecFilter(f CodecFilter) ParseOption {
	return func(o *parseOptions) {
		o.filter = f
	}
}

// WithLogger sets the logger used to report dropped codecs.
func WithLogger(log logging.LeveledLogger) ParseOption {
	return func(o *parseOptions) {
		o.log = log
	}
}

// Static payload types that may appear without an rtpmap line.
var staticPayloadTypes = map[uint8]Codec{
	0: {PayloadType: 0, Name: "PCMU", ClockRate: 8000},
	8: {PayloadType: 8, Name: "PCMA", ClockRate: 8000},
	9: {PayloadType: 9, Name: "G722", ClockRate: 8000},
}

// Parse reads SDP text. Codecs refused by the codec filter are dropped with a
// warning; a line left without codecs becomes inactive.
func Parse(raw string, opts ...ParseOption) (*Description, error) {
	o := parseOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = ilogging.NewLogger("description")
	}

	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	d := &Description{
		SessionID:      sd.Origin.SessionID,
		SessionVersion: sd.Origin.SessionVersion,
	}

	if v, ok := sd.Attribute(attrFingerprint); ok {
		fp, err := parseFingerprint(v)
		if err != nil {
			return nil, err
		}
		d.Fingerprint = fp
	}
	d.ICEUfrag, _ = sd.Attribute(attrICEUfrag)
	d.ICEPwd, _ = sd.Attribute(attrICEPwd)
	d.Setup, _ = sd.Attribute(attrSetup)

	candidatesSeen := false
	for _, md := range sd.MediaDescriptions {
		m, err := parseMedia(d, md, &o)
		if err != nil {
			return nil, err
		}
		if _, dup := d.MediaByMid(m.Mid); dup {
			return nil, fmt.Errorf("%w: duplicate mid %q", ErrMalformed, m.Mid)
		}
		d.Media = append(d.Media, m)

		if m.Rejected() || candidatesSeen {
			continue
		}
		// Bundled lines repeat the transport attributes, the first one wins.
		for _, a := range md.Attributes {
			switch a.Key {
			case attrCandidate:
				d.Candidates = append(d.Candidates, a.Value)
				candidatesSeen = true
			case attrEndOfCandidates:
				d.EndOfCandidates = true
				candidatesSeen = true
			}
		}
	}

	return d, nil
}

func parseMedia(d *Description, md *sdp.MediaDescription, o *parseOptions) (Media, error) {
	m := Media{
		Kind:      md.MediaName.Media,
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}

	var ok bool
	if m.Mid, ok = md.Attribute(attrMid); !ok || m.Mid == "" {
		return m, fmt.Errorf("%w: %v", ErrMalformed, errMissingMid)
	}

	for _, a := range md.Attributes {
		switch a.Key {
		case webrtc.RTPTransceiverDirectionSendrecv.String(),
			webrtc.RTPTransceiverDirectionSendonly.String(),
			webrtc.RTPTransceiverDirectionRecvonly.String(),
			webrtc.RTPTransceiverDirectionInactive.String():
			m.Direction = webrtc.NewRTPTransceiverDirection(a.Key)
		}
	}

	if md.MediaName.Port.Value == 0 {
		m.Direction = webrtc.RTPTransceiverDirectionInactive
		return m, nil
	}

	if err := parseTransport(d, md); err != nil {
		return m, err
	}

	if m.Kind != webrtc.RTPCodecTypeAudio.String() && m.Kind != webrtc.RTPCodecTypeVideo.String() {
		// Data channels and other non RTP lines carry no codecs.
		m.Direction = webrtc.RTPTransceiverDirectionInactive
		return m, nil
	}

	codecs, err := parseCodecs(md)
	if err != nil {
		return m, err
	}
	for _, c := range codecs {
		if o.filter != nil && !o.filter(m.Kind, c) {
			o.log.Warnf("mid %s: dropping unsupported codec %s/%d (payload type %d)", m.Mid, c.Name, c.ClockRate, c.PayloadType)
			continue
		}
		m.Codecs = append(m.Codecs, c)
	}
	if len(m.Codecs) == 0 {
		m.Direction = webrtc.RTPTransceiverDirectionInactive
	}

	parseSource(&m, md)
	return m, nil
}

func parseTransport(d *Description, md *sdp.MediaDescription) error {
	for _, a := range md.Attributes {
		switch a.Key {
		case attrICEUfrag:
			if d.ICEUfrag == "" {
				d.ICEUfrag = a.Value
			}
		case attrICEPwd:
			if d.ICEPwd == "" {
				d.ICEPwd = a.Value
			}
		case attrSetup:
			if d.Setup == "" {
				d.Setup = a.Value
			}
		case attrFingerprint:
			if d.Fingerprint.Value == "" {
				fp, err := parseFingerprint(a.Value)
				if err != nil {
					return err
				}
				d.Fingerprint = fp
			}
		case attrExtMap:
			if d.MidExtension == 0 {
				d.MidExtension = parseMidExtension(a.Value)
			}
		}
	}
	return nil
}

func parseFingerprint(v string) (Fingerprint, error) {
	alg, value, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || value == "" {
		return Fingerprint{}, fmt.Errorf("%w: invalid fingerprint %q", ErrMalformed, v)
	}
	return Fingerprint{Algorithm: alg, Value: strings.ToUpper(value)}, nil
}

// parseMidExtension reads "id[/direction] uri" and returns id when uri is the
// mid extension.
func parseMidExtension(v string) int {
	fields := strings.Fields(v)
	if len(fields) < 2 || fields[1] != SDESMidURI {
		return 0
	}
	idField, _, _ := strings.Cut(fields[0], "/")
	id, err := strconv.Atoi(idField)
	if err != nil || id < 1 || id > 255 {
		return 0
	}
	return id
}

func parseCodecs(md *sdp.MediaDescription) ([]Codec, error) {
	codecs := make([]Codec, 0, len(md.MediaName.Formats))
	index := make(map[uint8]int, len(md.MediaName.Formats))

	for _, f := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid payload type %q", ErrMalformed, f)
		}
		c := Codec{PayloadType: uint8(pt)}
		if static, ok := staticPayloadTypes[uint8(pt)]; ok {
			c = static
		}
		index[uint8(pt)] = len(codecs)
		codecs = append(codecs, c)
	}

	for _, a := range md.Attributes {
		switch a.Key {
		case attrRtpmap, attrFmtp, attrRTCPFb:
		default:
			continue
		}

		ptField, rest, _ := strings.Cut(a.Value, " ")
		pt, err := strconv.ParseUint(ptField, 10, 8)
		if err != nil {
			// rtcp-fb:* applies to every format.
			if a.Key == attrRTCPFb && ptField == "*" {
				for i := range codecs {
					codecs[i].Feedback = append(codecs[i].Feedback, rest)
				}
				continue
			}
			return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, a.Key, a.Value)
		}
		i, ok := index[uint8(pt)]
		if !ok {
			continue
		}

		switch a.Key {
		case attrRtpmap:
			if err := parseRtpmap(&codecs[i], rest); err != nil {
				return nil, err
			}
		case attrFmtp:
			codecs[i].Fmtp = rest
		case attrRTCPFb:
			codecs[i].Feedback = append(codecs[i].Feedback, rest)
		}
	}

	out := codecs[:0]
	for _, c := range codecs {
		if c.Name == "" {
			// Dynamic payload type without rtpmap.
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// parseRtpmap reads "name/clockrate[/channels]".
func parseRtpmap(c *Codec, v string) error {
	parts := strings.Split(v, "/")
	if len(parts) < 2 {
		return fmt.Errorf("%w: invalid rtpmap %q", ErrMalformed, v)
	}
	clockRate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: invalid rtpmap %q", ErrMalformed, v)
	}
	c.Name = parts[0]
	c.ClockRate = uint32(clockRate)
	c.Channels = 0
	if len(parts) > 2 {
		channels, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return fmt.Errorf("%w: invalid rtpmap %q", ErrMalformed, v)
		}
		c.Channels = uint16(channels)
	}
	return nil
}

func parseSource(m *Media, md *sdp.MediaDescription) {
	if v, ok := md.Attribute(attrMsid); ok {
		m.StreamID, m.TrackID, _ = strings.Cut(v, " ")
	}

	for _, a := range md.Attributes {
		if a.Key != attrSSRC {
			continue
		}
		ssrcField, rest, _ := strings.Cut(a.Value, " ")
		ssrc, err := strconv.ParseUint(ssrcField, 10, 32)
		if err != nil {
			continue
		}
		if m.SSRC == 0 {
			m.SSRC = uint32(ssrc)
		} else if uint32(ssrc) != m.SSRC {
			// Retransmission and FEC streams of ssrc-group aren't routed.
			continue
		}

		key, value, _ := strings.Cut(rest, ":")
		switch key {
		case "cname":
			m.CNAME = value
		case "msid":
			if m.StreamID == "" {
				m.StreamID, m.TrackID, _ = strings.Cut(value, " ")
			}
		}
	}
}
