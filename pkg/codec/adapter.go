package codec

import (
	"github.com/pion/randutil"
	"github.com/pion/rtp"
)

const (
	// DefaultMTU is the largest RTP packet produced by a Packetizer unless
	// configured otherwise.
	DefaultMTU = 1200
)

// Packetizer splits encoded frames into RTP packets for one SSRC.
type Packetizer struct {
	codec      *RTPCodec
	packetizer rtp.Packetizer
	sequencer  rtp.Sequencer
	sample     SamplerFunc
}

// NewPacketizer creates a Packetizer sending with ssrc. An mtu of 0 selects
// DefaultMTU.
func NewPacketizer(c *RTPCodec, ssrc uint32, mtu uint16) *Packetizer {
	if mtu == 0 {
		mtu = DefaultMTU
	}

	sequencer := rtp.NewRandomSequencer()
	sample := NewVideoSampler(c.ClockRate)
	if c.Latency > 0 {
		sample = NewAudioSampler(c.ClockRate, c.Latency)
	}

	return &Packetizer{
		codec: c,
		packetizer: rtp.NewPacketizer(
			mtu,
			uint8(c.PayloadType),
			ssrc,
			c.NewPayloader(),
			sequencer,
			c.ClockRate,
		),
		sequencer: sequencer,
		sample:    sample,
	}
}

// Packetize splits one frame. A zero samples value lets the codec sampler
// compute the frame duration.
func (p *Packetizer) Packetize(payload []byte, samples uint32) []*rtp.Packet {
	if samples == 0 {
		samples = p.sample()
	}
	return p.packetizer.Packetize(payload, samples)
}

// NextSequence returns a sequence number continuing the packetizer's own
// numbering, for packets built outside of Packetize.
func (p *Packetizer) NextSequence() uint16 {
	return p.sequencer.NextSequenceNumber()
}

var ssrcGenerator = randutil.NewMathRandomGenerator()

// RandomSSRC returns a random non zero SSRC.
func RandomSSRC() uint32 {
	for {
		if ssrc := ssrcGenerator.Uint32(); ssrc != 0 {
			return ssrc
		}
	}
}
