package codec

import (
	"errors"

	"github.com/pion/rtp"
)

// ErrIncompleteFrame is returned by Assembler.Push when a partially received
// frame had to be discarded.
var ErrIncompleteFrame = errors.New("codec: incomplete frame discarded")

// Frame is one reassembled media unit.
type Frame struct {
	Timestamp uint32
	// Sequence of the first packet of the frame.
	Sequence uint16
	Marker   bool
	Payload  []byte
}

// Assembler rebuilds frames from RTP packets of a single SSRC. Packets must be
// pushed in arrival order; a sequence or timestamp discontinuity inside a
// frame discards the partial frame. Assembler isn't safe for concurrent use.
type Assembler struct {
	depacketizer rtp.Depacketizer

	started   bool
	buf       []byte
	first     uint16
	lastSeq   uint16
	timestamp uint32
	discarded uint64
}

// NewAssembler creates an Assembler using the codec's depacketizer.
func NewAssembler(c *RTPCodec) *Assembler {
	return &Assembler{depacketizer: c.NewDepacketizer()}
}

// Discarded returns how many partial frames or orphan packets were dropped.
func (a *Assembler) Discarded() uint64 {
	return a.discarded
}

// Reset drops any partial frame.
func (a *Assembler) Reset() {
	a.started = false
	a.buf = a.buf[:0]
}

// Push feeds the next packet. It returns a frame when pkt completes one.
func (a *Assembler) Push(pkt *rtp.Packet) (*Frame, error) {
	var incomplete bool

	if a.started && (pkt.SequenceNumber != a.lastSeq+1 || pkt.Timestamp != a.timestamp) {
		a.Reset()
		a.discarded++
		incomplete = true
	}

	if len(pkt.Payload) == 0 {
		if a.started {
			a.lastSeq = pkt.SequenceNumber
		}
		return nil, incompleteErr(incomplete)
	}

	if !a.started {
		if !a.depacketizer.IsPartitionHead(pkt.Payload) {
			a.discarded++
			return nil, ErrIncompleteFrame
		}
		a.started = true
		a.first = pkt.SequenceNumber
		a.timestamp = pkt.Timestamp
	}
	a.lastSeq = pkt.SequenceNumber

	data, err := a.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		a.Reset()
		a.discarded++
		return nil, err
	}
	a.buf = append(a.buf, data...)

	if !a.depacketizer.IsPartitionTail(pkt.Marker, pkt.Payload) {
		return nil, incompleteErr(incomplete)
	}

	frame := &Frame{
		Timestamp: a.timestamp,
		Sequence:  a.first,
		Marker:    pkt.Marker,
		Payload:   append([]byte(nil), a.buf...),
	}
	a.Reset()
	return frame, nil
}

func incompleteErr(incomplete bool) error {
	if incomplete {
		return ErrIncompleteFrame
	}
	return nil
}
