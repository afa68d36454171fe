package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pion/rtp"
)

func makeFrame(size int, seed byte) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = seed + byte(i)
	}
	return frame
}

func TestAssemblerVP8(t *testing.T) {
	c := NewRTPVP8Codec(96, 90000)
	packetizer := NewPacketizer(c, 1234, 500)
	assembler := NewAssembler(c)

	frames := [][]byte{makeFrame(1700, 1), makeFrame(100, 2), makeFrame(999, 3)}
	for i, frame := range frames {
		packets := packetizer.Packetize(frame, 3000)
		if len(frame) > 500 && len(packets) < 2 {
			t.Fatalf("frame %d: expected the frame to be fragmented", i)
		}

		var got *Frame
		for j, pkt := range packets {
			if size := pkt.MarshalSize(); size > 500 {
				t.Fatalf("frame %d: packet of %d bytes exceeds the MTU", i, size)
			}
			f, err := assembler.Push(pkt)
			if err != nil {
				t.Fatalf("frame %d: unexpected error: %v", i, err)
			}
			if j < len(packets)-1 && f != nil {
				t.Fatalf("frame %d: frame completed too early", i)
			}
			got = f
		}

		if got == nil {
			t.Fatalf("frame %d: expected a complete frame", i)
		}
		if !bytes.Equal(got.Payload, frame) {
			t.Fatalf("frame %d: payload mismatch", i)
		}
		if got.Timestamp != packets[0].Timestamp || got.Sequence != packets[0].SequenceNumber {
			t.Fatalf("frame %d: wrong envelope %+v", i, got)
		}
	}
}

func TestAssemblerDiscardsGaps(t *testing.T) {
	c := NewRTPVP8Codec(96, 90000)
	packetizer := NewPacketizer(c, 1234, 400)
	assembler := NewAssembler(c)

	packets := packetizer.Packetize(makeFrame(1000, 7), 3000)
	if len(packets) < 3 {
		t.Fatalf("expected at least 3 packets, got %d", len(packets))
	}

	if f, err := assembler.Push(packets[0]); f != nil || err != nil {
		t.Fatalf("unexpected result %v, %v", f, err)
	}
	// packets[1] is lost.
	for _, pkt := range packets[2:] {
		f, err := assembler.Push(pkt)
		if f != nil {
			t.Fatal("expected no frame out of a broken sequence")
		}
		if !errors.Is(err, ErrIncompleteFrame) {
			t.Fatalf("expected ErrIncompleteFrame, got %v", err)
		}
	}
	if assembler.Discarded() == 0 {
		t.Fatal("expected discarded counter to increase")
	}

	next := makeFrame(200, 9)
	var got *Frame
	for _, pkt := range packetizer.Packetize(next, 3000) {
		f, err := assembler.Push(pkt)
		if err != nil {
			t.Fatal(err)
		}
		got = f
	}
	if got == nil || !bytes.Equal(got.Payload, next) {
		t.Fatal("expected the assembler to recover on the next frame")
	}
}

func TestAssemblerAudio(t *testing.T) {
	for _, c := range []*RTPCodec{NewRTPOpusCodec(111, 48000), NewRTPPCMUCodec(0, 8000)} {
		c := c
		t.Run(c.Name(), func(t *testing.T) {
			assembler := NewAssembler(c)
			for i := 0; i < 5; i++ {
				payload := makeFrame(160, byte(i))
				f, err := assembler.Push(&rtp.Packet{
					Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
					Payload: payload,
				})
				if err != nil {
					t.Fatal(err)
				}
				if f == nil || !bytes.Equal(f.Payload, payload) {
					t.Fatalf("packet %d: expected a frame per packet", i)
				}
			}
		})
	}
}
