package mediabridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	mio "github.com/pion/mediabridge/pkg/io"
)

const (
	defaultAudioFrame = 20 * time.Millisecond
	defaultVideoRate  = 30
	packetsPerFrame   = 8
)

// PadBridge connects one pipeline endpoint to its media line. Outbound units
// are pushed without blocking and drained by the binding; inbound units are
// queued by the binding and consumed with Pull, TryPull or OnReceive.
// Both queues drop the oldest unit when full.
type PadBridge struct {
	kind     webrtc.RTPCodecType
	raw      bool
	streamID string
	binding  *TrackBinding

	out *mio.Queue[Unit]
	in  *mio.Queue[Unit]

	onReceive  atomic.Pointer[func(Unit)]
	onKeyFrame atomic.Pointer[func()]
	deliver    sync.Once

	closed    atomic.Bool
	closeOnce sync.Once
}

func newPadBridge(kind webrtc.RTPCodecType, capacity int, o EndpointOptions) *PadBridge {
	return &PadBridge{
		kind:     kind,
		raw:      o.rawRTP,
		streamID: o.streamID,
		out:      mio.NewQueue[Unit](capacity),
		in:       mio.NewQueue[Unit](capacity),
	}
}

// queueCapacity returns how many units cover latency of a stream.
func queueCapacity(kind webrtc.RTPCodecType, raw bool, frame, latency time.Duration) int {
	var n int
	if kind == webrtc.RTPCodecTypeAudio {
		if frame <= 0 {
			frame = defaultAudioFrame
		}
		n = int(latency / frame)
	} else {
		n = int(latency * defaultVideoRate / time.Second)
		if raw {
			n *= packetsPerFrame
		}
	}
	if n < minQueueCapacity {
		n = minQueueCapacity
	}
	return n
}

// Kind returns the media kind of the endpoint.
func (p *PadBridge) Kind() webrtc.RTPCodecType {
	return p.kind
}

// Mid returns the mid of the media line, empty until negotiated.
func (p *PadBridge) Mid() string {
	return p.binding.Mid()
}

// Push queues u for sending. Push never blocks; a full queue drops its
// oldest units. Units pushed before the line is negotiated wait in the
// queue.
func (p *PadBridge) Push(u Unit) error {
	evicted, err := p.out.Push(u)
	if err != nil {
		return err
	}
	if evicted > 0 {
		p.binding.mediaError(ErrQueueOverflow)
	}
	return nil
}

// Pull waits for the next inbound unit.
func (p *PadBridge) Pull(ctx context.Context) (Unit, error) {
	return p.in.Pop(ctx)
}

// TryPull returns the next inbound unit if one is queued.
func (p *PadBridge) TryPull() (Unit, bool) {
	return p.in.TryPop()
}

// OnReceive sets a handler called with every inbound unit, from a goroutine
// owned by the PadBridge. It replaces Pull and TryPull.
func (p *PadBridge) OnReceive(f func(Unit)) {
	p.onReceive.Store(&f)
	p.deliver.Do(func() {
		go p.deliverLoop()
	})
}

func (p *PadBridge) deliverLoop() {
	for {
		u, err := p.in.Pop(context.Background())
		if err != nil {
			return
		}
		if h := p.onReceive.Load(); h != nil && *h != nil {
			(*h)(u)
		}
	}
}

// OnKeyFrameRequest sets the handler called when the remote peer asks for a
// key frame with PLI or FIR.
func (p *PadBridge) OnKeyFrameRequest(f func()) {
	p.onKeyFrame.Store(&f)
}

func (p *PadBridge) keyFrameRequested() {
	if h := p.onKeyFrame.Load(); h != nil && *h != nil {
		(*h)()
	}
}

// RequestKeyFrame asks the remote sender for a key frame.
func (p *PadBridge) RequestKeyFrame() error {
	if p.closed.Load() {
		return mio.ErrClosedQueue
	}
	return p.binding.requestKeyFrame()
}

// Stats returns the counters of the endpoint and its media line.
func (p *PadBridge) Stats() BindingStats {
	return p.binding.Stats()
}

// Close detaches the endpoint from its session, like Session.RemoveEndpoint.
func (p *PadBridge) Close() error {
	if p.closed.Load() {
		return nil
	}
	return p.binding.session.RemoveEndpoint(p)
}

func (p *PadBridge) shutdown() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.out.Close()
		p.in.Close()
	})
}
