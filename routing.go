package mediabridge

import "github.com/pion/rtp"

// routes is an immutable snapshot of the packet routing table. The media
// path loads it atomically; the controller replaces it on every change.
type routes struct {
	bySSRC      map[uint32]*TrackBinding
	byLocalSSRC map[uint32]*TrackBinding
	byMid       map[string]*TrackBinding
	// midExtension is the negotiated sdes:mid header extension id, 0 when
	// none was negotiated.
	midExtension uint8
}

var emptyRoutes = &routes{}

func (r *routes) lookup(ssrc uint32, header []byte) (b *TrackBinding, learned bool) {
	if b := r.bySSRC[ssrc]; b != nil {
		return b, false
	}
	if r.midExtension == 0 {
		return nil, false
	}

	var h rtp.Header
	if _, err := h.Unmarshal(header); err != nil {
		return nil, false
	}
	mid := h.GetExtension(r.midExtension)
	if len(mid) == 0 {
		return nil, false
	}
	b = r.byMid[string(mid)]
	return b, b != nil
}

// rebuildRoutesLocked publishes a new snapshot from the committed bindings.
// Caller holds s.mu.
func (s *Session) rebuildRoutesLocked() {
	r := &routes{
		bySSRC:      make(map[uint32]*TrackBinding),
		byLocalSSRC: make(map[uint32]*TrackBinding),
		byMid:       make(map[string]*TrackBinding),
	}
	if s.currentLocal != nil && s.currentLocal.MidExtension > 0 && s.currentLocal.MidExtension < 15 {
		r.midExtension = uint8(s.currentLocal.MidExtension)
	}

	for _, b := range s.bindings {
		if b.mid == "" {
			continue
		}
		r.byMid[b.mid] = b
		r.byLocalSSRC[b.localSSRC] = b
		if ssrc := b.remoteSSRC.Load(); ssrc != 0 {
			r.bySSRC[ssrc] = b
		}
	}
	s.routes.Store(r)
}

type ssrcLearning struct {
	binding *TrackBinding
	ssrc    uint32
}

// learnSSRC posts an SSRC resolved from the mid header extension. It never
// blocks; a full channel drops the request and the next packet retries.
func (s *Session) learnSSRC(b *TrackBinding, ssrc uint32) {
	select {
	case s.learn <- ssrcLearning{binding: b, ssrc: ssrc}:
	default:
	}
}

func (s *Session) learnLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case l := <-s.learn:
			s.mu.Lock()
			if !s.closed && l.binding.remoteSSRC.Load() != l.ssrc {
				s.log.Debugf("learned ssrc %d for mid %s", l.ssrc, l.binding.mid)
				l.binding.setRemoteSSRCLocked(l.ssrc)
				s.rebuildRoutesLocked()
			}
			s.mu.Unlock()
		}
	}
}
