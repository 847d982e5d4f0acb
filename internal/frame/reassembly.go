package frame

import (
	"math/bits"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/util"
)

// reassembly tracks the frame currently being rebuilt in one subslot.
// It is only touched by the session's event loop and needs no locking.
type reassembly struct {
	frameID   int32
	started   bool
	completed bool
	starved   bool // no buffer was available when the frame started
	failed    bool // chunks contradicted the metadata; ignore the rest of the frame

	hasMeta bool
	meta    protocol.FrameMetadata

	received int      // payload bytes copied so far
	extent   int      // highest byte offset written so far
	chunks   []uint64 // bitmap of chunk indices already copied

	buf *Buffer
}

// track decides whether a message for frameID belongs to the frame being
// rebuilt. A strictly newer id starts a new frame; an older one is stale.
func (r *reassembly) track(s *Slot, frameID int32) bool {
	if r.started {
		if frameID == r.frameID {
			return true
		}
		if frameID < r.frameID {
			return false
		}
		if !r.completed {
			if r.starved {
				s.stats.FramesDropped.Add(1)
			} else {
				s.stats.FramesSkipped.Add(1)
				util.LogDebug("[slot %d] frame %d superseded by %d before completing (%d chunks, %d bytes received)",
					s.index, r.frameID, frameID, r.chunkCount(), r.received)
			}
		}
	}

	r.frameID = frameID
	r.started = true
	r.completed = false
	r.starved = false
	r.failed = false
	r.hasMeta = false
	r.received = 0
	r.extent = 0
	clear(r.chunks)

	if r.buf == nil {
		b, ok := s.pool.TryAcquire()
		if !ok {
			r.starved = true
			s.setStarving(true)
			return true
		}
		s.setStarving(false)
		r.buf = b
	}
	r.buf.reset()
	return true
}

// ignoring reports whether the current frame no longer accepts data.
func (r *reassembly) ignoring() bool {
	return r.completed || r.starved || r.failed
}

func (r *reassembly) applyMetadata(s *Slot, m *protocol.FrameMetadata) {
	if !r.track(s, m.FrameID) {
		util.LogDebug("[slot %d] stale metadata for frame %d (tracking %d)", s.index, m.FrameID, r.frameID)
		return
	}
	if r.ignoring() || r.hasMeta {
		return
	}

	total := m.TotalSize()
	if total > s.maxFrameSize || r.extent > total {
		util.LogDebug("[slot %d] frame %d: metadata declares %d bytes (received extent %d, limit %d), dropping frame",
			s.index, m.FrameID, total, r.extent, s.maxFrameSize)
		r.failed = true
		return
	}

	r.meta = *m
	r.hasMeta = true
	r.tryComplete(s)
}

func (r *reassembly) applyChunk(s *Slot, c *protocol.Chunk) {
	if !r.track(s, c.FrameID) {
		s.stats.ChunksDropped.Add(1)
		return
	}
	if r.ignoring() {
		return
	}

	offset := c.Offset()
	end := offset + len(c.Payload)
	limit := s.maxFrameSize
	if r.hasMeta {
		limit = r.meta.TotalSize()
	}
	if len(c.Payload) == 0 || end > limit {
		s.stats.ChunksDropped.Add(1)
		util.LogDebug("[slot %d] frame %d: chunk %d [%d, %d) outside frame of %d bytes",
			s.index, c.FrameID, c.Index, offset, end, limit)
		return
	}

	if !r.mark(int(c.Index)) {
		return // duplicate
	}

	copy(r.buf.ensure(end)[offset:end], c.Payload)
	r.received += len(c.Payload)
	r.extent = max(r.extent, end)
	r.tryComplete(s)
}

// mark records chunk index i and reports whether it was new.
func (r *reassembly) mark(i int) bool {
	word, bit := i/64, uint(i%64)
	if word >= len(r.chunks) {
		grown := make([]uint64, word+1)
		copy(grown, r.chunks)
		r.chunks = grown
	}
	if r.chunks[word]&(1<<bit) != 0 {
		return false
	}
	r.chunks[word] |= 1 << bit
	return true
}

// chunkCount is the number of distinct chunks received for the frame.
func (r *reassembly) chunkCount() int {
	n := 0
	for _, w := range r.chunks {
		n += bits.OnesCount64(w)
	}
	return n
}

// tryComplete hands the frame to the slot once metadata is known and every
// declared byte has arrived. Chunks never overlap and never exceed the
// declared size, so a matching byte count means full coverage.
func (r *reassembly) tryComplete(s *Slot) {
	if !r.hasMeta {
		return
	}
	total := r.meta.TotalSize()
	if r.received != total {
		return
	}

	data := r.buf.ensure(total)
	tex := int(r.meta.TextureSize)
	frame := &Completed{
		Slot:    s.index,
		FrameID: r.frameID,
		Info: TextureInfo{
			Width:            r.meta.Width,
			Height:           r.meta.Height,
			PixelFormat:      r.meta.PixelFormat,
			RowPitch:         r.meta.RowPitch,
			DecodedAlphaSize: r.meta.DecodedAlphaSize,
		},
		Texture: data[:tex:tex],
		Alpha:   data[tex:total:total],
		buf:     r.buf,
		pool:    s.pool,
	}

	r.buf = nil
	r.completed = true
	s.push(frame)
}

// release returns the subslot's buffer to the pool.
func (r *reassembly) release(p *Pool) {
	p.Release(r.buf)
	r.buf = nil
}
