// Package frame splits outbound frames into chunk messages and rebuilds
// inbound frames per peer slot, recycling buffers through a bounded pool.
package frame

import (
	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/util"
)

// Default limits for a Slot.
const (
	DefaultPoolSize     = 15
	DefaultMaxFrameSize = 32 * 1024 * 1024
	initialBufferSize   = 256 * 1024
)

// SlotOptions tunes a Slot's resource limits.
type SlotOptions struct {
	PoolSize     int // buffers per slot
	MaxFrameSize int // largest texture+alpha payload accepted
}

func (o SlotOptions) withDefaults() SlotOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	return o
}

// Slot is the receive side of one remote peer: a reassembly pipeline per
// subslot, the peer's buffer pool and its queue of completed frames.
//
// HandleMetadata, HandleChunk and Release must be called from a single
// goroutine (the session event loop). Frames may be consumed and released
// from any goroutine.
type Slot struct {
	index        uint8
	name         string
	subslots     [protocol.Subslots]reassembly
	pool         *Pool
	frames       chan *Completed
	stats        *util.Stats
	maxFrameSize int

	starving bool
	released bool
}

// NewSlot creates the slot for the peer at index. stats may be nil.
func NewSlot(index uint8, name string, opts SlotOptions, stats *util.Stats) *Slot {
	opts = opts.withDefaults()
	if stats == nil {
		stats = util.NewStats()
	}
	pool := NewPool(opts.PoolSize, min(initialBufferSize, opts.MaxFrameSize))
	return &Slot{
		index:        index,
		name:         name,
		pool:         pool,
		frames:       make(chan *Completed, pool.Capacity()),
		stats:        stats,
		maxFrameSize: opts.MaxFrameSize,
	}
}

func (s *Slot) Index() uint8 { return s.index }
func (s *Slot) Name() string { return s.name }
func (s *Slot) Pool() *Pool  { return s.pool }

// Frames yields completed frames in completion order. The channel is closed
// when the slot is released.
func (s *Slot) Frames() <-chan *Completed { return s.frames }

// HandleMetadata applies a metadata record to its subslot.
func (s *Slot) HandleMetadata(m *protocol.FrameMetadata) {
	if s.released || int(m.Subslot) >= len(s.subslots) {
		return
	}
	s.subslots[m.Subslot].applyMetadata(s, m)
}

// HandleChunk copies a chunk into its subslot's buffer.
func (s *Slot) HandleChunk(c *protocol.Chunk) {
	if s.released || int(c.Subslot) >= len(s.subslots) {
		return
	}
	s.subslots[c.Subslot].applyChunk(s, c)
}

// push queues a completed frame for the consumer.
func (s *Slot) push(f *Completed) {
	select {
	case s.frames <- f:
		s.stats.FramesReceived.Add(1)
	default:
		// Unreachable while every queued frame holds a pool buffer.
		s.stats.FramesDropped.Add(1)
		f.Release()
	}
}

// setStarving logs transitions of the pool-exhaustion condition.
func (s *Slot) setStarving(starving bool) {
	if starving == s.starving {
		return
	}
	s.starving = starving
	if starving {
		util.LogWarning("[slot %d] %s: frame buffers exhausted, dropping frames until the consumer releases some",
			s.index, s.name)
	} else {
		util.LogDebug("[slot %d] %s: frame buffers available again", s.index, s.name)
	}
}

// Release discards in-flight frames, releases queued frames and closes the
// Frames channel. Frames still held by a consumer may be released later.
func (s *Slot) Release() {
	if s.released {
		return
	}
	s.released = true

	for i := range s.subslots {
		s.subslots[i].release(s.pool)
	}
	for {
		select {
		case f := <-s.frames:
			f.Release()
		default:
			close(s.frames)
			return
		}
	}
}
