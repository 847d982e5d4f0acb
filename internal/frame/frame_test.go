package frame

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/util"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// makeTestData generates deterministic data of the given size.
func makeTestData(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

// wireFrame is one frame as seen on the wire, already decoded.
type wireFrame struct {
	meta   *protocol.FrameMetadata
	chunks []*protocol.Chunk
}

// splitFrame runs an outbound frame through a Splitter and decodes the
// resulting messages the way the receiving endpoint would.
func splitFrame(t *testing.T, sp *Splitter, slot uint8, frameID int32, texture, alpha []byte) wireFrame {
	t.Helper()
	info := TextureInfo{Width: 64, Height: 32, PixelFormat: 28, RowPitch: 256, DecodedAlphaSize: 2048}
	meta, chunks, err := sp.Split(slot, NewOutbound(texture, alpha, info, frameID))
	require.NoError(t, err)

	m, err := protocol.DecodeMetadata(meta)
	require.NoError(t, err)

	wf := wireFrame{meta: m}
	for _, msg := range chunks {
		c, err := protocol.DecodeChunk(msg)
		require.NoError(t, err)
		wf.chunks = append(wf.chunks, c)
	}
	return wf
}

// receive returns the next completed frame or fails.
func receive(t *testing.T, s *Slot) *Completed {
	t.Helper()
	select {
	case f := <-s.Frames():
		return f
	default:
		t.Fatalf("expected a completed frame on slot %d", s.Index())
		return nil
	}
}

// requireNoFrame fails if a completed frame is queued.
func requireNoFrame(t *testing.T, s *Slot) {
	t.Helper()
	select {
	case f := <-s.Frames():
		t.Fatalf("unexpected completed frame %d", f.FrameID)
	default:
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestReassemblyAnyPermutation feeds metadata and chunks in random order with
// random duplicates and checks the frame is rebuilt exactly once.
func TestReassemblyAnyPermutation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	sizes := []struct{ texture, alpha int }{
		{0, 0},
		{1, 0},
		{0, 17},
		{protocol.ChunkPayloadSize, 0},
		{protocol.ChunkPayloadSize - 3, 3},
		{50_000, 12_345},
		{200_000, 1},
	}

	for trial, sz := range sizes {
		for round := range 5 {
			stats := util.NewStats()
			slot := NewSlot(1, "spoke", SlotOptions{PoolSize: 2}, stats)
			var sp Splitter

			texture := makeTestData(sz.texture, byte(trial))
			alpha := makeTestData(sz.alpha, byte(trial+100))
			wf := splitFrame(t, &sp, 1, int32(10+round), texture, alpha)

			// Each step delivers one piece; piece 0 is the metadata.
			type step struct {
				piece int
				apply func()
			}
			steps := []step{{0, func() { slot.HandleMetadata(wf.meta) }}}
			for i, c := range wf.chunks {
				steps = append(steps, step{i + 1, func() { slot.HandleChunk(c) }})
				if rng.IntN(3) == 0 {
					steps = append(steps, step{i + 1, func() { slot.HandleChunk(c) }})
				}
			}
			rng.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })

			seen := make(map[int]bool)
			for _, st := range steps {
				st.apply()
				seen[st.piece] = true
				if len(slot.Frames()) > 0 {
					require.Len(t, seen, len(wf.chunks)+1, "frame completed before every piece arrived")
				}
			}

			f := receive(t, slot)
			require.Equal(t, int32(10+round), f.FrameID)
			require.True(t, bytes.Equal(texture, f.Texture), "texture mismatch (size %d)", sz.texture)
			require.True(t, bytes.Equal(alpha, f.Alpha), "alpha mismatch (size %d)", sz.alpha)
			require.Equal(t, uint16(64), f.Info.Width)
			require.Equal(t, int32(2048), f.Info.DecodedAlphaSize)
			f.Release()

			requireNoFrame(t, slot)
			require.Equal(t, int64(1), stats.FramesReceived.Load())
			require.Zero(t, stats.FramesSkipped.Load())
		}
	}
}

// TestReassemblyCompletesOnlyWhenAllPresent checks that withholding any one
// chunk prevents completion.
func TestReassemblyCompletesOnlyWhenAllPresent(t *testing.T) {
	var sp Splitter
	texture := makeTestData(4*protocol.ChunkPayloadSize+10, 1)
	alpha := makeTestData(300, 2)

	for missing := range protocol.ChunkCount(len(texture) + len(alpha)) {
		slot := NewSlot(2, "peer", SlotOptions{}, nil)
		sp = Splitter{}
		wf := splitFrame(t, &sp, 2, 1, texture, alpha)

		slot.HandleMetadata(wf.meta)
		for i, c := range wf.chunks {
			if i != missing {
				slot.HandleChunk(c)
			}
		}
		requireNoFrame(t, slot)

		slot.HandleChunk(wf.chunks[missing])
		f := receive(t, slot)
		require.Equal(t, texture, f.Texture)
		require.Equal(t, alpha, f.Alpha)
		f.Release()
	}
}

// TestChunkBeforeMetadata covers frame 5 chunk 2 arriving before frame 5's
// metadata.
func TestChunkBeforeMetadata(t *testing.T) {
	var sp Splitter
	slot := NewSlot(1, "peer", SlotOptions{}, nil)
	texture := makeTestData(3*protocol.ChunkPayloadSize+100, 7)
	alpha := makeTestData(50, 8)
	wf := splitFrame(t, &sp, 1, 5, texture, alpha)
	require.Equal(t, int16(2), wf.chunks[2].Index)

	slot.HandleChunk(wf.chunks[2])
	for i, c := range wf.chunks {
		if i != 2 {
			slot.HandleChunk(c)
		}
	}
	requireNoFrame(t, slot)

	slot.HandleMetadata(wf.meta)
	f := receive(t, slot)
	require.Equal(t, int32(5), f.FrameID)
	require.Equal(t, texture, f.Texture)
	require.Equal(t, alpha, f.Alpha)
	f.Release()
}

// TestNewerFrameResetsSubslot feeds part of frame N, then frame N+1 on the
// same subslot, and checks the skipped counter and that bytes never mix.
func TestNewerFrameResetsSubslot(t *testing.T) {
	stats := util.NewStats()
	slot := NewSlot(3, "peer", SlotOptions{}, stats)

	var spN, spN1 Splitter // both start at subslot 0
	frameN := splitFrame(t, &spN, 3, 100, makeTestData(5000, 0x11), makeTestData(500, 0x22))
	frameN1 := splitFrame(t, &spN1, 3, 101, makeTestData(5000, 0x33), makeTestData(500, 0x44))
	require.Equal(t, frameN.meta.Subslot, frameN1.meta.Subslot)

	slot.HandleMetadata(frameN.meta)
	for _, c := range frameN.chunks[:len(frameN.chunks)-1] {
		slot.HandleChunk(c)
	}
	requireNoFrame(t, slot)

	slot.HandleMetadata(frameN1.meta)
	require.Equal(t, int64(1), stats.FramesSkipped.Load())

	// The last chunk of frame N is now stale and must be ignored.
	slot.HandleChunk(frameN.chunks[len(frameN.chunks)-1])
	requireNoFrame(t, slot)

	for _, c := range frameN1.chunks {
		slot.HandleChunk(c)
	}
	f := receive(t, slot)
	require.Equal(t, int32(101), f.FrameID)
	require.Equal(t, makeTestData(5000, 0x33), f.Texture)
	require.Equal(t, makeTestData(500, 0x44), f.Alpha)
	f.Release()

	require.Equal(t, int64(1), stats.FramesSkipped.Load())
	require.Equal(t, int64(1), stats.ChunksDropped.Load())
}

// TestCompletedFrameNotSkipped ensures a completed frame followed by a newer
// one does not count as skipped, and the old id cannot complete again.
func TestCompletedFrameNotSkipped(t *testing.T) {
	stats := util.NewStats()
	slot := NewSlot(1, "peer", SlotOptions{}, stats)

	var sp Splitter
	first := splitFrame(t, &sp, 1, 1, makeTestData(2000, 1), nil)
	slot.HandleMetadata(first.meta)
	for _, c := range first.chunks {
		slot.HandleChunk(c)
	}
	receive(t, slot).Release()

	// Replays of the completed frame are ignored.
	slot.HandleMetadata(first.meta)
	for _, c := range first.chunks {
		slot.HandleChunk(c)
	}
	requireNoFrame(t, slot)

	sp = Splitter{}
	second := splitFrame(t, &sp, 1, 2, makeTestData(10, 2), nil)
	slot.HandleMetadata(second.meta)
	slot.HandleChunk(second.chunks[0])
	receive(t, slot).Release()

	require.Zero(t, stats.FramesSkipped.Load())
	require.Equal(t, int64(2), stats.FramesReceived.Load())
}

// TestSubslotsPipelineFrames interleaves frames on different subslots.
func TestSubslotsPipelineFrames(t *testing.T) {
	slot := NewSlot(1, "peer", SlotOptions{}, nil)
	var sp Splitter

	var frames []wireFrame
	for id := range int32(protocol.Subslots) {
		frames = append(frames, splitFrame(t, &sp, 1, id+1, makeTestData(3000, byte(id)), makeTestData(30, byte(id))))
	}
	for i, wf := range frames {
		require.Equal(t, uint8(i), wf.meta.Subslot)
		slot.HandleMetadata(wf.meta)
	}

	// Deliver chunk 0 of every frame, then chunk 1, ...
	for round := 0; ; round++ {
		fed := false
		for _, wf := range frames {
			if round < len(wf.chunks) {
				slot.HandleChunk(wf.chunks[round])
				fed = true
			}
		}
		if !fed {
			break
		}
	}

	got := make(map[int32]bool)
	for range frames {
		f := receive(t, slot)
		require.Equal(t, makeTestData(3000, byte(f.FrameID-1)), f.Texture)
		got[f.FrameID] = true
		f.Release()
	}
	require.Len(t, got, protocol.Subslots)
}

// TestOutOfRangeChunkDropped checks chunks past the declared size.
func TestOutOfRangeChunkDropped(t *testing.T) {
	stats := util.NewStats()
	slot := NewSlot(1, "peer", SlotOptions{MaxFrameSize: 4 * protocol.ChunkPayloadSize}, stats)

	var sp Splitter
	wf := splitFrame(t, &sp, 1, 9, makeTestData(100, 1), nil)
	slot.HandleMetadata(wf.meta)

	slot.HandleChunk(&protocol.Chunk{Slot: 1, Subslot: wf.meta.Subslot, FrameID: 9, Index: 3, Payload: []byte{1, 2, 3}})
	require.Equal(t, int64(1), stats.ChunksDropped.Load())

	slot.HandleChunk(wf.chunks[0])
	f := receive(t, slot)
	require.Equal(t, makeTestData(100, 1), f.Texture)
	f.Release()

	// Before metadata, chunks are bounded by the slot's frame size limit.
	slot.HandleChunk(&protocol.Chunk{Slot: 1, Subslot: 4, FrameID: 50, Index: 4, Payload: []byte{1}})
	require.Equal(t, int64(2), stats.ChunksDropped.Load())
}

// TestMetadataContradictingChunks drops a frame whose early chunks reach past
// the size its metadata later declares.
func TestMetadataContradictingChunks(t *testing.T) {
	slot := NewSlot(1, "peer", SlotOptions{}, nil)
	slot.HandleChunk(&protocol.Chunk{Subslot: 0, FrameID: 3, Index: 2, Payload: makeTestData(10, 0)})
	slot.HandleMetadata(&protocol.FrameMetadata{Subslot: 0, FrameID: 3, TextureSize: 100})
	slot.HandleChunk(&protocol.Chunk{Subslot: 0, FrameID: 3, Index: 0, Payload: makeTestData(100, 0)})
	requireNoFrame(t, slot)
}

// TestPoolInvariant runs many acquire→complete→release cycles and checks
// the pool never holds more buffers than it was created with, and that
// only the original buffers circulate.
func TestPoolInvariant(t *testing.T) {
	for _, capacity := range []int{1, 2, 15} {
		p := NewPool(capacity, 16)
		originals := make(map[*Buffer]bool)
		for range capacity {
			b, ok := p.TryAcquire()
			require.True(t, ok)
			originals[b] = true
		}
		_, ok := p.TryAcquire()
		require.False(t, ok, "pool of %d handed out an extra buffer", capacity)
		for b := range originals {
			p.Release(b)
		}

		rng := rand.New(rand.NewPCG(uint64(capacity), 7))
		var held []*Buffer
		for range 1000 {
			if rng.IntN(2) == 0 {
				if b, ok := p.TryAcquire(); ok {
					require.True(t, originals[b], "pool produced a foreign buffer")
					b.ensure(rng.IntN(4096))
					held = append(held, b)
				}
			} else if len(held) > 0 {
				i := rng.IntN(len(held))
				p.Release(held[i])
				held = append(held[:i], held[i+1:]...)
			}
			require.LessOrEqual(t, p.Available(), capacity)
			require.Equal(t, capacity, p.Available()+len(held))
		}
	}
}

// TestPoolExhaustionDropsFrames fills a one-buffer slot and checks frames are
// dropped, not queued, until the consumer releases.
func TestPoolExhaustionDropsFrames(t *testing.T) {
	stats := util.NewStats()
	slot := NewSlot(1, "peer", SlotOptions{PoolSize: 1}, stats)
	var sp Splitter

	feed := func(id int32, seed byte) {
		wf := splitFrame(t, &sp, 1, id, makeTestData(1500, seed), nil)
		slot.HandleMetadata(wf.meta)
		for _, c := range wf.chunks {
			slot.HandleChunk(c)
		}
	}

	feed(1, 1)
	held := receive(t, slot)
	require.Zero(t, slot.Pool().Available())

	feed(2, 2)
	requireNoFrame(t, slot)

	held.Release()
	held.Release() // idempotent
	require.Equal(t, 1, slot.Pool().Available())

	// Frame 11 reuses frame 2's subslot; frame 2 never got a buffer.
	for id := int32(3); id <= 11; id++ {
		feed(id, byte(id))
		f := receive(t, slot)
		require.Equal(t, id, f.FrameID)
		require.Equal(t, makeTestData(1500, byte(id)), f.Texture)
		f.Release()
	}

	require.Equal(t, int64(1), stats.FramesDropped.Load())
	require.Zero(t, stats.FramesSkipped.Load())
	require.Equal(t, 1, slot.Pool().Available())
}

// TestSlotRelease checks queued frames are recycled and the channel closes.
func TestSlotRelease(t *testing.T) {
	slot := NewSlot(4, "peer", SlotOptions{PoolSize: 3}, nil)
	var sp Splitter

	for id := int32(1); id <= 2; id++ {
		wf := splitFrame(t, &sp, 4, id, makeTestData(10, 0), nil)
		slot.HandleMetadata(wf.meta)
		slot.HandleChunk(wf.chunks[0])
	}
	// A partial frame holding a buffer.
	wf := splitFrame(t, &sp, 4, 3, makeTestData(3000, 0), nil)
	slot.HandleMetadata(wf.meta)
	require.Zero(t, slot.Pool().Available())

	slot.Release()
	slot.Release()
	require.Equal(t, 3, slot.Pool().Available())

	_, open := <-slot.Frames()
	require.False(t, open)

	// Late data after release is ignored.
	slot.HandleChunk(wf.chunks[0])
}
