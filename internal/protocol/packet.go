// Package protocol defines the wire formats exchanged between peers and with
// the rendezvous service: binary frame metadata and chunk records, msgpack
// control messages, and JSON rendezvous messages.
package protocol

// Frame channel layout.
const (
	// Subslots is the number of frames a sender keeps in flight per slot.
	Subslots = 9

	// MetadataSize is the fixed size of an encoded FrameMetadata:
	// Slot(1) + Subslot(1) + FrameID(4) + TextureSize(4) + AlphaSize(4) +
	// DecodedAlphaSize(4) + Width(2) + Height(2) + PixelFormat(4) + RowPitch(4).
	MetadataSize = 30

	// ChunkHeaderSize is Slot(1) + Subslot(1) + FrameID(4) + ChunkIndex(2).
	ChunkHeaderSize = 8

	// ChunkPayloadSize is the number of frame bytes carried by every chunk
	// except possibly the last one of a frame.
	ChunkPayloadSize = 1005

	// MaxChunkSize bounds one chunk message so it fits a single SCTP data
	// chunk on a 1200-byte path MTU.
	MaxChunkSize = ChunkHeaderSize + ChunkPayloadSize

	// MaxChunks is the number of chunk indices representable by the int16
	// chunk index.
	MaxChunks = 1 << 15
)

// FrameMetadata describes one frame: which peer slot and subslot it belongs
// to, how its payload splits into texture and alpha, and how the texture is
// laid out.
type FrameMetadata struct {
	Slot             uint8
	Subslot          uint8
	FrameID          int32
	TextureSize      int32
	AlphaSize        int32
	DecodedAlphaSize int32
	Width            uint16
	Height           uint16
	PixelFormat      uint32
	RowPitch         uint32
}

// TotalSize is the number of payload bytes the frame's chunks carry.
func (m *FrameMetadata) TotalSize() int {
	return int(m.TextureSize) + int(m.AlphaSize)
}

// Chunk is one fragment of a frame's texture‖alpha stream.
type Chunk struct {
	Slot    uint8
	Subslot uint8
	FrameID int32
	Index   int16
	Payload []byte
}

// Offset is the position of the chunk's payload within the frame.
func (c *Chunk) Offset() int {
	return int(c.Index) * ChunkPayloadSize
}
