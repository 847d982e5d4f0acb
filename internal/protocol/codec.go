package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeMetadata serializes a FrameMetadata into its fixed binary form.
func EncodeMetadata(m *FrameMetadata) []byte {
	buf := make([]byte, MetadataSize)
	buf[0] = m.Slot
	buf[1] = m.Subslot
	binary.BigEndian.PutUint32(buf[2:6], uint32(m.FrameID))
	binary.BigEndian.PutUint32(buf[6:10], uint32(m.TextureSize))
	binary.BigEndian.PutUint32(buf[10:14], uint32(m.AlphaSize))
	binary.BigEndian.PutUint32(buf[14:18], uint32(m.DecodedAlphaSize))
	binary.BigEndian.PutUint16(buf[18:20], m.Width)
	binary.BigEndian.PutUint16(buf[20:22], m.Height)
	binary.BigEndian.PutUint32(buf[22:26], m.PixelFormat)
	binary.BigEndian.PutUint32(buf[26:30], m.RowPitch)
	return buf
}

// DecodeMetadata deserializes a FrameMetadata and rejects records whose
// sizes cannot describe a frame.
func DecodeMetadata(data []byte) (*FrameMetadata, error) {
	if len(data) != MetadataSize {
		return nil, fmt.Errorf("metadata has %d bytes (need exactly %d)", len(data), MetadataSize)
	}
	m := &FrameMetadata{
		Slot:             data[0],
		Subslot:          data[1],
		FrameID:          int32(binary.BigEndian.Uint32(data[2:6])),
		TextureSize:      int32(binary.BigEndian.Uint32(data[6:10])),
		AlphaSize:        int32(binary.BigEndian.Uint32(data[10:14])),
		DecodedAlphaSize: int32(binary.BigEndian.Uint32(data[14:18])),
		Width:            binary.BigEndian.Uint16(data[18:20]),
		Height:           binary.BigEndian.Uint16(data[20:22]),
		PixelFormat:      binary.BigEndian.Uint32(data[22:26]),
		RowPitch:         binary.BigEndian.Uint32(data[26:30]),
	}
	if m.Subslot >= Subslots {
		return nil, fmt.Errorf("metadata subslot %d out of range (max %d)", m.Subslot, Subslots-1)
	}
	if m.TextureSize < 0 || m.AlphaSize < 0 || m.DecodedAlphaSize < 0 {
		return nil, fmt.Errorf("metadata has negative sizes (texture=%d, alpha=%d, decodedAlpha=%d)",
			m.TextureSize, m.AlphaSize, m.DecodedAlphaSize)
	}
	if m.TotalSize() > MaxChunks*ChunkPayloadSize {
		return nil, fmt.Errorf("metadata declares %d bytes (max %d)", m.TotalSize(), MaxChunks*ChunkPayloadSize)
	}
	return m, nil
}

// EncodeChunk serializes a Chunk for the frame data channel.
func EncodeChunk(c *Chunk) []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Payload))
	putChunkHeader(buf, c.Slot, c.Subslot, c.FrameID, c.Index)
	copy(buf[ChunkHeaderSize:], c.Payload)
	return buf
}

// putChunkHeader writes a chunk header into the first ChunkHeaderSize bytes
// of buf.
func putChunkHeader(buf []byte, slot, subslot uint8, frameID int32, index int16) {
	buf[0] = slot
	buf[1] = subslot
	binary.BigEndian.PutUint32(buf[2:6], uint32(frameID))
	binary.BigEndian.PutUint16(buf[6:8], uint16(index))
}

// DecodeChunk deserializes a Chunk. The payload aliases data; the receiver
// copies it into a reassembly buffer before data is reused.
func DecodeChunk(data []byte) (*Chunk, error) {
	if len(data) < ChunkHeaderSize {
		return nil, fmt.Errorf("chunk too short: %d bytes (need at least %d)", len(data), ChunkHeaderSize)
	}
	if len(data) > MaxChunkSize {
		return nil, fmt.Errorf("chunk too long: %d bytes (max %d)", len(data), MaxChunkSize)
	}
	c := &Chunk{
		Slot:    data[0],
		Subslot: data[1],
		FrameID: int32(binary.BigEndian.Uint32(data[2:6])),
		Index:   int16(binary.BigEndian.Uint16(data[6:8])),
		Payload: data[ChunkHeaderSize:],
	}
	if c.Subslot >= Subslots {
		return nil, fmt.Errorf("chunk subslot %d out of range (max %d)", c.Subslot, Subslots-1)
	}
	if c.Index < 0 {
		return nil, fmt.Errorf("chunk index %d is negative", c.Index)
	}
	return c, nil
}

// PeekSlot returns the slot byte shared by metadata and chunk records
// without decoding the rest. Relays use it to check the sender.
func PeekSlot(data []byte) (uint8, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return data[0], true
}

// ChunkCount is the number of chunks needed to carry size bytes.
func ChunkCount(size int) int {
	return (size + ChunkPayloadSize - 1) / ChunkPayloadSize
}

// EncodeChunks splits payload into encoded chunk messages that all share a
// single backing allocation.
func EncodeChunks(slot, subslot uint8, frameID int32, payload []byte) ([][]byte, error) {
	n := ChunkCount(len(payload))
	if n > MaxChunks {
		return nil, fmt.Errorf("frame of %d bytes needs %d chunks (max %d)", len(payload), n, MaxChunks)
	}

	slab := make([]byte, n*ChunkHeaderSize+len(payload))
	out := make([][]byte, 0, n)
	pos := 0
	for i := range n {
		start := i * ChunkPayloadSize
		end := min(start+ChunkPayloadSize, len(payload))
		size := ChunkHeaderSize + end - start

		msg := slab[pos : pos+size : pos+size]
		putChunkHeader(msg, slot, subslot, frameID, int16(i))
		copy(msg[ChunkHeaderSize:], payload[start:end])
		out = append(out, msg)
		pos += size
	}
	return out, nil
}
