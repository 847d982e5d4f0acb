package frame

import (
	"fmt"

	"github.com/1ureka/vcollab/internal/protocol"
)

// Outbound is a frame queued for sending. It owns a private copy of the
// producer's bytes, texture first and alpha second.
type Outbound struct {
	FrameID     int32
	Info        TextureInfo
	Payload     []byte
	TextureSize int
}

// NewOutbound copies texture and alpha so the producer may reuse its
// buffers as soon as this returns.
func NewOutbound(texture, alpha []byte, info TextureInfo, frameID int32) *Outbound {
	payload := make([]byte, len(texture)+len(alpha))
	copy(payload, texture)
	copy(payload[len(texture):], alpha)
	return &Outbound{
		FrameID:     frameID,
		Info:        info,
		Payload:     payload,
		TextureSize: len(texture),
	}
}

// Splitter turns outbound frames into wire messages, rotating frames over
// the subslots so that several can be in flight at once.
type Splitter struct {
	next uint8
}

// Split encodes f's metadata record and chunk messages for the given sender
// slot.
func (s *Splitter) Split(slot uint8, f *Outbound) (meta []byte, chunks [][]byte, err error) {
	alphaSize := len(f.Payload) - f.TextureSize
	if f.TextureSize < 0 || alphaSize < 0 {
		return nil, nil, fmt.Errorf("frame %d: texture size %d exceeds payload of %d bytes", f.FrameID, f.TextureSize, len(f.Payload))
	}

	subslot := s.next
	s.next = (s.next + 1) % protocol.Subslots

	chunks, err = protocol.EncodeChunks(slot, subslot, f.FrameID, f.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
	}

	meta = protocol.EncodeMetadata(&protocol.FrameMetadata{
		Slot:             slot,
		Subslot:          subslot,
		FrameID:          f.FrameID,
		TextureSize:      int32(f.TextureSize),
		AlphaSize:        int32(alphaSize),
		DecodedAlphaSize: f.Info.DecodedAlphaSize,
		Width:            f.Info.Width,
		Height:           f.Info.Height,
		PixelFormat:      f.Info.PixelFormat,
		RowPitch:         f.Info.RowPitch,
	})
	return meta, chunks, nil
}
