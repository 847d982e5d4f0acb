package frame

import "sync/atomic"

// TextureInfo describes the layout of a frame's texture and alpha mask.
type TextureInfo struct {
	Width            uint16
	Height           uint16
	PixelFormat      uint32
	RowPitch         uint32
	DecodedAlphaSize int32 // size of the alpha mask once decompressed
}

// Completed is a fully reassembled frame handed to a consumer. Texture and
// Alpha alias a pooled buffer: the consumer must call Release once it is done
// with them, after which they must not be touched.
type Completed struct {
	Slot    uint8
	FrameID int32
	Info    TextureInfo
	Texture []byte
	Alpha   []byte

	buf      *Buffer
	pool     *Pool
	released atomic.Bool
}

// Release returns the frame's buffer to its slot's pool. Calling it more
// than once is a no-op.
func (c *Completed) Release() {
	if c.released.Swap(true) {
		return
	}
	c.Texture = nil
	c.Alpha = nil
	c.pool.Release(c.buf)
	c.buf = nil
}
