package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/vcollab/internal/frame"
	"github.com/1ureka/vcollab/internal/session"
	"github.com/1ureka/vcollab/internal/util"
)

// pixelFormatBGRA is DXGI_FORMAT_B8G8R8A8_UNORM.
const pixelFormatBGRA = 87

// FrameSink accepts frames from a producer.
type FrameSink interface {
	SendFrame(texture, alpha []byte, info frame.TextureInfo, frameID int32) error
}

// PatternSource produces a moving BGRA test pattern with a separate alpha
// plane, standing in for a capture/encode pipeline.
type PatternSource struct {
	width, height int
	interval      time.Duration

	texture []byte
	alpha   []byte
}

// NewPatternSource returns a source of width×height frames at rate frames
// per second.
func NewPatternSource(width, height, rate int) *PatternSource {
	return &PatternSource{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(max(rate, 1)),
		texture:  make([]byte, width*height*4),
		alpha:    make([]byte, width*height),
	}
}

// Info describes the frames the source produces.
func (p *PatternSource) Info() frame.TextureInfo {
	return frame.TextureInfo{
		Width:            uint16(p.width),
		Height:           uint16(p.height),
		PixelFormat:      pixelFormatBGRA,
		RowPitch:         uint32(p.width * 4),
		DecodedAlphaSize: int32(p.width * p.height),
	}
}

// Render draws frame id into the source's buffers and returns them. They
// are overwritten by the next call.
func (p *PatternSource) Render(id int32) (texture, alpha []byte) {
	renderPattern(p.width, p.height, id, p.texture, p.alpha)
	return p.texture, p.alpha
}

// Run sends one frame per interval until ctx is cancelled. Frames the sink
// refuses are skipped; the id keeps counting.
func (p *PatternSource) Run(ctx context.Context, sink FrameSink) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	info := p.Info()
	var id int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		id++
		texture, alpha := p.Render(id)
		switch err := sink.SendFrame(texture, alpha, info, id); {
		case err == nil, errors.Is(err, session.ErrNotConnected):
		case errors.Is(err, session.ErrBackpressure):
			util.LogDebug("[producer] frame %d dropped: %v", id, err)
		default:
			util.LogWarning("[producer] frame %d: %v", id, err)
		}
	}
}

func renderPattern(width, height int, id int32, texture, alpha []byte) {
	shift := byte(id)
	for y := range height {
		row := texture[y*width*4 : (y+1)*width*4]
		for x := range width {
			px := row[x*4 : x*4+4]
			px[0] = byte(x) + shift
			px[1] = byte(y) + shift
			px[2] = byte(x ^ y)
			px[3] = 0xFF
			alpha[y*width+x] = byte(x+y) - shift
		}
	}
}

// CheckPattern verifies that a received frame is intact pattern frame
// output.
func CheckPattern(f *frame.Completed) error {
	w, h := int(f.Info.Width), int(f.Info.Height)
	if len(f.Texture) != w*h*4 || len(f.Alpha) != w*h {
		return fmt.Errorf("frame %d: %dx%d with %d+%d bytes is not a pattern frame",
			f.FrameID, w, h, len(f.Texture), len(f.Alpha))
	}

	texture := make([]byte, len(f.Texture))
	alpha := make([]byte, len(f.Alpha))
	renderPattern(w, h, f.FrameID, texture, alpha)
	for i := range texture {
		if texture[i] != f.Texture[i] {
			return fmt.Errorf("frame %d: texture differs at byte %d", f.FrameID, i)
		}
	}
	for i := range alpha {
		if alpha[i] != f.Alpha[i] {
			return fmt.Errorf("frame %d: alpha differs at byte %d", f.FrameID, i)
		}
	}
	return nil
}
