package app

import (
	"sync"
	"sync/atomic"

	"github.com/1ureka/vcollab/internal/frame"
	"github.com/1ureka/vcollab/internal/util"
)

// Consumer drains every remote slot, checks the frames and releases them.
type Consumer struct {
	wg       sync.WaitGroup
	received atomic.Int64
	corrupt  atomic.Int64
}

func NewConsumer() *Consumer {
	return &Consumer{}
}

// Attach starts draining s. It matches session.Options.OnSlot.
func (c *Consumer) Attach(s *frame.Slot) {
	util.LogInfo("[consumer] slot %d: %q", s.Index(), s.Name())
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(s)
	}()
}

func (c *Consumer) drain(s *frame.Slot) {
	n := 0
	for f := range s.Frames() {
		if err := CheckPattern(f); err != nil {
			c.corrupt.Add(1)
			util.LogWarning("[consumer] slot %d: %v", s.Index(), err)
		}
		if n == 0 {
			util.LogSuccess("[consumer] first frame from %q: %dx%d, %d+%d bytes",
				s.Name(), f.Info.Width, f.Info.Height, len(f.Texture), len(f.Alpha))
		}
		n++
		c.received.Add(1)
		f.Release()
	}
	util.LogInfo("[consumer] slot %d (%q) closed after %d frames", s.Index(), s.Name(), n)
}

// Wait blocks until every attached slot has been closed.
func (c *Consumer) Wait() { c.wg.Wait() }

func (c *Consumer) Received() int64 { return c.received.Load() }
func (c *Consumer) Corrupt() int64  { return c.corrupt.Load() }
