package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vcollab/internal/util"
)

const (
	highWaterMark = 1024 * 1024 // pause (or drop, for lossy channels) above this bufferedAmount
	lowWaterMark  = 256 * 1024  // resume sending when bufferedAmount drops below this
)

// inboxSize is the outgoing message queue capacity per channel.
var inboxSize = [channelCount]int{
	ChannelControl: 64,
	ChannelMeta:    256,
	ChannelData:    4096,
}

// sender is a goroutine-based writer that serializes all writes to a single
// DataChannel, adding open-gate and backpressure control.
type sender struct {
	ch          Channel
	inbox       chan []byte
	drainSignal chan struct{}
	stats       *util.Stats
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, ch Channel, dc *webrtc.DataChannel, openSignal <-chan struct{}, stats *util.Stats) *sender {
	s := &sender{
		ch:          ch,
		inbox:       make(chan []byte, inboxSize[ch]),
		drainSignal: make(chan struct{}, 1),
		stats:       stats,
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the link to open, then
// drains the inbox with backpressure awareness. Lossy channels drop messages
// instead of waiting for the buffer to drain.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for the link to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send with backpressure.
	for {
		select {
		case data := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				if s.ch == ChannelData {
					s.stats.ChunksDropped.Add(1)
					continue
				}
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(data); err != nil {
				util.LogError("failed to send on %s channel (%d bytes): %v", s.ch, len(data), err)
				return
			}

			s.stats.AddSent(len(data))
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues data for transmission. Control messages block while the
// queue is full; frame messages are dropped instead. It returns false if the
// message was not queued.
func (s *sender) send(ctx context.Context, data []byte) bool {
	if ctx.Err() != nil {
		return false
	}

	if s.ch == ChannelControl {
		select {
		case s.inbox <- data:
			return true
		case <-ctx.Done():
			return false
		}
	}

	select {
	case s.inbox <- data:
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}
