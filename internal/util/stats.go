package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Stats context
// ──────────────────────────────────────────────────────────────────────────────

// Stats holds the frame/traffic counters of one session endpoint. It is
// created by the caller and handed to every component that reports into it.
// All fields are safe for concurrent use.
type Stats struct {
	FramesSent     atomic.Int64 // frames split and queued to at least one link
	FramesReceived atomic.Int64 // frames fully reassembled
	FramesSkipped  atomic.Int64 // frames superseded by a newer id before completing
	FramesDropped  atomic.Int64 // frames lost to pool exhaustion or a full send queue
	ChunksDropped  atomic.Int64 // stale, out-of-range, undecodable or congestion-shed chunks
	BytesSent      atomic.Int64 // bytes handed to DataChannels
	BytesRecv      atomic.Int64 // bytes read from DataChannels
	PeersJoined    atomic.Int64
	PeersLeft      atomic.Int64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *Stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	FramesSent, FramesReceived, FramesSkipped, FramesDropped int64
	ChunksDropped                                            int64
	BytesSent, BytesRecv                                     int64
	PeersJoined, PeersLeft                                   int64
}

// Snapshot reads every counter once.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:     s.FramesSent.Load(),
		FramesReceived: s.FramesReceived.Load(),
		FramesSkipped:  s.FramesSkipped.Load(),
		FramesDropped:  s.FramesDropped.Load(),
		ChunksDropped:  s.ChunksDropped.Load(),
		BytesSent:      s.BytesSent.Load(),
		BytesRecv:      s.BytesRecv.Load(),
		PeersJoined:    s.PeersJoined.Load(),
		PeersLeft:      s.PeersLeft.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs the deltas of s every
// interval. Quiet intervals are not logged. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := s.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				if line, ok := formatStats(prev, cur, interval); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the difference between two snapshots. The second
// return value is false when nothing noteworthy happened.
func formatStats(prev, cur Snapshot, interval time.Duration) (string, bool) {
	secs := interval.Seconds()
	outS := float64(cur.BytesSent-prev.BytesSent) / secs
	inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
	sent := cur.FramesSent - prev.FramesSent
	recv := cur.FramesReceived - prev.FramesReceived
	skipped := cur.FramesSkipped - prev.FramesSkipped
	dropped := cur.FramesDropped - prev.FramesDropped
	joined := cur.PeersJoined - prev.PeersJoined
	left := cur.PeersLeft - prev.PeersLeft

	if sent == 0 && recv == 0 && skipped == 0 && dropped == 0 && joined == 0 && left == 0 && inS <= 10 && outS <= 10 {
		return "", false
	}

	return fmt.Sprintf("In: %s/s | Out: %s/s | Frames: %3d↑ %3d↓ %2d skipped %2d dropped | Peers: %2d+ %2d-",
		formatBytes(inS),
		formatBytes(outS),
		sent,
		recv,
		skipped,
		dropped,
		joined,
		left,
	), true
}
