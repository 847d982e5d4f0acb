// Package transport provides direct peer links: a pion PeerConnection with
// three pre-negotiated DataChannels (control, frame metadata, frame data),
// established through an SDP offer/answer relayed by the rendezvous service.
// ICE with STUN performs the NAT traversal.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vcollab/internal/util"
)

// Handler receives a link's events. Calls arrive on pion goroutines and must
// not block for long.
type Handler interface {
	OnOpen(linkID string)
	OnClose(linkID string)
	OnMessage(linkID string, ch Channel, data []byte)
}

// Options configures the links created by a Dialer.
type Options struct {
	STUNServers     []string      // nil selects DefaultSTUNServers, empty disables STUN
	IncludeLoopback bool          // gather loopback candidates (local testing)
	GatherTimeout   time.Duration // bound on ICE candidate gathering
}

const defaultGatherTimeout = 10 * time.Second

// Link wraps a single PeerConnection and its DataChannels.
//
// Its lifecycle is governed by the DataChannels, the PeerConnection state and
// the context passed at construction time: the first of them to end closes
// the link and reports OnClose exactly once.
type Link struct {
	id  string
	pc  *webrtc.PeerConnection
	dcs [channelCount]*webrtc.DataChannel

	senders    [channelCount]*sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	handler   Handler
	closeOnce sync.Once
	closeErr  error
}

// newLink creates a Link backed by a new PeerConnection and its
// pre-negotiated DataChannels.
func newLink(ctx context.Context, opts Options, h Handler, stats *util.Stats) (*Link, error) {
	pc, err := newPeerConnection(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	dcs, err := newDataChannels(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lCtx, lCancel := context.WithCancel(ctx)

	l := &Link{
		id:         uuid.NewString(),
		pc:         pc,
		dcs:        dcs,
		openSignal: make(chan struct{}),
		ctx:        lCtx,
		cancel:     lCancel,
		handler:    h,
	}

	// All channels open → link open.
	var openMu sync.Mutex
	opened := 0
	for ch, dc := range dcs {
		dc.OnOpen(func() {
			openMu.Lock()
			opened++
			ready := opened == channelCount
			openMu.Unlock()
			if ready {
				close(l.openSignal)
				util.LogDebug("[%s] link open", l.ShortID())
				h.OnOpen(l.id)
			}
		})

		// Any channel closing ends the link.
		dc.OnClose(func() {
			util.LogDebug("[%s] %s channel closed", l.ShortID(), Channel(ch))
			go l.Close()
		})

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			stats.AddRecv(len(msg.Data))
			h.OnMessage(l.id, Channel(ch), msg.Data)
		})

		l.senders[ch] = newSender(lCtx, Channel(ch), dc, l.openSignal, stats)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("[%s] PeerConnection state: %s", l.ShortID(), state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go l.Close()
		}
	})

	// Parent context → close.
	go func() {
		<-lCtx.Done()
		l.Close()
	}()

	return l, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ID is a random identifier for the link, unique within the process.
func (l *Link) ID() string { return l.id }

// ShortID is the first eight characters of ID, for logs.
func (l *Link) ShortID() string { return l.id[:8] }

// Ready returns a channel that is closed once every DataChannel is open.
func (l *Link) Ready() <-chan struct{} {
	return l.openSignal
}

// Done returns a channel that is closed when the link is shut down.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Close shuts down the DataChannels and the PeerConnection and reports
// OnClose. It is safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		errs := make([]error, 0, channelCount+1)
		for _, dc := range l.dcs {
			errs = append(errs, dc.Close())
		}
		errs = append(errs, l.pc.Close())
		l.closeErr = errors.Join(errs...)
		l.handler.OnClose(l.id)
	})
	return l.closeErr
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// localDescription sets desc as the local description and waits for ICE
// gathering to finish, so the returned SDP carries every candidate and no
// trickle exchange is needed.
func (l *Link) localDescription(ctx context.Context, desc webrtc.SessionDescription, timeout time.Duration) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-gatherComplete:
	case <-timer.C:
		return "", fmt.Errorf("ICE gathering did not finish within %v", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return l.pc.LocalDescription().SDP, nil
}

// SetAnswer applies the remote peer's SDP answer to an offering link.
func (l *Link) SetAnswer(sdp string) error {
	err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send queues data on the given channel. Messages on the control channel are
// never dropped while the link is alive; frame messages are dropped when the
// link is congested. It returns false if data was not queued.
func (l *Link) Send(ch Channel, data []byte) bool {
	if int(ch) >= channelCount {
		return false
	}
	return l.senders[ch].send(l.ctx, data)
}

// ---------------------------------------------------------------------------
// Dialer
// ---------------------------------------------------------------------------

// Dialer creates links. The offering side calls Offer and later SetAnswer;
// the answering side calls Answer.
type Dialer struct {
	Options Options
	Stats   *util.Stats
}

// NewDialer returns a Dialer reporting into stats (may be nil).
func NewDialer(opts Options, stats *util.Stats) *Dialer {
	if stats == nil {
		stats = util.NewStats()
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = defaultGatherTimeout
	}
	return &Dialer{Options: opts, Stats: stats}
}

// Offer creates a link and its complete SDP offer.
func (d *Dialer) Offer(ctx context.Context, h Handler) (*Link, string, error) {
	l, err := newLink(ctx, d.Options, h, d.Stats)
	if err != nil {
		return nil, "", err
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.Close()
		return nil, "", fmt.Errorf("failed to create offer: %w", err)
	}

	sdp, err := l.localDescription(ctx, offer, d.Options.GatherTimeout)
	if err != nil {
		l.Close()
		return nil, "", err
	}
	return l, sdp, nil
}

// Answer creates a link for a remote offer and returns its complete SDP
// answer.
func (d *Dialer) Answer(ctx context.Context, offerSDP string, h Handler) (*Link, string, error) {
	l, err := newLink(ctx, d.Options, h, d.Stats)
	if err != nil {
		return nil, "", err
	}

	err = l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP})
	if err != nil {
		l.Close()
		return nil, "", fmt.Errorf("failed to apply offer: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		l.Close()
		return nil, "", fmt.Errorf("failed to create answer: %w", err)
	}

	sdp, err := l.localDescription(ctx, answer, d.Options.GatherTimeout)
	if err != nil {
		l.Close()
		return nil, "", err
	}
	return l, sdp, nil
}
