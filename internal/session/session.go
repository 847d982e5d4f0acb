// Package session runs one participant of a room: either the host, which
// admits peers and relays their frames, or a peer, which talks to the host
// only.
//
// All session state (slot table, links, lifecycle) is owned by a single
// event-loop goroutine. Link callbacks, rendezvous messages, outbound frames
// and timers are all funnelled into that loop, so no state is shared between
// goroutines except through channels and the atomic lifecycle state.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/vcollab/internal/frame"
	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/rendezvous"
	"github.com/1ureka/vcollab/internal/token"
	"github.com/1ureka/vcollab/internal/transport"
	"github.com/1ureka/vcollab/internal/util"
)

const (
	// DefaultMaxSlots is the size of the slot table, host included.
	DefaultMaxSlots = 23
	// DefaultKeepAlive is how often a host re-announces its room.
	DefaultKeepAlive = 10 * time.Second
	// DefaultAdmissionTimeout bounds how long a host waits for a new link
	// to identify itself before dropping it.
	DefaultAdmissionTimeout = 10 * time.Second

	housekeepingInterval = 100 * time.Millisecond
	eventQueueSize       = 4096
	outboundQueueSize    = 4
)

// Options configures an Endpoint.
type Options struct {
	// Rendezvous dials the rendezvous service. It is called only after the
	// room token has been validated.
	Rendezvous func(ctx context.Context) (rendezvous.Client, error)
	// Connector creates the peer-to-peer links.
	Connector Connector
	Stats     *util.Stats

	MaxSlots         int
	Slot             frame.SlotOptions
	KeepAlive        time.Duration
	AdmissionTimeout time.Duration

	// OnSlot is called from the event loop whenever a remote slot is
	// created. The slot's Frames channel is closed when the slot goes away.
	// It must not block.
	OnSlot func(*frame.Slot)
}

func (o Options) withDefaults() Options {
	if o.MaxSlots <= 0 {
		o.MaxSlots = DefaultMaxSlots
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.AdmissionTimeout <= 0 {
		o.AdmissionTimeout = DefaultAdmissionTimeout
	}
	if o.Stats == nil {
		o.Stats = util.NewStats()
	}
	return o
}

// Endpoint is one participant of a room.
type Endpoint struct {
	opts Options

	name  string
	token string
	role  role
	rdv   rendezvous.Client
	state atomic.Int32

	// owned by the event loop
	slots    []*frame.Slot
	members  map[string]*member
	ownSlot  int
	splitter frame.Splitter

	events   chan event
	outbound chan *frame.Outbound

	ctx        context.Context
	cancel     context.CancelFunc
	stopParent func() bool // detaches ctx from the caller's context
	done       chan struct{}

	errMu sync.Mutex
	err   error
}

// New returns an idle Endpoint.
func New(opts Options) (*Endpoint, error) {
	opts = opts.withDefaults()
	if opts.Rendezvous == nil {
		return nil, fmt.Errorf("session: no rendezvous dialer")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("session: no connector")
	}
	if opts.MaxSlots < 2 || opts.MaxSlots > 256 {
		return nil, fmt.Errorf("session: slot table size %d out of range [2, 256]", opts.MaxSlots)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		opts:     opts,
		slots:    make([]*frame.Slot, opts.MaxSlots),
		members:  make(map[string]*member),
		ownSlot:  -1,
		events:   make(chan event, eventQueueSize),
		outbound: make(chan *frame.Outbound, outboundQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// ConnectAsHost announces a room under tok and starts admitting peers. It
// returns once the room has been announced; the session then runs until ctx
// is cancelled, Close is called or a fatal error occurs.
func (e *Endpoint) ConnectAsHost(ctx context.Context, name, tok string) error {
	return e.connect(ctx, name, tok, &hostRole{})
}

// ConnectAsPeer asks the host of room tok for an introduction. It returns
// once the request has been sent.
func (e *Endpoint) ConnectAsPeer(ctx context.Context, name, tok string) error {
	return e.connect(ctx, name, tok, &spokeRole{})
}

func (e *Endpoint) connect(ctx context.Context, name, tok string, r role) error {
	if err := token.Validate(tok); err != nil {
		return err
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateIntroducing)) {
		return ErrAlreadyStarted
	}

	// The session ends with the caller's context or on Close, whichever
	// comes first. Close may run while the dial below is in progress.
	e.stopParent = context.AfterFunc(ctx, e.cancel)

	rdv, err := e.opts.Rendezvous(e.ctx)
	if err != nil {
		e.stopParent()
		e.cancel()
		e.setState(StateClosed)
		close(e.done)
		return fmt.Errorf("rendezvous: %w", err)
	}

	e.name = name
	e.token = tok
	e.role = r
	e.rdv = rdv

	if err := r.start(e); err != nil {
		e.fail(err)
		e.teardown()
		return err
	}

	go e.run()
	return nil
}

// State reports the lifecycle stage.
func (e *Endpoint) State() State { return State(e.state.Load()) }

// Done is closed once the session has ended and released its resources.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Err reports why the session ended. It is nil after a clean shutdown.
func (e *Endpoint) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Stats returns the counters the endpoint reports into.
func (e *Endpoint) Stats() *util.Stats { return e.opts.Stats }

// Close ends the session and waits for it to wind down.
func (e *Endpoint) Close() error {
	if e.State() == StateIdle {
		if e.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
			e.cancel()
			close(e.done)
			return nil
		}
	}
	e.cancel()
	<-e.done
	return nil
}

// SendFrame queues a frame from the local producer. The bytes are copied
// before SendFrame returns. If the outbound queue is full the frame is
// dropped and ErrBackpressure is returned.
func (e *Endpoint) SendFrame(texture, alpha []byte, info frame.TextureInfo, frameID int32) error {
	if e.State() != StateActive {
		return ErrNotConnected
	}

	f := frame.NewOutbound(texture, alpha, info, frameID)
	select {
	case e.outbound <- f:
		return nil
	default:
		e.opts.Stats.FramesDropped.Add(1)
		return ErrBackpressure
	}
}

func (e *Endpoint) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		util.LogDebug("[session] %s -> %s", old, s)
	}
}

// fail records the first fatal error.
func (e *Endpoint) fail(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// Event loop
// ──────────────────────────────────────────────────────────────────────────────

type eventKind int

const (
	eventOpen eventKind = iota
	eventClose
	eventMessage
	eventAnswered
)

type event struct {
	kind   eventKind
	linkID string
	ch     transport.Channel
	data   []byte

	// eventAnswered
	answered *answered
}

// answered is the outcome of answering an introduction off the loop.
type answered struct {
	link    Link
	sdp     string
	introID string
	intro   protocol.Introduction
	err     error
}

func (e *Endpoint) run() {
	defer e.teardown()

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		var (
			rdvMessages <-chan *protocol.RendezvousMessage
			rdvDone     <-chan struct{}
		)
		if e.rdv != nil {
			rdvMessages = e.rdv.Messages()
			rdvDone = e.rdv.Done()
		}

		var err error
		select {
		case <-e.ctx.Done():
			return

		case <-rdvDone:
			err = fmt.Errorf("rendezvous: %w", e.rdv.Err())

		case msg := <-rdvMessages:
			err = e.role.onRendezvous(e, msg)

		case ev := <-e.events:
			err = e.handle(ev)

		case f := <-e.outbound:
			e.sendOwnFrame(f)

		case now := <-ticker.C:
			err = e.role.tick(e, now)
		}

		if err != nil {
			e.fail(err)
			return
		}
	}
}

func (e *Endpoint) handle(ev event) error {
	if ev.kind == eventAnswered {
		return e.role.onAnswered(e, ev.answered)
	}

	m := e.members[ev.linkID]
	if m == nil {
		if ev.kind == eventMessage {
			e.opts.Stats.ChunksDropped.Add(1)
		}
		return nil
	}

	switch ev.kind {
	case eventOpen:
		m.opened = true
		return e.role.onLinkOpen(e, m)

	case eventClose:
		delete(e.members, ev.linkID)
		return e.role.onLinkClosed(e, m)

	case eventMessage:
		if ev.ch == transport.ChannelControl {
			msg, err := protocol.DecodeControl(ev.data)
			if err != nil {
				util.LogWarning("[session] undecodable control message from %s: %v", shortID(ev.linkID), err)
				return nil
			}
			return e.role.onControlMessage(e, m, msg)
		}
		e.receiveFrameData(m, ev.ch, ev.data)
	}
	return nil
}

// receiveFrameData feeds a metadata or chunk message into its slot and lets
// the role relay it.
func (e *Endpoint) receiveFrameData(from *member, ch transport.Channel, data []byte) {
	drop := func() { e.opts.Stats.ChunksDropped.Add(1) }

	idx, ok := protocol.PeekSlot(data)
	if !ok || !e.role.accepts(e, from, idx) {
		drop()
		return
	}
	s := e.slotAt(int(idx))
	if s == nil {
		drop()
		return
	}

	switch ch {
	case transport.ChannelMeta:
		meta, err := protocol.DecodeMetadata(data)
		if err != nil {
			drop()
			return
		}
		s.HandleMetadata(meta)
	case transport.ChannelData:
		c, err := protocol.DecodeChunk(data)
		if err != nil {
			drop()
			return
		}
		s.HandleChunk(c)
	default:
		drop()
		return
	}

	e.role.forward(e, from, ch, data)
}

// sendOwnFrame splits a local frame and hands it to every target link.
func (e *Endpoint) sendOwnFrame(f *frame.Outbound) {
	slot, targets, ok := e.role.outbound(e)
	if !ok {
		e.opts.Stats.FramesDropped.Add(1)
		return
	}
	if len(targets) == 0 {
		return
	}

	meta, chunks, err := e.splitter.Split(slot, f)
	if err != nil {
		util.LogWarning("[session] dropping outbound frame: %v", err)
		e.opts.Stats.FramesDropped.Add(1)
		return
	}

	for _, m := range targets {
		m.link.Send(transport.ChannelMeta, meta)
		for _, c := range chunks {
			m.link.Send(transport.ChannelData, c)
		}
	}
	e.opts.Stats.FramesSent.Add(1)
}

// teardown releases everything the loop owned. Pending events are
// discarded.
func (e *Endpoint) teardown() {
	e.setState(StateClosed)
	e.cancel()
	if e.stopParent != nil {
		e.stopParent()
	}

	for id, m := range e.members {
		m.link.Close()
		delete(e.members, id)
	}
	for i := range e.slots {
		e.releaseSlot(i)
	}
	e.closeRendezvous()

	for {
		select {
		case <-e.events:
			continue
		case <-e.outbound:
			continue
		default:
		}
		break
	}

	if err := e.Err(); err != nil {
		util.LogError("[session] ended: %v", err)
	} else {
		util.LogInfo("[session] ended")
	}
	close(e.done)
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop helpers
// ──────────────────────────────────────────────────────────────────────────────

func (e *Endpoint) slotAt(i int) *frame.Slot {
	if i < 0 || i >= len(e.slots) {
		return nil
	}
	return e.slots[i]
}

// createSlot installs a fresh slot at i, replacing any previous occupant.
func (e *Endpoint) createSlot(i int, name string) *frame.Slot {
	e.releaseSlot(i)
	s := frame.NewSlot(uint8(i), name, e.opts.Slot, e.opts.Stats)
	e.slots[i] = s
	if e.opts.OnSlot != nil {
		e.opts.OnSlot(s)
	}
	return s
}

func (e *Endpoint) releaseSlot(i int) {
	if s := e.slotAt(i); s != nil {
		s.Release()
		e.slots[i] = nil
	}
}

func (e *Endpoint) addMember(l Link, slot int, name string) *member {
	m := &member{link: l, name: name, slot: slot, since: time.Now()}
	e.members[l.ID()] = m
	return m
}

func (e *Endpoint) sendControl(m *member, payload any) {
	data, err := protocol.EncodeControl(payload)
	if err != nil {
		util.LogError("[session] encoding control message: %v", err)
		return
	}
	if !m.link.Send(transport.ChannelControl, data) {
		util.LogWarning("[session] control message to %s not sent", shortID(m.link.ID()))
	}
}

func (e *Endpoint) closeRendezvous() {
	if e.rdv != nil {
		e.rdv.Close()
		e.rdv = nil
	}
}

// post delivers an event to the loop, waiting for room unless the session
// is ending.
func (e *Endpoint) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// transport.Handler
// ──────────────────────────────────────────────────────────────────────────────

func (e *Endpoint) OnOpen(linkID string) {
	e.post(event{kind: eventOpen, linkID: linkID})
}

func (e *Endpoint) OnClose(linkID string) {
	e.post(event{kind: eventClose, linkID: linkID})
}

// OnMessage queues control messages reliably. Frame data is shed when the
// loop falls behind; the reassembler copes with missing chunks.
func (e *Endpoint) OnMessage(linkID string, ch transport.Channel, data []byte) {
	ev := event{kind: eventMessage, linkID: linkID, ch: ch, data: data}
	if ch == transport.ChannelControl {
		e.post(ev)
		return
	}
	select {
	case e.events <- ev:
	default:
		e.opts.Stats.ChunksDropped.Add(1)
	}
}
