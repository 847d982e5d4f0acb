package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/util"
)

// Client is a session endpoint's connection to the rendezvous service.
type Client interface {
	// Send transmits one message. It does not wait for any reply.
	Send(msg *protocol.RendezvousMessage) error
	// Messages yields messages addressed to this client.
	Messages() <-chan *protocol.RendezvousMessage
	// Done is closed when the connection fails or is closed; Err then
	// reports why.
	Done() <-chan struct{}
	Err() error
	// LocalAddr is the client's own address, reported to the registry as
	// its internal address.
	LocalAddr() string
	Close() error
}

// ErrClosed is reported by Err after Close.
var ErrClosed = errors.New("rendezvous client closed")

const inboxSize = 16

// Dial connects to the rendezvous service at rawURL: "udp://host:port",
// "ws://host:port[/ws]" or "wss://host[/ws]". A bare "host:port" means UDP.
func Dial(ctx context.Context, rawURL string) (Client, error) {
	raw := strings.TrimSpace(rawURL)
	if !strings.Contains(raw, "://") {
		raw = "udp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid rendezvous URL: %s", rawURL)
	}

	switch u.Scheme {
	case "udp":
		return DialUDP(ctx, u.Host)
	case "ws", "wss":
		if u.Path == "" || u.Path == "/" {
			u.Path = "/ws"
		}
		return DialWS(ctx, u.String())
	}
	return nil, fmt.Errorf("unsupported rendezvous scheme %q (want udp, ws or wss)", u.Scheme)
}

// clientBase holds the inbox and termination state shared by both clients.
type clientBase struct {
	inbox    chan *protocol.RendezvousMessage
	done     chan struct{}
	failOnce sync.Once
	err      error
}

func (c *clientBase) init() {
	c.inbox = make(chan *protocol.RendezvousMessage, inboxSize)
	c.done = make(chan struct{})
}

func (c *clientBase) Messages() <-chan *protocol.RendezvousMessage { return c.inbox }
func (c *clientBase) Done() <-chan struct{}                        { return c.done }

func (c *clientBase) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// fail records err and closes Done. Only the first call counts.
func (c *clientBase) fail(err error) {
	c.failOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// deliver decodes a received payload and queues it. Undecodable payloads
// and overflow are logged and dropped.
func (c *clientBase) deliver(data []byte) {
	msg, err := protocol.DecodeRendezvous(data)
	if err != nil {
		util.LogWarning("[rendezvous] dropping message from the service: %v", err)
		return
	}
	select {
	case c.inbox <- msg:
	default:
		util.LogWarning("[rendezvous] inbox full, dropping %s message", msg.Type)
	}
}

// ---------------------------------------------------------------------------
// UDP
// ---------------------------------------------------------------------------

type udpClient struct {
	clientBase
	conn *net.UDPConn
}

// DialUDP opens a UDP socket towards the registry at addr.
func DialUDP(ctx context.Context, addr string) (Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach rendezvous service at %s: %w", addr, err)
	}

	c := &udpClient{conn: conn.(*net.UDPConn)}
	c.init()
	go c.readLoop()
	return c, nil
}

func (c *udpClient) readLoop() {
	buf := make([]byte, protocol.MaxRendezvousSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				// ICMP port unreachable from an earlier send: the service
				// is down for now, later sends may still succeed.
				util.LogWarning("[rendezvous] service at %s refused the last message", c.conn.RemoteAddr())
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				c.fail(ErrClosed)
			} else {
				c.fail(fmt.Errorf("rendezvous socket failed: %w", err))
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		c.deliver(data)
	}
}

func (c *udpClient) Send(msg *protocol.RendezvousMessage) error {
	data, err := protocol.EncodeRendezvous(msg)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil && !errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *udpClient) LocalAddr() string { return c.conn.LocalAddr().String() }

func (c *udpClient) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

type wsClient struct {
	clientBase
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWS connects to the registry's WebSocket endpoint at wsURL.
func DialWS(ctx context.Context, wsURL string) (Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}

	c := &wsClient{conn: conn}
	c.init()
	go c.readLoop()
	return c, nil
}

func (c *wsClient) readLoop() {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(fmt.Errorf("rendezvous connection lost: %w", err))
			}
			return
		}
		if kind == websocket.TextMessage {
			c.deliver(data)
		}
	}
}

// Send writes a message to the WebSocket, guarded by a mutex.
func (c *wsClient) Send(msg *protocol.RendezvousMessage) error {
	data, err := protocol.EncodeRendezvous(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *wsClient) LocalAddr() string { return c.conn.LocalAddr().String() }

func (c *wsClient) Close() error {
	c.fail(ErrClosed)

	c.mu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()

	return c.conn.Close()
}
