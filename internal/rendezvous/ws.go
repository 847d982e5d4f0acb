package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/vcollab/internal/protocol"
	"github.com/1ureka/vcollab/internal/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSServer feeds WebSocket text frames into a Registry, for clients that
// cannot reach the registry over UDP.
type WSServer struct {
	reg      *Registry
	listener net.Listener
	srv      *http.Server
}

// ListenWS binds addr (e.g. ":7778") and serves the endpoint at /ws.
func ListenWS(addr string, reg *Registry) (*WSServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	s := &WSServer{reg: reg, listener: listener}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Addr is the bound local address.
func (s *WSServer) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled.
func (s *WSServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.srv.Close()
	}()

	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the server and drops every connection.
func (s *WSServer) Close() error {
	return s.srv.Close()
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &wsSession{
		conn:   conn,
		remote: util.AddrPortOf(conn.RemoteAddr()),
		send:   make(chan []byte, sendQueue),
		done:   make(chan struct{}),
	}
	go sess.writePump()
	sess.readPump(s.reg)
}

// wsSession is one client connection; it is the Mailbox for every message
// that client sent.
type wsSession struct {
	conn   *websocket.Conn
	remote netip.AddrPort
	send   chan []byte
	done   chan struct{}
}

// readPump feeds messages into the registry until the connection drops.
func (c *wsSession) readPump(reg *Registry) {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(protocol.MaxRendezvousSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("[rendezvous] ws %s: %v", c.remote, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			util.LogWarning("[rendezvous] ws %s: ignoring non-text message", c.remote)
			continue
		}
		reg.HandleRequest(c.remote, data, c)
	}
}

// writePump writes queued messages and keeps the connection alive with
// pings.
func (c *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsSession) Deliver(msg *protocol.RendezvousMessage) error {
	data, err := protocol.EncodeRendezvous(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (c *wsSession) String() string { return "ws:" + c.remote.String() }
