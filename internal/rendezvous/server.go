package rendezvous

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/vcollab/internal/util"
)

// ServerOptions selects the front-ends of a Server. An empty address
// disables that front-end.
type ServerOptions struct {
	UDPAddr        string
	WSAddr         string
	RoomExpiration time.Duration
	SweepInterval  time.Duration
}

// Server bundles a Registry with its front-ends and sweeper.
type Server struct {
	Registry *Registry
	UDP      *UDPServer
	WS       *WSServer

	sweepInterval time.Duration
}

// NewServer binds every configured front-end.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.UDPAddr == "" && opts.WSAddr == "" {
		return nil, errors.New("no rendezvous front-end configured")
	}

	s := &Server{
		Registry:      NewRegistry(opts.RoomExpiration),
		sweepInterval: opts.SweepInterval,
	}

	if opts.UDPAddr != "" {
		udp, err := ListenUDP(opts.UDPAddr, s.Registry)
		if err != nil {
			return nil, err
		}
		s.UDP = udp
	}

	if opts.WSAddr != "" {
		ws, err := ListenWS(opts.WSAddr, s.Registry)
		if err != nil {
			if s.UDP != nil {
				s.UDP.Close()
			}
			return nil, err
		}
		s.WS = ws
	}

	return s, nil
}

// Run serves until ctx is cancelled or a front-end fails. The first
// front-end error cancels the others and is returned.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(name string, err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() {
			util.LogError("[rendezvous] %s front-end stopped: %v", name, err)
			runErr = err
			cancel()
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Registry.Run(ctx, s.sweepInterval)
	}()

	if s.UDP != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			util.LogInfo("[rendezvous] listening on udp %s", s.UDP.Addr())
			fail("udp", s.UDP.Serve(ctx))
		}()
	}

	if s.WS != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			util.LogInfo("[rendezvous] listening on ws://%s/ws", s.WS.Addr())
			fail("ws", s.WS.Serve(ctx))
		}()
	}

	wg.Wait()
	return runErr
}
