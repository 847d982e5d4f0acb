// Package app contains the top-level orchestration for the host and peer
// roles.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/vcollab/internal/config"
	"github.com/1ureka/vcollab/internal/frame"
	"github.com/1ureka/vcollab/internal/rendezvous"
	"github.com/1ureka/vcollab/internal/session"
	"github.com/1ureka/vcollab/internal/transport"
	"github.com/1ureka/vcollab/internal/util"
)

// Run orchestrates one session endpoint:
//  1. Build the endpoint from cfg
//  2. Connect as host or peer
//  3. Start the demo producer, the consumer and the stats reporter
//  4. Wait until the session ends or ctx is cancelled
func Run(ctx context.Context, cfg *config.Config) error {
	// ── 1. Endpoint ────────────────────────────────────────────────────
	stats := util.NewStats()
	consumer := NewConsumer()

	dialer := transport.NewDialer(transport.Options{STUNServers: cfg.STUN}, stats)

	ep, err := session.New(session.Options{
		Rendezvous: func(ctx context.Context) (rendezvous.Client, error) {
			return rendezvous.Dial(ctx, cfg.Rendezvous)
		},
		Connector:        session.WebRTC(dialer),
		Stats:            stats,
		MaxSlots:         cfg.MaxSlots,
		Slot:             frame.SlotOptions{PoolSize: cfg.PoolSize, MaxFrameSize: cfg.MaxFrameSize()},
		KeepAlive:        cfg.KeepAlive(),
		AdmissionTimeout: cfg.AdmissionTimeout(),
		OnSlot:           consumer.Attach,
	})
	if err != nil {
		return err
	}
	defer ep.Close()

	// ── 2. Connect ─────────────────────────────────────────────────────
	switch cfg.Role {
	case config.RoleHost:
		err = ep.ConnectAsHost(ctx, cfg.Name, cfg.Token)
		if err == nil {
			printRoom(cfg)
		}
	case config.RolePeer:
		err = ep.ConnectAsPeer(ctx, cfg.Name, cfg.Token)
	default:
		err = fmt.Errorf("unknown role %q", cfg.Role)
	}
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// ── 3. Producer, consumer, stats ───────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	src := NewPatternSource(cfg.FrameWidth, cfg.FrameHeight, cfg.FrameRate)
	go src.Run(runCtx, ep)
	util.StartStatsReporter(runCtx, stats, cfg.StatsInterval())

	// ── 4. Wait ────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case <-ep.Done():
	}
	cancel()
	ep.Close()
	consumer.Wait()

	if err := ep.Err(); err != nil {
		if errors.Is(err, session.ErrRoomFull) {
			return fmt.Errorf("room %s is full: %w", cfg.Token, err)
		}
		return err
	}
	return nil
}

// printRoom shows the host the token peers need to join.
func printRoom(cfg *config.Config) {
	pterm.Println()
	pterm.DefaultBox.WithTitle("Room").Println(fmt.Sprintf(
		"Host       : %s\nToken      : %s\nRendezvous : %s\nSlots      : %d",
		cfg.Name, cfg.Token, cfg.Rendezvous, cfg.MaxSlots,
	))
	pterm.Println()
}
