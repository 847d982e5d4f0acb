// Rendezvous server entry point.
//
// The server keeps the table of open rooms and relays the connection offer
// of a joining peer to the room's host, and the host's answer back. It can
// listen on UDP, WebSocket or both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/1ureka/vcollab/internal/config"
	"github.com/1ureka/vcollab/internal/rendezvous"
	"github.com/1ureka/vcollab/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "YAML configuration file")
	udpAddr := flag.String("udp", "", fmt.Sprintf("UDP listen address (default %q, \"-\" disables)", config.DefaultUDPAddr))
	wsAddr := flag.String("ws", "", fmt.Sprintf("WebSocket listen address (default %q, \"-\" disables)", config.DefaultWSAddr))
	logFile := flag.String("logFile", "", "Also write logs to this file (rotated)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.DefaultRendezvous()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadRendezvousConfig(*configPath); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	applyAddr(&cfg.UDPAddr, *udpAddr)
	applyAddr(&cfg.WSAddr, *wsAddr)
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *debugMode {
		util.EnableDebug()
	}
	if cfg.LogFile != "" {
		defer util.SetLogFile(cfg.LogFile, 50).Close()
	}

	pterm.Info.Println(fmt.Sprintf("VCollab rendezvous v%s", version))
	pterm.Println()

	srv, err := rendezvous.NewServer(rendezvous.ServerOptions{
		UDPAddr:        cfg.UDPAddr,
		WSAddr:         cfg.WSAddr,
		RoomExpiration: cfg.RoomExpiration(),
		SweepInterval:  cfg.SweepInterval(),
	})
	if err != nil {
		util.LogError("failed to start: %v", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		util.LogError("server stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("server closed")
}

// applyAddr overrides *dst with a flag value; "-" clears it.
func applyAddr(dst *string, flagValue string) {
	switch flagValue {
	case "":
	case "-":
		*dst = ""
	default:
		*dst = flagValue
	}
}
