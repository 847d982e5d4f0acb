// VCollab CLI entry point.
//
// This tool joins a room of peers that stream frames to each other over
// WebRTC DataChannels. The host of a room relays every peer's frames to
// everybody else; a rendezvous service is only needed while connecting.
//
// It can be launched interactively (no subcommand) or non-interactively via
// the host, join and token subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/vcollab/internal/app"
	"github.com/1ureka/vcollab/internal/config"
	"github.com/1ureka/vcollab/internal/token"
	"github.com/1ureka/vcollab/internal/util"
)

var version = "dev"

var (
	flagConfig     string
	flagDebug      bool
	flagLogFile    string
	flagName       string
	flagRendezvous string
	flagSlots      int
	flagFrameRate  int
)

var rootCmd = &cobra.Command{
	Use:     "vcollab",
	Short:   "Share live frames with a room of peers over WebRTC",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd)
	},
}

var hostCmd = &cobra.Command{
	Use:   "host [token]",
	Short: "Host a room, generating a token unless one is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.RoleHost)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.Token = args[0]
		}
		if cfg.Token == "" {
			if cfg.Token, err = token.New(); err != nil {
				return err
			}
		}
		return run(cmd.Context(), cfg)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <token>",
	Short: "Join the room identified by token",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.RolePeer)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.Token = args[0]
		}
		if cfg.Token == "" {
			cfg.Token = askToken()
		}
		return run(cmd.Context(), cfg)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a fresh room token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := token.New()
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogFile, "log-file", "", "Also write logs to this file (rotated)")
	pf.StringVarP(&flagName, "name", "n", "", "Display name shown to the other peers")
	pf.StringVarP(&flagRendezvous, "rendezvous", "r", "", "Rendezvous service: udp://host:port, ws://host:port or wss://host")
	pf.IntVar(&flagSlots, "slots", 0, "Room size including the host (host only)")
	pf.IntVar(&flagFrameRate, "fps", 0, "Frame rate of the demo producer")

	rootCmd.AddCommand(hostCmd, joinCmd, tokenCmd)
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive prompts for the role, name and token when no subcommand is
// given.
func runInteractive(cmd *cobra.Command) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host - Open a new room", "Peer - Join an existing room"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg, err := loadConfig(cmd, config.RoleHost)
		if err != nil {
			return err
		}
		if cfg.Token == "" {
			if cfg.Token, err = token.New(); err != nil {
				return err
			}
		}
		return run(cmd.Context(), cfg)
	}

	cfg, err := loadConfig(cmd, config.RolePeer)
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		cfg.Token = askToken()
	}
	return run(cmd.Context(), cfg)
}

// run sets up logging and runs the session until it ends.
func run(ctx context.Context, cfg *config.Config) error {
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if flagDebug {
		util.EnableDebug()
	}
	if cfg.LogFile != "" {
		defer util.SetLogFile(cfg.LogFile, 10).Close()
	}

	if cfg.Name == "" {
		cfg.Name = askName()
	}

	pterm.Info.Println(fmt.Sprintf("VCollab v%s", version))
	pterm.Println()

	err := app.Run(ctx, cfg)
	switch {
	case err == nil:
		util.LogInfo("session closed")
		return nil
	case errors.Is(err, token.ErrInvalid):
		return fmt.Errorf("%w (expected %q followed by %d letters or digits)", err, token.Prefix, token.Length-len(token.Prefix))
	default:
		return err
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// loadConfig builds the configuration from the defaults, the optional YAML
// file and the flags that were set explicitly.
func loadConfig(cmd *cobra.Command, role config.Role) (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}

	cfg.Role = role
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Name = flagName
	}
	if flags.Changed("rendezvous") {
		cfg.Rendezvous = flagRendezvous
	}
	if flags.Changed("slots") {
		cfg.MaxSlots = flagSlots
	}
	if flags.Changed("fps") {
		cfg.FrameRate = flagFrameRate
	}
	if flags.Changed("log-file") {
		cfg.LogFile = flagLogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// askName prompts the user for a display name until a non-empty one is
// entered.
func askName() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Display name").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}

		util.LogWarning("display name cannot be empty")
		pterm.Println()
	}
}

// askToken prompts the user for a room token until a valid one is entered.
func askToken() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Room token (%s...)", token.Prefix)).
			Show()

		tok := strings.TrimSpace(raw)
		if token.IsValid(tok) {
			pterm.Println()
			return tok
		}

		pterm.Println()
		util.LogWarning("invalid token: expected %q followed by %d letters or digits", token.Prefix, token.Length-len(token.Prefix))
	}
}
