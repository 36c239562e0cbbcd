package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/niklaspandersson/dicebox/internal/config"
	"github.com/niklaspandersson/dicebox/internal/ui"
	"github.com/niklaspandersson/dicebox/internal/version"
)

var (
	flagServer      string
	flagSTUN        string
	flagTURN        string
	flagTURNUser    string
	flagTURNPass    string
	flagRelay       bool
	flagName        string
	flagRollTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dicebox",
	Short: "Roll shared dice with friends over peer-to-peer WebRTC",
	Long: `dicebox puts a handful of players around a shared table of dice. Players grab
dice sets, lock dice they want to keep and roll; the values of every roll are
generated by another player so nobody rolls their own dice.

Rooms are brokered by a small signaling server; the dice themselves travel
directly between players.`,
	Version: version.Version,
}

// Execute runs the root command. Ctrl+C cancels the command's context so an
// open room is left cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintErrorf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{
		ServerURL:   flagServer,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		Username:    flagName,
		RollTimeout: flagRollTimeout,
	})
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Signaling server websocket URL (env DICEBOX_SERVER)")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	pf.StringVarP(&flagName, "name", "n", "", "Name shown to other players (env DICEBOX_USERNAME)")
	pf.DurationVar(&flagRollTimeout, "roll-timeout", 0, "How long to wait for another player to generate a roll")
}
