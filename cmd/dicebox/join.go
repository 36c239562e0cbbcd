package main

import (
	"github.com/spf13/cobra"

	"github.com/niklaspandersson/dicebox/internal/peer"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join an existing room",
	Long: `Join a room created by another player. The dice layout comes from the room;
the current table is copied from a player already seated.

Examples:
  dicebox join game-night
  dicebox join --name bob ⚂⚀⚅⚃⚁⚄`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		sc, sp, err := connect(ctx, cfg, "Joining room "+args[0]+"...")
		if err != nil {
			return err
		}
		defer sc.Close()

		r, err := peer.JoinRoom(ctx, cfg, sc, args[0], nil)
		if err != nil {
			sp.Error("Could not join room " + args[0])
			return err
		}
		sp.Stop()
		return runRoom(ctx, r, true)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
