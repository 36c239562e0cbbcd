package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/niklaspandersson/dicebox/internal/peer"
	"github.com/niklaspandersson/dicebox/internal/ui"
)

const queryTimeout = 10 * time.Second

var queryCmd = &cobra.Command{
	Use:     "query <room-id>",
	Aliases: []string{"q", "info"},
	Short:   "Show whether a room exists and who is in it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
		defer cancel()

		sc, sp, err := connect(ctx, cfg, "Looking up room "+args[0]+"...")
		if err != nil {
			return err
		}
		defer sc.Close()

		info, err := peer.Query(ctx, sc, args[0])
		if err != nil {
			sp.Error("Lookup failed")
			return err
		}
		sp.Stop()
		fmt.Println(ui.QueryView(args[0], info.Exists, len(info.PeerIDs), info.DiceConfig))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
