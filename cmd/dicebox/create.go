package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/niklaspandersson/dicebox/internal/dice"
	"github.com/niklaspandersson/dicebox/internal/peer"
	"github.com/niklaspandersson/dicebox/internal/signaling"
	"github.com/niklaspandersson/dicebox/internal/ui"
)

var (
	flagDice   []string
	flagRoomID string
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c", "new"},
	Short:   "Create a room and sit down at it",
	Long: `Create a room on the signaling server with the given dice sets and open the
room view. Each --dice value is id:count or id:count:color.

Examples:
  dicebox create
  dicebox create --dice red:2 --dice blue:3
  dicebox create --room game-night --dice white:5`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dcfg, err := parseDiceSets(flagDice)
		if err != nil {
			return err
		}
		roomID := flagRoomID
		if roomID == "" {
			roomID = signaling.NewRoomID()
		}
		if !signaling.ValidRoomID(roomID) {
			return fmt.Errorf("invalid room id %q: use 4-32 letters, digits, '-' or '_'", roomID)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		sc, sp, err := connect(ctx, cfg, "Registering room "+roomID+"...")
		if err != nil {
			return err
		}
		defer sc.Close()

		r, err := peer.CreateRoom(ctx, cfg, sc, roomID, dcfg, nil)
		if err != nil {
			sp.Error("Could not register room " + roomID)
			return err
		}
		sp.Success("Room " + roomID + " registered")
		fmt.Println(ui.RoomCreatedView(roomID, dcfg))
		return runRoom(ctx, r, false)
	},
}

// parseDiceSets turns id:count[:color] values into a room layout.
func parseDiceSets(values []string) (dice.Config, error) {
	var cfg dice.Config
	for _, v := range values {
		parts := strings.Split(v, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return dice.Config{}, fmt.Errorf("dice set %q: want id:count or id:count:color", v)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return dice.Config{}, fmt.Errorf("dice set %q: count is not a number", v)
		}
		set := dice.Set{ID: parts[0], Count: count}
		if len(parts) == 3 {
			set.Color = parts[2]
		}
		cfg.DiceSets = append(cfg.DiceSets, set)
	}
	if err := cfg.Validate(); err != nil {
		return dice.Config{}, err
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringSliceVarP(&flagDice, "dice", "d", []string{"white:2"}, "Dice set as id:count[:color], repeatable")
	createCmd.Flags().StringVar(&flagRoomID, "room", "", "Room id to register instead of a random one")
}
