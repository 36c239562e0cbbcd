package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/niklaspandersson/dicebox/internal/config"
	"github.com/niklaspandersson/dicebox/internal/peer"
	"github.com/niklaspandersson/dicebox/internal/ui"
)

// connect opens a signaling session behind a spinner. On success the
// spinner keeps running with the next message and the caller stops it.
func connect(ctx context.Context, cfg *config.Config, next string) (*peer.SignalClient, *ui.Spinner, error) {
	sp := ui.NewConnectionSpinner("Connecting to " + cfg.ServerURL + "...")
	sp.Start()
	sc := peer.NewSignalClient(cfg.ServerURL, peer.SignalOptions{Logger: slog.Default()})
	if err := sc.Connect(ctx); err != nil {
		sp.Error("Could not reach the signaling server")
		return nil, nil, err
	}
	sp.UpdateMessage(next)
	return sc, sp, nil
}

// runRoom routes signaling traffic for r, shows the room view and leaves
// the room once the view closes. awaitState is set for joined rooms.
func runRoom(ctx context.Context, r *peer.Room, awaitState bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.Leave()

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	if awaitState {
		sp := ui.NewWaitingSpinner("Waiting for the room state from other players...")
		sp.Start()
		fresh, err := r.AwaitState(ctx)
		if err != nil {
			sp.Error("Joining the room failed")
			return err
		}
		sp.Stop()
		if fresh {
			ui.PrintWarningf("Nobody in room %s answered, starting with a fresh table", r.ID)
		} else {
			ui.PrintSuccessf("Joined room %s with %d players", r.ID, len(r.Node().State().PeerIDs()))
		}
	}

	node := r.Node()
	model := ui.NewRoomModel(r.ID, node)
	node.Subscribe(model.OnEvent)
	go func() {
		for {
			select {
			case ev := <-r.Status():
				model.OnStatus(ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := ui.RunRoom(ctx, model); err != nil {
		return err
	}

	r.Leave()
	fmt.Println(ui.HistoryView(node.State().History(), node.ID(), 0))
	ui.PrintInfof("Left room %s", r.ID)

	select {
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			return err
		}
	default:
	}
	return nil
}
