package peer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/niklaspandersson/dicebox/internal/config"
	"github.com/niklaspandersson/dicebox/internal/dice"
	"github.com/niklaspandersson/dicebox/internal/mesh"
	"github.com/niklaspandersson/dicebox/internal/signaling"
)

// RoomInfo is the registry's answer to query-room.
type RoomInfo struct {
	RoomID     string
	Exists     bool
	PeerIDs    []string
	DiceConfig *dice.Config
}

// Query asks the registry about roomID.
func Query(ctx context.Context, sc *SignalClient, roomID string) (*RoomInfo, error) {
	reply, err := sc.Request(ctx, &signaling.Message{Type: signaling.TypeQueryRoom, RoomID: roomID}, signaling.TypeRoomInfo)
	if err != nil {
		return nil, err
	}
	return &RoomInfo{
		RoomID:     reply.RoomID,
		Exists:     reply.Exists != nil && *reply.Exists,
		PeerIDs:    reply.PeerIDs,
		DiceConfig: reply.DiceConfig,
	}, nil
}

// Room binds a signaling session, the WebRTC mesh and the replica of one
// room together.
type Room struct {
	ID string

	cfg    *config.Config
	signal *SignalClient
	mesh   *Mesh
	node   *mesh.Node
	logger *slog.Logger

	status chan StatusEvent

	leaveOnce sync.Once
}

func newRoom(cfg *config.Config, sc *SignalClient, roomID string, logger *slog.Logger) (*Room, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room_id", roomID)
	m := NewMesh(cfg, sc, logger)
	node, err := mesh.NewNode(sc.PeerID(), cfg.Username, m, mesh.Options{
		Logger:      logger,
		RollTimeout: cfg.RollTimeout,
	})
	if err != nil {
		return nil, NewError("create mesh node", err)
	}
	m.SetHandler(node)
	return &Room{
		ID:     roomID,
		cfg:    cfg,
		signal: sc,
		mesh:   m,
		node:   node,
		logger: logger,
		status: make(chan StatusEvent, 8),
	}, nil
}

// CreateRoom registers roomID with the registry and starts a fresh replica.
func CreateRoom(ctx context.Context, cfg *config.Config, sc *SignalClient, roomID string, dcfg dice.Config, logger *slog.Logger) (*Room, error) {
	reply, err := sc.Request(ctx, &signaling.Message{Type: signaling.TypeCreateRoom, RoomID: roomID, DiceConfig: &dcfg},
		signaling.TypeCreateSuccess, signaling.TypeCreateFailed)
	if err != nil {
		return nil, err
	}
	if reply.Type == signaling.TypeCreateFailed {
		return nil, WrapError("create room", ErrRoomFailed, reply.Reason)
	}

	if reply.DiceConfig != nil {
		dcfg = *reply.DiceConfig
	}

	r, err := newRoom(cfg, sc, roomID, logger)
	if err != nil {
		return nil, err
	}
	if err := r.node.Create(dcfg); err != nil {
		return nil, NewError("create room", err)
	}
	r.logger.Info("room created", "sets", len(dcfg.DiceSets))
	return r, nil
}

// JoinRoom joins roomID and offers a channel to every connected member.
// Call Run and then AwaitState before using the replica.
func JoinRoom(ctx context.Context, cfg *config.Config, sc *SignalClient, roomID string, logger *slog.Logger) (*Room, error) {
	reply, err := sc.Request(ctx, &signaling.Message{Type: signaling.TypeJoinRoom, RoomID: roomID},
		signaling.TypeJoinSuccess, signaling.TypeJoinFailed)
	if err != nil {
		return nil, err
	}
	if reply.Type == signaling.TypeJoinFailed {
		return nil, WrapError("join room", ErrRoomFailed, reply.Reason)
	}
	if reply.DiceConfig == nil {
		return nil, WrapError("join room", ErrSignaling, "missing dice configuration")
	}

	r, err := newRoom(cfg, sc, roomID, logger)
	if err != nil {
		return nil, err
	}
	if err := r.node.Join(*reply.DiceConfig); err != nil {
		return nil, NewError("join room", err)
	}
	for _, id := range reply.PeerIDs {
		if err := r.mesh.Connect(id); err != nil {
			r.logger.Warn("failed to offer channel", "peer", id, "err", err)
		}
	}
	r.logger.Info("room joined", "members", len(reply.PeerIDs))
	return r, nil
}

// Node returns the mesh node of the local peer.
func (r *Room) Node() *mesh.Node { return r.node }

// Status forwards signaling connection changes.
func (r *Room) Status() <-chan StatusEvent { return r.status }

// AwaitState waits for the room state, falling back to a fresh room after
// the configured join timeout.
func (r *Room) AwaitState(ctx context.Context) (fresh bool, err error) {
	return r.node.AwaitState(ctx, r.cfg.JoinTimeout)
}

// Run routes signaling traffic until ctx is cancelled or the signaling
// session ends.
func (r *Room) Run(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-r.signal.Incoming():
			if !ok {
				return nil
			}
			r.handle(msg)

		case ev := <-r.signal.Status():
			r.onStatus(ev)
			select {
			case r.status <- ev:
			default:
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Room) handle(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate:
		if err := r.mesh.HandleSignal(msg); err != nil {
			r.logger.Warn("failed to apply signal", "type", msg.Type, "from", msg.FromPeerID, "err", err)
		}

	case signaling.TypePeerJoining:
		r.logger.Debug("peer joining, awaiting offer", "peer", msg.PeerID)

	case signaling.TypePeerLeft:
		r.mesh.Close(msg.PeerID)
		r.node.PeerDisconnected(msg.PeerID)

	case signaling.TypePeerDisconnect:
		r.logger.Debug("peer lost its signaling connection", "peer", msg.PeerID)

	case signaling.TypePeerReconnect:
		r.logger.Debug("peer resumed its signaling session", "peer", msg.PeerID)
		r.reconnectMembers([]string{msg.PeerID})

	case signaling.TypeRoomInfo:
		r.reconnectMembers(msg.PeerIDs)

	case signaling.TypeError:
		r.logger.Warn("signaling error", "error_type", msg.ErrorType, "reason", msg.Reason)

	default:
		r.logger.Debug("ignoring signaling frame", "type", msg.Type)
	}
}

// onStatus asks for the member list after a resumed session so channels
// that died with the connection can be offered again.
func (r *Room) onStatus(ev StatusEvent) {
	if ev.Status != StatusReconnected {
		return
	}
	if ev.RoomID != r.ID {
		r.logger.Warn("room membership was not restored", "restored_room", ev.RoomID)
		return
	}
	if err := r.signal.Send(&signaling.Message{Type: signaling.TypeQueryRoom, RoomID: r.ID}); err != nil {
		r.logger.Warn("failed to query room after reconnect", "err", err)
	}
}

// reconnectMembers re-offers channels that are down. Only the smaller peer
// id offers, so two resuming peers never offer to each other at once.
func (r *Room) reconnectMembers(peerIDs []string) {
	self := r.node.ID()
	for _, id := range peerIDs {
		if id <= self || r.mesh.Connected(id) {
			continue
		}
		if err := r.mesh.Connect(id); err != nil {
			r.logger.Warn("failed to offer channel", "peer", id, "err", err)
		}
	}
}

// Leave announces the departure to the mesh and the registry and closes
// every connection.
func (r *Room) Leave() {
	r.leaveOnce.Do(func() {
		r.node.Leave()
		if err := r.signal.Send(&signaling.Message{Type: signaling.TypeLeaveRoom}); err != nil {
			r.logger.Debug("failed to send leave-room", "err", err)
		}
		r.mesh.CloseAll()
		r.signal.Close()
	})
}
