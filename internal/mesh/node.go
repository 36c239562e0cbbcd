package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niklaspandersson/dicebox/internal/clock"
	"github.com/niklaspandersson/dicebox/internal/dice"
	"github.com/niklaspandersson/dicebox/internal/roll"
)

var (
	ErrNoState = errors.New("room state not received yet")
	ErrSpoofed = errors.New("sender does not match message origin")
	ErrLeft    = errors.New("node has left the room")
)

// Transport delivers frames to other peers of the mesh. Frames sent to one
// peer must arrive in order.
type Transport interface {
	Send(peerID string, data []byte) error
	Broadcast(data []byte, exclude ...string) error
}

// EventKind identifies a replica change.
type EventKind int

const (
	EventStateLoaded EventKind = iota + 1
	EventPeerJoined
	EventPeerLeft
	EventGrab
	EventDrop
	EventLock
	EventRoll
)

func (k EventKind) String() string {
	switch k {
	case EventStateLoaded:
		return "state-loaded"
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventGrab:
		return "grab"
	case EventDrop:
		return "drop"
	case EventLock:
		return "lock"
	case EventRoll:
		return "roll"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event describes one applied change.
type Event struct {
	Kind   EventKind
	PeerID string
	SetID  string
	Roll   *dice.Roll
}

// Options configure a Node.
type Options struct {
	Clock           clock.Clock
	Logger          *slog.Logger
	Roller          *dice.Roller
	RollTimeout     time.Duration
	MaxRollAttempts int
	// NewRollID mints roll ids. Defaults to random UUIDs.
	NewRollID func() string
}

// Node runs the mesh protocol for the local peer on top of its replica.
type Node struct {
	selfID    string
	username  string
	state     *State
	transport Transport
	coord     *roll.Coordinator
	gen       *roll.Generator
	clock     clock.Clock
	logger    *slog.Logger
	newRollID func() string

	ready     chan struct{}
	readyOnce sync.Once

	mu             sync.Mutex
	stateRequested bool
	left           bool
	subs           []func(Event)
}

// NewNode creates the mesh node of the local peer.
func NewNode(selfID, username string, transport Transport, opts Options) (*Node, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Roller == nil {
		r, err := dice.NewRoller()
		if err != nil {
			return nil, err
		}
		opts.Roller = r
	}
	if opts.NewRollID == nil {
		opts.NewRollID = uuid.NewString
	}

	n := &Node{
		selfID:    selfID,
		username:  username,
		state:     NewState(),
		transport: transport,
		gen:       roll.NewGenerator(selfID, opts.Roller, opts.Clock),
		clock:     opts.Clock,
		logger:    opts.Logger.With("peer_id", selfID),
		newRollID: opts.NewRollID,
		ready:     make(chan struct{}),
	}
	n.coord = roll.NewCoordinator(selfID, nodeNetwork{n}, opts.Roller, roll.Options{
		Timeout:     opts.RollTimeout,
		MaxAttempts: opts.MaxRollAttempts,
		Clock:       opts.Clock,
		Logger:      n.logger,
	})
	return n, nil
}

func (n *Node) ID() string       { return n.selfID }
func (n *Node) Username() string { return n.username }

// State exposes the replica for reads.
func (n *Node) State() *State { return n.state }

// Ready is closed once the replica holds full room state.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Subscribe registers fn for every applied change. fn runs on the goroutine
// that applied the change and must not block.
func (n *Node) Subscribe(fn func(Event)) {
	n.mu.Lock()
	n.subs = append(n.subs, fn)
	n.mu.Unlock()
}

// Create initialises the replica of a room this peer just registered.
func (n *Node) Create(cfg dice.Config) error {
	if err := n.state.SetConfig(cfg); err != nil {
		return err
	}
	n.state.AddPeer(n.selfID, n.localPeer())
	n.state.MarkStateReceived()
	n.markReady()
	return nil
}

// Join prepares the replica for joining an existing room. The registry's
// layout is used if no peer sends a WELCOME.
func (n *Node) Join(cfg dice.Config) error {
	if err := n.state.SetConfig(cfg); err != nil {
		return err
	}
	n.state.AddPeer(n.selfID, n.localPeer())
	return nil
}

// AwaitState blocks until a WELCOME was accepted or timeout elapsed. On
// timeout the room is treated as fresh and fresh is true.
func (n *Node) AwaitState(ctx context.Context, timeout time.Duration) (fresh bool, err error) {
	expired := make(chan struct{})
	t := n.clock.AfterFunc(timeout, func() { close(expired) })
	defer t.Stop()

	select {
	case <-n.ready:
		return false, nil
	case <-expired:
		if !n.state.MarkStateReceived() {
			return false, nil
		}
		n.logger.Info("no peer answered state request, starting fresh")
		n.markReady()
		n.emit(Event{Kind: EventStateLoaded, PeerID: n.selfID})
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (n *Node) markReady() {
	n.readyOnce.Do(func() { close(n.ready) })
}

// ChannelOpen introduces the local peer on a freshly opened channel and asks
// the first one for the room state.
func (n *Node) ChannelOpen(peerID string) {
	n.send(peerID, TypeHello, HelloPayload{Username: n.username})
	if n.state.StateReceived() {
		return
	}
	n.mu.Lock()
	first := !n.stateRequested
	n.stateRequested = true
	n.mu.Unlock()
	if first {
		n.logger.Debug("requesting room state", "from", peerID)
		n.send(peerID, TypeRequestState, nil)
	}
}

// PeerDisconnected handles a transport level disconnect.
func (n *Node) PeerDisconnected(peerID string) {
	n.departed(peerID)
}

// HandleMessage applies one frame received from peerID. Frames that cannot
// be decoded or applied are dropped.
func (n *Node) HandleMessage(peerID string, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		n.logger.Debug("dropping frame", "from", peerID, "err", err)
		return
	}
	if err := n.dispatch(peerID, msg); err != nil {
		n.logger.Debug("ignoring message", "type", msg.Type, "from", peerID, "err", err)
	}
}

func (n *Node) dispatch(from string, msg Message) error {
	switch msg.Type {
	case TypeHello:
		return n.onHello(from, msg)
	case TypeWelcome:
		return n.onWelcome(from, msg)
	case TypeRequestState:
		return n.onRequestState(from)
	case TypePeerJoined:
		return n.onPeerJoined(msg)
	case TypePeerLeft:
		return n.onPeerLeft(msg)
	case TypeDiceGrab:
		return n.onGrab(from, msg)
	case TypeDiceDrop:
		return n.onDrop(from, msg)
	case TypeDiceLock:
		return n.onLock(msg)
	case TypeRollRequest:
		return n.onRollRequest(from, msg)
	case TypeDiceRoll:
		return n.onDiceRoll(from, msg)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

func (n *Node) onHello(from string, msg Message) error {
	var p HelloPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	added := n.state.AddPeer(from, Peer{Username: p.Username, ConnectedAt: n.clock.Now().UnixMilli()})
	if n.state.StateReceived() {
		n.broadcast(TypePeerJoined, PeerJoinedPayload{PeerID: from, Username: p.Username}, from)
	}
	if added {
		n.logger.Info("peer joined", "peer", from, "username", p.Username)
		n.emit(Event{Kind: EventPeerJoined, PeerID: from})
	}
	return nil
}

func (n *Node) onRequestState(from string) error {
	if !n.state.StateReceived() {
		return ErrNoState
	}
	n.send(from, TypeWelcome, WelcomePayload{State: n.state.Snapshot()})
	return nil
}

func (n *Node) onWelcome(from string, msg Message) error {
	var p WelcomePayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if !n.state.AcceptSnapshot(p.State) {
		n.logger.Debug("discarding duplicate welcome", "from", from)
		return nil
	}
	n.state.AddPeer(n.selfID, n.localPeer())
	n.logger.Info("room state received",
		"from", from,
		"peers", len(p.State.Peers),
		"rolls", len(p.State.RollHistory),
	)
	n.markReady()
	n.emit(Event{Kind: EventStateLoaded, PeerID: from})
	return nil
}

func (n *Node) onPeerJoined(msg Message) error {
	var p PeerJoinedPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if p.PeerID == "" || p.PeerID == n.selfID {
		return nil
	}
	if n.state.AddPeer(p.PeerID, Peer{Username: p.Username, ConnectedAt: n.clock.Now().UnixMilli()}) {
		n.emit(Event{Kind: EventPeerJoined, PeerID: p.PeerID})
	}
	return nil
}

func (n *Node) onPeerLeft(msg Message) error {
	var p PeerLeftPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if p.PeerID == "" || p.PeerID == n.selfID {
		return nil
	}
	n.departed(p.PeerID)
	return nil
}

// departed removes peerID and, the first time only, tells the rest of the
// mesh so peers that missed the departure converge.
func (n *Node) departed(peerID string) {
	released, ok := n.state.RemovePeer(peerID)
	if !ok {
		return
	}
	n.logger.Info("peer left", "peer", peerID, "released", len(released))
	n.broadcast(TypePeerLeft, PeerLeftPayload{PeerID: peerID}, peerID)
	for _, setID := range released {
		n.broadcast(TypeDiceDrop, DropPayload{SetID: setID, PeerID: peerID}, peerID)
	}
	n.emit(Event{Kind: EventPeerLeft, PeerID: peerID})
	for _, setID := range released {
		n.emit(Event{Kind: EventDrop, PeerID: peerID, SetID: setID})
	}
}

func (n *Node) onGrab(from string, msg Message) error {
	var p GrabPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if err := n.state.ApplyGrab(p.SetID, dice.Holder{PeerID: from, Username: p.Username}, p.RestoredLock); err != nil {
		return err
	}
	n.emit(Event{Kind: EventGrab, PeerID: from, SetID: p.SetID})
	return nil
}

func (n *Node) onDrop(from string, msg Message) error {
	var p DropPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	holder := from
	if p.PeerID != "" {
		holder = p.PeerID
	}
	var released []string
	switch {
	case p.SetID == "":
		released = n.state.ReleaseAll(holder)
	case n.state.Release(p.SetID, holder):
		released = []string{p.SetID}
	}
	for _, setID := range released {
		n.emit(Event{Kind: EventDrop, PeerID: holder, SetID: setID})
	}
	return nil
}

func (n *Node) onLock(msg Message) error {
	var p LockPayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	if err := n.state.SetLock(p.SetID, p.DieIndex, p.Locked, p.Value); err != nil {
		return err
	}
	n.emit(Event{Kind: EventLock, SetID: p.SetID})
	return nil
}

func (n *Node) onRollRequest(from string, msg Message) error {
	var req roll.Request
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}
	if req.RequesterID != from {
		return fmt.Errorf("%w: request from %s names %s", ErrSpoofed, from, req.RequesterID)
	}
	if err := n.checkRequest(req); err != nil {
		return err
	}
	r, ok := n.gen.Handle(req, n.state.PeerIDs())
	if !ok {
		return nil
	}
	n.logger.Debug("generating roll", "roll_id", req.RollID, "requester", from)
	return n.publishRoll(r)
}

// checkRequest rejects requests for sets outside the room layout.
func (n *Node) checkRequest(req roll.Request) error {
	cfg, ok := n.state.Config()
	if !ok {
		return ErrNoConfig
	}
	for _, s := range req.DiceSets {
		set, ok := cfg.Set(s.SetID)
		if !ok {
			return fmt.Errorf("%w: %q", dice.ErrUnknownSet, s.SetID)
		}
		if s.Count != set.Count {
			return fmt.Errorf("%w: set %q requests %d dice", dice.ErrValueCount, s.SetID, s.Count)
		}
	}
	return nil
}

func (n *Node) onDiceRoll(from string, msg Message) error {
	var r dice.Roll
	if err := msg.DecodePayload(&r); err != nil {
		return err
	}
	if r.GeneratedBy != from {
		return fmt.Errorf("%w: roll from %s claims %s", ErrSpoofed, from, r.GeneratedBy)
	}
	if err := n.state.ValidateRoll(r); err != nil {
		return err
	}
	n.applyRoll(r)
	return nil
}

func (n *Node) applyRoll(r dice.Roll) {
	if !n.state.RecordRoll(r) {
		return
	}
	n.coord.Resolve(r)
	n.logger.Debug("roll applied", "roll_id", r.RollID, "generated_by", r.GeneratedBy, "total", r.Total)
	n.emit(Event{Kind: EventRoll, PeerID: r.GeneratedBy, Roll: &r})
}

func (n *Node) publishRoll(r dice.Roll) error {
	n.applyRoll(r)
	data, err := Encode(TypeDiceRoll, r)
	if err != nil {
		return err
	}
	return n.transport.Broadcast(data)
}

// Grab takes an unheld dice set.
func (n *Node) Grab(setID string) error {
	if err := n.checkActive(); err != nil {
		return err
	}
	restored, err := n.state.TryGrab(setID, dice.Holder{PeerID: n.selfID, Username: n.username})
	if err != nil {
		return err
	}
	n.broadcast(TypeDiceGrab, GrabPayload{SetID: setID, Username: n.username, RestoredLock: restored})
	n.emit(Event{Kind: EventGrab, PeerID: n.selfID, SetID: setID})
	return nil
}

// Drop releases setID, or every held set when setID is empty.
func (n *Node) Drop(setID string) error {
	if err := n.checkActive(); err != nil {
		return err
	}
	var released []string
	if setID == "" {
		released = n.state.ReleaseAll(n.selfID)
	} else if n.state.Release(setID, n.selfID) {
		released = []string{setID}
	} else {
		return fmt.Errorf("%w: %q", ErrNotHolder, setID)
	}
	if len(released) == 0 {
		return nil
	}
	n.broadcast(TypeDiceDrop, DropPayload{SetID: setID})
	for _, id := range released {
		n.emit(Event{Kind: EventDrop, PeerID: n.selfID, SetID: id})
	}
	return nil
}

// ToggleLock locks die index of setID at its last rolled value, or unlocks
// it.
func (n *Node) ToggleLock(setID string, index int) error {
	if err := n.checkActive(); err != nil {
		return err
	}
	if !n.state.CanLock(setID, n.selfID) {
		return fmt.Errorf("%w: %q", ErrCannotLock, setID)
	}
	locked := !n.state.Lock(setID).IsLocked(index)
	value := 0
	if locked {
		sr, ok := n.state.LastResult(setID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoRollYet, setID)
		}
		if index < 0 || index >= len(sr.Values) {
			return fmt.Errorf("%w: %d", dice.ErrDieIndex, index)
		}
		value = sr.Values[index]
	}
	if err := n.state.SetLock(setID, index, locked, value); err != nil {
		return err
	}
	n.broadcast(TypeDiceLock, LockPayload{SetID: setID, DieIndex: index, Locked: locked, Value: value})
	n.emit(Event{Kind: EventLock, PeerID: n.selfID, SetID: setID})
	return nil
}

// Roll rolls every set the local peer holds. The values are generated by
// another peer chosen by election.
func (n *Node) Roll() (*roll.Pending, error) {
	if err := n.checkActive(); err != nil {
		return nil, err
	}
	held := n.state.HeldBy(n.selfID)
	if len(held) == 0 {
		return nil, ErrNotHolder
	}
	cfg, ok := n.state.Config()
	if !ok {
		return nil, ErrNoConfig
	}
	req := roll.Request{
		RollID:        n.newRollID(),
		RequesterName: n.username,
		LockedDice:    make(map[string]dice.LockState),
	}
	for _, setID := range held {
		set, _ := cfg.Set(setID)
		req.DiceSets = append(req.DiceSets, roll.Set{
			SetID:          setID,
			Count:          set.Count,
			HolderID:       n.selfID,
			HolderUsername: n.username,
		})
		if lock := n.state.Lock(setID); !lock.Empty() {
			req.LockedDice[setID] = lock
		}
	}
	return n.coord.Request(req)
}

// Leave cancels pending rolls and announces the departure. Closing the
// channels is up to the transport owner.
func (n *Node) Leave() {
	n.mu.Lock()
	if n.left {
		n.mu.Unlock()
		return
	}
	n.left = true
	n.mu.Unlock()

	n.coord.CancelAll()
	n.broadcast(TypeDiceDrop, DropPayload{})
	n.broadcast(TypePeerLeft, PeerLeftPayload{PeerID: n.selfID})
}

func (n *Node) checkActive() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.left {
		return ErrLeft
	}
	return nil
}

func (n *Node) localPeer() Peer {
	return Peer{Username: n.username, ConnectedAt: n.clock.Now().UnixMilli()}
}

func (n *Node) send(peerID string, t MessageType, payload any) {
	data, err := Encode(t, payload)
	if err != nil {
		n.logger.Error("failed to encode message", "type", t, "err", err)
		return
	}
	if err := n.transport.Send(peerID, data); err != nil {
		n.logger.Warn("failed to send message", "type", t, "to", peerID, "err", err)
	}
}

func (n *Node) broadcast(t MessageType, payload any, exclude ...string) {
	data, err := Encode(t, payload)
	if err != nil {
		n.logger.Error("failed to encode message", "type", t, "err", err)
		return
	}
	if err := n.transport.Broadcast(data, exclude...); err != nil {
		n.logger.Warn("broadcast incomplete", "type", t, "err", err)
	}
}

func (n *Node) emit(ev Event) {
	n.mu.Lock()
	subs := slices.Clone(n.subs)
	n.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// nodeNetwork adapts a Node to roll.Network.
type nodeNetwork struct{ n *Node }

func (nw nodeNetwork) Members() []string { return nw.n.state.PeerIDs() }

func (nw nodeNetwork) SendRollRequest(req roll.Request) error {
	data, err := Encode(TypeRollRequest, req)
	if err != nil {
		return err
	}
	return nw.n.transport.Broadcast(data)
}

func (nw nodeNetwork) PublishRoll(r dice.Roll) error {
	return nw.n.publishRoll(r)
}
