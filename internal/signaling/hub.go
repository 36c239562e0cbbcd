// Package signaling implements the session and room registry: it binds
// websocket connections to peer ids, tracks room membership and relays
// WebRTC handshakes between members of a room.
package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/niklaspandersson/dicebox/internal/clock"
	"github.com/niklaspandersson/dicebox/internal/store"
)

const (
	DefaultSessionExpiry  = 5 * time.Minute
	DefaultSweepInterval  = time.Minute
	DefaultRateLimit      = 50
	DefaultMaxMessageSize = 64 * 1024

	// storeTimeout bounds every store operation made for one frame.
	storeTimeout = 5 * time.Second
)

// Config tunes the registry.
type Config struct {
	SessionExpiry time.Duration
	SweepInterval time.Duration
	// RateLimit is the number of frames a peer may send per second.
	RateLimit int
	// MaxMessageSize is the largest frame that is parsed. Larger frames get
	// an error; frames over four times the size close the connection.
	MaxMessageSize int
}

func (c Config) withDefaults() Config {
	if c.SessionExpiry <= 0 {
		c.SessionExpiry = DefaultSessionExpiry
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	return c
}

func (c Config) hardLimit() int {
	return 4 * c.MaxMessageSize
}

// Hub is the central brain of the signaling server. Sessions and rooms live
// in the store; the hub owns the table of live sockets.
type Hub struct {
	store  store.Store
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.Mutex
	conns   map[*Client]struct{}
	clients map[string]*Client

	// roomMu serialises create, join and leave so concurrent frames cannot
	// both claim the same room id on this instance.
	roomMu sync.Mutex
}

// NewHub creates a Hub. A nil clock or logger selects the defaults.
func NewHub(st store.Store, cfg Config, clk clock.Clock, logger *slog.Logger) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:      st,
		cfg:        cfg.withDefaults(),
		clock:      clk,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		conns:      make(map[*Client]struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run processes connection lifecycle events and the expiry sweep until ctx
// is cancelled. Every live connection is closed on return.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.conns[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client connected", "remote", c.remote)

		case c := <-h.unregister:
			h.disconnect(c)

		case <-ticker.Chan():
			sctx, cancel := context.WithTimeout(ctx, h.cfg.SweepInterval)
			h.Sweep(sctx)
			cancel()

		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.conns {
				c.Close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register hands a new connection to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Connected reports whether peerID has a live socket on this hub.
func (h *Hub) Connected(peerID string) bool {
	return h.client(peerID) != nil
}

func (h *Hub) client(peerID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[peerID]
}

// attach makes c the socket of its peer and returns the one it replaced.
func (h *Hub) attach(c *Client) *Client {
	id := c.PeerID()
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.clients[id]
	h.clients[id] = c
	if old == c {
		return nil
	}
	return old
}

// detach forgets c unless a newer socket took over its peer id.
func (h *Hub) detach(c *Client) bool {
	id := c.PeerID()
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
	if id == "" || h.clients[id] != c {
		return false
	}
	delete(h.clients, id)
	return true
}

// disconnect handles a closed socket: membership stays so the peer can
// resume, the room only learns the transport went away.
func (h *Hub) disconnect(c *Client) {
	if !h.detach(c) {
		return
	}
	peerID := c.PeerID()
	roomID := c.room()
	h.logger.Info("peer disconnected", "peer_id", peerID, "room_id", roomID)
	if roomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.notifyRoom(ctx, roomID, &Message{Type: TypePeerDisconnect, PeerID: peerID}, peerID)
}

// connectedMembers returns the members of roomID with a live socket,
// excluding skip.
func (h *Hub) connectedMembers(ctx context.Context, roomID, skip string) ([]string, error) {
	members, err := h.store.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := members[:0]
	for _, id := range members {
		if id != skip && h.Connected(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// notifyRoom sends m to every connected member of roomID except skip.
func (h *Hub) notifyRoom(ctx context.Context, roomID string, m *Message, skip string) {
	members, err := h.connectedMembers(ctx, roomID, skip)
	if err != nil {
		h.logger.Error("failed to list room members", "room_id", roomID, "err", err)
		return
	}
	for _, id := range members {
		if c := h.client(id); c != nil {
			c.Send(m)
		}
	}
}

// handleFrame parses and dispatches one inbound frame. It runs on the
// connection's read goroutine.
func (h *Hub) handleFrame(c *Client, data []byte) {
	if len(data) > h.cfg.MaxMessageSize {
		c.Send(errorFrame(ErrorMessageTooLarge, "message exceeds size limit"))
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		if c.PeerID() == "" {
			c.fail(ErrorProtocol, "first message must be hello")
			return
		}
		c.Send(errorFrame(ErrorInvalidMessage, "malformed frame"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if c.PeerID() == "" {
		if msg.Type != TypeHello {
			c.fail(ErrorProtocol, "first message must be hello")
			return
		}
		h.hello(ctx, c, &msg)
		return
	}

	if !c.limiter.Allow() {
		c.Send(errorFrame(ErrorRateLimit, "too many messages"))
		return
	}
	if err := h.store.TouchSession(ctx, c.sessionToken(), h.clock.Now()); err != nil {
		h.logger.Warn("failed to refresh session", "peer_id", c.PeerID(), "err", err)
	}

	switch msg.Type {
	case TypeHello:
		// Already bound.
	case TypeHeartbeat:
		c.Send(&Message{Type: TypeHeartbeatAck})
	case TypeQueryRoom:
		h.queryRoom(ctx, c, &msg)
	case TypeCreateRoom:
		h.createRoom(ctx, c, &msg)
	case TypeJoinRoom:
		h.joinRoom(ctx, c, &msg)
	case TypeLeaveRoom:
		h.leaveRoom(ctx, c)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		h.relay(c, &msg)
	default:
		h.logger.Debug("ignoring unknown frame", "type", msg.Type, "peer_id", c.PeerID())
	}
}
