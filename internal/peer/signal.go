package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/niklaspandersson/dicebox/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	helloTimeout   = 10 * time.Second
	maxMessageSize = 256 * 1024

	// DefaultMaxReconnects is how many times a lost connection is retried
	// before the client gives up.
	DefaultMaxReconnects = 6
	// DefaultHeartbeat is the interval of application heartbeats.
	DefaultHeartbeat = 30 * time.Second
)

var ErrSessionLost = errors.New("session expired on the server")

// Status reports the health of the signaling connection.
type Status int

const (
	StatusConnected Status = iota
	StatusReconnecting
	StatusReconnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusReconnected:
		return "reconnected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusEvent is delivered on every connection change. RoomID is set after
// a reconnect that restored room membership.
type StatusEvent struct {
	Status Status
	RoomID string
	Err    error
}

// SignalOptions tune a SignalClient.
type SignalOptions struct {
	Logger        *slog.Logger
	MaxReconnects uint
	Heartbeat     time.Duration
	// BackOff overrides the reconnect schedule.
	BackOff backoff.BackOff
}

// SignalClient keeps a session with the signaling server and transparently
// resumes it after a connection loss.
type SignalClient struct {
	serverURL string
	token     string
	logger    *slog.Logger
	opts      SignalOptions

	incoming chan *signaling.Message
	status   chan StatusEvent

	// ctx lives until the client is closed; reconnects run under it rather
	// than under the context passed to Connect.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	link   *wsLink
	peerID string
	closed bool
}

// NewSignalClient creates a client for serverURL with a fresh session
// token.
func NewSignalClient(serverURL string, opts SignalOptions) *SignalClient {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalClient{
		serverURL: serverURL,
		token:     uuid.NewString(),
		logger:    opts.Logger,
		opts:      opts,
		incoming:  make(chan *signaling.Message, 64),
		status:    make(chan StatusEvent, 8),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// PeerID returns the id the server assigned to this session.
func (c *SignalClient) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Incoming delivers every frame except heartbeat acks. It is closed when
// the client is closed or gives up reconnecting.
func (c *SignalClient) Incoming() <-chan *signaling.Message {
	return c.incoming
}

// Status delivers connection changes.
func (c *SignalClient) Status() <-chan StatusEvent {
	return c.status
}

// Connect dials the server and binds the session. ctx bounds only this
// first dial; the session is kept alive until Close.
func (c *SignalClient) Connect(ctx context.Context) error {
	l, reply, err := c.open(ctx)
	if err != nil {
		return NewError("connect to server", err)
	}
	c.mu.Lock()
	c.peerID = reply.PeerID
	c.mu.Unlock()
	if !c.attach(l) {
		return NewError("connect to server", ErrClosed)
	}

	c.logger.Debug("connected to signaling server", "peer_id", reply.PeerID)
	go c.supervise(l)
	return nil
}

// open dials, says hello and waits for the peer id. The pumps are started
// by attach.
func (c *SignalClient) open(ctx context.Context) (*wsLink, *signaling.Message, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: helloTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := lookupHost(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		},
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(signaling.Message{Type: signaling.TypeHello, SessionToken: c.token}); err != nil {
		conn.Close()
		return nil, nil, err
	}
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var reply signaling.Message
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, nil, err
	}
	switch reply.Type {
	case signaling.TypePeerID:
	case signaling.TypeError:
		conn.Close()
		return nil, nil, WrapError("hello", ErrSignaling, reply.Reason)
	default:
		conn.Close()
		return nil, nil, fmt.Errorf("unexpected %s in reply to hello", reply.Type)
	}

	return newWSLink(conn, c.opts.Heartbeat, c.logger), &reply, nil
}

// attach makes l the current connection and starts its pumps. Only the
// current link ever feeds incoming.
func (c *SignalClient) attach(l *wsLink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		l.conn.Close()
		return false
	}
	c.link = l
	go l.readPump(c.incoming)
	go l.writePump()
	return true
}

// supervise waits for the link to drop and reconnects with exponential
// backoff. A session the server no longer knows is not retried.
func (c *SignalClient) supervise(l *wsLink) {
	ctx := c.ctx
	for {
		select {
		case <-l.readDone:
		case <-ctx.Done():
			return
		}
		if c.isClosed() {
			return
		}

		c.logger.Info("signaling connection lost, reconnecting", "peer_id", c.PeerID())
		c.notify(StatusEvent{Status: StatusReconnecting})

		b := c.opts.BackOff
		if b == nil {
			b = backoff.NewExponentialBackOff()
		}
		type resumed struct {
			link  *wsLink
			reply *signaling.Message
		}
		res, err := backoff.Retry(ctx, func() (resumed, error) {
			if c.isClosed() {
				return resumed{}, backoff.Permanent(ErrClosed)
			}
			next, reply, err := c.open(ctx)
			if err != nil {
				c.logger.Debug("reconnect attempt failed", "err", err)
				return resumed{}, err
			}
			if !reply.Restored || reply.PeerID != c.PeerID() {
				next.conn.Close()
				return resumed{}, backoff.Permanent(ErrSessionLost)
			}
			return resumed{link: next, reply: reply}, nil
		}, backoff.WithBackOff(b), backoff.WithMaxTries(c.opts.MaxReconnects))
		if err != nil {
			c.logger.Warn("giving up on signaling server", "err", err)
			c.notify(StatusEvent{Status: StatusDisconnected, Err: err})
			c.shutdown()
			return
		}

		if !c.attach(res.link) {
			return
		}
		l = res.link

		c.logger.Info("signaling session resumed", "peer_id", res.reply.PeerID, "room_id", res.reply.RoomID)
		c.notify(StatusEvent{Status: StatusReconnected, RoomID: res.reply.RoomID})
	}
}

func (c *SignalClient) notify(ev StatusEvent) {
	select {
	case c.status <- ev:
	default:
		c.logger.Debug("dropping status event", "status", ev.Status)
	}
}

// Send queues msg on the current connection.
func (c *SignalClient) Send(msg *signaling.Message) error {
	c.mu.Lock()
	l := c.link
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if l == nil {
		return ErrDisconnected
	}
	select {
	case l.out <- msg:
		return nil
	case <-l.done:
		return ErrDisconnected
	}
}

// Request sends msg and waits for a frame of one of the reply types. An
// error frame fails the request. Frames of other types are discarded, so
// Request is meant for the exchanges that precede room traffic.
func (c *SignalClient) Request(ctx context.Context, msg *signaling.Message, replies ...signaling.MessageType) (*signaling.Message, error) {
	op := string(msg.Type)
	if err := c.Send(msg); err != nil {
		return nil, NewError(op, err)
	}
	for {
		select {
		case m, ok := <-c.incoming:
			if !ok {
				return nil, NewError(op, ErrDisconnected)
			}
			if slices.Contains(replies, m.Type) {
				return m, nil
			}
			if m.Type == signaling.TypeError {
				return nil, WrapError(op, ErrSignaling, m.ErrorType+": "+m.Reason)
			}
			c.logger.Debug("discarding frame while waiting", "type", m.Type, "want", replies)
		case <-ctx.Done():
			return nil, WrapError(op, ErrTimeout, ctx.Err().Error())
		}
	}
}

func (c *SignalClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends the session without reconnecting.
func (c *SignalClient) Close() {
	c.shutdown()
}

func (c *SignalClient) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	l := c.link
	c.mu.Unlock()

	c.cancel()
	if l != nil {
		l.close()
		<-l.readDone
	}
	close(c.incoming)
}

// wsLink is one websocket connection with its pumps.
type wsLink struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	out       chan *signaling.Message
	heartbeat time.Duration

	// done is closed when either pump stops; readDone once the read pump
	// delivered its last frame.
	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
}

func newWSLink(conn *websocket.Conn, heartbeat time.Duration, logger *slog.Logger) *wsLink {
	return &wsLink{
		conn:      conn,
		logger:    logger,
		out:       make(chan *signaling.Message, 32),
		heartbeat: heartbeat,
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

func (l *wsLink) close() {
	l.once.Do(func() { close(l.done) })
}

// readPump forwards frames to incoming until the connection fails.
func (l *wsLink) readPump(incoming chan<- *signaling.Message) {
	defer func() {
		l.close()
		l.conn.Close()
		close(l.readDone)
	}()

	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg signaling.Message
		if err := l.conn.ReadJSON(&msg); err != nil {
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == signaling.TypeHeartbeatAck {
			continue
		}
		select {
		case incoming <- &msg:
		case <-l.done:
			return
		}
	}
}

// writePump writes queued frames, pings and heartbeats.
func (l *wsLink) writePump() {
	ping := time.NewTicker(pingPeriod)
	heartbeat := time.NewTicker(l.heartbeat)
	defer func() {
		ping.Stop()
		heartbeat.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case msg := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(msg); err != nil {
				l.logger.Debug("signaling write failed", "err", err)
				l.close()
				return
			}

		case <-heartbeat.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(signaling.Message{Type: signaling.TypeHeartbeat}); err != nil {
				l.close()
				return
			}

		case <-ping.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.close()
				return
			}

		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.flush()
			l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames still queued when the link closes.
func (l *wsLink) flush() {
	for {
		select {
		case msg := <-l.out:
			if err := l.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
