package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// Client is a single websocket connection. It is bound to a peer id by the
// first hello.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	remote  string
	limiter *rate.Limiter

	// send carries outbound frames to WritePump. A nil frame closes the
	// connection once everything before it was written.
	send      chan *Message
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	peerID  string
	token   string
	roomID  string
	closing bool
}

// NewClient wraps an upgraded connection. remote identifies the caller in
// logs.
func NewClient(hub *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		remote:  remote,
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.RateLimit), hub.cfg.RateLimit),
		send:    make(chan *Message, sendBuffer),
		done:    make(chan struct{}),
	}
}

// PeerID returns the bound peer id, or "" before hello.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) bind(peerID, token string) {
	c.mu.Lock()
	c.peerID = peerID
	c.token = token
	c.mu.Unlock()
}

func (c *Client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(id string) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

// Send queues m for delivery. A client whose buffer is full is closed.
func (c *Client) Send(m *Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	case <-c.done:
		return false
	default:
		c.hub.logger.Warn("send buffer full, closing connection", "peer_id", c.PeerID(), "remote", c.remote)
		c.Close()
		return false
	}
}

// fail sends an error frame and closes the connection after it.
func (c *Client) fail(errorType, reason string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()
	c.Send(errorFrame(errorType, reason))
	c.Send(nil)
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. Frames of one
// connection are therefore handled in order.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.hardLimit()))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("read failed", "peer_id", c.PeerID(), "remote", c.remote, "err", err)
			}
			return
		}
		if c.isClosing() {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handleFrame(c, data)
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if message == nil {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				c.hub.logger.Error("failed to encode frame", "type", message.Type, "err", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug("write failed", "peer_id", c.PeerID(), "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
