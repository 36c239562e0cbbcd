package signaling

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"github.com/niklaspandersson/dicebox/internal/store"
)

// newPeerID returns 128 random bits as 32 lowercase hex characters.
func newPeerID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func (h *Hub) hello(ctx context.Context, c *Client, msg *Message) {
	if !ValidSessionToken(msg.SessionToken) {
		c.fail(ErrorProtocol, "invalid session token")
		return
	}
	now := h.clock.Now()

	sess, err := h.store.GetSession(ctx, msg.SessionToken)
	switch {
	case err == nil && now.Sub(sess.LastSeen) <= h.cfg.SessionExpiry:
		h.restore(ctx, c, sess)
		return
	case err == nil:
		// Expired but not swept yet.
		h.expire(ctx, sess)
	case !errors.Is(err, store.ErrNotFound):
		h.logger.Error("failed to load session", "err", err)
		c.fail(ErrorInternal, "session lookup failed")
		return
	}

	sess = store.Session{Token: msg.SessionToken, PeerID: newPeerID(), LastSeen: now}
	if err := h.store.CreateSession(ctx, sess); err != nil {
		h.logger.Error("failed to create session", "err", err)
		c.fail(ErrorInternal, "session create failed")
		return
	}
	c.bind(sess.PeerID, sess.Token)
	if old := h.attach(c); old != nil {
		old.Close()
	}
	h.logger.Info("session created", "peer_id", sess.PeerID, "remote", c.remote)
	c.Send(&Message{Type: TypePeerID, PeerID: sess.PeerID})
}

// restore rebinds a live session to a new socket and puts the peer back into
// its room if the room still exists.
func (h *Hub) restore(ctx context.Context, c *Client, sess store.Session) {
	c.bind(sess.PeerID, sess.Token)
	if old := h.attach(c); old != nil {
		h.logger.Info("closing stale socket", "peer_id", sess.PeerID)
		old.Close()
	}
	if err := h.store.TouchSession(ctx, sess.Token, h.clock.Now()); err != nil {
		h.logger.Warn("failed to refresh session", "peer_id", sess.PeerID, "err", err)
	}

	roomID := ""
	if sess.RoomID != "" {
		h.roomMu.Lock()
		if _, err := h.store.GetRoom(ctx, sess.RoomID); err == nil {
			if err := h.store.AddMember(ctx, sess.RoomID, sess.PeerID); err == nil {
				roomID = sess.RoomID
			}
		}
		h.roomMu.Unlock()
		if roomID == "" {
			h.store.SetSessionRoom(ctx, sess.Token, "")
		}
	}
	c.setRoom(roomID)

	h.logger.Info("session restored", "peer_id", sess.PeerID, "room_id", roomID)
	c.Send(&Message{Type: TypePeerID, PeerID: sess.PeerID, Restored: true, RoomID: roomID})
	if roomID != "" {
		h.notifyRoom(ctx, roomID, &Message{Type: TypePeerReconnect, PeerID: sess.PeerID}, sess.PeerID)
	}
}

// Sweep removes sessions idle for longer than the session expiry, prunes
// their membership and deletes rooms left empty.
func (h *Hub) Sweep(ctx context.Context) {
	cutoff := h.clock.Now().Add(-h.cfg.SessionExpiry)
	expired, err := h.store.ExpiredSessions(ctx, cutoff)
	if err != nil {
		h.logger.Error("failed to list expired sessions", "err", err)
		return
	}
	for _, sess := range expired {
		h.expire(ctx, sess)
	}
	if len(expired) > 0 {
		h.logger.Info("expired sessions swept", "count", len(expired))
	}
}

func (h *Hub) expire(ctx context.Context, sess store.Session) {
	if c := h.client(sess.PeerID); c != nil && c.sessionToken() == sess.Token {
		h.detach(c)
		c.Close()
	}
	if sess.RoomID != "" {
		h.roomMu.Lock()
		h.removeMember(ctx, sess.RoomID, sess.PeerID)
		h.roomMu.Unlock()
	}
	if err := h.store.DeleteSession(ctx, sess.Token); err != nil {
		h.logger.Warn("failed to delete session", "peer_id", sess.PeerID, "err", err)
	}
	h.logger.Debug("session expired", "peer_id", sess.PeerID, "room_id", sess.RoomID)
}
