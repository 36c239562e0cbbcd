package signaling

import (
	"context"
	"errors"

	"github.com/niklaspandersson/dicebox/internal/store"
)

func (h *Hub) queryRoom(ctx context.Context, c *Client, msg *Message) {
	exists := false
	reply := &Message{Type: TypeRoomInfo, RoomID: msg.RoomID, Exists: &exists}
	if !ValidRoomID(msg.RoomID) {
		c.Send(reply)
		return
	}
	room, err := h.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("failed to load room", "room_id", msg.RoomID, "err", err)
		}
		c.Send(reply)
		return
	}
	members, err := h.connectedMembers(ctx, room.ID, "")
	if err != nil {
		h.logger.Error("failed to list room members", "room_id", room.ID, "err", err)
	}
	exists = true
	reply.PeerIDs = members
	reply.DiceConfig = &room.Config
	c.Send(reply)
}

func (h *Hub) createRoom(ctx context.Context, c *Client, msg *Message) {
	failed := func(reason string) {
		c.Send(&Message{Type: TypeCreateFailed, RoomID: msg.RoomID, Reason: reason})
	}
	if !ValidRoomID(msg.RoomID) {
		failed(ReasonInvalidRoomID)
		return
	}
	if msg.DiceConfig == nil || msg.DiceConfig.Validate() != nil {
		failed(ReasonInvalidDiceConfig)
		return
	}

	h.roomMu.Lock()
	defer h.roomMu.Unlock()

	h.leaveLocked(ctx, c)

	if _, err := h.store.GetRoom(ctx, msg.RoomID); err == nil {
		members, err := h.connectedMembers(ctx, msg.RoomID, "")
		if err != nil || len(members) > 0 {
			failed(ReasonRoomExists)
			return
		}
		h.logger.Info("replacing abandoned room", "room_id", msg.RoomID)
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to load room", "room_id", msg.RoomID, "err", err)
		failed(ReasonRoomExists)
		return
	}

	room := store.Room{ID: msg.RoomID, CreatedAt: h.clock.Now(), Config: msg.DiceConfig.Clone()}
	if err := h.store.PutRoom(ctx, room); err != nil {
		h.logger.Error("failed to store room", "room_id", room.ID, "err", err)
		c.Send(errorFrame(ErrorInternal, "room create failed"))
		return
	}
	if !h.enter(ctx, c, room.ID) {
		c.Send(errorFrame(ErrorInternal, "room create failed"))
		return
	}
	h.logger.Info("room created", "room_id", room.ID, "peer_id", c.PeerID(), "sets", len(room.Config.DiceSets))
	c.Send(&Message{Type: TypeCreateSuccess, RoomID: room.ID, DiceConfig: &room.Config})
}

func (h *Hub) joinRoom(ctx context.Context, c *Client, msg *Message) {
	failed := func(reason string) {
		c.Send(&Message{Type: TypeJoinFailed, RoomID: msg.RoomID, Reason: reason})
	}
	if !ValidRoomID(msg.RoomID) {
		failed(ReasonInvalidRoomID)
		return
	}

	h.roomMu.Lock()
	defer h.roomMu.Unlock()

	room, err := h.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("failed to load room", "room_id", msg.RoomID, "err", err)
		}
		failed(ReasonRoomNotFound)
		return
	}
	peerID := c.PeerID()
	members, err := h.connectedMembers(ctx, room.ID, peerID)
	if err != nil {
		h.logger.Error("failed to list room members", "room_id", room.ID, "err", err)
		failed(ReasonRoomNotFound)
		return
	}
	if len(members) == 0 {
		failed(ReasonRoomEmpty)
		return
	}

	if c.room() != room.ID {
		h.leaveLocked(ctx, c)
	}
	if !h.enter(ctx, c, room.ID) {
		c.Send(errorFrame(ErrorInternal, "room join failed"))
		return
	}
	h.logger.Info("peer joined room", "room_id", room.ID, "peer_id", peerID, "members", len(members)+1)
	c.Send(&Message{Type: TypeJoinSuccess, RoomID: room.ID, PeerIDs: members, DiceConfig: &room.Config})
	for _, id := range members {
		if m := h.client(id); m != nil {
			m.Send(&Message{Type: TypePeerJoining, PeerID: peerID})
		}
	}
}

// enter records c as a member of roomID. roomMu must be held.
func (h *Hub) enter(ctx context.Context, c *Client, roomID string) bool {
	if err := h.store.AddMember(ctx, roomID, c.PeerID()); err != nil {
		h.logger.Error("failed to add member", "room_id", roomID, "err", err)
		return false
	}
	if err := h.store.SetSessionRoom(ctx, c.sessionToken(), roomID); err != nil {
		h.logger.Warn("failed to record session room", "peer_id", c.PeerID(), "err", err)
	}
	c.setRoom(roomID)
	return true
}

func (h *Hub) leaveRoom(ctx context.Context, c *Client) {
	h.roomMu.Lock()
	defer h.roomMu.Unlock()
	h.leaveLocked(ctx, c)
}

// leaveLocked removes c from its room, if any. roomMu must be held.
func (h *Hub) leaveLocked(ctx context.Context, c *Client) {
	roomID := c.room()
	if roomID == "" {
		return
	}
	c.setRoom("")
	if err := h.store.SetSessionRoom(ctx, c.sessionToken(), ""); err != nil {
		h.logger.Warn("failed to clear session room", "peer_id", c.PeerID(), "err", err)
	}
	h.removeMember(ctx, roomID, c.PeerID())
	h.logger.Info("peer left room", "room_id", roomID, "peer_id", c.PeerID())
}

// removeMember drops peerID from roomID, tells the remaining members and
// deletes the room once it is empty.
func (h *Hub) removeMember(ctx context.Context, roomID, peerID string) {
	remaining, err := h.store.RemoveMember(ctx, roomID, peerID)
	if err != nil {
		h.logger.Error("failed to remove member", "room_id", roomID, "peer_id", peerID, "err", err)
		return
	}
	if remaining == 0 {
		if err := h.store.DeleteRoom(ctx, roomID); err != nil {
			h.logger.Error("failed to delete room", "room_id", roomID, "err", err)
			return
		}
		h.logger.Info("room deleted", "room_id", roomID)
		return
	}
	h.notifyRoom(ctx, roomID, &Message{Type: TypePeerLeft, PeerID: peerID}, peerID)
}

// relay forwards an offer, answer or ICE candidate to another member of the
// sender's room.
func (h *Hub) relay(c *Client, msg *Message) {
	roomID := c.room()
	if roomID == "" {
		c.Send(errorFrame(ErrorNotInRoom, "join a room first"))
		return
	}
	var target *Client
	if ValidPeerID(msg.TargetPeerID) {
		target = h.client(msg.TargetPeerID)
	}
	if target == nil || target.room() != roomID {
		c.Send(errorFrame(ErrorPeerNotFound, msg.TargetPeerID))
		return
	}
	out := *msg
	out.FromPeerID = c.PeerID()
	out.SessionToken = ""
	target.Send(&out)
}
