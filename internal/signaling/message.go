package signaling

import (
	"encoding/json"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

// MessageType is the discriminator of a signaling frame.
type MessageType string

const (
	TypeHello          MessageType = "hello"
	TypePeerID         MessageType = "peer-id"
	TypeHeartbeat      MessageType = "heartbeat"
	TypeHeartbeatAck   MessageType = "heartbeat-ack"
	TypeQueryRoom      MessageType = "query-room"
	TypeRoomInfo       MessageType = "room-info"
	TypeCreateRoom     MessageType = "create-room"
	TypeCreateSuccess  MessageType = "create-room-success"
	TypeCreateFailed   MessageType = "create-room-failed"
	TypeJoinRoom       MessageType = "join-room"
	TypeJoinSuccess    MessageType = "join-room-success"
	TypeJoinFailed     MessageType = "join-room-failed"
	TypeLeaveRoom      MessageType = "leave-room"
	TypeOffer          MessageType = "offer"
	TypeAnswer         MessageType = "answer"
	TypeICECandidate   MessageType = "ice-candidate"
	TypePeerJoining    MessageType = "peer-joining"
	TypePeerReconnect  MessageType = "peer-reconnected"
	TypePeerDisconnect MessageType = "peer-disconnected"
	TypePeerLeft       MessageType = "peer-left"
	TypeError          MessageType = "error"
)

// IsSignal reports whether t is relayed between peers.
func (t MessageType) IsSignal() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// Failure reasons of create-room-failed and join-room-failed.
const (
	ReasonInvalidRoomID     = "invalid-room-id"
	ReasonInvalidDiceConfig = "invalid-dice-config"
	ReasonRoomExists        = "room-exists"
	ReasonRoomNotFound      = "room-not-found"
	ReasonRoomEmpty         = "room-empty"
)

// Error types of error frames.
const (
	ErrorProtocol        = "protocol-error"
	ErrorInvalidMessage  = "invalid-message"
	ErrorMessageTooLarge = "message-too-large"
	ErrorRateLimit       = "rate-limit"
	ErrorNotInRoom       = "not-in-room"
	ErrorPeerNotFound    = "peer-not-found"
	ErrorInternal        = "internal-error"
)

// Message is every frame exchanged with the signaling server. Fields not
// used by a type are omitted.
type Message struct {
	Type         MessageType     `json:"type"`
	SessionToken string          `json:"sessionToken,omitempty"`
	PeerID       string          `json:"peerId,omitempty"`
	Restored     bool            `json:"restored,omitempty"`
	RoomID       string          `json:"roomId,omitempty"`
	Exists       *bool           `json:"exists,omitempty"`
	PeerIDs      []string        `json:"peerIds,omitempty"`
	DiceConfig   *dice.Config    `json:"diceConfig,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	ErrorType    string          `json:"errorType,omitempty"`
	TargetPeerID string          `json:"targetPeerId,omitempty"`
	FromPeerID   string          `json:"fromPeerId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON always writes peerIds on join-room-success and on room-info
// for an existing room, so an empty room reads as [] rather than missing.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if !m.listsPeers() {
		return json.Marshal(plain(m))
	}
	ids := m.PeerIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(struct {
		plain
		PeerIDs []string `json:"peerIds"`
	}{plain(m), ids})
}

func (m Message) listsPeers() bool {
	switch m.Type {
	case TypeJoinSuccess:
		return true
	case TypeRoomInfo:
		return m.Exists != nil && *m.Exists
	}
	return false
}

func errorFrame(errorType, reason string) *Message {
	return &Message{Type: TypeError, ErrorType: errorType, Reason: reason}
}
