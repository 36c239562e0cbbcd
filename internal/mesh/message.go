package mesh

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

// MessageType is the discriminator of a peer-to-peer frame.
type MessageType string

const (
	TypeHello        MessageType = "HELLO"
	TypeWelcome      MessageType = "WELCOME"
	TypeRequestState MessageType = "REQUEST_STATE"
	TypePeerJoined   MessageType = "PEER_JOINED"
	TypePeerLeft     MessageType = "PEER_LEFT"
	TypeDiceGrab     MessageType = "DICE_GRAB"
	TypeDiceDrop     MessageType = "DICE_DROP"
	TypeDiceLock     MessageType = "DICE_LOCK"
	TypeRollRequest  MessageType = "ROLL_REQUEST"
	TypeDiceRoll     MessageType = "DICE_ROLL"
)

var ErrUnknownMessage = errors.New("unknown message type")

// Known reports whether t is part of the protocol.
func (t MessageType) Known() bool {
	switch t {
	case TypeHello, TypeWelcome, TypeRequestState, TypePeerJoined, TypePeerLeft,
		TypeDiceGrab, TypeDiceDrop, TypeDiceLock, TypeRollRequest, TypeDiceRoll:
		return true
	default:
		return false
	}
}

// Message is one data channel frame.
type Message struct {
	Type    MessageType        `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// DecodePayload decodes the message payload into v.
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a Message with the given type and payload. A nil
// payload produces a bare frame.
func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: b}, nil
}

// Encode builds and serializes a frame.
func Encode(t MessageType, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

// Decode parses a frame. Unknown types are reported with ErrUnknownMessage.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if !msg.Type.Known() {
		return msg, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return msg, nil
}

type HelloPayload struct {
	Username string `msgpack:"username"`
}

type WelcomePayload struct {
	State Snapshot `msgpack:"state"`
}

type PeerJoinedPayload struct {
	PeerID   string `msgpack:"peerId"`
	Username string `msgpack:"username"`
}

type PeerLeftPayload struct {
	PeerID string `msgpack:"peerId"`
}

type GrabPayload struct {
	SetID        string          `msgpack:"setId"`
	Username     string          `msgpack:"username"`
	RestoredLock *dice.LockState `msgpack:"restoredLock,omitempty"`
}

// DropPayload releases one set, or every set of the dropping peer when SetID
// is empty. PeerID is set when a peer drops on behalf of a departed one.
type DropPayload struct {
	SetID  string `msgpack:"setId,omitempty"`
	PeerID string `msgpack:"peerId,omitempty"`
}

type LockPayload struct {
	SetID    string `msgpack:"setId"`
	DieIndex int    `msgpack:"dieIndex"`
	Locked   bool   `msgpack:"locked"`
	Value    int    `msgpack:"value"`
}
