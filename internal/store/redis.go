package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix = "session:"
	lastSeenKey   = "sessions:lastseen"
	roomPrefix    = "room:"
)

// Redis is a Store backed by a Redis server, so several registry instances
// can share sessions and rooms.
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// OpenRedis connects to the server at url (redis://...) and checks it is
// reachable.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb), nil
}

func sessionKey(token string) string { return sessionPrefix + token }
func roomKey(id string) string       { return roomPrefix + id }
func membersKey(id string) string    { return roomPrefix + id + ":members" }

func (r *Redis) CreateSession(ctx context.Context, s Session) error {
	ms := s.LastSeen.UnixMilli()
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(s.Token))
		pipe.HSet(ctx, sessionKey(s.Token),
			"peerId", s.PeerID,
			"roomId", s.RoomID,
			"lastSeen", ms,
		)
		pipe.ZAdd(ctx, lastSeenKey, redis.Z{Score: float64(ms), Member: s.Token})
		return nil
	})
	return err
}

func (r *Redis) GetSession(ctx context.Context, token string) (Session, error) {
	fields, err := r.rdb.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		return Session{}, err
	}
	if len(fields) == 0 {
		return Session{}, ErrNotFound
	}
	ms, err := strconv.ParseInt(fields["lastSeen"], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: bad lastSeen: %w", token, err)
	}
	return Session{
		Token:    token,
		PeerID:   fields["peerId"],
		RoomID:   fields["roomId"],
		LastSeen: time.UnixMilli(ms),
	}, nil
}

func (r *Redis) exists(ctx context.Context, key string) error {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) TouchSession(ctx context.Context, token string, at time.Time) error {
	if err := r.exists(ctx, sessionKey(token)); err != nil {
		return err
	}
	ms := at.UnixMilli()
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(token), "lastSeen", ms)
		pipe.ZAdd(ctx, lastSeenKey, redis.Z{Score: float64(ms), Member: token})
		return nil
	})
	return err
}

func (r *Redis) SetSessionRoom(ctx context.Context, token, roomID string) error {
	if err := r.exists(ctx, sessionKey(token)); err != nil {
		return err
	}
	return r.rdb.HSet(ctx, sessionKey(token), "roomId", roomID).Err()
}

func (r *Redis) DeleteSession(ctx context.Context, token string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(token))
		pipe.ZRem(ctx, lastSeenKey, token)
		return nil
	})
	return err
}

func (r *Redis) ExpiredSessions(ctx context.Context, before time.Time) ([]Session, error) {
	tokens, err := r.rdb.ZRangeByScore(ctx, lastSeenKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(tokens))
	for _, token := range tokens {
		s, err := r.GetSession(ctx, token)
		if errors.Is(err, ErrNotFound) {
			r.rdb.ZRem(ctx, lastSeenKey, token)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Redis) GetRoom(ctx context.Context, id string) (Room, error) {
	fields, err := r.rdb.HGetAll(ctx, roomKey(id)).Result()
	if err != nil {
		return Room{}, err
	}
	if len(fields) == 0 {
		return Room{}, ErrNotFound
	}
	room := Room{ID: id}
	ms, err := strconv.ParseInt(fields["createdAt"], 10, 64)
	if err != nil {
		return Room{}, fmt.Errorf("room %s: bad createdAt: %w", id, err)
	}
	room.CreatedAt = time.UnixMilli(ms)
	if err := json.Unmarshal([]byte(fields["diceConfig"]), &room.Config); err != nil {
		return Room{}, fmt.Errorf("room %s: bad diceConfig: %w", id, err)
	}
	return room, nil
}

func (r *Redis) PutRoom(ctx context.Context, room Room) error {
	cfg, err := json.Marshal(room.Config)
	if err != nil {
		return err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(room.ID), membersKey(room.ID))
		pipe.HSet(ctx, roomKey(room.ID),
			"createdAt", room.CreatedAt.UnixMilli(),
			"diceConfig", string(cfg),
		)
		return nil
	})
	return err
}

func (r *Redis) DeleteRoom(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, roomKey(id), membersKey(id)).Err()
}

func (r *Redis) AddMember(ctx context.Context, roomID, peerID string) error {
	return r.rdb.SAdd(ctx, membersKey(roomID), peerID).Err()
}

func (r *Redis) RemoveMember(ctx context.Context, roomID, peerID string) (int, error) {
	var card *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, membersKey(roomID), peerID)
		card = pipe.SCard(ctx, membersKey(roomID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (r *Redis) Members(ctx context.Context, roomID string) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
