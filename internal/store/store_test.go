package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store { return NewMemory() })
}

func TestRedisStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.AddMember(context.Background(), "room", "peer"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if !mr.Exists("room:room:members") {
		t.Fatal("member set not written under the expected key")
	}
}

// testStore runs the behaviour every Store must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	base := time.UnixMilli(1_700_000_000_000)

	t.Run("sessions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := s.TouchSession(ctx, "missing", base); !errors.Is(err, ErrNotFound) {
			t.Fatalf("touching a missing session: %v", err)
		}

		sess := Session{Token: "tok-1", PeerID: "p1", LastSeen: base}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.SetSessionRoom(ctx, "tok-1", "rrrr"); err != nil {
			t.Fatalf("set room: %v", err)
		}
		if err := s.TouchSession(ctx, "tok-1", base.Add(time.Minute)); err != nil {
			t.Fatalf("touch: %v", err)
		}
		got, err := s.GetSession(ctx, "tok-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.PeerID != "p1" || got.RoomID != "rrrr" || !got.LastSeen.Equal(base.Add(time.Minute)) {
			t.Fatalf("unexpected session %+v", got)
		}

		if err := s.DeleteSession(ctx, "tok-1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.GetSession(ctx, "tok-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session survived delete: %v", err)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, token := range []string{"old", "older", "fresh"} {
			seen := base.Add(-time.Duration(i+1) * time.Hour)
			if token == "fresh" {
				seen = base
			}
			if err := s.CreateSession(ctx, Session{Token: token, PeerID: "p-" + token, LastSeen: seen}); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		expired, err := s.ExpiredSessions(ctx, base.Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("expired: %v", err)
		}
		var tokens []string
		for _, e := range expired {
			tokens = append(tokens, e.Token)
		}
		if !reflect.DeepEqual(tokens, []string{"older", "old"}) {
			t.Fatalf("expired tokens %v", tokens)
		}

		// Touching moves a session out of the expired range.
		if err := s.TouchSession(ctx, "old", base); err != nil {
			t.Fatalf("touch: %v", err)
		}
		expired, err = s.ExpiredSessions(ctx, base.Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("expired: %v", err)
		}
		if len(expired) != 1 || expired[0].Token != "older" {
			t.Fatalf("unexpected expired sessions %+v", expired)
		}
	})

	t.Run("rooms", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cfg := dice.Config{DiceSets: []dice.Set{{ID: "s1", Count: 2, Color: "#fff"}}}

		if _, err := s.GetRoom(ctx, "rrrr"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := s.PutRoom(ctx, Room{ID: "rrrr", CreatedAt: base, Config: cfg}); err != nil {
			t.Fatalf("put: %v", err)
		}
		room, err := s.GetRoom(ctx, "rrrr")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !room.CreatedAt.Equal(base) || !reflect.DeepEqual(room.Config, cfg) {
			t.Fatalf("unexpected room %+v", room)
		}

		for _, p := range []string{"p2", "p1", "p2"} {
			if err := s.AddMember(ctx, "rrrr", p); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		members, err := s.Members(ctx, "rrrr")
		if err != nil {
			t.Fatalf("members: %v", err)
		}
		if !reflect.DeepEqual(members, []string{"p1", "p2"}) {
			t.Fatalf("members %v", members)
		}

		left, err := s.RemoveMember(ctx, "rrrr", "p1")
		if err != nil || left != 1 {
			t.Fatalf("remove: left=%d err=%v", left, err)
		}
		left, err = s.RemoveMember(ctx, "rrrr", "nobody")
		if err != nil || left != 1 {
			t.Fatalf("removing a stranger: left=%d err=%v", left, err)
		}

		// Replacing the room starts with no members.
		if err := s.PutRoom(ctx, Room{ID: "rrrr", CreatedAt: base.Add(time.Hour), Config: cfg}); err != nil {
			t.Fatalf("put again: %v", err)
		}
		members, err = s.Members(ctx, "rrrr")
		if err != nil {
			t.Fatalf("members: %v", err)
		}
		if len(members) != 0 {
			t.Fatalf("stale members %v", members)
		}

		if err := s.AddMember(ctx, "rrrr", "p3"); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := s.DeleteRoom(ctx, "rrrr"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.GetRoom(ctx, "rrrr"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("room survived delete: %v", err)
		}
		members, _ = s.Members(ctx, "rrrr")
		if len(members) != 0 {
			t.Fatalf("members survived delete: %v", members)
		}
	})
}
