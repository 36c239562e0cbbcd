package signaling

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidRoomID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"rrrr", true},
		{"lucky-goblin_42", true},
		{strings.Repeat("a", 32), true},
		{strings.Repeat("a", 33), false},
		{"abc", false},
		{"has space", false},
		{"⚀⚁⚂⚃", true},
		{"⚅⚅⚅⚅⚅⚅⚅⚅⚅⚅", true},
		{"⚅⚅⚅⚅⚅⚅⚅⚅⚅⚅⚅", false},
		{"⚀⚁⚂", false},
		{"⚀⚁a⚃", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidRoomID(tt.id); got != tt.want {
			t.Errorf("ValidRoomID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidPeerID(t *testing.T) {
	if !ValidPeerID(newPeerID()) {
		t.Fatal("generated peer id rejected")
	}
	for _, id := range []string{"", "ABCDEF0123456789ABCDEF0123456789", strings.Repeat("a", 31), strings.Repeat("g", 32)} {
		if ValidPeerID(id) {
			t.Errorf("ValidPeerID(%q) accepted", id)
		}
	}
}

func TestValidSessionToken(t *testing.T) {
	u := uuid.NewString()
	for _, tok := range []string{u, strings.ReplaceAll(u, "-", ""), strings.ToUpper(u)} {
		if !ValidSessionToken(tok) {
			t.Errorf("token %q rejected", tok)
		}
	}
	for _, tok := range []string{"", "short", u + "00000", strings.Repeat("z", 32)} {
		if ValidSessionToken(tok) {
			t.Errorf("token %q accepted", tok)
		}
	}
}

func TestNewRoomID(t *testing.T) {
	for i := 0; i < 100; i++ {
		if id := NewRoomID(); !ValidRoomID(id) {
			t.Fatalf("generated invalid room id %q", id)
		}
	}
}
