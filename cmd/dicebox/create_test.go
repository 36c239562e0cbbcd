package main

import (
	"errors"
	"testing"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

func TestParseDiceSets(t *testing.T) {
	cfg, err := parseDiceSets([]string{"red:2", "blue:3:#3b82f6"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []dice.Set{{ID: "red", Count: 2}, {ID: "blue", Count: 3, Color: "#3b82f6"}}
	if len(cfg.DiceSets) != len(want) {
		t.Fatalf("got %+v", cfg.DiceSets)
	}
	for i := range want {
		if cfg.DiceSets[i] != want[i] {
			t.Errorf("set %d = %+v, want %+v", i, cfg.DiceSets[i], want[i])
		}
	}
}

func TestParseDiceSetsRejects(t *testing.T) {
	for _, in := range [][]string{
		{"red"},
		{"red:two"},
		{"red:2:x:y"},
		{"red:0"},
		{"red:2", "red:3"},
		nil,
	} {
		if _, err := parseDiceSets(in); err == nil {
			t.Errorf("parseDiceSets(%q) accepted", in)
		}
	}
	if _, err := parseDiceSets(nil); !errors.Is(err, dice.ErrNoDiceSets) {
		t.Errorf("empty layout: %v", err)
	}
}
