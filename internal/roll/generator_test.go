package roll

import (
	"fmt"
	"testing"
	"time"

	"github.com/niklaspandersson/dicebox/internal/clock"
	"github.com/niklaspandersson/dicebox/internal/dice"
)

func TestGeneratorAnswersOnce(t *testing.T) {
	members := []string{peerA, peerB}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	gen := NewGenerator(peerB, dice.NewSeededRoller(9), clk)

	req := Request{
		RollID:      "r1",
		RequesterID: peerA,
		GeneratorID: peerB,
		DiceSets:    []Set{{SetID: "s1", Count: 3, HolderID: peerA, HolderUsername: "alice"}},
		LockedDice: map[string]dice.LockState{
			"s1": {LockedIndices: []int{0}, Values: map[int]int{0: 6}},
		},
	}

	r, ok := gen.Handle(req, members)
	if !ok {
		t.Fatal("elected generator did not answer")
	}
	if r.GeneratedBy != peerB || r.RollID != "r1" {
		t.Fatalf("unexpected roll header: %+v", r)
	}
	if r.Timestamp != clk.Now().UnixMilli() {
		t.Fatalf("unexpected timestamp %d", r.Timestamp)
	}
	sr := r.SetResults[0]
	if sr.HolderID != peerA || sr.HolderUsername != "alice" {
		t.Fatalf("holder not carried into result: %+v", sr)
	}
	if sr.Values[0] != 6 {
		t.Fatalf("locked die rerolled: %v", sr.Values)
	}
	if r.Total != dice.Total(r.SetResults) {
		t.Fatalf("total %d does not match values", r.Total)
	}
	if !r.LockedDice["s1"].IsLocked(0) {
		t.Fatal("lock info not embedded in roll")
	}

	if _, ok := gen.Handle(req, members); ok {
		t.Fatal("generator answered the same roll twice")
	}
}

func TestGeneratorIgnoresOwnAndForeignRequests(t *testing.T) {
	members := []string{peerA, peerB, peerC}
	genA := NewGenerator(peerA, dice.NewSeededRoller(1), nil)

	own := Request{RollID: "r", RequesterID: peerA, DiceSets: oneSet()}
	if _, ok := genA.Handle(own, members); ok {
		t.Fatal("requester answered its own request")
	}

	rollID := rollIDElecting(t, members, peerB, peerC)
	foreign := Request{RollID: rollID, RequesterID: peerB, DiceSets: oneSet()}
	if _, ok := genA.Handle(foreign, members); ok {
		t.Fatal("non-elected peer answered")
	}

	mismatched := Request{RollID: rollIDElecting(t, members, peerB, peerA), RequesterID: peerB, GeneratorID: peerC, DiceSets: oneSet()}
	if _, ok := genA.Handle(mismatched, members); ok {
		t.Fatal("answered although the requester chose another generator")
	}
}

func TestGeneratorSeenSetIsBounded(t *testing.T) {
	gen := NewGenerator(peerB, dice.NewSeededRoller(1), nil)
	for i := 0; i < SeenCapacity+10; i++ {
		if !gen.markSeen(fmt.Sprintf("r%d", i)) {
			t.Fatalf("id r%d reported as seen", i)
		}
	}
	if len(gen.seen) != SeenCapacity || len(gen.order) != SeenCapacity {
		t.Fatalf("seen set grew to %d/%d", len(gen.seen), len(gen.order))
	}
	if !gen.markSeen("r0") {
		t.Fatal("oldest id should have been evicted")
	}
	if gen.markSeen(fmt.Sprintf("r%d", SeenCapacity+9)) {
		t.Fatal("recent id forgotten")
	}
}
