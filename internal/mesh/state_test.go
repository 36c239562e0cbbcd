package mesh

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

func twoSetConfig() dice.Config {
	return dice.Config{DiceSets: []dice.Set{
		{ID: "s1", Count: 2, Color: "#fff"},
		{ID: "s2", Count: 3, Color: "#f00"},
	}}
}

func newTestState(t *testing.T) *State {
	t.Helper()
	s := NewState()
	if err := s.SetConfig(twoSetConfig()); err != nil {
		t.Fatalf("set config: %v", err)
	}
	return s
}

func testRoll(id, setID, holder string, values ...int) dice.Roll {
	results := []dice.SetResult{{SetID: setID, Values: values, HolderID: holder, HolderUsername: "user-" + holder}}
	return dice.Roll{
		RollID:      id,
		SetResults:  results,
		Total:       dice.Total(results),
		Timestamp:   1,
		GeneratedBy: "gen",
	}
}

func TestConcurrentGrabHasOneWinner(t *testing.T) {
	s := newTestState(t)

	const grabbers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < grabbers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("peer-%d", i)
			if _, err := s.TryGrab("s1", dice.Holder{PeerID: id, Username: id}); err == nil {
				mu.Lock()
				wins = append(wins, id)
				mu.Unlock()
			} else if !errors.Is(err, ErrSetHeld) {
				t.Errorf("unexpected grab error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("expected exactly one holder, got %v", wins)
	}
	h, ok := s.Holder("s1")
	if !ok || h.PeerID != wins[0] {
		t.Fatalf("holder %+v does not match winner %s", h, wins[0])
	}
}

func TestTryGrabErrors(t *testing.T) {
	s := newTestState(t)
	me := dice.Holder{PeerID: "a", Username: "alice"}

	if _, err := s.TryGrab("nope", me); !errors.Is(err, dice.ErrUnknownSet) {
		t.Fatalf("expected unknown set, got %v", err)
	}
	if _, err := s.TryGrab("s1", me); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if _, err := s.TryGrab("s1", me); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("expected already held, got %v", err)
	}
	if _, err := NewState().TryGrab("s1", me); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected missing config, got %v", err)
	}
}

func TestRecordRollIsIdempotent(t *testing.T) {
	s := newTestState(t)
	if _, err := s.TryGrab("s1", dice.Holder{PeerID: "a"}); err != nil {
		t.Fatalf("grab: %v", err)
	}
	r := testRoll("r1", "s1", "a", 3, 5)
	r.LockedDice = map[string]dice.LockState{"s1": {LockedIndices: []int{1}, Values: map[int]int{1: 5}}}

	if !s.RecordRoll(r) {
		t.Fatal("first roll not recorded")
	}
	before := s.Snapshot()

	// A grab in between must not be undone by a replayed roll.
	if _, err := s.TryGrab("s2", dice.Holder{PeerID: "b"}); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if s.RecordRoll(r) {
		t.Fatal("duplicate roll recorded")
	}
	if len(s.History()) != 1 {
		t.Fatalf("history has %d entries", len(s.History()))
	}
	if _, ok := s.Holder("s2"); !ok {
		t.Fatal("duplicate roll cleared holders")
	}
	if !reflect.DeepEqual(before.LockedDice, s.Snapshot().LockedDice) {
		t.Fatal("duplicate roll changed locks")
	}
}

func TestRecordRollUpdatesSets(t *testing.T) {
	s := newTestState(t)
	if _, err := s.TryGrab("s1", dice.Holder{PeerID: "a", Username: "alice"}); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if _, err := s.TryGrab("s2", dice.Holder{PeerID: "b", Username: "bob"}); err != nil {
		t.Fatalf("grab: %v", err)
	}

	r := testRoll("r1", "s1", "a", 2, 2)
	r.LockedDice = map[string]dice.LockState{"s1": {LockedIndices: []int{0}, Values: map[int]int{0: 2}}}
	s.RecordRoll(r)

	if len(s.Holders()) != 0 {
		t.Fatalf("holders not cleared: %v", s.Holders())
	}
	if lr, ok := s.LastRoller("s1"); !ok || lr.PeerID != "a" {
		t.Fatalf("last roller not recorded: %+v", lr)
	}
	if _, ok := s.LastRoller("s2"); ok {
		t.Fatal("unrolled set got a last roller")
	}
	if !s.Lock("s1").IsLocked(0) {
		t.Fatal("embedded lock not applied")
	}
	if !s.HasRolled("s1") {
		t.Fatal("has-rolled flag not set")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := newTestState(t)
	for i := 0; i < HistoryCap+20; i++ {
		s.RecordRoll(testRoll(fmt.Sprintf("r%d", i), "s1", "a", 1, 1))
	}
	h := s.History()
	if len(h) != HistoryCap {
		t.Fatalf("history has %d entries", len(h))
	}
	if h[0].RollID != "r20" {
		t.Fatalf("oldest entry is %s", h[0].RollID)
	}
	if s.KnowsRoll("r0") {
		t.Fatal("evicted roll still known")
	}
	if !s.KnowsRoll("r119") {
		t.Fatal("newest roll unknown")
	}
}

func TestCanLock(t *testing.T) {
	s := newTestState(t)
	alice := dice.Holder{PeerID: "a", Username: "alice"}

	if s.CanLock("s1", "a") {
		t.Fatal("unrolled, unheld set lockable")
	}
	if _, err := s.TryGrab("s1", alice); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if s.CanLock("s1", "a") {
		t.Fatal("holder may lock before rolling")
	}
	s.RecordRoll(testRoll("r1", "s1", "a", 4, 6))

	if !s.CanLock("s1", "a") {
		t.Fatal("last roller of unheld set may not lock")
	}
	if s.CanLock("s1", "b") {
		t.Fatal("stranger may lock")
	}
	if _, err := s.TryGrab("s1", dice.Holder{PeerID: "b"}); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if s.CanLock("s1", "a") {
		t.Fatal("last roller may lock a set held by someone else")
	}
	if s.CanLock("s1", "b") {
		t.Fatal("new holder may lock before rolling")
	}
}

func TestSetLockChecksIndexAndValue(t *testing.T) {
	s := newTestState(t)
	if err := s.SetLock("s1", 2, true, 3); !errors.Is(err, dice.ErrDieIndex) {
		t.Fatalf("expected index error, got %v", err)
	}
	if err := s.SetLock("s1", -1, true, 3); !errors.Is(err, dice.ErrDieIndex) {
		t.Fatalf("expected index error, got %v", err)
	}
	if err := s.SetLock("s1", 0, true, 7); !errors.Is(err, dice.ErrFaceOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	if err := s.SetLock("s1", 1, true, 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := s.SetLock("s1", 1, false, 0); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok := s.Locks()["s1"]; ok {
		t.Fatal("empty lock state kept")
	}
}

func TestGrabSavesAndRestoresLocks(t *testing.T) {
	s := newTestState(t)
	alice := dice.Holder{PeerID: "a", Username: "alice"}
	bob := dice.Holder{PeerID: "b", Username: "bob"}

	if _, err := s.TryGrab("s1", alice); err != nil {
		t.Fatalf("grab: %v", err)
	}
	s.RecordRoll(testRoll("r1", "s1", "a", 6, 1))
	if err := s.SetLock("s1", 0, true, 6); err != nil {
		t.Fatalf("lock: %v", err)
	}

	restored, err := s.TryGrab("s1", bob)
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	if restored != nil {
		t.Fatalf("bob got a restored lock: %+v", restored)
	}
	if !s.Lock("s1").Empty() {
		t.Fatal("grab did not clear locks")
	}
	if !s.Release("s1", "b") {
		t.Fatal("release failed")
	}

	restored, err = s.TryGrab("s1", alice)
	if err != nil {
		t.Fatalf("regrab: %v", err)
	}
	if restored == nil || !restored.IsLocked(0) || restored.Values[0] != 6 {
		t.Fatalf("alice's locks not restored: %+v", restored)
	}
	if !s.Lock("s1").IsLocked(0) {
		t.Fatal("restored lock not applied")
	}
	if !s.CanLock("s1", "a") {
		t.Fatal("returning roller may not adjust restored locks")
	}
	if len(s.Snapshot().SavedDiceState) != 0 {
		t.Fatalf("restored state still saved: %+v", s.Snapshot().SavedDiceState)
	}
}

func TestRemovePeerReleasesSets(t *testing.T) {
	s := newTestState(t)
	s.AddPeer("c", Peer{Username: "carol"})
	for _, id := range []string{"s2", "s1"} {
		if _, err := s.TryGrab(id, dice.Holder{PeerID: "c"}); err != nil {
			t.Fatalf("grab %s: %v", id, err)
		}
	}
	released, ok := s.RemovePeer("c")
	if !ok || !reflect.DeepEqual(released, []string{"s1", "s2"}) {
		t.Fatalf("unexpected release %v ok=%v", released, ok)
	}
	if _, ok := s.RemovePeer("c"); ok {
		t.Fatal("second removal reported success")
	}
	if len(s.Holders()) != 0 {
		t.Fatal("holders left behind")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestState(t)
	s.AddPeer("a", Peer{Username: "alice", ConnectedAt: 10})
	s.AddPeer("b", Peer{Username: "bob", ConnectedAt: 20})
	for i := 0; i < 60; i++ {
		s.RecordRoll(testRoll(fmt.Sprintf("r%d", i), "s1", "a", 1+i%6, 6-i%6))
	}
	if err := s.SetLock("s1", 1, true, 5); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := s.TryGrab("s1", dice.Holder{PeerID: "b", Username: "bob"}); err != nil {
		t.Fatalf("grab: %v", err)
	}
	if _, err := s.TryGrab("s2", dice.Holder{PeerID: "a", Username: "alice"}); err != nil {
		t.Fatalf("grab: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.RollHistory) != SnapshotHistory {
		t.Fatalf("snapshot carries %d rolls", len(snap.RollHistory))
	}
	if snap.RollHistory[0].RollID != "r10" {
		t.Fatalf("snapshot starts at %s", snap.RollHistory[0].RollID)
	}
	if len(snap.SavedDiceState["a"]) != 1 {
		t.Fatalf("saved state missing: %+v", snap.SavedDiceState)
	}

	wire, err := msgpack.Marshal(WelcomePayload{State: snap})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded WelcomePayload
	if err := msgpack.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	loaded := NewState()
	loaded.LoadSnapshot(decoded.State)
	if !loaded.StateReceived() {
		t.Fatal("loading a snapshot did not mark state received")
	}
	if got := loaded.Snapshot(); !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, snap)
	}
}

func TestAcceptSnapshotOnlyOnce(t *testing.T) {
	first := Snapshot{Peers: map[string]Peer{"a": {Username: "alice"}}}
	second := Snapshot{Peers: map[string]Peer{"z": {Username: "zed"}}}

	s := newTestState(t)
	if !s.AcceptSnapshot(first) {
		t.Fatal("first welcome rejected")
	}
	if s.AcceptSnapshot(second) {
		t.Fatal("second welcome accepted")
	}
	if _, ok := s.Peer("a"); !ok {
		t.Fatal("first snapshot lost")
	}
	if _, ok := s.Peer("z"); ok {
		t.Fatal("second snapshot applied")
	}
	if _, ok := s.Config(); !ok {
		t.Fatal("known layout dropped by a snapshot without one")
	}
}

func TestSetConfigOnce(t *testing.T) {
	s := newTestState(t)
	if err := s.SetConfig(twoSetConfig()); err != nil {
		t.Fatalf("setting the same layout: %v", err)
	}
	other := dice.Config{DiceSets: []dice.Set{{ID: "x", Count: 1}}}
	if err := s.SetConfig(other); !errors.Is(err, ErrConfigFrozen) {
		t.Fatalf("expected frozen config, got %v", err)
	}
	if err := NewState().SetConfig(dice.Config{}); !errors.Is(err, dice.ErrNoDiceSets) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
