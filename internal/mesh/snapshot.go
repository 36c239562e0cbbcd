package mesh

import (
	"maps"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

// Snapshot is the full replica state carried by WELCOME.
type Snapshot struct {
	Peers           map[string]Peer                      `msgpack:"peers"`
	RollHistory     []dice.Roll                          `msgpack:"rollHistory"`
	DiceConfig      *dice.Config                         `msgpack:"diceConfig,omitempty"`
	Holders         map[string]dice.Holder               `msgpack:"holders"`
	LockedDice      map[string]dice.LockState            `msgpack:"lockedDice"`
	HolderHasRolled map[string]bool                      `msgpack:"holderHasRolled"`
	SavedDiceState  map[string]map[string]dice.LockState `msgpack:"savedDiceState"`
	LastRoller      map[string]dice.Holder               `msgpack:"lastRoller"`
}

// Snapshot returns a deep copy of the replica with the history truncated to
// the newest SnapshotHistory rolls.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.history
	if len(history) > SnapshotHistory {
		history = history[len(history)-SnapshotHistory:]
	}
	snap := Snapshot{
		Peers:           maps.Clone(s.peers),
		RollHistory:     make([]dice.Roll, len(history)),
		Holders:         maps.Clone(s.holders),
		LockedDice:      cloneLocks(s.locks),
		HolderHasRolled: maps.Clone(s.hasRolled),
		SavedDiceState:  make(map[string]map[string]dice.LockState, len(s.saved)),
		LastRoller:      maps.Clone(s.lastRoller),
	}
	for i, r := range history {
		snap.RollHistory[i] = r.Clone()
	}
	if s.config != nil {
		c := s.config.Clone()
		snap.DiceConfig = &c
	}
	for peerID, locks := range s.saved {
		snap.SavedDiceState[peerID] = cloneLocks(locks)
	}
	return snap
}

// AcceptSnapshot replaces the replica with snap unless full state was already
// received. It reports whether the snapshot was loaded.
func (s *State) AcceptSnapshot(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateReceived {
		return false
	}
	s.loadLocked(snap)
	return true
}

// LoadSnapshot replaces the replica with snap.
func (s *State) LoadSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(snap)
}

func (s *State) loadLocked(snap Snapshot) {
	config := s.config
	s.resetLocked()
	if snap.DiceConfig != nil {
		c := snap.DiceConfig.Clone()
		config = &c
	}
	s.config = config

	for id, p := range snap.Peers {
		s.peers[id] = p
	}
	for _, r := range snap.RollHistory {
		if _, dup := s.known[r.RollID]; dup {
			continue
		}
		s.appendHistoryLocked(r.Clone())
	}
	for setID, h := range snap.Holders {
		s.holders[setID] = h
	}
	for setID, lock := range snap.LockedDice {
		if !lock.Empty() && s.lockFitsLocked(setID, lock) {
			s.locks[setID] = lock.Clone()
		}
	}
	for setID, v := range snap.HolderHasRolled {
		s.hasRolled[setID] = v
	}
	for setID, h := range snap.LastRoller {
		s.lastRoller[setID] = h
	}
	for peerID, locks := range snap.SavedDiceState {
		if len(locks) > 0 {
			s.saved[peerID] = cloneLocks(locks)
		}
	}
	s.stateReceived = true
}

func cloneLocks(in map[string]dice.LockState) map[string]dice.LockState {
	out := make(map[string]dice.LockState, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

// lockFitsLocked reports whether lock is valid for setID under the current
// layout. Without a layout nothing can be checked.
func (s *State) lockFitsLocked(setID string, lock dice.LockState) bool {
	if s.config == nil {
		return true
	}
	set, ok := s.config.Set(setID)
	return ok && dice.ValidateLock(lock, set.Count) == nil
}
