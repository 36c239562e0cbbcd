package mesh

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

const (
	// HistoryCap bounds the local roll history.
	HistoryCap = 100
	// SnapshotHistory is how many rolls a WELCOME carries.
	SnapshotHistory = 50
)

var (
	ErrSetHeld      = errors.New("dice set is held by another peer")
	ErrAlreadyHeld  = errors.New("dice set already held by this peer")
	ErrNotHolder    = errors.New("dice set not held by this peer")
	ErrCannotLock   = errors.New("dice may not be locked now")
	ErrNoRollYet    = errors.New("dice set has not been rolled")
	ErrConfigFrozen = errors.New("dice configuration already set")
	ErrNoConfig     = errors.New("dice configuration unknown")
)

// Peer is a member of the mesh as seen by the local replica.
type Peer struct {
	Username    string `msgpack:"username"`
	ConnectedAt int64  `msgpack:"connectedAt"`
}

// State is one peer's replica of the room. All methods are safe for
// concurrent use.
type State struct {
	mu            sync.RWMutex
	peers         map[string]Peer
	history       []dice.Roll
	known         map[string]struct{}
	config        *dice.Config
	holders       map[string]dice.Holder
	locks         map[string]dice.LockState
	hasRolled     map[string]bool
	lastRoller    map[string]dice.Holder
	saved         map[string]map[string]dice.LockState
	stateReceived bool
}

// NewState returns an empty replica.
func NewState() *State {
	s := &State{}
	s.resetLocked()
	return s
}

func (s *State) resetLocked() {
	s.peers = make(map[string]Peer)
	s.history = nil
	s.known = make(map[string]struct{})
	s.holders = make(map[string]dice.Holder)
	s.locks = make(map[string]dice.LockState)
	s.hasRolled = make(map[string]bool)
	s.lastRoller = make(map[string]dice.Holder)
	s.saved = make(map[string]map[string]dice.LockState)
}

// SetConfig sets the dice layout. It may be set once; setting an equal
// layout again is a no-op.
func (s *State) SetConfig(cfg dice.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config != nil {
		if slices.Equal(s.config.DiceSets, cfg.DiceSets) {
			return nil
		}
		return ErrConfigFrozen
	}
	c := cfg.Clone()
	s.config = &c
	return nil
}

// Config returns the dice layout, if known.
func (s *State) Config() (dice.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return dice.Config{}, false
	}
	return s.config.Clone(), true
}

// StateReceived reports whether the replica holds full room state.
func (s *State) StateReceived() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateReceived
}

// MarkStateReceived records that the replica is authoritative for the local
// peer, either because it created the room or because no WELCOME arrived.
// It reports whether the flag changed.
func (s *State) MarkStateReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateReceived {
		return false
	}
	s.stateReceived = true
	return true
}

// AddPeer adds a peer or updates its username. It reports whether the peer
// was new.
func (s *State) AddPeer(id string, p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.peers[id]; ok {
		cur.Username = p.Username
		s.peers[id] = cur
		return false
	}
	s.peers[id] = p
	return true
}

// RemovePeer removes a peer and releases every set it held. The released set
// ids are returned sorted. ok is false when the peer was unknown.
func (s *State) RemovePeer(id string) (released []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		return nil, false
	}
	delete(s.peers, id)
	return s.releaseAllLocked(id), true
}

// Peer returns the peer with the given id.
func (s *State) Peer(id string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// Peers returns a copy of the membership map.
func (s *State) Peers() map[string]Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.peers)
}

// PeerIDs returns the sorted membership view.
func (s *State) PeerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.peers))
}

// TryGrab makes h the holder of setID if nobody holds it. It returns the
// lock configuration restored for h, if any, which must be announced with
// the grab.
func (s *State) TryGrab(setID string, h dice.Holder) (*dice.LockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSetLocked(setID); err != nil {
		return nil, err
	}
	if cur, held := s.holders[setID]; held {
		if cur.PeerID == h.PeerID {
			return nil, ErrAlreadyHeld
		}
		return nil, fmt.Errorf("%w: %s", ErrSetHeld, cur.Username)
	}
	s.stashLocked(setID)
	var restored *dice.LockState
	if lock, ok := s.saved[h.PeerID][setID]; ok && !lock.Empty() {
		l := lock.Clone()
		restored = &l
	}
	s.grabLocked(setID, h, restored)
	return restored, nil
}

// ApplyGrab records a grab announced by another peer. The sender already
// won the race locally, so the holder is set unconditionally. A restored lock
// that does not fit the set rejects the whole grab.
func (s *State) ApplyGrab(setID string, h dice.Holder, restored *dice.LockState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSetLocked(setID); err != nil {
		return err
	}
	if restored != nil {
		set, _ := s.config.Set(setID)
		if err := dice.ValidateLock(*restored, set.Count); err != nil {
			return fmt.Errorf("restored lock for %q: %w", setID, err)
		}
	}
	s.stashLocked(setID)
	s.grabLocked(setID, h, restored)
	return nil
}

// stashLocked saves the current locks of setID under its last roller.
func (s *State) stashLocked(setID string) {
	lock, ok := s.locks[setID]
	if !ok || lock.Empty() {
		return
	}
	lr, ok := s.lastRoller[setID]
	if !ok {
		return
	}
	if s.saved[lr.PeerID] == nil {
		s.saved[lr.PeerID] = make(map[string]dice.LockState)
	}
	s.saved[lr.PeerID][setID] = lock.Clone()
}

func (s *State) grabLocked(setID string, h dice.Holder, restored *dice.LockState) {
	s.holders[setID] = h
	delete(s.locks, setID)
	s.hasRolled[setID] = false
	if saved := s.saved[h.PeerID]; saved != nil {
		delete(saved, setID)
		if len(saved) == 0 {
			delete(s.saved, h.PeerID)
		}
	}
	if restored != nil && !restored.Empty() {
		s.locks[setID] = restored.Clone()
	}
}

// Release clears the holder of setID if peerID holds it.
func (s *State) Release(setID, peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(setID, peerID)
}

// ReleaseAll clears every set held by peerID and returns their ids sorted.
func (s *State) ReleaseAll(peerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseAllLocked(peerID)
}

func (s *State) releaseLocked(setID, peerID string) bool {
	h, ok := s.holders[setID]
	if !ok || h.PeerID != peerID {
		return false
	}
	delete(s.holders, setID)
	s.hasRolled[setID] = false
	return true
}

func (s *State) releaseAllLocked(peerID string) []string {
	var released []string
	for setID, h := range s.holders {
		if h.PeerID == peerID {
			released = append(released, setID)
		}
	}
	slices.Sort(released)
	for _, setID := range released {
		s.releaseLocked(setID, peerID)
	}
	return released
}

// Holder returns the current holder of setID.
func (s *State) Holder(setID string) (dice.Holder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holders[setID]
	return h, ok
}

// Holders returns a copy of the holder map.
func (s *State) Holders() map[string]dice.Holder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.holders)
}

// HeldBy returns the sorted ids of the sets held by peerID.
func (s *State) HeldBy(peerID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for setID, h := range s.holders {
		if h.PeerID == peerID {
			ids = append(ids, setID)
		}
	}
	slices.Sort(ids)
	return ids
}

// HasRolled reports whether the current holder of setID rolled it.
func (s *State) HasRolled(setID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasRolled[setID]
}

// LastRoller returns who rolled setID most recently.
func (s *State) LastRoller(setID string) (dice.Holder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.lastRoller[setID]
	return h, ok
}

// CanLock reports whether peerID may toggle locks on setID: as its holder
// after rolling (or when it rolled the set last), or as the last roller of an
// unheld set.
func (s *State) CanLock(setID, peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lr, rolled := s.lastRoller[setID]
	lastRoller := rolled && lr.PeerID == peerID
	if h, held := s.holders[setID]; held {
		return h.PeerID == peerID && (s.hasRolled[setID] || lastRoller)
	}
	return lastRoller
}

// SetLock locks or unlocks one die of setID.
func (s *State) SetLock(setID string, index int, locked bool, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSetLocked(setID); err != nil {
		return err
	}
	set, _ := s.config.Set(setID)
	if index < 0 || index >= set.Count {
		return fmt.Errorf("%w: %d of %d", dice.ErrDieIndex, index, set.Count)
	}
	if locked {
		if err := dice.ValidateRollValues([]int{value}); err != nil {
			return err
		}
	}
	next := s.locks[setID].Toggle(index, locked, value)
	if next.Empty() {
		delete(s.locks, setID)
		return nil
	}
	s.locks[setID] = next
	return nil
}

// Lock returns the lock configuration of setID.
func (s *State) Lock(setID string) dice.LockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[setID].Clone()
}

// Locks returns a copy of every non-empty lock configuration.
func (s *State) Locks() map[string]dice.LockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]dice.LockState, len(s.locks))
	for k, v := range s.locks {
		out[k] = v.Clone()
	}
	return out
}

// RecordRoll applies a completed roll. It reports false when the roll id is
// already known, in which case nothing changes.
func (s *State) RecordRoll(r dice.Roll) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.known[r.RollID]; dup {
		return false
	}
	s.appendHistoryLocked(r.Clone())

	clear(s.holders)
	clear(s.hasRolled)
	for _, sr := range r.SetResults {
		if lock, ok := r.LockedDice[sr.SetID]; ok && !lock.Empty() {
			s.locks[sr.SetID] = lock.Clone()
		} else {
			delete(s.locks, sr.SetID)
		}
		s.lastRoller[sr.SetID] = dice.Holder{PeerID: sr.HolderID, Username: sr.HolderUsername}
		s.hasRolled[sr.SetID] = true
	}
	return true
}

func (s *State) appendHistoryLocked(r dice.Roll) {
	s.history = append(s.history, r)
	s.known[r.RollID] = struct{}{}
	if over := len(s.history) - HistoryCap; over > 0 {
		for _, old := range s.history[:over] {
			delete(s.known, old.RollID)
		}
		s.history = slices.Clone(s.history[over:])
	}
}

// KnowsRoll reports whether rollID is in the history.
func (s *State) KnowsRoll(rollID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[rollID]
	return ok
}

// History returns the roll history, oldest first.
func (s *State) History() []dice.Roll {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dice.Roll, len(s.history))
	for i, r := range s.history {
		out[i] = r.Clone()
	}
	return out
}

// LastResult returns the most recent result for setID.
func (s *State) LastResult(setID string) (dice.SetResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if sr, ok := s.history[i].Result(setID); ok {
			return sr, true
		}
	}
	return dice.SetResult{}, false
}

func (s *State) checkSetLocked(setID string) error {
	if s.config == nil {
		return ErrNoConfig
	}
	if _, ok := s.config.Set(setID); !ok {
		return fmt.Errorf("%w: %q", dice.ErrUnknownSet, setID)
	}
	return nil
}

// ValidateRoll checks r against the known dice layout.
func (s *State) ValidateRoll(r dice.Roll) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return dice.ValidateRoll(r, s.config)
}
