// Package dice holds the dice vocabulary shared by the registry and the mesh:
// room dice configuration, lock state, roll results and the rules for
// generating and validating six-sided die values.
package dice

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// MinFace and MaxFace bound every die value.
	MinFace = 1
	MaxFace = 6

	MaxSets       = 10
	MaxDicePerSet = 20
	maxSetIDLen   = 32
)

var (
	ErrNoDiceSets       = errors.New("at least one dice set is required")
	ErrTooManySets      = errors.New("too many dice sets")
	ErrInvalidSetID     = errors.New("invalid dice set id")
	ErrDuplicateSetID   = errors.New("duplicate dice set id")
	ErrInvalidDiceCount = errors.New("invalid dice count")
	ErrUnknownSet       = errors.New("unknown dice set")
	ErrDieIndex         = errors.New("die index out of range")
	ErrFaceOutOfRange   = errors.New("die value out of range")
	ErrNonInteger       = errors.New("die value is not an integer")
	ErrValueCount       = errors.New("die value count does not match set")
	ErrLockState        = errors.New("invalid lock state")
)

// Set describes one group of dice in a room.
type Set struct {
	ID    string `json:"id" msgpack:"id"`
	Count int    `json:"count" msgpack:"count"`
	Color string `json:"color,omitempty" msgpack:"color,omitempty"`
}

// Config is the immutable dice layout of a room.
type Config struct {
	DiceSets []Set `json:"diceSets" msgpack:"diceSets"`
}

// Validate checks set ids and counts.
func (c Config) Validate() error {
	if len(c.DiceSets) == 0 {
		return ErrNoDiceSets
	}
	if len(c.DiceSets) > MaxSets {
		return fmt.Errorf("%w: %d > %d", ErrTooManySets, len(c.DiceSets), MaxSets)
	}
	seen := make(map[string]struct{}, len(c.DiceSets))
	for _, s := range c.DiceSets {
		if s.ID == "" || len(s.ID) > maxSetIDLen {
			return fmt.Errorf("%w: %q", ErrInvalidSetID, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSetID, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Count < 1 || s.Count > MaxDicePerSet {
			return fmt.Errorf("%w: set %q has %d dice", ErrInvalidDiceCount, s.ID, s.Count)
		}
	}
	return nil
}

// Set returns the set with the given id.
func (c Config) Set(id string) (Set, bool) {
	for _, s := range c.DiceSets {
		if s.ID == id {
			return s, true
		}
	}
	return Set{}, false
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	return Config{DiceSets: slices.Clone(c.DiceSets)}
}

// LockState is the lock configuration of one dice set: which indices are
// locked and the face each locked die shows.
type LockState struct {
	LockedIndices []int       `json:"lockedIndices" msgpack:"lockedIndices"`
	Values        map[int]int `json:"values" msgpack:"values"`
}

// IsLocked reports whether index is locked.
func (l LockState) IsLocked(index int) bool {
	return slices.Contains(l.LockedIndices, index)
}

// Empty reports whether no die is locked.
func (l LockState) Empty() bool {
	return len(l.LockedIndices) == 0
}

// Toggle returns a copy with index locked to value, or unlocked.
func (l LockState) Toggle(index int, locked bool, value int) LockState {
	next := l.Clone()
	if next.Values == nil {
		next.Values = make(map[int]int)
	}
	if locked {
		if !next.IsLocked(index) {
			next.LockedIndices = append(next.LockedIndices, index)
			slices.Sort(next.LockedIndices)
		}
		next.Values[index] = value
		return next
	}
	next.LockedIndices = slices.DeleteFunc(next.LockedIndices, func(i int) bool { return i == index })
	delete(next.Values, index)
	return next
}

// Clone returns a deep copy.
func (l LockState) Clone() LockState {
	out := LockState{LockedIndices: slices.Clone(l.LockedIndices)}
	if l.Values != nil {
		out.Values = make(map[int]int, len(l.Values))
		for k, v := range l.Values {
			out.Values[k] = v
		}
	}
	return out
}

// Holder identifies the peer holding, or last rolling, a set.
type Holder struct {
	PeerID   string `json:"peerId" msgpack:"peerId"`
	Username string `json:"username" msgpack:"username"`
}

// SetResult is the outcome for one set in a roll.
type SetResult struct {
	SetID          string `json:"setId" msgpack:"setId"`
	Values         Values `json:"values" msgpack:"values"`
	HolderID       string `json:"holderId" msgpack:"holderId"`
	HolderUsername string `json:"holderUsername,omitempty" msgpack:"holderUsername,omitempty"`
}

// Roll is a completed roll as recorded in every replica's history.
type Roll struct {
	RollID      string               `json:"rollId" msgpack:"rollId"`
	SetResults  []SetResult          `json:"setResults" msgpack:"setResults"`
	Total       int                  `json:"total" msgpack:"total"`
	Timestamp   int64                `json:"timestamp" msgpack:"timestamp"`
	LockedDice  map[string]LockState `json:"lockedDice,omitempty" msgpack:"lockedDice,omitempty"`
	GeneratedBy string               `json:"generatedBy" msgpack:"generatedBy"`
}

// Clone returns a deep copy.
func (r Roll) Clone() Roll {
	out := r
	out.SetResults = make([]SetResult, len(r.SetResults))
	for i, sr := range r.SetResults {
		sr.Values = slices.Clone(sr.Values)
		out.SetResults[i] = sr
	}
	if r.LockedDice != nil {
		out.LockedDice = make(map[string]LockState, len(r.LockedDice))
		for k, v := range r.LockedDice {
			out.LockedDice[k] = v.Clone()
		}
	}
	return out
}

// Result returns the result for setID.
func (r Roll) Result(setID string) (SetResult, bool) {
	for _, sr := range r.SetResults {
		if sr.SetID == setID {
			return sr, true
		}
	}
	return SetResult{}, false
}
