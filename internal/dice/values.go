package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Values are the faces of the dice in one set, by die index.
type Values []int

// DecodeMsgpack rejects any element that is not an integral number, so a
// fractional face can never be truncated into a valid one.
func (v *Values) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 0 {
		*v = nil
		return nil
	}
	out := make(Values, 0, n)
	for i := 0; i < n; i++ {
		raw, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return err
		}
		face, err := Face(raw)
		if err != nil {
			return fmt.Errorf("value %d: %w", i, err)
		}
		out = append(out, face)
	}
	*v = out
	return nil
}

// Face converts a decoded wire number into a die value. Non-numbers and
// numbers with a fractional part are rejected. Range is not checked here.
func Face(raw any) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, ErrFaceOutOfRange
		}
		return int(n), nil
	case float32:
		return floatFace(float64(n))
	case float64:
		return floatFace(n)
	default:
		return 0, fmt.Errorf("%w: %T", ErrNonInteger, raw)
	}
}

func floatFace(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v", ErrNonInteger, f)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, ErrFaceOutOfRange
	}
	return int(f), nil
}

// ValidateRollValues reports an error unless every value is in [1,6].
func ValidateRollValues(values []int) error {
	for i, v := range values {
		if v < MinFace || v > MaxFace {
			return fmt.Errorf("%w: index %d has %d", ErrFaceOutOfRange, i, v)
		}
	}
	return nil
}

// ValidateRoll checks every set result of r. When cfg is non-nil each result
// must name a configured set and carry exactly one value per die. Locked dice
// must belong to a result and match its faces.
func ValidateRoll(r Roll, cfg *Config) error {
	if len(r.SetResults) == 0 {
		return ErrNoDiceSets
	}
	for _, sr := range r.SetResults {
		if err := ValidateRollValues(sr.Values); err != nil {
			return fmt.Errorf("set %q: %w", sr.SetID, err)
		}
		if cfg == nil {
			continue
		}
		set, ok := cfg.Set(sr.SetID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSet, sr.SetID)
		}
		if len(sr.Values) != set.Count {
			return fmt.Errorf("%w: set %q has %d values, want %d", ErrValueCount, sr.SetID, len(sr.Values), set.Count)
		}
	}
	for setID, lock := range r.LockedDice {
		sr, ok := r.Result(setID)
		if !ok {
			return fmt.Errorf("%w: lock for set %q without a result", ErrLockState, setID)
		}
		if err := ValidateLock(lock, len(sr.Values)); err != nil {
			return fmt.Errorf("set %q: %w", setID, err)
		}
		for _, i := range lock.LockedIndices {
			if sr.Values[i] != lock.Values[i] {
				return fmt.Errorf("%w: set %q die %d shows %d, locked at %d", ErrLockState, setID, i, sr.Values[i], lock.Values[i])
			}
		}
	}
	return nil
}

// ValidateLock checks l against a set of count dice: every locked index is
// in range and listed once, carries a face in [1,6], and no value is recorded
// for an unlocked die.
func ValidateLock(l LockState, count int) error {
	seen := make(map[int]bool, len(l.LockedIndices))
	for _, i := range l.LockedIndices {
		if i < 0 || i >= count {
			return fmt.Errorf("%w: %d of %d", ErrDieIndex, i, count)
		}
		if seen[i] {
			return fmt.Errorf("%w: index %d locked twice", ErrLockState, i)
		}
		seen[i] = true
		v, ok := l.Values[i]
		if !ok {
			return fmt.Errorf("%w: index %d has no value", ErrLockState, i)
		}
		if v < MinFace || v > MaxFace {
			return fmt.Errorf("%w: index %d has %d", ErrFaceOutOfRange, i, v)
		}
	}
	for i := range l.Values {
		if !seen[i] {
			return fmt.Errorf("%w: value for unlocked index %d", ErrLockState, i)
		}
	}
	return nil
}

// Total sums every value of every set result.
func Total(results []SetResult) int {
	total := 0
	for _, sr := range results {
		for _, v := range sr.Values {
			total += v
		}
	}
	return total
}

// Roller draws uniform die faces. It is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a Roller seeded from crypto/rand.
func NewRoller() (*Roller, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return &Roller{rng: rand.New(rand.NewChaCha8(seed))}, nil
}

// NewSeededRoller returns a deterministic Roller for tests and replays.
func NewSeededRoller(seed uint64) *Roller {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return &Roller{rng: rand.New(rand.NewChaCha8(s))}
}

// Face returns one uniform value in [1,6].
func (r *Roller) Face() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return MinFace + r.rng.IntN(MaxFace-MinFace+1)
}

// Generate produces count values. Locked indices keep the value recorded in
// lock; every other die is drawn fresh.
func (r *Roller) Generate(count int, lock LockState) Values {
	out := make(Values, count)
	for i := range out {
		if lock.IsLocked(i) {
			if v, ok := lock.Values[i]; ok && v >= MinFace && v <= MaxFace {
				out[i] = v
				continue
			}
		}
		out[i] = r.Face()
	}
	return out
}
