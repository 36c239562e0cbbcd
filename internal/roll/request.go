package roll

import (
	"time"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

// Set is one dice set included in a roll request, with the peer holding it.
type Set struct {
	SetID          string `msgpack:"setId"`
	Count          int    `msgpack:"count"`
	HolderID       string `msgpack:"holderId"`
	HolderUsername string `msgpack:"holderUsername"`
}

// Request is broadcast to the whole mesh. Only the elected generator answers.
type Request struct {
	RollID        string                    `msgpack:"rollId"`
	RequesterID   string                    `msgpack:"requesterId"`
	RequesterName string                    `msgpack:"requesterName,omitempty"`
	GeneratorID   string                    `msgpack:"generatorId,omitempty"`
	ExcludedPeers []string                  `msgpack:"excludedPeers,omitempty"`
	DiceSets      []Set                     `msgpack:"diceSets"`
	LockedDice    map[string]dice.LockState `msgpack:"lockedDice,omitempty"`
}

// Build draws the values for req. Locked dice keep their recorded faces.
func Build(req Request, generatedBy string, roller *dice.Roller, now time.Time) dice.Roll {
	results := make([]dice.SetResult, 0, len(req.DiceSets))
	locked := make(map[string]dice.LockState)
	for _, s := range req.DiceSets {
		lock := req.LockedDice[s.SetID]
		results = append(results, dice.SetResult{
			SetID:          s.SetID,
			Values:         roller.Generate(s.Count, lock),
			HolderID:       s.HolderID,
			HolderUsername: s.HolderUsername,
		})
		if !lock.Empty() {
			locked[s.SetID] = lock.Clone()
		}
	}
	r := dice.Roll{
		RollID:      req.RollID,
		SetResults:  results,
		Total:       dice.Total(results),
		Timestamp:   now.UnixMilli(),
		GeneratedBy: generatedBy,
	}
	if len(locked) > 0 {
		r.LockedDice = locked
	}
	return r
}
