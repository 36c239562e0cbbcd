package roll

import (
	"sync"

	"github.com/niklaspandersson/dicebox/internal/clock"
	"github.com/niklaspandersson/dicebox/internal/dice"
)

// SeenCapacity bounds the generator's memory of answered roll ids.
const SeenCapacity = 100

// Generator answers roll requests addressed to the local peer.
type Generator struct {
	mu     sync.Mutex
	selfID string
	roller *dice.Roller
	clock  clock.Clock
	seen   map[string]struct{}
	order  []string
}

// NewGenerator creates a Generator for the local peer selfID.
func NewGenerator(selfID string, roller *dice.Roller, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	return &Generator{
		selfID: selfID,
		roller: roller,
		clock:  clk,
		seen:   make(map[string]struct{}),
	}
}

// Elected reports whether the local peer is the generator for req under the
// given membership view. Both the local election and the requester's choice
// must name this peer.
func (g *Generator) Elected(req Request, members []string) bool {
	if req.RequesterID == "" || req.RequesterID == g.selfID {
		return false
	}
	generator, isSelf := SelectNextGenerator(members, req.RequesterID, req.RollID, req.ExcludedPeers)
	if isSelf || generator != g.selfID {
		return false
	}
	return req.GeneratorID == "" || req.GeneratorID == g.selfID
}

// Handle returns the roll to broadcast for req, or false when this peer must
// stay silent: it is not the elected generator or already answered the id.
func (g *Generator) Handle(req Request, members []string) (dice.Roll, bool) {
	if len(req.DiceSets) == 0 || !g.Elected(req, members) {
		return dice.Roll{}, false
	}
	if !g.markSeen(req.RollID) {
		return dice.Roll{}, false
	}
	return Build(req, g.selfID, g.roller, g.clock.Now()), true
}

// markSeen records id and reports whether it was new.
func (g *Generator) markSeen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = struct{}{}
	g.order = append(g.order, id)
	if len(g.order) > SeenCapacity {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.seen, oldest)
	}
	return true
}
