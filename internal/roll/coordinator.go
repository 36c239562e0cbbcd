package roll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/niklaspandersson/dicebox/internal/clock"
	"github.com/niklaspandersson/dicebox/internal/dice"
)

const (
	// DefaultTimeout is how long the requester waits for one generator.
	DefaultTimeout = 3 * time.Second

	// DefaultMaxAttempts is how many generators are asked before the
	// requester rolls for itself.
	DefaultMaxAttempts = 3
)

var (
	ErrCancelled      = errors.New("roll request cancelled")
	ErrDuplicateRoll  = errors.New("roll id already pending")
	ErrNoDice         = errors.New("roll request has no dice sets")
	ErrCoordinatorOff = errors.New("roll coordinator closed")
)

// State is the lifecycle of a requester-side roll request.
type State int

const (
	StatePending State = iota
	StateRetrying
	StateResolved
	StateFallback
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateResolved:
		return "resolved"
	case StateFallback:
		return "fallback"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFallback || s == StateCancelled
}

// Network is what the coordinator needs from the mesh.
type Network interface {
	// Members returns the current membership view, the local peer included.
	Members() []string

	// SendRollRequest broadcasts req to every connected peer.
	SendRollRequest(req Request) error

	// PublishRoll broadcasts a self-generated roll and applies it locally.
	PublishRoll(r dice.Roll) error
}

// Options tune the retry loop.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Clock       clock.Clock
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Coordinator drives the requester side of roll delegation.
type Coordinator struct {
	mu      sync.Mutex
	selfID  string
	net     Network
	roller  *dice.Roller
	opts    Options
	pending map[string]*Pending
	closed  bool
}

// NewCoordinator creates a Coordinator for the local peer selfID.
func NewCoordinator(selfID string, net Network, roller *dice.Roller, opts Options) *Coordinator {
	return &Coordinator{
		selfID:  selfID,
		net:     net,
		roller:  roller,
		opts:    opts.withDefaults(),
		pending: make(map[string]*Pending),
	}
}

// Pending is one outstanding roll request. Its result is delivered exactly once.
type Pending struct {
	owner     *Coordinator
	request   Request
	state     State
	candidate string
	failed    []string
	attempts  int
	selfRoll  bool
	timer     clock.Timer
	done      chan struct{}
	roll      dice.Roll
	err       error
}

// RollID returns the id of the requested roll.
func (p *Pending) RollID() string {
	return p.request.RollID
}

// Done is closed when the request reaches a terminal state.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// State returns the current lifecycle state.
func (p *Pending) State() State {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	return p.state
}

// Candidate returns the generator currently asked.
func (p *Pending) Candidate() string {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	return p.candidate
}

// Failed returns the generators that timed out so far.
func (p *Pending) Failed() []string {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	return slices.Clone(p.failed)
}

// SelfRoll reports whether the requester generated the values.
func (p *Pending) SelfRoll() bool {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	return p.selfRoll
}

// Result returns the outcome. It must only be called after Done is closed.
func (p *Pending) Result() (dice.Roll, error) {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	return p.roll, p.err
}

// Wait blocks until the request completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (dice.Roll, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return dice.Roll{}, ctx.Err()
	}
}

// Request starts delegating a roll. With no other member present the roll is
// generated and published immediately.
func (c *Coordinator) Request(req Request) (*Pending, error) {
	if len(req.DiceSets) == 0 {
		return nil, ErrNoDice
	}
	req.RequesterID = c.selfID
	req.ExcludedPeers = nil
	members := c.net.Members()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorOff
	}
	if _, dup := c.pending[req.RollID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRoll, req.RollID)
	}
	p := &Pending{owner: c, request: req, state: StatePending, done: make(chan struct{})}
	generator, isSelf := SelectRollGenerator(members, c.selfID, req.RollID)
	if isSelf {
		p.selfRoll = true
		r := Build(req, c.selfID, c.roller, c.opts.Clock.Now())
		c.finishLocked(p, StateResolved, r, nil)
		c.mu.Unlock()

		c.opts.Logger.Debug("no other peers, rolling locally", "roll_id", req.RollID)
		if err := c.net.PublishRoll(r); err != nil {
			return p, fmt.Errorf("publish roll: %w", err)
		}
		return p, nil
	}
	c.pending[req.RollID] = p
	out := c.askLocked(p, generator)
	c.mu.Unlock()

	c.send(out)
	return p, nil
}

// askLocked points p at generator and arms its timeout. The returned request
// must be sent once the lock is released.
func (c *Coordinator) askLocked(p *Pending, generator string) Request {
	p.candidate = generator
	p.attempts++
	p.state = StatePending
	attempt := p.attempts
	rollID := p.request.RollID
	p.timer = c.opts.Clock.AfterFunc(c.opts.Timeout, func() {
		c.onTimeout(rollID, attempt)
	})

	out := p.request
	out.GeneratorID = generator
	out.ExcludedPeers = slices.Clone(p.failed)
	return out
}

func (c *Coordinator) send(req Request) {
	c.opts.Logger.Debug("requesting roll",
		"roll_id", req.RollID,
		"generator", req.GeneratorID,
		"excluded", len(req.ExcludedPeers),
	)
	if err := c.net.SendRollRequest(req); err != nil {
		c.opts.Logger.Warn("failed to send roll request", "roll_id", req.RollID, "err", err)
	}
}

func (c *Coordinator) onTimeout(rollID string, attempt int) {
	members := c.net.Members()

	c.mu.Lock()
	p, ok := c.pending[rollID]
	if !ok || p.state.Terminal() || p.attempts != attempt {
		c.mu.Unlock()
		return
	}
	p.failed = append(p.failed, p.candidate)
	p.state = StateRetrying
	c.opts.Logger.Info("roll generator did not answer",
		"roll_id", rollID,
		"generator", p.candidate,
		"attempt", attempt,
	)

	if p.attempts < c.opts.MaxAttempts {
		if next, isSelf := SelectNextGenerator(members, c.selfID, rollID, p.failed); !isSelf {
			out := c.askLocked(p, next)
			c.mu.Unlock()
			c.send(out)
			return
		}
	}

	p.selfRoll = true
	r := Build(p.request, c.selfID, c.roller, c.opts.Clock.Now())
	c.finishLocked(p, StateFallback, r, nil)
	c.mu.Unlock()

	c.opts.Logger.Warn("roll delegation exhausted, rolling locally", "roll_id", rollID, "attempts", attempt)
	if err := c.net.PublishRoll(r); err != nil {
		c.opts.Logger.Warn("failed to publish fallback roll", "roll_id", rollID, "err", err)
	}
}

// Resolve completes the pending request matching r. It reports whether one
// was waiting.
func (c *Coordinator) Resolve(r dice.Roll) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[r.RollID]
	if !ok || p.state.Terminal() {
		return false
	}
	c.finishLocked(p, StateResolved, r, nil)
	return true
}

// CancelAll rejects every outstanding request and refuses new ones.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, p := range c.pending {
		c.finishLocked(p, StateCancelled, dice.Roll{}, ErrCancelled)
	}
}

// Outstanding returns how many requests are waiting for a generator.
func (c *Coordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) finishLocked(p *Pending, state State, r dice.Roll, err error) {
	if p.state.Terminal() {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state = state
	p.roll = r
	p.err = err
	delete(c.pending, p.request.RollID)
	close(p.done)
}
