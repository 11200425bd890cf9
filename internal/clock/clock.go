// Package clock keeps the per-player time bank of a session.
package clock

import (
	"sync"
	"time"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

// Clock tracks how much thinking time every player has left. The bank of the player
// on turn is charged when the turn ends; the increment is credited when it starts.
type Clock struct {
	mu sync.Mutex

	initial   time.Duration
	increment time.Duration
	now       func() time.Time

	bank     map[entity.PlayerID]time.Duration
	timedOut map[entity.PlayerID]bool
	current  entity.PlayerID
	running  bool
	started  time.Time
}

func New(initial, increment time.Duration, players []entity.PlayerID) *Clock {
	clk := &Clock{
		initial:   initial,
		increment: increment,
		now:       time.Now,
		bank:      make(map[entity.PlayerID]time.Duration, len(players)),
		timedOut:  make(map[entity.PlayerID]bool, len(players)),
	}

	for _, player := range players {
		clk.bank[player] = initial
	}

	return clk
}

// Enabled reports whether turns are timed at all.
func (that *Clock) Enabled() bool {
	return that != nil && that.initial > 0
}

// Start runs the clock for player and returns the time they have for this turn.
func (that *Clock) Start(player entity.PlayerID) time.Duration {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.running {
		that.charge()
	}

	that.current = player
	that.running = true
	that.started = that.now()
	that.timedOut[player] = false
	that.bank[player] += that.increment

	return that.bank[player]
}

// Stop charges the running turn and reports whether the player overran their bank.
func (that *Clock) Stop() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if !that.running {
		return false
	}

	return that.charge()
}

// Remaining returns the time left for player, counting the running turn.
func (that *Clock) Remaining(player entity.PlayerID) time.Duration {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.remaining(player)
}

// Snapshot returns the remaining time of every player and who is on the clock.
func (that *Clock) Snapshot() (map[entity.PlayerID]time.Duration, entity.PlayerID) {
	that.mu.Lock()
	defer that.mu.Unlock()

	out := make(map[entity.PlayerID]time.Duration, len(that.bank))
	for player := range that.bank {
		out[player] = that.remaining(player)
	}

	if !that.running {
		return out, ""
	}

	return out, that.current
}

func (that *Clock) remaining(player entity.PlayerID) time.Duration {
	if that.timedOut[player] {
		return 0
	}

	left := that.bank[player]
	if that.running && player == that.current {
		left -= that.now().Sub(that.started)
	}

	return max(left, 0)
}

func (that *Clock) charge() bool {
	elapsed := that.now().Sub(that.started)
	that.running = false

	if that.bank[that.current] < elapsed {
		that.bank[that.current] = 0
		that.timedOut[that.current] = true
		return true
	}

	that.bank[that.current] -= elapsed
	return false
}
