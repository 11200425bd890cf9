package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rocketscienceinc/arena-backend/internal/entity"
)

type fakeTime struct {
	at time.Time
}

func (that *fakeTime) now() time.Time {
	return that.at
}

func (that *fakeTime) advance(d time.Duration) {
	that.at = that.at.Add(d)
}

func newTestClock(initial, increment time.Duration) (*Clock, *fakeTime) {
	ft := &fakeTime{at: time.Unix(1_700_000_000, 0)}
	clk := New(initial, increment, []entity.PlayerID{"alice", "bob"})
	clk.now = ft.now

	return clk, ft
}

func TestClock(t *testing.T) {
	t.Run("Increment is credited when a turn starts", func(t *testing.T) {
		// Given: 10s banks with a 2s increment
		clk, _ := newTestClock(10*time.Second, 2*time.Second)

		// When: alice's turn starts
		budget := clk.Start("alice")

		// Then: she has 12s and bob is untouched
		assert.Equal(t, 12*time.Second, budget)
		assert.Equal(t, 10*time.Second, clk.Remaining("bob"))
	})

	t.Run("Elapsed time is charged to the player on turn", func(t *testing.T) {
		// Given: alice is on the clock
		clk, ft := newTestClock(10*time.Second, 0)
		clk.Start("alice")

		// When: 3 seconds pass
		ft.advance(3 * time.Second)

		// Then: the running turn is reflected before and after stopping
		assert.Equal(t, 7*time.Second, clk.Remaining("alice"))
		assert.False(t, clk.Stop())
		assert.Equal(t, 7*time.Second, clk.Remaining("alice"))

		times, current := clk.Snapshot()
		assert.Equal(t, entity.PlayerID(""), current)
		assert.Equal(t, 10*time.Second, times["bob"])
	})

	t.Run("Overrunning the bank times the player out", func(t *testing.T) {
		// Given: a 1s bank
		clk, ft := newTestClock(time.Second, 0)
		clk.Start("alice")

		// When: the turn takes 2s
		ft.advance(2 * time.Second)

		// Then: the player timed out with nothing left
		assert.Equal(t, time.Duration(0), clk.Remaining("alice"))
		assert.True(t, clk.Stop())
		assert.Equal(t, time.Duration(0), clk.Remaining("alice"))

		// And: the next turn only has the increment
		assert.Equal(t, time.Duration(0), clk.Start("alice"))
	})

	t.Run("Starting another turn charges the running one", func(t *testing.T) {
		clk, ft := newTestClock(10*time.Second, 0)
		clk.Start("alice")
		ft.advance(4 * time.Second)

		clk.Start("bob")

		times, current := clk.Snapshot()
		assert.Equal(t, entity.PlayerID("bob"), current)
		assert.Equal(t, 6*time.Second, times["alice"])
	})

	t.Run("Zero initial time disables the clock", func(t *testing.T) {
		clk, _ := newTestClock(0, time.Second)
		assert.False(t, clk.Enabled())

		var none *Clock
		assert.False(t, none.Enabled())
	})
}
