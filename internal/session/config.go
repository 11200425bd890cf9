package session

import (
	"fmt"
	"time"
)

// Policy decides what happens when the turn reaches a player who is gone.
type Policy string

const (
	// PolicyForfeit skips absent players until the skip limit is exceeded.
	PolicyForfeit Policy = "forfeit"
	// PolicyPause pauses the session as soon as an absent player is on turn.
	PolicyPause Policy = "pause"
)

func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case PolicyForfeit, "":
		return PolicyForfeit, nil
	case PolicyPause:
		return PolicyPause, nil
	default:
		return "", fmt.Errorf("unknown disconnect policy %q", name)
	}
}

type Config struct {
	PlayersPerSession int
	SkipLimit         int
	Policy            Policy
	ClockInitial      time.Duration
	ClockIncrement    time.Duration
	MailboxSize       int
}

func (that Config) Validate() error {
	if that.PlayersPerSession < 1 {
		return fmt.Errorf("players per session must be positive, got %d", that.PlayersPerSession)
	}

	if that.SkipLimit < 0 {
		return fmt.Errorf("disconnect skip limit must not be negative, got %d", that.SkipLimit)
	}

	if _, err := ParsePolicy(string(that.Policy)); err != nil {
		return err
	}

	if that.ClockInitial < 0 || that.ClockIncrement < 0 {
		return fmt.Errorf("clock durations must not be negative")
	}

	return nil
}
