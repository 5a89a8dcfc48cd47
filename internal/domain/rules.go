package domain

import (
	"fmt"
	"time"
)

// ExitRules is the immutable exit configuration of one position.
type ExitRules struct {
	MaxDuration     time.Duration `json:"max_duration"`
	TakeHalfAt      float64       `json:"take_half_at"` // % gain, e.g. 20
	TakeAllAt       float64       `json:"take_all_at"`  // % gain, e.g. 200
	StopOutAt       float64       `json:"stop_out_at"`  // % loss, e.g. -30
	PollingInterval time.Duration `json:"polling_interval"`
}

// Validate checks the expected ordering stop_out_at < 0 < take_half_at < take_all_at.
func (r ExitRules) Validate() error {
	if !(r.StopOutAt < 0) {
		return fmt.Errorf("stop_out_at must be negative, got %.3f", r.StopOutAt)
	}
	if !(r.TakeHalfAt > 0) {
		return fmt.Errorf("take_half_at must be positive, got %.3f", r.TakeHalfAt)
	}
	if !(r.TakeAllAt > r.TakeHalfAt) {
		return fmt.Errorf("take_all_at (%.3f) must exceed take_half_at (%.3f)", r.TakeAllAt, r.TakeHalfAt)
	}
	if r.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be positive")
	}
	if r.PollingInterval <= 0 {
		return fmt.Errorf("polling_interval must be positive")
	}
	return nil
}

type Decision int

const (
	DecisionNone Decision = iota
	DecisionSellHalf
	DecisionSellAll
)

func (d Decision) String() string {
	switch d {
	case DecisionSellHalf:
		return "sell_half"
	case DecisionSellAll:
		return "sell_all"
	default:
		return "none"
	}
}

// Command is a control event handed to the strategy by the exit poller.
type Command string

const (
	CommandSellHalf Command = "sell_half"
	CommandSellAll  Command = "sell_all"
)

// ParseCommand accepts the two control commands and nothing else.
func ParseCommand(s string) (Command, error) {
	switch Command(s) {
	case CommandSellHalf, CommandSellAll:
		return Command(s), nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

// Terminal reports whether the command ends the position.
func (c Command) Terminal() bool {
	return c == CommandSellAll
}

type EventSource string

const (
	SourceRule   EventSource = "rule"
	SourceManual EventSource = "manual"
)
