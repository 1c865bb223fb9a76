package models

import (
	"errors"
	"fmt"
)

// ErrInvalidRound is returned when a round number is not a positive integer.
var ErrInvalidRound = errors.New("round must be a positive integer")

// SystemSettings is the process-wide settings singleton
type SystemSettings struct {
	EventName           string `json:"eventName"`
	CurrentCheckInRound int    `json:"currentCheckInRound"`
	LotteryRoundCounter int    `json:"lotteryRoundCounter"`
	TotalRounds         int    `json:"totalRounds"`
}

// DefaultSettings returns the settings used on first run.
func DefaultSettings() SystemSettings {
	return SystemSettings{
		CurrentCheckInRound: 1,
		LotteryRoundCounter: 1,
		TotalRounds:         2,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	EventName           *string `json:"eventName,omitempty"`
	CurrentCheckInRound *int    `json:"currentCheckInRound,omitempty"`
	LotteryRoundCounter *int    `json:"lotteryRoundCounter,omitempty"`
	TotalRounds         *int    `json:"totalRounds,omitempty"`
}

// Apply returns the patched settings and the fields that actually changed,
// keyed by their JSON name.
func (p SettingsPatch) Apply(s SystemSettings) (SystemSettings, map[string]any, error) {
	changed := make(map[string]any)

	for name, v := range map[string]*int{
		"currentCheckInRound": p.CurrentCheckInRound,
		"lotteryRoundCounter": p.LotteryRoundCounter,
		"totalRounds":         p.TotalRounds,
	} {
		if v != nil && *v < 1 {
			return s, nil, fmt.Errorf("%s=%d: %w", name, *v, ErrInvalidRound)
		}
	}

	if p.EventName != nil && *p.EventName != s.EventName {
		s.EventName = *p.EventName
		changed["eventName"] = s.EventName
	}
	if p.CurrentCheckInRound != nil && *p.CurrentCheckInRound != s.CurrentCheckInRound {
		s.CurrentCheckInRound = *p.CurrentCheckInRound
		changed["currentCheckInRound"] = s.CurrentCheckInRound
	}
	if p.LotteryRoundCounter != nil && *p.LotteryRoundCounter != s.LotteryRoundCounter {
		s.LotteryRoundCounter = *p.LotteryRoundCounter
		changed["lotteryRoundCounter"] = s.LotteryRoundCounter
	}
	if p.TotalRounds != nil && *p.TotalRounds != s.TotalRounds {
		s.TotalRounds = *p.TotalRounds
		changed["totalRounds"] = s.TotalRounds
	}

	return s, changed, nil
}
