package models

import (
	"slices"
	"time"
)

// Category groups guests for display ordering and stats.
type Category string

const (
	CategoryVIP    Category = "VIP"
	CategoryGov    Category = "GOV"
	CategoryMember Category = "MEMBER"
	CategoryGuest  Category = "GUEST"
	CategoryOther  Category = "OTHER"
)

// Guest represents one real-world attendee
type Guest struct {
	ID             string     `json:"id"`
	Code           string     `json:"code,omitempty"`
	Name           string     `json:"name"`
	Title          string     `json:"title,omitempty"`
	Note           string     `json:"note,omitempty"`
	Category       Category   `json:"category"`
	Phone          string     `json:"phone,omitempty"`
	AttendedRounds []int      `json:"attendedRounds"`
	Round          *int       `json:"round,omitempty"`
	IsCheckedIn    bool       `json:"isCheckedIn"`
	CheckInTime    *time.Time `json:"checkInTime,omitempty"`
	IsIntroduced   bool       `json:"isIntroduced"`
	IsWinner       bool       `json:"isWinner"`
	WonRounds      []int      `json:"wonRounds"`
	WinRound       *int       `json:"winRound,omitempty"`
}

// Recompute restores every derived field from the round sets. All mutation
// paths end here so isCheckedIn and isWinner can never drift.
func (g *Guest) Recompute() {
	g.AttendedRounds = sortedRounds(g.AttendedRounds)
	g.WonRounds = sortedRounds(g.WonRounds)

	g.IsCheckedIn = len(g.AttendedRounds) > 0
	g.Round = maxRound(g.AttendedRounds)

	g.IsWinner = len(g.WonRounds) > 0
	g.WinRound = maxRound(g.WonRounds)

	if g.Category == "" {
		g.Category = CategoryOther
	}
}

// Attended reports whether round is in the guest's attendance set.
func (g *Guest) Attended(round int) bool {
	return slices.Contains(g.AttendedRounds, round)
}

// HasWon reports whether the guest already won in the given lottery round.
func (g *Guest) HasWon(round int) bool {
	return slices.Contains(g.WonRounds, round)
}

// Clone returns a deep copy so callers can't alias registry slices.
func (g Guest) Clone() Guest {
	g.AttendedRounds = slices.Clone(g.AttendedRounds)
	g.WonRounds = slices.Clone(g.WonRounds)
	if g.Round != nil {
		r := *g.Round
		g.Round = &r
	}
	if g.WinRound != nil {
		r := *g.WinRound
		g.WinRound = &r
	}
	if g.CheckInTime != nil {
		t := *g.CheckInTime
		g.CheckInTime = &t
	}
	return g
}

// CloneGuests deep-copies a guest list.
func CloneGuests(guests []Guest) []Guest {
	out := make([]Guest, len(guests))
	for i, g := range guests {
		out[i] = g.Clone()
	}
	return out
}

func sortedRounds(rounds []int) []int {
	out := make([]int, 0, len(rounds))
	for _, r := range rounds {
		if r > 0 {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func maxRound(rounds []int) *int {
	if len(rounds) == 0 {
		return nil
	}
	m := rounds[len(rounds)-1]
	return &m
}
