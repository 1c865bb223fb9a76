// Package lottery implements the prize draw over the guest list.
package lottery

import (
	"math/rand/v2"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// Eligible returns the indexes of guests that may win in round under mode.
// Guests who already won round are never eligible.
func Eligible(guests []models.Guest, mode models.DrawMode, round int) []int {
	var out []int
	for i := range guests {
		g := &guests[i]
		if g.HasWon(round) {
			continue
		}
		switch mode {
		case models.DrawWinnersOnly:
			if g.IsWinner {
				out = append(out, i)
			}
		default:
			if g.IsCheckedIn {
				out = append(out, i)
			}
		}
	}
	return out
}

// Draw picks a uniformly random eligible guest and returns its index.
// ok is false when nobody is eligible.
func Draw(guests []models.Guest, mode models.DrawMode, round int, rng *rand.Rand) (int, bool) {
	pool := Eligible(guests, mode, round)
	if len(pool) == 0 {
		return -1, false
	}
	var n int
	if rng != nil {
		n = rng.IntN(len(pool))
	} else {
		n = rand.IntN(len(pool))
	}
	return pool[n], true
}

// Award records a win for round.
func Award(g models.Guest, round int) models.Guest {
	g = g.Clone()
	g.WonRounds = append(g.WonRounds, round)
	g.Recompute()
	return g
}

// Revoke clears every win, returning the guest to all pools.
func Revoke(g models.Guest) models.Guest {
	g = g.Clone()
	g.WonRounds = []int{}
	g.Recompute()
	return g
}
