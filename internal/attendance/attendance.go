// Package attendance holds the per-guest round rules used by direct (manual
// or self-service) check-in, as opposed to roster imports.
//
// Manual toggling treats rounds as mutually exclusive: a guest is in round 1
// or round 2, never both through this path.
package attendance

import (
	"time"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// Toggle flips round for g. Turning an active round off clears every round;
// turning a round on replaces whatever was recorded. checkInTime is stamped
// only on the guest's first ever check-in.
func Toggle(g models.Guest, round int, now time.Time) (models.Guest, error) {
	if round < 1 {
		return g, models.ErrInvalidRound
	}
	g = g.Clone()

	if g.Attended(round) {
		g.AttendedRounds = []int{}
	} else {
		g.AttendedRounds = []int{round}
		stamp(&g, now)
	}

	g.Recompute()
	return g, nil
}

// CheckIn records a self-service check-in for round. A guest already checked
// in keeps the original round; the second return value is false then.
func CheckIn(g models.Guest, round int, now time.Time) (models.Guest, bool, error) {
	if round < 1 {
		return g, false, models.ErrInvalidRound
	}
	if len(g.AttendedRounds) > 0 {
		return g, false, nil
	}
	g = g.Clone()
	g.AttendedRounds = []int{round}
	stamp(&g, now)
	g.Recompute()
	return g, true, nil
}

func stamp(g *models.Guest, now time.Time) {
	if g.CheckInTime == nil {
		t := now
		g.CheckInTime = &t
	}
}
