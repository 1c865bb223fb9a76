package registry

import "github.com/extinguish558/jci-checkin-system-sub000/internal/models"

// Stats feeds the registration dashboard.
type Stats struct {
	Total      int                     `json:"total"`
	CheckedIn  int                     `json:"checkedIn"`
	ByRound    map[int]int             `json:"byRound"`
	Introduced int                     `json:"introduced"`
	Winners    int                     `json:"winners"`
	ByCategory map[models.Category]int `json:"byCategory"`
	// CheckedInByCategory counts only checked-in guests.
	CheckedInByCategory map[models.Category]int `json:"checkedInByCategory"`
}

// Stats computes registration counters over the current registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Total:               len(r.guests),
		ByRound:             make(map[int]int),
		ByCategory:          make(map[models.Category]int),
		CheckedInByCategory: make(map[models.Category]int),
	}
	for _, g := range r.guests {
		s.ByCategory[g.Category]++
		if g.IsCheckedIn {
			s.CheckedIn++
			s.CheckedInByCategory[g.Category]++
			for _, round := range g.AttendedRounds {
				s.ByRound[round]++
			}
		}
		if g.IsIntroduced {
			s.Introduced++
		}
		if g.IsWinner {
			s.Winners++
		}
	}
	return s
}
