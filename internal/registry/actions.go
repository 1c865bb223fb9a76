package registry

import (
	"github.com/extinguish558/jci-checkin-system-sub000/internal/attendance"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/lottery"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// ToggleRound flips a guest's attendance for round from the admin UI.
func (r *Registry) ToggleRound(id string, round int) (models.Guest, error) {
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mu.Unlock()
		return models.Guest{}, ErrGuestNotFound
	}
	wasIn := r.guests[i].IsCheckedIn
	g, err := attendance.Toggle(r.guests[i], round, r.now())
	if err != nil {
		r.mu.Unlock()
		return models.Guest{}, err
	}
	r.guests[i] = g

	var events []Event
	if !wasIn && g.IsCheckedIn {
		events = append(events, Event{Kind: EventCheckedIn, Guest: g.Clone(), Round: round})
	}
	r.commitLocked(change{upserts: []models.Guest{g}, events: events})
	r.mu.Unlock()

	r.notify(events)
	return g.Clone(), nil
}

// CheckIn records a self-service check-in for the current check-in round.
// A guest who is already checked in keeps the original round and ok is
// false.
func (r *Registry) CheckIn(id string) (g models.Guest, ok bool, err error) {
	r.mu.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mu.Unlock()
		return models.Guest{}, false, ErrGuestNotFound
	}
	round := r.settings.CurrentCheckInRound
	g, ok, err = attendance.CheckIn(r.guests[i], round, r.now())
	if err != nil || !ok {
		r.mu.Unlock()
		return g.Clone(), false, err
	}
	r.guests[i] = g
	events := []Event{{Kind: EventCheckedIn, Guest: g.Clone(), Round: round}}
	r.commitLocked(change{upserts: []models.Guest{g}, events: events})
	r.mu.Unlock()

	r.notify(events)
	return g.Clone(), true, nil
}

// SetIntroduced marks whether the MC has introduced the guest.
func (r *Registry) SetIntroduced(id string, introduced bool) (models.Guest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return models.Guest{}, ErrGuestNotFound
	}
	g := r.guests[i].Clone()
	if g.IsIntroduced == introduced {
		return g, nil
	}
	g.IsIntroduced = introduced
	g.Recompute()
	r.guests[i] = g
	r.commitLocked(change{upserts: []models.Guest{g}})
	return g.Clone(), nil
}

// IntroductionQueue returns checked-in guests not yet introduced, in
// category order VIP, GOV, then the rest, keeping registry order within a
// category.
func (r *Registry) IntroductionQueue() []models.Guest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rank := func(c models.Category) int {
		switch c {
		case models.CategoryVIP:
			return 0
		case models.CategoryGov:
			return 1
		default:
			return 2
		}
	}
	var buckets [3][]models.Guest
	for _, g := range r.guests {
		if g.IsCheckedIn && !g.IsIntroduced {
			k := rank(g.Category)
			buckets[k] = append(buckets[k], g.Clone())
		}
	}
	out := make([]models.Guest, 0, len(buckets[0])+len(buckets[1])+len(buckets[2]))
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

// Draw picks a winner for the current lottery round. ok is false when no
// guest is eligible under mode.
func (r *Registry) Draw(mode models.DrawMode) (winner models.Guest, ok bool) {
	r.mu.Lock()
	round := r.settings.LotteryRoundCounter
	i, ok := lottery.Draw(r.guests, mode, round, r.rng)
	if !ok {
		r.mu.Unlock()
		r.log.Info().Str("mode", string(mode)).Int("round", round).Msg("No eligible guests for draw")
		return models.Guest{}, false
	}
	g := lottery.Award(r.guests[i], round)
	r.guests[i] = g
	events := []Event{{Kind: EventWon, Guest: g.Clone(), Round: round}}
	r.commitLocked(change{upserts: []models.Guest{g}, events: events})
	r.mu.Unlock()

	r.log.Info().Str("guest_id", g.ID).Str("mode", string(mode)).Int("round", round).Msg("Winner drawn")
	r.notify(events)
	return g.Clone(), true
}

// Eligible returns the guests that a draw under mode could pick right now.
func (r *Registry) Eligible(mode models.DrawMode) []models.Guest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := lottery.Eligible(r.guests, mode, r.settings.LotteryRoundCounter)
	out := make([]models.Guest, len(idx))
	for n, i := range idx {
		out[n] = r.guests[i].Clone()
	}
	return out
}

// RevokeWinner clears all of a guest's wins.
func (r *Registry) RevokeWinner(id string) (models.Guest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return models.Guest{}, ErrGuestNotFound
	}
	g := lottery.Revoke(r.guests[i])
	r.guests[i] = g
	r.commitLocked(change{upserts: []models.Guest{g}})
	r.log.Info().Str("guest_id", id).Msg("Winner revoked")
	return g.Clone(), nil
}

// UpdateSettings applies a partial settings update and publishes only the
// changed fields.
func (r *Registry) UpdateSettings(p models.SettingsPatch) (models.SystemSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, changed, err := p.Apply(r.settings)
	if err != nil {
		return r.settings, err
	}
	if len(changed) == 0 {
		return r.settings, nil
	}
	r.settings = next
	r.commitLocked(change{settings: changed})
	return r.settings, nil
}

// SetLotteryRound switches the round open for draws. Guest state is not
// touched.
func (r *Registry) SetLotteryRound(round int) (models.SystemSettings, error) {
	return r.UpdateSettings(models.SettingsPatch{LotteryRoundCounter: &round})
}

// SetCheckInRound switches the round new imports and check-ins default to.
func (r *Registry) SetCheckInRound(round int) (models.SystemSettings, error) {
	return r.UpdateSettings(models.SettingsPatch{CurrentCheckInRound: &round})
}
