package registry

import (
	"errors"
	"strings"
	"time"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/normalizer"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/reconcile"
)

// ImportResult summarizes one committed import.
type ImportResult struct {
	Accepted  int
	Rejected  int
	Created   int
	Updated   int
	CheckedIn int
}

// Import normalizes drafts and reconciles them into the registry using the
// current check-in round. It returns reconcile.ErrNothingToImport when no
// draft survives normalization.
func (r *Registry) Import(drafts []models.ParsedGuestDraft, checkInTime time.Time) (ImportResult, error) {
	clean, rep := r.normalizer.NormalizeBatch(drafts)
	res := ImportResult{Accepted: rep.Accepted, Rejected: rep.Rejected}
	if len(clean) == 0 {
		r.log.Warn().Int("rejected", rep.Rejected).Msg("Import produced no usable drafts")
		return res, reconcile.ErrNothingToImport
	}

	r.mu.Lock()
	merged := reconcile.Merge(r.guests, clean, reconcile.MergeOptions{
		Timestamp:   checkInTime,
		GlobalRound: r.settings.CurrentCheckInRound,
		NewID:       r.newID,
	})
	r.guests = merged.Guests

	changed := make([]models.Guest, 0, len(merged.Created)+len(merged.Updated))
	for _, id := range merged.Changed() {
		if i := r.indexOf(id); i >= 0 {
			changed = append(changed, r.guests[i])
		}
	}
	var events []Event
	for _, id := range merged.CheckedIn {
		if i := r.indexOf(id); i >= 0 {
			g := r.guests[i].Clone()
			events = append(events, Event{Kind: EventCheckedIn, Guest: g, Round: *g.Round})
		}
	}
	r.commitLocked(change{upserts: changed, events: events})
	r.mu.Unlock()

	res.Created = len(merged.Created)
	res.Updated = len(merged.Updated)
	res.CheckedIn = len(merged.CheckedIn)
	r.log.Info().
		Int("accepted", res.Accepted).
		Int("rejected", res.Rejected).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("checked_in", res.CheckedIn).
		Msg("Import committed")

	r.notify(events)
	return res, nil
}

// ImportChunks imports the successful chunks of a multi-source upload in one
// commit. Failed chunks are returned as a *reconcile.ChunkErrors alongside
// the result; they never stop the rest.
func (r *Registry) ImportChunks(chunks []reconcile.ChunkResult, checkInTime time.Time) (ImportResult, error) {
	drafts, chunkErr := reconcile.CollectChunks(chunks)
	if chunkErr != nil {
		r.log.Warn().Err(chunkErr).Msg("Some import chunks failed")
	}

	res, err := r.Import(drafts, checkInTime)
	if err != nil {
		return res, errors.Join(err, chunkErr)
	}
	return res, chunkErr
}

// AddGuest creates one guest from a draft, bypassing name dedup.
func (r *Registry) AddGuest(d models.ParsedGuestDraft) (models.Guest, error) {
	clean, ok := r.normalizer.Normalize(d)
	if !ok {
		return models.Guest{}, ErrInvalidDraft
	}

	r.mu.Lock()
	merged := reconcile.Merge(nil, []models.ParsedGuestDraft{clean}, reconcile.MergeOptions{
		Timestamp:   r.now(),
		GlobalRound: r.settings.CurrentCheckInRound,
		NewID:       r.newID,
	})
	g := merged.Guests[0]
	r.guests = append(r.guests, g)

	var events []Event
	if g.IsCheckedIn {
		events = append(events, Event{Kind: EventCheckedIn, Guest: g.Clone(), Round: *g.Round})
	}
	r.commitLocked(change{upserts: []models.Guest{g}, events: events})
	r.mu.Unlock()

	r.notify(events)
	return g.Clone(), nil
}

// GuestPatch edits descriptive fields. Nil fields are left alone.
type GuestPatch struct {
	Name     *string
	Code     *string
	Title    *string
	Note     *string
	Category *models.Category
	Phone    *string
}

// UpdateGuest edits a guest's descriptive fields.
func (r *Registry) UpdateGuest(id string, p GuestPatch) (models.Guest, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return models.Guest{}, ErrInvalidDraft
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return models.Guest{}, ErrGuestNotFound
	}
	g := r.guests[i].Clone()
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Code != nil {
		g.Code = strings.TrimSpace(*p.Code)
	}
	if p.Title != nil {
		g.Title = strings.TrimSpace(*p.Title)
	}
	if p.Note != nil {
		g.Note = strings.TrimSpace(*p.Note)
	}
	if p.Category != nil {
		g.Category = *p.Category
	}
	if p.Phone != nil {
		g.Phone = strings.TrimSpace(*p.Phone)
	}
	g.Recompute()

	r.guests[i] = g
	r.commitLocked(change{upserts: []models.Guest{g}})
	return g.Clone(), nil
}

// DeleteGuest removes a guest locally and issues a remote delete. This is
// the only way a guest leaves the registry.
func (r *Registry) DeleteGuest(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return ErrGuestNotFound
	}
	r.guests = append(r.guests[:i:i], r.guests[i+1:]...)
	r.commitLocked(change{deleted: id})
	r.log.Info().Str("guest_id", id).Msg("Guest deleted")
	return nil
}

// NewNormalizer is a convenience for wiring a rule file into Options.
func NewNormalizer(rulesFile string) (*normalizer.Normalizer, error) {
	if rulesFile == "" {
		return normalizer.New(normalizer.DefaultRules()), nil
	}
	rules, err := normalizer.LoadRules(rulesFile)
	if err != nil {
		return nil, err
	}
	return normalizer.New(rules), nil
}
