// Package registry is the single owner of guest records and system settings
// within the process.
//
// Every mutation computes the new state, commits it in memory, rewrites the
// local mirror and only then hands the change to the outbound publisher.
// Persistence and publish failures are logged and never roll back the
// in-memory commit.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/normalizer"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/syncer"
)

var (
	ErrGuestNotFound = errors.New("guest not found")
	ErrInvalidDraft  = errors.New("draft has no usable name")
)

// Persister is the local durable mirror. Load reports false when nothing
// has been saved yet.
type Persister interface {
	Save(models.Snapshot) error
	Load() (models.Snapshot, bool, error)
}

// Publisher propagates committed changes to the remote store. Calls must not
// block; delivery is best effort.
type Publisher interface {
	PublishGuests([]models.Guest)
	PublishDelete(id string)
	PublishSettings(fields map[string]any)
}

// EventKind names a guest-level change listeners may react to.
type EventKind string

const (
	EventCheckedIn EventKind = "checked_in"
	EventWon       EventKind = "won"
)

// Event is delivered to listeners after the change is committed.
type Event struct {
	Kind  EventKind
	Guest models.Guest
	Round int
}

// Listener observes committed changes.
type Listener interface {
	HandleEvent(Event)
}

// Options wires the registry's collaborators. Zero values fall back to
// no-op or default implementations.
type Options struct {
	Persister  Persister
	Publisher  Publisher
	Normalizer *normalizer.Normalizer
	Listeners  []Listener
	Now        func() time.Time
	Rand       *rand.Rand
	NewID      func() string
	Logger     zerolog.Logger
}

// Registry holds the authoritative guest list.
type Registry struct {
	mu       sync.RWMutex
	guests   []models.Guest
	settings models.SystemSettings

	persister  Persister
	publisher  Publisher
	normalizer *normalizer.Normalizer
	listeners  []Listener
	now        func() time.Time
	rng        *rand.Rand
	newID      func() string
	log        zerolog.Logger
}

// New creates an empty registry with default settings.
func New(opts Options) *Registry {
	r := &Registry{
		guests:     []models.Guest{},
		settings:   models.DefaultSettings(),
		persister:  opts.Persister,
		publisher:  opts.Publisher,
		normalizer: opts.Normalizer,
		listeners:  opts.Listeners,
		now:        opts.Now,
		rng:        opts.Rand,
		newID:      opts.NewID,
		log:        opts.Logger.With().Str("component", "Registry").Logger(),
	}
	if r.normalizer == nil {
		r.normalizer = normalizer.New(normalizer.DefaultRules())
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// AddListener registers l for subsequent events.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Load restores state from the local mirror. A missing mirror leaves the
// registry empty with default settings.
func (r *Registry) Load(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, ok, err := r.persister.Load()
	if err != nil {
		return fmt.Errorf("failed to load local mirror: %w", err)
	}
	if !ok {
		r.log.Info().Msg("No local mirror found, starting empty")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.guests = make([]models.Guest, 0, len(snap.Guests))
	for _, g := range snap.Guests {
		g = g.Clone()
		g.Recompute()
		r.guests = append(r.guests, g)
	}
	if snap.Settings != nil {
		r.settings = *snap.Settings
	}
	r.log.Info().Int("guests", len(r.guests)).Msg("Loaded local mirror")
	return nil
}

// Guests returns a copy of every guest in registry order.
func (r *Registry) Guests() []models.Guest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.CloneGuests(r.guests)
}

// Guest returns one guest by id.
func (r *Registry) Guest(id string) (models.Guest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(id)
	if i < 0 {
		return models.Guest{}, fmt.Errorf("%s: %w", id, ErrGuestNotFound)
	}
	return r.guests[i].Clone(), nil
}

// Settings returns the current settings.
func (r *Registry) Settings() models.SystemSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

func (r *Registry) indexOf(id string) int {
	for i := range r.guests {
		if r.guests[i].ID == id {
			return i
		}
	}
	return -1
}

// change describes one committed mutation.
type change struct {
	upserts  []models.Guest
	deleted  string
	settings map[string]any
	events   []Event
}

// commitLocked persists and publishes c. Caller holds r.mu.
func (r *Registry) commitLocked(c change) {
	if r.persister != nil {
		settings := r.settings
		if err := r.persister.Save(models.Snapshot{Guests: r.guests, Settings: &settings}); err != nil {
			r.log.Error().Err(err).Msg("Failed to write local mirror")
		}
	}
	if r.publisher == nil {
		return
	}
	if len(c.upserts) > 0 {
		r.publisher.PublishGuests(models.CloneGuests(c.upserts))
	}
	if c.deleted != "" {
		r.publisher.PublishDelete(c.deleted)
	}
	if len(c.settings) > 0 {
		r.publisher.PublishSettings(c.settings)
	}
}

// notify runs listeners outside the lock.
func (r *Registry) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, e := range events {
		for _, l := range listeners {
			l.HandleEvent(e)
		}
	}
}

// ApplySnapshot merges a remote snapshot back in. Remote wins for ids it
// carries; local guests it lacks are kept. A full settings document replaces
// local settings; a settings patch overrides only the fields it holds. The
// result is persisted but not published back.
func (r *Registry) ApplySnapshot(snap models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.guests = syncer.MergeSnapshot(r.guests, snap.Guests)
	if snap.Settings != nil {
		r.settings = *snap.Settings
	}
	if snap.SettingsPatch != nil {
		merged, _, err := snap.SettingsPatch.Apply(r.settings)
		if err != nil {
			r.log.Warn().Err(err).Msg("Ignoring invalid remote settings")
		} else {
			r.settings = merged
		}
	}
	if r.persister != nil {
		settings := r.settings
		if err := r.persister.Save(models.Snapshot{Guests: r.guests, Settings: &settings}); err != nil {
			r.log.Error().Err(err).Msg("Failed to write local mirror")
		}
	}
	r.log.Debug().Int("remote", len(snap.Guests)).Int("total", len(r.guests)).Msg("Applied remote snapshot")
}
