// Package reconcile merges normalized import drafts into the guest list.
//
// Names are the dedup key: exact match after a single trim, case-sensitive.
// A guest who is already checked in keeps the round it was first recorded in;
// later signatures for the same name only fill in descriptive fields.
package reconcile

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// ErrNothingToImport means no draft survived normalization. It is not a hard
// failure; callers report "no data recognized".
var ErrNothingToImport = errors.New("nothing to import")

// MergeOptions carries the ambient values of one import.
type MergeOptions struct {
	Timestamp   time.Time
	GlobalRound int
	// NewID assigns ids to created guests. Defaults to uuid.NewString.
	NewID func() string
}

// Result is the outcome of Merge. Guests is the full new registry.
type Result struct {
	Guests    []models.Guest
	Created   []string
	Updated   []string
	CheckedIn []string
	Unchanged int
}

// Changed returns the ids of every guest that was created or updated.
func (r Result) Changed() []string {
	out := make([]string, 0, len(r.Created)+len(r.Updated))
	out = append(out, r.Created...)
	return append(out, r.Updated...)
}

// Merge applies drafts in input order on top of current and returns the new
// registry. current is not modified. Drafts are expected to be normalized.
func Merge(current []models.Guest, drafts []models.ParsedGuestDraft, opts MergeOptions) Result {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	guests := models.CloneGuests(current)
	index := make(map[string]int, len(guests))
	for i, g := range guests {
		// Later duplicates overwrite earlier ones.
		index[strings.TrimSpace(g.Name)] = i
	}

	var res Result
	touched := make(map[string]bool)

	for _, d := range drafts {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		target := opts.GlobalRound
		if d.ForcedRound != nil {
			target = *d.ForcedRound
		}

		if i, ok := index[name]; ok {
			g := &guests[i]
			before := g.Clone()
			checkedIn := mergeInto(g, d, target, opts.Timestamp)
			if checkedIn {
				res.CheckedIn = append(res.CheckedIn, g.ID)
			}
			if !equalGuest(before, *g) {
				if !touched[g.ID] {
					touched[g.ID] = true
					if !slices.Contains(res.Created, g.ID) {
						res.Updated = append(res.Updated, g.ID)
					}
				}
			} else {
				res.Unchanged++
			}
			continue
		}

		g := newGuest(newID(), name, d, target, opts.Timestamp)
		guests = append(guests, g)
		index[name] = len(guests) - 1
		touched[g.ID] = true
		res.Created = append(res.Created, g.ID)
		if g.IsCheckedIn {
			res.CheckedIn = append(res.CheckedIn, g.ID)
		}
	}

	res.Guests = guests
	return res
}

// mergeInto applies d to an existing guest. It reports whether this draft
// performed the guest's first check-in.
func mergeInto(g *models.Guest, d models.ParsedGuestDraft, target int, ts time.Time) bool {
	first := false
	if d.HasSignature && len(g.AttendedRounds) == 0 && target > 0 {
		g.AttendedRounds = []int{target}
		if g.CheckInTime == nil {
			t := ts
			g.CheckInTime = &t
		}
		first = true
	}

	if d.Code != "" {
		g.Code = d.Code
	}
	if d.Title != "" {
		g.Title = d.Title
	}
	if d.Note != "" {
		g.Note = d.Note
	}
	if d.Category != "" {
		g.Category = d.Category
	}
	if d.Phone != "" {
		g.Phone = d.Phone
	}

	g.Recompute()
	return first
}

func newGuest(id, name string, d models.ParsedGuestDraft, target int, ts time.Time) models.Guest {
	g := models.Guest{
		ID:             id,
		Code:           d.Code,
		Name:           name,
		Title:          d.Title,
		Note:           d.Note,
		Category:       d.Category,
		Phone:          d.Phone,
		AttendedRounds: []int{},
		WonRounds:      []int{},
	}
	if d.HasSignature && target > 0 {
		g.AttendedRounds = []int{target}
		t := ts
		g.CheckInTime = &t
	}
	g.Recompute()
	return g
}

func equalGuest(a, b models.Guest) bool {
	if a.Code != b.Code || a.Title != b.Title || a.Note != b.Note ||
		a.Category != b.Category || a.Phone != b.Phone {
		return false
	}
	return slices.Equal(a.AttendedRounds, b.AttendedRounds)
}
