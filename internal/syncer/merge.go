// Package syncer mirrors the registry to a remote document store and folds
// remote snapshots back in.
//
// The merge-back is asymmetric: remote wins for every id it has, but a local
// guest missing from the snapshot is kept as an unsynced local record. Local
// deletes only happen through an explicit delete, never through absence.
package syncer

import (
	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// MergeSnapshot folds remote into local. Local order is kept, with remote
// versions substituted in place; remote-only guests are appended in remote
// order. Applying the same snapshot twice yields the same list.
func MergeSnapshot(local, remote []models.Guest) []models.Guest {
	byID := make(map[string]int, len(remote))
	for i, g := range remote {
		byID[g.ID] = i
	}

	merged := make([]models.Guest, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))
	for _, g := range local {
		seen[g.ID] = true
		if i, ok := byID[g.ID]; ok {
			r := remote[i].Clone()
			r.Recompute()
			merged = append(merged, r)
			continue
		}
		merged = append(merged, g.Clone())
	}

	for _, g := range remote {
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		r := g.Clone()
		r.Recompute()
		merged = append(merged, r)
	}
	return merged
}
