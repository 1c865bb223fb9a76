package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
)

// CombineBatches merges several parsed batches (for example one per uploaded
// image) before anything is committed. Drafts sharing a name collapse into
// one: the signature flag is OR-ed, blank fields are filled from later
// drafts (whitespace counts as blank), and the first forced round seen is
// kept. First-seen order is
// preserved.
func CombineBatches(batches ...[]models.ParsedGuestDraft) []models.ParsedGuestDraft {
	var out []models.ParsedGuestDraft
	index := make(map[string]int)

	for _, batch := range batches {
		for _, d := range batch {
			name := strings.TrimSpace(d.Name)
			if name == "" {
				continue
			}
			d.Name = name
			d.Code = strings.TrimSpace(d.Code)
			d.Title = strings.TrimSpace(d.Title)
			d.Note = strings.TrimSpace(d.Note)
			d.Phone = strings.TrimSpace(d.Phone)
			d.Category = models.Category(strings.TrimSpace(string(d.Category)))

			i, ok := index[name]
			if !ok {
				index[name] = len(out)
				out = append(out, d)
				continue
			}

			existing := &out[i]
			existing.HasSignature = existing.HasSignature || d.HasSignature
			if existing.Code == "" {
				existing.Code = d.Code
			}
			if existing.Title == "" {
				existing.Title = d.Title
			}
			if existing.Note == "" {
				existing.Note = d.Note
			}
			if existing.Category == "" {
				existing.Category = d.Category
			}
			if existing.Phone == "" {
				existing.Phone = d.Phone
			}
			if existing.ForcedRound == nil && d.ForcedRound != nil {
				r := *d.ForcedRound
				existing.ForcedRound = &r
			}
		}
	}
	return out
}

// ChunkResult is the parse outcome of one import source chunk.
type ChunkResult struct {
	Source string
	Drafts []models.ParsedGuestDraft
	Err    error
}

// ChunkError records one failed chunk.
type ChunkError struct {
	Source string
	Err    error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e ChunkError) Unwrap() error { return e.Err }

// ChunkErrors aggregates the chunks that failed while the rest were kept.
type ChunkErrors struct {
	Failed []ChunkError
}

func (e *ChunkErrors) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d chunk(s) failed: %s", len(e.Failed), strings.Join(msgs, "; "))
}

func (e *ChunkErrors) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// CollectChunks combines the successful chunks with CombineBatches and
// returns the failures, if any, as *ChunkErrors. A failed chunk never stops
// the others.
func CollectChunks(results []ChunkResult) ([]models.ParsedGuestDraft, error) {
	var (
		batches [][]models.ParsedGuestDraft
		failed  []ChunkError
	)
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, ChunkError{Source: r.Source, Err: r.Err})
			continue
		}
		batches = append(batches, r.Drafts)
	}

	drafts := CombineBatches(batches...)
	if len(failed) > 0 {
		return drafts, &ChunkErrors{Failed: failed}
	}
	return drafts, nil
}

// IsPartialFailure reports whether err came from CollectChunks.
func IsPartialFailure(err error) bool {
	var ce *ChunkErrors
	return errors.As(err, &ce)
}
