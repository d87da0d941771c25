// Package notestore holds the notes one session knows about and the
// merge that reconciles a remote snapshot with optimistic local entries.
package notestore

import (
	"sort"

	"inkscribe-server/internal/domain"
)

// Merge returns remote followed by every local note that is still
// processing and whose ID the snapshot does not contain.
//
// Terminal local notes missing from the snapshot are dropped: once any
// snapshot omits them they are treated as superseded or deleted remotely.
// A transient subscription gap is therefore indistinguishable from a
// deletion for those notes.
//
// The snapshot always wins for IDs it contains, so a stale snapshot can
// report a note as processing after it finished locally. The next
// snapshot carrying the final write corrects it; if that write failed
// the note stays processing until the record is fixed.
func Merge(remote, local []domain.Note) []domain.Note {
	seen := make(map[string]struct{}, len(remote))
	out := make([]domain.Note, 0, len(remote)+len(local))
	for _, n := range remote {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	for _, n := range local {
		if n.Status != domain.NoteStatusProcessing {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

// SortNewestFirst orders by CreatedAt descending, keeping input order on ties.
func SortNewestFirst(notes []domain.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].CreatedAt.After(notes[j].CreatedAt)
	})
}
