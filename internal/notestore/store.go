package notestore

import (
	"sync"

	"inkscribe-server/internal/domain"
)

// Store is the in-memory note list of one session. Every method is atomic;
// callers never see a half-applied merge.
type Store struct {
	mu       sync.Mutex
	notes    []domain.Note
	onChange func([]domain.Note)
}

type Option func(*Store)

// WithOnChange registers fn to receive the sorted view after every mutation.
// fn runs outside the store lock.
func WithOnChange(fn func([]domain.Note)) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns a copy sorted newest first; ties keep insertion order.
func (s *Store) List() []domain.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Store) Get(id string) (domain.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.notes[i], true
	}
	return domain.Note{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// ApplySnapshot merges a remote snapshot with the current contents.
func (s *Store) ApplySnapshot(remote []domain.Note) {
	s.mutate(func(cur []domain.Note) ([]domain.Note, bool) {
		return Merge(remote, cur), true
	})
}

// ReplaceAll discards everything, including pending optimistic notes.
func (s *Store) ReplaceAll(notes []domain.Note) {
	s.mutate(func([]domain.Note) ([]domain.Note, bool) {
		return Merge(notes, nil), true
	})
}

// Insert adds an optimistic note, replacing any entry with the same ID.
func (s *Store) Insert(n domain.Note) {
	s.mutate(func(cur []domain.Note) ([]domain.Note, bool) {
		out := make([]domain.Note, 0, len(cur)+1)
		out = append(out, n)
		for _, c := range cur {
			if c.ID != n.ID {
				out = append(out, c)
			}
		}
		return out, true
	})
}

// UpsertStatus patches exactly one note. It reports false when the note is
// unknown or the patch would leave a terminal status.
func (s *Store) UpsertStatus(id string, patch domain.NotePatch) bool {
	applied := false
	s.mutate(func(cur []domain.Note) ([]domain.Note, bool) {
		i := indexOf(cur, id)
		if i < 0 {
			return cur, false
		}
		next, ok := patch.Apply(cur[i])
		if !ok {
			return cur, false
		}
		out := append([]domain.Note(nil), cur...)
		out[i] = next
		applied = true
		return out, true
	})
	return applied
}

// Remove drops the note with id; it reports whether one was present.
func (s *Store) Remove(id string) bool {
	removed := false
	s.mutate(func(cur []domain.Note) ([]domain.Note, bool) {
		out := make([]domain.Note, 0, len(cur))
		for _, c := range cur {
			if c.ID == id {
				removed = true
				continue
			}
			out = append(out, c)
		}
		return out, removed
	})
	return removed
}

func (s *Store) mutate(fn func([]domain.Note) ([]domain.Note, bool)) {
	s.mu.Lock()
	next, changed := fn(s.notes)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.notes = next
	view := s.sortedLocked()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(view)
	}
}

// sortedLocked never returns nil so an empty view encodes as [].
func (s *Store) sortedLocked() []domain.Note {
	out := make([]domain.Note, len(s.notes))
	copy(out, s.notes)
	SortNewestFirst(out)
	return out
}

func (s *Store) indexLocked(id string) int {
	return indexOf(s.notes, id)
}

func indexOf(notes []domain.Note, id string) int {
	for i, n := range notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
