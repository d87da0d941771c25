package notestore

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"inkscribe-server/internal/domain"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func note(id string, status domain.NoteStatus, minute int) domain.Note {
	return domain.Note{ID: id, Owner: "u1", Status: status, CreatedAt: base.Add(time.Duration(minute) * time.Minute)}
}

func ids(notes []domain.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}

func TestMerge(t *testing.T) {
	remoteDone := note("a", domain.NoteStatusCompleted, 1)
	remoteA := note("a", domain.NoteStatusCompleted, 1)
	localPendingA := note("a", domain.NoteStatusProcessing, 1)
	localPendingB := note("b", domain.NoteStatusProcessing, 2)
	localDoneC := note("c", domain.NoteStatusCompleted, 3)
	localErrD := note("d", domain.NoteStatusError, 4)

	tests := []struct {
		name   string
		remote []domain.Note
		local  []domain.Note
		want   []string
	}{
		{name: "empty", want: []string{}},
		{name: "remote only", remote: []domain.Note{remoteDone}, want: []string{"a"}},
		{name: "remote supersedes processing local", remote: []domain.Note{remoteA}, local: []domain.Note{localPendingA}, want: []string{"a"}},
		{name: "processing local absent from remote is kept", remote: []domain.Note{remoteA}, local: []domain.Note{localPendingB}, want: []string{"a", "b"}},
		{name: "terminal locals absent from remote are dropped", remote: []domain.Note{remoteA}, local: []domain.Note{localDoneC, localErrD}, want: []string{"a"}},
		{name: "duplicate ids in remote collapse", remote: []domain.Note{remoteA, remoteA}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Merge(tt.remote, tt.local))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Merge() ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeRemoteVersionWins(t *testing.T) {
	local := note("a", domain.NoteStatusProcessing, 0)
	local.PreviewURL = "/previews/a"
	remote := note("a", domain.NoteStatusCompleted, 0)
	remote.Title = domain.StringPtr("T")

	got := Merge([]domain.Note{remote}, []domain.Note{local})
	if len(got) != 1 || got[0].Status != domain.NoteStatusCompleted || *got[0].Title != "T" {
		t.Fatalf("Merge() = %+v, want the remote completed note", got)
	}
}

// =============================================================================
// Generators for property-based testing
// =============================================================================

func statusGen() *rapid.Generator[domain.NoteStatus] {
	return rapid.SampledFrom([]domain.NoteStatus{
		domain.NoteStatusProcessing,
		domain.NoteStatusCompleted,
		domain.NoteStatusError,
	})
}

// small ID space so remote and local collide often
func noteGen() *rapid.Generator[domain.Note] {
	return rapid.Custom(func(t *rapid.T) domain.Note {
		return domain.Note{
			ID:        fmt.Sprintf("n%d", rapid.IntRange(0, 8).Draw(t, "id")),
			Status:    statusGen().Draw(t, "status"),
			CreatedAt: base.Add(time.Duration(rapid.IntRange(0, 100).Draw(t, "minute")) * time.Minute),
		}
	})
}

func notesGen() *rapid.Generator[[]domain.Note] {
	return rapid.SliceOfN(noteGen(), 0, 12)
}

func TestMerge_NeverDuplicatesIDs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		merged := Merge(notesGen().Draw(t, "remote"), notesGen().Draw(t, "local"))
		seen := map[string]bool{}
		for _, n := range merged {
			if seen[n.ID] {
				t.Fatalf("duplicate id %s in %v", n.ID, ids(merged))
			}
			seen[n.ID] = true
		}
	})
}

func TestMerge_ProcessingSurvivesUntilSeen(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pending := domain.Note{ID: "pending", Status: domain.NoteStatusProcessing, CreatedAt: base}
		view := []domain.Note{pending}

		// snapshots drawn from an ID space that never contains "pending"
		rounds := rapid.IntRange(1, 6).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			view = Merge(notesGen().Draw(t, fmt.Sprintf("snapshot%d", i)), view)
			found := false
			for _, n := range view {
				if n.ID == "pending" {
					found = n.Status == domain.NoteStatusProcessing
				}
			}
			if !found {
				t.Fatalf("processing note dropped after snapshot %d: %v", i, ids(view))
			}
		}
	})
}

func TestMerge_TerminalDroppedOnFirstOmission(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.SampledFrom([]domain.NoteStatus{domain.NoteStatusCompleted, domain.NoteStatusError}).Draw(t, "status")
		done := domain.Note{ID: "done", Status: status, CreatedAt: base}

		view := Merge(notesGen().Draw(t, "snapshot"), []domain.Note{done})
		for _, n := range view {
			if n.ID == "done" {
				t.Fatalf("terminal note survived a snapshot that omitted it: %v", ids(view))
			}
		}
	})
}

func TestMerge_RemoteIsPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		remote := notesGen().Draw(t, "remote")
		merged := Merge(remote, notesGen().Draw(t, "local"))

		unique := Merge(remote, nil)
		if len(merged) < len(unique) {
			t.Fatalf("merged view shorter than remote snapshot")
		}
		for i := range unique {
			if merged[i].ID != unique[i].ID || merged[i].Status != unique[i].Status {
				t.Fatalf("position %d: got %s/%s, want %s/%s", i, merged[i].ID, merged[i].Status, unique[i].ID, unique[i].Status)
			}
		}
	})
}
