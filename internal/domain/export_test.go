package domain

import "testing"

func TestExportFileName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"My Note!", "my_note_.md"},
		{"Lecture 3 - Physics", "lecture_3___physics.md"},
		{"already_clean", "already_clean.md"},
		{"Café", "caf_.md"},
		{"", ".md"},
		{"Notes 📚", "notes___.md"},
		{"İstanbul", "_stanbul.md"},
		{"5\u212a run", "5__run.md"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := ExportFileName(tt.title); got != tt.want {
				t.Errorf("ExportFileName(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestExportKeepsMarkdownVerbatim(t *testing.T) {
	md := "# Heading\n\n![[original.jpg]]\n\n$$E = mc^2$$\n"
	n := Note{
		ID:              "n1",
		Status:          NoteStatusCompleted,
		Title:           StringPtr("My Note!"),
		MarkdownContent: StringPtr(md),
	}

	name, body, err := Export(n)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if name != "my_note_.md" {
		t.Errorf("name = %q, want my_note_.md", name)
	}
	if string(body) != md {
		t.Errorf("body = %q, want %q", body, md)
	}
}

func TestExportRejectsUnfinishedNotes(t *testing.T) {
	for _, status := range []NoteStatus{NoteStatusProcessing, NoteStatusError} {
		if _, _, err := Export(Note{ID: "n", Status: status}); err != ErrNotExportable {
			t.Errorf("Export(%s) error = %v, want ErrNotExportable", status, err)
		}
	}
}

func TestNotePatchRefusesLeavingTerminalState(t *testing.T) {
	done := Note{ID: "n", Status: NoteStatusCompleted, Title: StringPtr("T")}
	processing := NoteStatusProcessing

	if _, ok := (NotePatch{Status: &processing}).Apply(done); ok {
		t.Fatal("expected completed -> processing to be refused")
	}

	out, ok := ErrorPatch("boom").Apply(Note{ID: "n", Status: NoteStatusProcessing})
	if !ok || out.Status != NoteStatusError || out.Error != "boom" {
		t.Fatalf("ErrorPatch.Apply() = %+v, %v", out, ok)
	}
}

func TestNoteRecordToNote(t *testing.T) {
	rec := NoteRecord{
		ID:              "n1",
		Owner:           "u1",
		Status:          NoteStatusCompleted,
		Title:           StringPtr("T"),
		MarkdownContent: StringPtr("M"),
	}
	n := rec.ToNote()
	if n.Status != NoteStatusCompleted || *n.Title != "T" || *n.MarkdownContent != "M" || n.Error != "" {
		t.Fatalf("ToNote() = %+v", n)
	}

	if got := (NoteRecord{ID: "legacy"}).ToNote().Status; got != NoteStatusCompleted {
		t.Errorf("status of record without status = %q, want completed", got)
	}
}
