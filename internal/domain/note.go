package domain

import (
	"strings"
	"time"
)

type NoteStatus string

const (
	NoteStatusProcessing NoteStatus = "processing"
	NoteStatusCompleted  NoteStatus = "completed"
	NoteStatusError      NoteStatus = "error"
)

// Terminal reports whether no further status transition is allowed.
func (s NoteStatus) Terminal() bool {
	return s == NoteStatusCompleted || s == NoteStatusError
}

func (s NoteStatus) Valid() bool {
	switch s {
	case NoteStatusProcessing, NoteStatusCompleted, NoteStatusError:
		return true
	}
	return false
}

// CanTransition allows processing -> completed|error and nothing else.
func (s NoteStatus) CanTransition(to NoteStatus) bool {
	if s == to {
		return true
	}
	return s == NoteStatusProcessing && to.Terminal()
}

type Note struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	Status          NoteStatus `json:"status"`
	Title           *string    `json:"title"`
	MarkdownContent *string    `json:"markdownContent"`
	Error           string     `json:"error,omitempty"`

	// ImageURL is durable and survives a reload. PreviewURL is only
	// resolvable inside the session that created the note.
	ImageURL   string `json:"imageUrl,omitempty"`
	ImagePath  string `json:"imagePath,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ImageReference prefers the durable reference over the ephemeral one.
func (n Note) ImageReference() string {
	if n.ImageURL != "" {
		return n.ImageURL
	}
	return n.PreviewURL
}

func (n Note) TitleOr(fallback string) string {
	if n.Title == nil || strings.TrimSpace(*n.Title) == "" {
		return fallback
	}
	return *n.Title
}

// NotePatch is a partial update; nil fields are left untouched.
type NotePatch struct {
	Status          *NoteStatus
	Title           *string
	MarkdownContent *string
	Error           *string
	ImageURL        *string
	ImagePath       *string
}

// Apply returns a copy of n with the patch applied. Leaving a terminal
// status is refused and reported through ok.
func (p NotePatch) Apply(n Note) (out Note, ok bool) {
	out = n
	if p.Status != nil {
		if !n.Status.CanTransition(*p.Status) {
			return n, false
		}
		out.Status = *p.Status
	}
	if p.Title != nil {
		out.Title = StringPtr(*p.Title)
	}
	if p.MarkdownContent != nil {
		out.MarkdownContent = StringPtr(*p.MarkdownContent)
	}
	if p.Error != nil {
		out.Error = *p.Error
	}
	if p.ImageURL != nil {
		out.ImageURL = *p.ImageURL
	}
	if p.ImagePath != nil {
		out.ImagePath = *p.ImagePath
	}
	return out, true
}

func CompletedPatch(title, markdown string) NotePatch {
	status := NoteStatusCompleted
	return NotePatch{Status: &status, Title: &title, MarkdownContent: &markdown}
}

func ErrorPatch(msg string) NotePatch {
	status := NoteStatusError
	return NotePatch{Status: &status, Error: &msg}
}

func StringPtr(s string) *string {
	return &s
}

type EditNoteRequest struct {
	Title           string `json:"title" validate:"required,max=300"`
	MarkdownContent string `json:"markdownContent" validate:"required"`
}

// NoteRecord is the remote document stored per note.
type NoteRecord struct {
	ID              string     `json:"-"`
	Type            string     `json:"type"`
	Owner           string     `json:"owner"`
	Status          NoteStatus `json:"status"`
	Title           *string    `json:"title"`
	MarkdownContent *string    `json:"markdownContent"`
	Error           *string    `json:"error"`
	CreatedAt       time.Time  `json:"createdAt"`
	ImageURL        string     `json:"imageUrl"`
	ImagePath       string     `json:"imagePath"`
}

const NoteRecordType = "note"

// ToNote converts a remote record. A record without a status is read as
// completed, matching records written before status existed.
func (r NoteRecord) ToNote() Note {
	status := r.Status
	if !status.Valid() {
		status = NoteStatusCompleted
	}
	n := Note{
		ID:              r.ID,
		Owner:           r.Owner,
		Status:          status,
		Title:           r.Title,
		MarkdownContent: r.MarkdownContent,
		ImageURL:        r.ImageURL,
		ImagePath:       r.ImagePath,
		CreatedAt:       r.CreatedAt,
	}
	if r.Error != nil {
		n.Error = *r.Error
	}
	return n
}
