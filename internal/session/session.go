// Package session holds the server-side state of one signed-in browser
// view: its notes, its upload guard, its previews and its subscription.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/notestore"
	"inkscribe-server/internal/repository"
)

type NoticeKind string

const (
	NoticeBusy         NoticeKind = "busy"
	NoticeAuthRequired NoticeKind = "auth_required"
	NoticeError        NoticeKind = "error"
)

// Notifier pushes session state to connected views.
type Notifier interface {
	NotesChanged(sessionID string, notes []domain.Note)
	Notice(sessionID string, kind NoticeKind, message string)
}

// Backend is the per-process context every session shares.
type Backend struct {
	Feed     repository.NoteSubscriber
	Notifier Notifier
	Logger   *slog.Logger
	// PreviewPrefix is the URL path previews are served under.
	PreviewPrefix string
}

type Preview struct {
	ContentType string
	Data        []byte
}

type Session struct {
	ID        string
	Creator   string
	CreatedAt time.Time

	backend *Backend
	store   *notestore.Store
	logger  *slog.Logger

	uploading atomic.Bool

	mu     sync.Mutex
	owner  string
	sub    repository.Subscription
	closed bool

	previewsMu sync.Mutex
	previews   map[string]Preview
}

func newSession(id, creator string, backend *Backend) *Session {
	s := &Session{
		ID:        id,
		Creator:   creator,
		CreatedAt: time.Now(),
		backend:   backend,
		logger:    backend.logger().With("session_id", id),
		previews:  make(map[string]Preview),
	}
	s.store = notestore.New(notestore.WithOnChange(func(notes []domain.Note) {
		if backend.Notifier != nil {
			backend.Notifier.NotesChanged(id, notes)
		}
	}))
	return s
}

func (b *Backend) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (s *Session) Store() *notestore.Store {
	return s.store
}

func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Owner is the signed-in identity, empty when signed out.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// SignIn switches the session to owner and follows that owner's notes.
// Signing in as the current owner is a no-op.
func (s *Session) SignIn(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("sign in: empty owner")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sign in: session %s is closed", s.ID)
	}
	if s.owner == owner && s.sub != nil {
		return nil
	}
	if s.owner != "" {
		s.signOutLocked()
	}

	if s.backend.Feed != nil {
		sub, err := s.backend.Feed.Subscribe(ctx, owner, s.store.ApplySnapshot)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		s.sub = sub
	}
	s.owner = owner
	s.logger.Info("session signed in", "owner", owner)
	return nil
}

// SignOut stops the subscription before clearing local state, so no late
// snapshot can repopulate it.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutLocked()
}

func (s *Session) signOutLocked() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.owner != "" {
		s.logger.Info("session signed out", "owner", s.owner)
	}
	s.owner = ""
	s.store.ReplaceAll(nil)
	s.clearPreviews()
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.signOutLocked()
	s.closed = true
}

// TryAcquireUpload takes the single-flight upload guard.
func (s *Session) TryAcquireUpload() bool {
	return s.uploading.CompareAndSwap(false, true)
}

func (s *Session) ReleaseUpload() {
	s.uploading.Store(false)
}

func (s *Session) Uploading() bool {
	return s.uploading.Load()
}

// PutPreview keeps the uploaded bytes for the lifetime of the session and
// returns the session-local URL they are served under.
func (s *Session) PutPreview(noteID, contentType string, data []byte) string {
	s.previewsMu.Lock()
	s.previews[noteID] = Preview{ContentType: contentType, Data: data}
	s.previewsMu.Unlock()
	return fmt.Sprintf("%s/%s/previews/%s", s.backend.PreviewPrefix, s.ID, noteID)
}

func (s *Session) Preview(noteID string) (Preview, bool) {
	s.previewsMu.Lock()
	defer s.previewsMu.Unlock()
	p, ok := s.previews[noteID]
	return p, ok
}

func (s *Session) DropPreview(noteID string) {
	s.previewsMu.Lock()
	delete(s.previews, noteID)
	s.previewsMu.Unlock()
}

func (s *Session) clearPreviews() {
	s.previewsMu.Lock()
	s.previews = make(map[string]Preview)
	s.previewsMu.Unlock()
}

// Notify sends a transient message to the session's views.
func (s *Session) Notify(kind NoticeKind, message string) {
	if s.backend.Notifier != nil {
		s.backend.Notifier.Notice(s.ID, kind, message)
	}
}

func (s *Session) Response() domain.SessionResponse {
	owner := s.Owner()
	return domain.SessionResponse{
		ID:        s.ID,
		Owner:     owner,
		SignedIn:  owner != "",
		CreatedAt: s.CreatedAt,
		Notes:     s.store.List(),
	}
}
