package service

import (
	"context"
	"errors"
	"log/slog"

	"inkscribe-server/internal/apperr"
	"inkscribe-server/internal/blobstore"
	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/repository"
	"inkscribe-server/internal/session"
)

type NoteService struct {
	notes  repository.NoteRepository
	blobs  blobstore.Store
	logger *slog.Logger
}

func NewNoteService(notes repository.NoteRepository, blobs blobstore.Store, logger *slog.Logger) *NoteService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteService{
		notes:  notes,
		blobs:  blobs,
		logger: logger,
	}
}

// List returns the session's merged view, newest first.
func (s *NoteService) List(sess *session.Session) []domain.Note {
	return sess.Store().List()
}

func (s *NoteService) Get(ctx context.Context, sess *session.Session, id string) (domain.Note, error) {
	if note, ok := sess.Store().Get(id); ok {
		return note, nil
	}
	note, err := s.notes.FindByID(ctx, id)
	if err != nil {
		return domain.Note{}, err
	}
	if note.Owner != sess.Owner() {
		return domain.Note{}, apperr.Wrap(apperr.ErrForbidden, "notes", "get", id, nil)
	}
	return *note, nil
}

// Delete removes the stored image and the record independently. Either
// may fail; the failure is logged and the local entry goes regardless.
// Notes still processing are refused: their flow would write the image
// and record back after the delete.
func (s *NoteService) Delete(ctx context.Context, sess *session.Session, id string) error {
	owner := sess.Owner()
	if owner == "" {
		return apperr.ErrAuthRequired
	}

	note, err := s.Get(ctx, sess, id)
	if err != nil {
		return err
	}
	if note.Owner != owner {
		return apperr.Wrap(apperr.ErrForbidden, "notes", "delete", id, nil)
	}
	if note.Status == domain.NoteStatusProcessing {
		return apperr.Wrap(apperr.ErrIllegalTransition, "notes", "delete", "note is still processing", nil)
	}

	log := s.logger.With("session_id", sess.ID, "note_id", id)

	if note.ImagePath != "" {
		if err := s.blobs.Delete(ctx, note.ImagePath); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			log.Warn("failed to delete note image",
				"error", apperr.Wrap(apperr.ErrDeleteFailed, "notes", "delete image", note.ImagePath, err))
		}
	}

	if err := s.notes.Delete(ctx, id); err != nil {
		log.Warn("failed to delete note record",
			"error", apperr.Wrap(apperr.ErrDeleteFailed, "notes", "delete record", "", err))
	}

	sess.Store().Remove(id)
	sess.DropPreview(id)
	log.Info("note deleted")
	return nil
}

// Export renders a completed note as a Markdown file.
func (s *NoteService) Export(ctx context.Context, sess *session.Session, id string) (string, []byte, error) {
	note, err := s.Get(ctx, sess, id)
	if err != nil {
		return "", nil, err
	}
	name, content, err := domain.Export(note)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "notes", "export", "", err)
	}
	return name, content, nil
}

// Edit changes a completed note's title and content. The record write is
// best-effort; the local note is updated either way.
func (s *NoteService) Edit(ctx context.Context, sess *session.Session, id string, req domain.EditNoteRequest) (domain.Note, error) {
	if sess.Owner() == "" {
		return domain.Note{}, apperr.ErrAuthRequired
	}
	note, err := s.Get(ctx, sess, id)
	if err != nil {
		return domain.Note{}, err
	}
	if note.Status != domain.NoteStatusCompleted {
		return domain.Note{}, apperr.Wrap(apperr.ErrIllegalTransition, "notes", "edit", "only completed notes can be edited", nil)
	}

	patch := domain.NotePatch{Title: &req.Title, MarkdownContent: &req.MarkdownContent}
	if err := s.notes.Merge(ctx, id, patch); err != nil {
		s.logger.Warn("failed to write edited note record", "session_id", sess.ID, "note_id", id, "error", err)
	}

	if !sess.Store().UpsertStatus(id, patch) {
		// Known remotely but not yet in the local view.
		note, _ = patch.Apply(note)
		sess.Store().Insert(note)
		return note, nil
	}
	updated, _ := sess.Store().Get(id)
	return updated, nil
}
