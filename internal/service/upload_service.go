package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"inkscribe-server/internal/apperr"
	"inkscribe-server/internal/blobstore"
	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/gateway"
	"inkscribe-server/internal/repository"
	"inkscribe-server/internal/session"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// finalWriteTimeout bounds the record writes made after the flow's own
// context may already have expired.
const finalWriteTimeout = 10 * time.Second

// Upload is one accepted photo.
type Upload struct {
	Filename    string
	ContentType string
	Extension   string
	Data        []byte
}

// NewUpload sniffs data and rejects anything that is not an image.
func NewUpload(filename string, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, apperr.Wrap(apperr.ErrInvalidInput, "upload", "validate", "empty file", nil)
	}
	if !blobstore.IsImage(data) {
		return Upload{}, apperr.Wrap(apperr.ErrInvalidInput, "upload", "validate", "only images can be transcribed", nil)
	}
	return Upload{
		Filename:    filename,
		ContentType: mimetype.Detect(data).String(),
		Extension:   blobstore.Extension(filename, data),
		Data:        data,
	}, nil
}

type UploadService struct {
	blobs   blobstore.Store
	notes   repository.NoteRepository
	gateway gateway.Transcriber
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewUploadService(blobs blobstore.Store, notes repository.NoteRepository, transcriber gateway.Transcriber, logger *slog.Logger) *UploadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadService{
		blobs:   blobs,
		notes:   notes,
		gateway: transcriber,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Begin runs the synchronous part of an upload: the single-flight guard,
// the first sign-in check and the optimistic insert. A returned Flow owns
// the guard until Run finishes.
func (s *UploadService) Begin(ctx context.Context, sess *session.Session, up Upload) (*Flow, error) {
	if !sess.TryAcquireUpload() {
		sess.Notify(session.NoticeBusy, apperr.ErrBusy.Error())
		return nil, apperr.ErrBusy
	}

	owner := sess.Owner()
	if owner == "" {
		sess.ReleaseUpload()
		sess.Notify(session.NoticeAuthRequired, apperr.ErrAuthRequired.Error())
		return nil, apperr.ErrAuthRequired
	}

	f := &Flow{
		svc:    s,
		sess:   sess,
		upload: up,
		owner:  owner,
		state:  StateIdle,
	}

	if err := f.advance(StateCreated); err != nil {
		sess.ReleaseUpload()
		return nil, err
	}

	id := s.newID()
	f.note = domain.Note{
		ID:         id,
		Owner:      owner,
		Status:     domain.NoteStatusProcessing,
		PreviewURL: sess.PutPreview(id, up.ContentType, up.Data),
		CreatedAt:  s.now().UTC(),
	}
	sess.Store().Insert(f.note)

	f.log = s.logger.With("session_id", sess.ID, "note_id", id)
	f.log.Info("upload accepted", "filename", up.Filename, "size", len(up.Data))
	return f, nil
}

// Flow carries one upload from Created to Finalized.
type Flow struct {
	svc    *UploadService
	sess   *session.Session
	upload Upload
	owner  string
	log    *slog.Logger

	mu       sync.Mutex
	state    FlowState
	outcome  Outcome
	note     domain.Note
	recorded bool
	runOnce  sync.Once
}

func (f *Flow) Note() domain.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.note
}

func (f *Flow) State() (FlowState, Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.outcome
}

func (f *Flow) advance(to FlowState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := transition(f.state, to); err != nil {
		return err
	}
	f.state = to
	return nil
}

// Run uploads, records, transcribes and finalizes the note. The returned
// error is the failure the note was finalized with. Run may be called once.
func (f *Flow) Run(ctx context.Context) (domain.Note, error) {
	ran := false
	var note domain.Note
	var err error
	f.runOnce.Do(func() {
		ran = true
		note, err = f.run(ctx)
	})
	if !ran {
		return f.Note(), apperr.Wrap(apperr.ErrIllegalTransition, "flow", "run", "already run", nil)
	}
	return note, err
}

func (f *Flow) run(ctx context.Context) (domain.Note, error) {
	id := f.note.ID
	defer f.sess.ReleaseUpload()
	defer f.sess.DropPreview(id)

	if f.sess.Owner() != f.owner {
		return f.fail(ctx, apperr.ErrAuthRequired)
	}

	if err := f.advance(StateUploading); err != nil {
		return f.Note(), err
	}
	key := blobstore.NoteImageKey(f.owner, id, f.upload.Extension)
	obj, err := f.svc.blobs.Put(ctx, key, bytes.NewReader(f.upload.Data))
	if err != nil {
		return f.fail(ctx, apperr.Wrap(apperr.ErrUploadFailed, "flow", "upload", "", err))
	}

	f.mu.Lock()
	f.note.ImageURL = obj.URL
	f.note.ImagePath = obj.Key
	pending := f.note
	f.mu.Unlock()

	if _, err := f.svc.notes.CreateProcessing(ctx, pending); err != nil {
		return f.fail(ctx, apperr.Wrap(apperr.ErrRecordWriteFailed, "flow", "create record", "", err))
	}
	if err := f.advance(StateRecorded); err != nil {
		return f.Note(), err
	}
	f.mu.Lock()
	f.recorded = true
	f.mu.Unlock()
	f.sess.Store().UpsertStatus(id, domain.NotePatch{ImageURL: &obj.URL, ImagePath: &obj.Key})

	if err := f.advance(StateTranscribing); err != nil {
		return f.Note(), err
	}
	result, err := f.svc.gateway.Transcribe(ctx, obj.URL, id)
	if err != nil {
		return f.fail(ctx, err)
	}

	return f.complete(ctx, result)
}

func (f *Flow) complete(ctx context.Context, result gateway.Transcription) (domain.Note, error) {
	if err := f.finalize(OutcomeCompleted); err != nil {
		return f.Note(), err
	}

	patch := domain.CompletedPatch(result.Title, result.MarkdownContent)
	id := f.note.ID
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := f.svc.notes.Merge(writeCtx, id, patch); err != nil {
		f.log.Warn("failed to write completed note record", "error", err)
	}
	f.sess.Store().UpsertStatus(id, patch)

	f.mu.Lock()
	f.note, _ = patch.Apply(f.note)
	note := f.note
	f.mu.Unlock()

	f.log.Info("note transcribed", "title", result.Title)
	return note, nil
}

// fail finalizes the note as error and mirrors that to its record when
// one was written.
func (f *Flow) fail(ctx context.Context, cause error) (domain.Note, error) {
	if err := f.finalize(OutcomeError); err != nil {
		return f.Note(), err
	}

	msg := cause.Error()
	patch := domain.ErrorPatch(msg)
	id := f.note.ID
	f.sess.Store().UpsertStatus(id, patch)

	f.mu.Lock()
	recorded := f.recorded
	f.note, _ = patch.Apply(f.note)
	note := f.note
	f.mu.Unlock()

	if recorded {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
		defer cancel()
		if err := f.svc.notes.Merge(writeCtx, id, patch); err != nil {
			f.log.Warn("failed to mirror note error to record", "error", err)
		}
	}

	f.log.Warn("note processing failed", "error", cause)
	if errors.Is(cause, apperr.ErrAuthRequired) {
		f.sess.Notify(session.NoticeAuthRequired, cause.Error())
	} else {
		f.sess.Notify(session.NoticeError, msg)
	}
	return note, cause
}

func (f *Flow) finalize(outcome Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := transition(f.state, StateFinalized); err != nil {
		return err
	}
	f.state = StateFinalized
	f.outcome = outcome
	return nil
}
