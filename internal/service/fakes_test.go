package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"inkscribe-server/internal/apperr"
	"inkscribe-server/internal/blobstore"
	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/gateway"
	"inkscribe-server/internal/session"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 6, 0, 0, 0}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	puts      int
	deletes   []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Put(ctx context.Context, key string, r io.Reader) (blobstore.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.putErr != nil {
		return blobstore.Object{}, b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return blobstore.Object{}, err
	}
	b.objects[key] = data
	return blobstore.Object{
		Key:         key,
		URL:         "https://files.example.com/files/" + key,
		Size:        int64(len(data)),
		ContentType: "image/png",
	}, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, key)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key)
	return nil
}

type fakeNotes struct {
	mu        sync.Mutex
	records   map[string]domain.Note
	createErr error
	mergeErr  error
	deleteErr error
	creates   int
	merges    []domain.NotePatch
	deletes   []string
}

func newFakeNotes() *fakeNotes {
	return &fakeNotes{records: make(map[string]domain.Note)}
}

func (n *fakeNotes) CreateProcessing(ctx context.Context, note domain.Note) (domain.Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.creates++
	if n.createErr != nil {
		return domain.Note{}, n.createErr
	}
	note.Status = domain.NoteStatusProcessing
	note.PreviewURL = ""
	n.records[note.ID] = note
	return note, nil
}

func (n *fakeNotes) Merge(ctx context.Context, id string, patch domain.NotePatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.merges = append(n.merges, patch)
	if n.mergeErr != nil {
		return n.mergeErr
	}
	rec, ok := n.records[id]
	if !ok {
		return apperr.ErrNotFound
	}
	rec, _ = patch.Apply(rec)
	n.records[id] = rec
	return nil
}

func (n *fakeNotes) Delete(ctx context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deletes = append(n.deletes, id)
	if n.deleteErr != nil {
		return n.deleteErr
	}
	delete(n.records, id)
	return nil
}

func (n *fakeNotes) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.records[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &rec, nil
}

func (n *fakeNotes) ListByOwner(ctx context.Context, owner string) ([]domain.Note, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Note
	for _, rec := range n.records {
		if rec.Owner == owner {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeTranscriber struct {
	mu     sync.Mutex
	result gateway.Transcription
	err    error
	calls  []string

	// block, when set, holds Transcribe until it is closed.
	block chan struct{}
}

func (g *fakeTranscriber) Transcribe(ctx context.Context, imageURL, noteID string) (gateway.Transcription, error) {
	g.mu.Lock()
	g.calls = append(g.calls, imageURL)
	block := g.block
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	if g.err != nil {
		return gateway.Transcription{}, g.err
	}
	return g.result, nil
}

func (g *fakeTranscriber) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []session.NoticeKind
}

func (r *noticeRecorder) NotesChanged(string, []domain.Note) {}

func (r *noticeRecorder) Notice(_ string, kind session.NoticeKind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, kind)
}

func (r *noticeRecorder) kinds() []session.NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.NoticeKind(nil), r.notices...)
}

type fixture struct {
	blobs   *fakeBlobs
	notes   *fakeNotes
	gw      *fakeTranscriber
	notices *noticeRecorder
	sess    *session.Session
	uploads *UploadService
	noteSvc *NoteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		blobs:   newFakeBlobs(),
		notes:   newFakeNotes(),
		gw:      &fakeTranscriber{result: gateway.Transcription{Title: "Lecture 3", MarkdownContent: "# Lecture 3"}},
		notices: &noticeRecorder{},
	}
	mgr := session.NewManager(&session.Backend{Notifier: f.notices, PreviewPrefix: "/api/v1/sessions"}, 0)
	sess, err := mgr.Create(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { mgr.CloseAll() })
	f.sess = sess
	f.uploads = NewUploadService(f.blobs, f.notes, f.gw, nil)
	f.noteSvc = NewNoteService(f.notes, f.blobs, nil)
	return f
}

func (f *fixture) upload(t *testing.T) Upload {
	t.Helper()
	up, err := NewUpload("page.png", pngBytes)
	if err != nil {
		t.Fatalf("NewUpload() error = %v", err)
	}
	return up
}

var errBoom = errors.New("boom")
