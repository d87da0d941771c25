package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkscribe-server/internal/domain"
)

type fakeNoteRepo struct {
	mu    sync.Mutex
	notes []domain.Note
	calls int
}

func (r *fakeNoteRepo) set(notes ...domain.Note) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = notes
}

func (r *fakeNoteRepo) CreateProcessing(ctx context.Context, note domain.Note) (domain.Note, error) {
	return note, nil
}
func (r *fakeNoteRepo) Merge(ctx context.Context, id string, patch domain.NotePatch) error {
	return nil
}
func (r *fakeNoteRepo) Delete(ctx context.Context, id string) error { return nil }
func (r *fakeNoteRepo) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	return nil, errors.New("not implemented")
}
func (r *fakeNoteRepo) ListByOwner(ctx context.Context, owner string) ([]domain.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return append([]domain.Note(nil), r.notes...), nil
}

// chanStream replays events pushed on a channel until closed or cancelled.
type chanStream struct {
	ctx    context.Context
	events chan changeEvent
	cur    changeEvent
	err    error
}

func (s *chanStream) Next() bool {
	select {
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		return false
	case ev, ok := <-s.events:
		if !ok {
			s.err = io.ErrUnexpectedEOF
			return false
		}
		s.cur = ev
		return true
	}
}
func (s *chanStream) Event() changeEvent { return s.cur }
func (s *chanStream) Err() error         { return s.err }
func (s *chanStream) Close() error       { return nil }

type fakeOpener struct {
	mu     sync.Mutex
	events chan changeEvent
	since  []string
}

func (o *fakeOpener) open(ctx context.Context, since string) (changeStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.since = append(o.since, since)
	return &chanStream{ctx: ctx, events: o.events}, nil
}

func (o *fakeOpener) sinceValues() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.since...)
}

type collector struct {
	mu        sync.Mutex
	snapshots [][]domain.Note
}

func (c *collector) deliver(notes []domain.Note) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, notes)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

func (c *collector) last() []domain.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshots) == 0 {
		return nil
	}
	return c.snapshots[len(c.snapshots)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoteFeedDeliversInitialAndChangedSnapshots(t *testing.T) {
	repo := &fakeNoteRepo{}
	repo.set(domain.Note{ID: "a", Owner: "u1", Status: domain.NoteStatusCompleted})
	opener := &fakeOpener{events: make(chan changeEvent)}
	feed := newNoteFeed(repo, opener.open, quietLogger())

	var got collector
	sub, err := feed.Subscribe(context.Background(), "u1", got.deliver)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	repo.set(
		domain.Note{ID: "b", Owner: "u1", Status: domain.NoteStatusProcessing},
		domain.Note{ID: "a", Owner: "u1", Status: domain.NoteStatusCompleted},
	)
	opener.events <- changeEvent{ID: "note:b", Seq: "2-x", Type: "note", Owner: "u1"}

	require.Eventually(t, func() bool { return got.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, got.last(), 2)
}

func TestNoteFeedIgnoresOtherOwnersAndDocTypes(t *testing.T) {
	repo := &fakeNoteRepo{}
	opener := &fakeOpener{events: make(chan changeEvent)}
	feed := newNoteFeed(repo, opener.open, quietLogger())

	var got collector
	sub, err := feed.Subscribe(context.Background(), "u1", got.deliver)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	opener.events <- changeEvent{ID: "note:x", Seq: "2", Type: "note", Owner: "u2"}
	opener.events <- changeEvent{ID: "user:u1", Seq: "3", Type: "user"}
	// A deletion has no owner to compare, so it always refreshes.
	opener.events <- changeEvent{ID: "note:y", Seq: "4", Deleted: true}

	require.Eventually(t, func() bool { return got.count() == 2 }, time.Second, 5*time.Millisecond)
	sub.Unsubscribe()
	assert.Equal(t, 2, got.count())
}

func TestNoteFeedReopensFromLastSeq(t *testing.T) {
	repo := &fakeNoteRepo{}
	opener := &fakeOpener{events: make(chan changeEvent, 1)}
	feed := newNoteFeed(repo, opener.open, quietLogger())
	feed.retryDelay = time.Millisecond

	var got collector
	sub, err := feed.Subscribe(context.Background(), "u1", got.deliver)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	opener.events <- changeEvent{ID: "note:a", Seq: "7-abc", Type: "note", Owner: "u1"}
	require.Eventually(t, func() bool { return got.count() >= 2 }, time.Second, 5*time.Millisecond)

	// Breaking the stream makes the next open resume from the last seq.
	opener.mu.Lock()
	old := opener.events
	opener.events = make(chan changeEvent)
	opener.mu.Unlock()
	close(old)

	require.Eventually(t, func() bool { return len(opener.sinceValues()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"now", "7-abc"}, opener.sinceValues())
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	repo := &fakeNoteRepo{}
	opener := &fakeOpener{events: make(chan changeEvent)}
	feed := newNoteFeed(repo, opener.open, quietLogger())

	var got collector
	sub, err := feed.Subscribe(context.Background(), "u1", got.deliver)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case opener.events <- changeEvent{ID: "note:a", Seq: "2", Type: "note", Owner: "u1"}:
		t.Fatal("feed goroutine still reading after Unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, got.count())
}

func TestSubscribeReturnsOpenError(t *testing.T) {
	feed := newNoteFeed(&fakeNoteRepo{}, func(ctx context.Context, since string) (changeStream, error) {
		return nil, errors.New("connection refused")
	}, quietLogger())

	_, err := feed.Subscribe(context.Background(), "u1", func([]domain.Note) {})
	assert.Error(t, err)
}

func TestProcessingRecordShape(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := newProcessingRecord(domain.Note{
		ID:        "n1",
		Owner:     "u1",
		ImageURL:  "https://files.example.com/owner/u1/notes/n1/original.png",
		ImagePath: "owner/u1/notes/n1/original.png",
	}, created)

	raw, err := json.Marshal(noteDoc{NoteRecord: record})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "note", doc["type"])
	assert.Equal(t, "u1", doc["owner"])
	assert.Equal(t, "processing", doc["status"])
	assert.Nil(t, doc["title"])
	assert.Nil(t, doc["markdownContent"])
	assert.Nil(t, doc["error"])
	assert.Contains(t, doc, "title")
	assert.NotContains(t, doc, "_id")
	assert.Equal(t, "owner/u1/notes/n1/original.png", doc["imagePath"])
}

func TestPatchFieldsOnlyNamesSetFields(t *testing.T) {
	fields := patchFields(domain.CompletedPatch("Title", "# Body"))
	assert.Equal(t, map[string]any{
		"status":          "completed",
		"title":           "Title",
		"markdownContent": "# Body",
	}, fields)

	fields = patchFields(domain.ErrorPatch("boom"))
	assert.Equal(t, map[string]any{"status": "error", "error": "boom"}, fields)

	assert.Empty(t, patchFields(domain.NotePatch{}))
}

func TestNoteIDFromDocID(t *testing.T) {
	id, ok := noteIDFromDocID("note:abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = noteIDFromDocID("user:abc")
	assert.False(t, ok)
}
