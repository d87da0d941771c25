package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"inkscribe-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	defaultFeedRetryDelay = 2 * time.Second
	maxFeedRetryDelay     = 30 * time.Second
	feedHeartbeat         = 30 * time.Second
	feedSinceNow          = "now"
)

// Subscription is a live snapshot stream. Unsubscribe blocks until no
// further delivery can happen and may be called more than once.
type Subscription interface {
	Unsubscribe()
}

// NoteSubscriber is what a session needs to follow one owner's notes.
type NoteSubscriber interface {
	Subscribe(ctx context.Context, owner string, deliver func([]domain.Note)) (Subscription, error)
}

type changeEvent struct {
	ID      string
	Seq     string
	Deleted bool
	Type    string
	Owner   string
}

type changeStream interface {
	Next() bool
	Event() changeEvent
	Err() error
	Close() error
}

type changeOpener func(ctx context.Context, since string) (changeStream, error)

// NoteFeed turns the database change feed into full snapshots per owner.
type NoteFeed struct {
	notes      NoteRepository
	open       changeOpener
	logger     *slog.Logger
	retryDelay time.Duration
}

func NewNoteFeed(client *kivik.Client, dbName string, notes NoteRepository, logger *slog.Logger) *NoteFeed {
	db := client.DB(dbName)
	return newNoteFeed(notes, func(ctx context.Context, since string) (changeStream, error) {
		changes := db.Changes(ctx, kivik.Params(map[string]interface{}{
			"feed":         "continuous",
			"since":        since,
			"include_docs": true,
			"heartbeat":    int(feedHeartbeat / time.Millisecond),
		}))
		if err := changes.Err(); err != nil {
			return nil, err
		}
		return &kivikChanges{changes: changes}, nil
	}, logger)
}

func newNoteFeed(notes NoteRepository, open changeOpener, logger *slog.Logger) *NoteFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteFeed{
		notes:      notes,
		open:       open,
		logger:     logger,
		retryDelay: defaultFeedRetryDelay,
	}
}

// Subscribe opens the feed, delivers an initial snapshot and then a fresh
// snapshot after every change that may concern owner.
func (f *NoteFeed) Subscribe(ctx context.Context, owner string, deliver func([]domain.Note)) (Subscription, error) {
	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Open before the first snapshot so no change falls between the two.
	stream, err := f.open(feedCtx, feedSinceNow)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open note feed: %w", err)
	}

	sub := &noteSubscription{cancel: cancel, done: make(chan struct{})}
	go f.run(feedCtx, owner, stream, deliver, sub.done)
	return sub, nil
}

func (f *NoteFeed) run(ctx context.Context, owner string, stream changeStream, deliver func([]domain.Note), done chan<- struct{}) {
	defer close(done)
	log := f.logger.With("owner", owner)

	f.snapshot(ctx, owner, deliver, log)

	since := feedSinceNow
	delay := f.retryDelay
	for {
		for stream.Next() {
			ev := stream.Event()
			if ev.Seq != "" {
				since = ev.Seq
			}
			if !relevant(ev, owner) {
				continue
			}
			f.snapshot(ctx, owner, deliver, log)
			delay = f.retryDelay
		}
		err := stream.Err()
		_ = stream.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn("note feed interrupted, reopening", "since", since, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxFeedRetryDelay)

		next, err := f.open(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("failed to reopen note feed", "error", err)
			stream = emptyStream{err: err}
			continue
		}
		stream = next
		f.snapshot(ctx, owner, deliver, log)
	}
}

func (f *NoteFeed) snapshot(ctx context.Context, owner string, deliver func([]domain.Note), log *slog.Logger) {
	notes, err := f.notes.ListByOwner(ctx, owner)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("failed to load note snapshot", "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	deliver(notes)
}

// relevant reports whether a change may alter owner's snapshot. Deletions
// carry no body, so every deleted note counts.
func relevant(ev changeEvent, owner string) bool {
	if _, ok := noteIDFromDocID(ev.ID); !ok {
		return false
	}
	if ev.Deleted {
		return true
	}
	return ev.Type == domain.NoteRecordType && ev.Owner == owner
}

type noteSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *noteSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

type kivikChanges struct {
	changes *kivik.Changes
}

func (c *kivikChanges) Next() bool   { return c.changes.Next() }
func (c *kivikChanges) Err() error   { return c.changes.Err() }
func (c *kivikChanges) Close() error { return c.changes.Close() }

func (c *kivikChanges) Event() changeEvent {
	ev := changeEvent{
		ID:      c.changes.ID(),
		Seq:     c.changes.Seq(),
		Deleted: c.changes.Deleted(),
	}
	if ev.Deleted {
		return ev
	}
	var doc struct {
		Type  string `json:"type"`
		Owner string `json:"owner"`
	}
	if err := c.changes.ScanDoc(&doc); err == nil {
		ev.Type = doc.Type
		ev.Owner = doc.Owner
	}
	return ev
}

// emptyStream ends immediately with err, sending run back to its retry.
type emptyStream struct{ err error }

func (emptyStream) Next() bool         { return false }
func (emptyStream) Event() changeEvent { return changeEvent{} }
func (s emptyStream) Err() error       { return s.err }
func (emptyStream) Close() error       { return nil }
