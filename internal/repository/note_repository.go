package repository

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkscribe-server/internal/apperr"
	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/notestore"

	"github.com/go-kivik/kivik/v4"
)

const (
	noteDocPrefix   = "note:"
	mergeMaxRetries = 3
	// _find returns 25 documents unless told otherwise.
	listLimit = 10000
)

type NoteRepository interface {
	// CreateProcessing writes the first record for a note. The record's
	// createdAt is assigned here.
	CreateProcessing(ctx context.Context, note domain.Note) (domain.Note, error)
	// Merge overlays the patch's fields onto the stored record.
	Merge(ctx context.Context, id string, patch domain.NotePatch) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*domain.Note, error)
	ListByOwner(ctx context.Context, owner string) ([]domain.Note, error)
}

type noteRepository struct {
	client *kivik.Client
	dbName string
	now    func() time.Time
}

func NewNoteRepository(client *kivik.Client, dbName string) NoteRepository {
	return &noteRepository{
		client: client,
		dbName: dbName,
		now:    time.Now,
	}
}

// noteDoc is the stored shape: CouchDB metadata plus the record body.
type noteDoc struct {
	DocID string `json:"_id,omitempty"`
	Rev   string `json:"_rev,omitempty"`
	domain.NoteRecord
}

func noteDocID(id string) string {
	return noteDocPrefix + id
}

func noteIDFromDocID(docID string) (string, bool) {
	if !strings.HasPrefix(docID, noteDocPrefix) {
		return "", false
	}
	return strings.TrimPrefix(docID, noteDocPrefix), true
}

func newProcessingRecord(note domain.Note, createdAt time.Time) domain.NoteRecord {
	return domain.NoteRecord{
		ID:        note.ID,
		Type:      domain.NoteRecordType,
		Owner:     note.Owner,
		Status:    domain.NoteStatusProcessing,
		CreatedAt: createdAt.UTC(),
		ImageURL:  note.ImageURL,
		ImagePath: note.ImagePath,
	}
}

// patchFields lists the record fields a patch names. Fields the patch
// leaves nil are absent so the merge does not touch them.
func patchFields(patch domain.NotePatch) map[string]any {
	fields := make(map[string]any)
	if patch.Status != nil {
		fields["status"] = string(*patch.Status)
	}
	if patch.Title != nil {
		fields["title"] = *patch.Title
	}
	if patch.MarkdownContent != nil {
		fields["markdownContent"] = *patch.MarkdownContent
	}
	if patch.Error != nil {
		fields["error"] = *patch.Error
	}
	if patch.ImageURL != nil {
		fields["imageUrl"] = *patch.ImageURL
	}
	if patch.ImagePath != nil {
		fields["imagePath"] = *patch.ImagePath
	}
	return fields
}

func (r *noteRepository) CreateProcessing(ctx context.Context, note domain.Note) (domain.Note, error) {
	db := r.client.DB(r.dbName)

	record := newProcessingRecord(note, r.now())
	if _, err := db.Put(ctx, noteDocID(note.ID), noteDoc{NoteRecord: record}); err != nil {
		return domain.Note{}, fmt.Errorf("failed to create note record: %w", err)
	}

	return record.ToNote(), nil
}

func (r *noteRepository) Merge(ctx context.Context, id string, patch domain.NotePatch) error {
	db := r.client.DB(r.dbName)
	docID := noteDocID(id)
	fields := patchFields(patch)

	var lastErr error
	for attempt := 0; attempt < mergeMaxRetries; attempt++ {
		var existingDoc map[string]interface{}
		if err := db.Get(ctx, docID).ScanDoc(&existingDoc); err != nil {
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				return fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
			}
			return fmt.Errorf("failed to fetch note for merge: %w", err)
		}

		for k, v := range fields {
			existingDoc[k] = v
		}

		_, err := db.Put(ctx, docID, existingDoc)
		if err == nil {
			return nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return fmt.Errorf("failed to merge note: %w", err)
		}
		lastErr = err
	}

	return fmt.Errorf("failed to merge note after %d attempts: %w", mergeMaxRetries, lastErr)
}

func (r *noteRepository) Delete(ctx context.Context, id string) error {
	db := r.client.DB(r.dbName)
	docID := noteDocID(id)

	rev, err := db.GetRev(ctx, docID)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to read note revision: %w", err)
	}

	if _, err := db.Delete(ctx, docID, rev); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	return nil
}

func (r *noteRepository) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	db := r.client.DB(r.dbName)

	var doc noteDoc
	if err := db.Get(ctx, noteDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}

	doc.NoteRecord.ID = id
	note := doc.NoteRecord.ToNote()
	return &note, nil
}

// ListByOwner returns the owner's notes newest first.
func (r *noteRepository) ListByOwner(ctx context.Context, owner string) ([]domain.Note, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type":  domain.NoteRecordType,
			"owner": owner,
		},
		"limit": listLimit,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]domain.Note, 0)
	for rows.Next() {
		var doc noteDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		id, ok := noteIDFromDocID(doc.DocID)
		if !ok {
			continue
		}
		doc.NoteRecord.ID = id
		notes = append(notes, doc.NoteRecord.ToNote())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}

	notestore.SortNewestFirst(notes)
	return notes, nil
}
