// Package blobstore keeps original note images on the local file system and
// resolves them to durable public URLs.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrNotFound = errors.New("blob not found")

// Store is the object storage the upload flow talks to.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Object, error)
	Delete(ctx context.Context, key string) error
}

type Object struct {
	Key         string
	URL         string
	Size        int64
	ContentType string
}

// FS implements Store under root and serves objects below publicBaseURL.
type FS struct {
	root          string
	publicBaseURL string
}

// NewFS creates root if needed.
func NewFS(root, publicBaseURL string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &FS{root: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (f *FS) Root() string {
	return f.root
}

// NoteImageKey is owner/{ownerId}/notes/{noteId}/original.{ext}.
func NoteImageKey(ownerID, noteID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return path.Join("owner", ownerID, "notes", noteID, "original."+ext)
}

// Extension returns the extension of filename without the dot, falling back
// to the one sniffed from head when the name has none.
func Extension(filename string, head []byte) string {
	if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if ext := strings.TrimPrefix(mimetype.Detect(head).Extension(), "."); ext != "" {
		return ext
	}
	return "bin"
}

// IsImage reports whether head sniffs as an image.
func IsImage(head []byte) bool {
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}

// URL returns the public URL of key.
func (f *FS) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return f.publicBaseURL + "/" + strings.Join(segments, "/")
}

// safePath rejects keys that resolve outside root.
func (f *FS) safePath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blobstore: empty key")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("blobstore: absolute keys not allowed: %s", key)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("blobstore: key escapes root: %s", key)
	}
	return abs, nil
}

// Put writes r atomically: tmp file, fsync, rename.
func (f *FS) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, fmt.Errorf("blobstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	mt, br, err := sniff(r)
	if err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("blobstore: read: %w", err)
	}
	n, err := io.Copy(tmp, br)
	if err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("blobstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("blobstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("blobstore: close: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return Object{}, fmt.Errorf("blobstore: rename: %w", err)
	}

	return Object{Key: key, URL: f.URL(key), Size: n, ContentType: mt}, nil
}

// Open returns a reader for key; callers close it.
func (f *FS) Open(key string) (*os.File, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", key, err)
	}
	return file, nil
}

// Delete removes key and prunes the now empty note directory.
func (f *FS) Delete(ctx context.Context, key string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	// best effort, fails harmlessly when the directory is not empty
	_ = os.Remove(filepath.Dir(abs))
	return nil
}

func sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}
