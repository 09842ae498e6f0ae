package objectstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arlogue/archivist/pkg/logger"
)

// FilesystemScheme is the scheme served by the filesystem store.
const FilesystemScheme = "file"

var log = logger.Get("ObjectStore")

// FilesystemStore stores objects as plain files beneath a root directory.
// Writes land in a temporary file first and are published with an atomic
// rename, so concurrent readers never observe a partially written object.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at the provided directory.
// If the directory is missing it will be created; if the path provided
// points to an existing FILE, an error is returned.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if info, err := os.Stat(root); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("store root '%s' is not a directory", root)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(root, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("store root '%s' could not be created: %w", root, err)
		}
	} else {
		return nil, fmt.Errorf("store root '%s' could not be accessed: %w", root, err)
	}

	return &FilesystemStore{root: root}, nil
}

func (store *FilesystemStore) Scheme() string { return FilesystemScheme }

func (store *FilesystemStore) URL(relPath string) (EntryURL, error) {
	return NewEntryURL(FilesystemScheme, relPath)
}

// Put opens a writable handle for the object at the given URL. The bytes
// written are only published (atomic rename over the final path) when the
// returned handle is closed; Abort discards them, leaving the existing
// object untouched.
func (store *FilesystemStore) Put(url EntryURL, policy OverwritePolicy) (*Entry, PutStatus, PutHandle, error) {
	absPath, relPath, err := store.resolve(url)
	if err != nil {
		return nil, 0, nil, err
	}

	status := Created
	if _, err := os.Stat(absPath); err == nil {
		if policy == Fail {
			return nil, 0, nil, fmt.Errorf("%w: put of '%s' rejected", ErrConflict, url)
		}
		status = Existing
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil, fmt.Errorf("failed to stat '%s': %w", url, err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), os.ModeDir|os.ModePerm); err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create parent directory for '%s': %w", url, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".put-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create temporary file for '%s': %w", url, err)
	}

	entry := &Entry{Name: filepath.Base(relPath), Path: relPath, Kind: Object}
	writer := &fsWriter{file: tmp, tmpPath: tmp.Name(), finalPath: absPath, policy: policy}
	return entry, status, writer, nil
}

// Get opens the object at the given URL for reading, failing with
// ErrNotFound if no object exists there.
func (store *FilesystemStore) Get(url EntryURL) (*Entry, ReadSeekCloser, error) {
	absPath, relPath, err := store.resolve(url)
	if err != nil {
		return nil, nil, err
	}

	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		return nil, nil, fmt.Errorf("%w: '%s'", ErrNotFound, url)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open '%s': %w", url, err)
	}

	return &Entry{Name: filepath.Base(relPath), Path: relPath, Kind: Object}, file, nil
}

// List walks the store beneath the given prefix and returns an entry for
// each item found (directories included, described as containers). A prefix
// which does not exist yields an empty listing, not an error.
func (store *FilesystemStore) List(prefix EntryURL) ([]*Entry, error) {
	absPath, _, err := store.resolve(prefix)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return []*Entry{}, nil
	}

	entries := make([]*Entry, 0)
	err = filepath.WalkDir(absPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == absPath {
			return nil
		}

		relPath, err := filepath.Rel(store.root, path)
		if err != nil {
			return err
		}

		kind := Object
		if dir.IsDir() {
			kind = Container
		}

		entries = append(entries, &Entry{Name: dir.Name(), Path: filepath.ToSlash(relPath), Kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list '%s': %w", prefix, err)
	}

	return entries, nil
}

// Delete removes the object (or container, recursively) at the given URL,
// returning the number of objects removed. ErrNotFound is returned when
// nothing exists at the URL.
func (store *FilesystemStore) Delete(url EntryURL) (int, error) {
	absPath, _, err := store.resolve(url)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: '%s'", ErrNotFound, url)
	} else if err != nil {
		return 0, fmt.Errorf("failed to stat '%s': %w", url, err)
	}

	if !info.IsDir() {
		if err := os.Remove(absPath); err != nil {
			return 0, fmt.Errorf("failed to delete '%s': %w", url, err)
		}
		return 1, nil
	}

	count := 0
	err = filepath.WalkDir(absPath, func(_ string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !dir.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to inventory '%s' for deletion: %w", url, err)
	}

	if err := os.RemoveAll(absPath); err != nil {
		return 0, fmt.Errorf("failed to delete '%s': %w", url, err)
	}

	return count, nil
}

// resolve translates an EntryURL in to an absolute filesystem path,
// enforcing the scheme and root-escape checks performed by PathFor.
func (store *FilesystemStore) resolve(url EntryURL) (string, string, error) {
	relPath, err := url.PathFor(FilesystemScheme)
	if err != nil {
		return "", "", err
	}

	return filepath.Join(store.root, filepath.FromSlash(relPath)), relPath, nil
}

// fsWriter accumulates written bytes in a temporary file and publishes
// them over the final path on Close.
type fsWriter struct {
	file      *os.File
	tmpPath   string
	finalPath string
	policy    OverwritePolicy
	closed    bool
}

func (w *fsWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *fsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("failed to sync object: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to close object: %w", err)
	}

	// Re-check for a racing Put under the Fail policy; existing bytes
	// are never replaced by a rejected write.
	if w.policy == Fail {
		if _, err := os.Stat(w.finalPath); err == nil {
			os.Remove(w.tmpPath)
			return fmt.Errorf("%w: object appeared during write", ErrConflict)
		}
	}

	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("failed to publish object: %w", err)
	}

	return nil
}

// Abort discards the temporary file without publishing it. Any object
// previously at the final path is untouched. Idempotent, and a no-op once
// the handle has been closed.
func (w *fsWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.discard()
	return nil
}

// discard closes and removes the temporary file.
func (w *fsWriter) discard() {
	w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Emit(logger.WARNING, "Failed to remove temporary file '%s': %v\n", w.tmpPath, err)
	}
}
