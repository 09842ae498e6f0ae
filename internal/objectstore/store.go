// Package objectstore provides scheme-addressed byte storage for replica
// content. A store translates opaque EntryURLs to whatever addressing the
// backing medium uses; the filesystem store is the default implementation
// but anything which can satisfy the Store contract is substitutable.
package objectstore

import (
	"errors"
	"io"
)

type (
	// OverwritePolicy controls what a Put does when an object already
	// exists at the target URL.
	OverwritePolicy int

	PutStatus int

	ReadSeekCloser interface {
		io.Reader
		io.Seeker
		io.Closer
	}

	// PutHandle is the writable side of an in-flight Put. The bytes
	// written are only published when Close returns nil; Abort discards
	// them, leaving whatever object previously existed at the URL
	// untouched. A writer whose source stream fails mid-copy MUST Abort,
	// never Close.
	PutHandle interface {
		io.WriteCloser
		Abort() error
	}

	// Store is the abstract contract over scheme-addressed byte storage.
	//
	// Put returns a writable handle; the object only becomes visible to
	// readers once the handle is closed. An existing object is replaced
	// atomically under the Overwrite policy - concurrent readers observe
	// either the old bytes or the new bytes, never a partial write.
	Store interface {
		Scheme() string
		URL(relPath string) (EntryURL, error)
		Put(url EntryURL, policy OverwritePolicy) (*Entry, PutStatus, PutHandle, error)
		Get(url EntryURL) (*Entry, ReadSeekCloser, error)
		List(prefix EntryURL) ([]*Entry, error)
		Delete(url EntryURL) (int, error)
	}
)

const (
	// Fail causes Put to reject with ErrConflict when an object already
	// exists at the target URL, leaving the existing bytes untouched.
	Fail OverwritePolicy = iota
	// Overwrite causes Put to atomically replace any existing object.
	Overwrite
)

const (
	Created PutStatus = iota
	Existing
)

var (
	ErrPathInvalid = errors.New("object path is invalid")
	ErrURLInvalid  = errors.New("object url is invalid")
	ErrConflict    = errors.New("object already exists")
	ErrNotFound    = errors.New("object not found")
)

// Copy streams the source in to the destination without buffering the
// whole object in memory, returning the number of bytes copied.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
