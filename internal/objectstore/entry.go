package objectstore

import (
	"fmt"
	"path"
	"strings"
)

type (
	EntryKind int

	// Entry describes an addressable item inside of a store. It is the
	// stores own description of the item, returned from Put/Get/List.
	Entry struct {
		Name string
		Path string
		Kind EntryKind
	}

	// EntryURL is an opaque, scheme-prefixed identifier for a stored
	// object (e.g. 'file:///covers/a.png'). The path portion is always
	// relative to the owning store's root.
	EntryURL string
)

const (
	Container EntryKind = iota
	Object
	Unknown
)

const urlSeparator = ":///"

func (kind EntryKind) String() string {
	switch kind {
	case Container:
		return "CONTAINER"
	case Object:
		return "OBJECT"
	default:
		return "UNKNOWN"
	}
}

// NewEntryURL constructs an EntryURL from a scheme and a store-relative
// path. The path is normalized before being embedded in the URL; paths
// whose normalized form escapes the store root (by way of '..' segments
// or an absolute path) are rejected with ErrPathInvalid.
func NewEntryURL(scheme string, relPath string) (EntryURL, error) {
	normalized, err := normalizePath(relPath)
	if err != nil {
		return "", err
	}

	if scheme == "" {
		return "", fmt.Errorf("%w: scheme must not be empty", ErrURLInvalid)
	}

	return EntryURL(scheme + urlSeparator + normalized), nil
}

// Split breaks an EntryURL in to it's scheme and store-relative path. The
// path returned has been re-validated, so a URL constructed by hand with a
// traversal sequence embedded still fails here with ErrPathInvalid.
func (url EntryURL) Split() (scheme string, relPath string, err error) {
	idx := strings.Index(string(url), urlSeparator)
	if idx <= 0 {
		return "", "", fmt.Errorf("%w: '%s' is not a scheme-prefixed url", ErrURLInvalid, url)
	}

	scheme = string(url[:idx])
	relPath, err = normalizePath(string(url[idx+len(urlSeparator):]))
	if err != nil {
		return "", "", err
	}

	return scheme, relPath, nil
}

// PathFor returns the store-relative path of the URL, ensuring the URLs
// scheme matches the one expected. A mismatched scheme fails with
// ErrURLInvalid.
func (url EntryURL) PathFor(expectedScheme string) (string, error) {
	scheme, relPath, err := url.Split()
	if err != nil {
		return "", err
	}

	if scheme != expectedScheme {
		return "", fmt.Errorf("%w: scheme '%s' does not match store scheme '%s'", ErrURLInvalid, scheme, expectedScheme)
	}

	return relPath, nil
}

func (url EntryURL) String() string { return string(url) }

// normalizePath cleans the provided path and ensures the result stays
// within the store root. Cleaning is lossless for paths which contain no
// traversal sequences.
func normalizePath(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: path must not be empty", ErrPathInvalid)
	}
	if strings.HasPrefix(relPath, "/") {
		return "", fmt.Errorf("%w: path '%s' must be relative to the store root", ErrPathInvalid, relPath)
	}

	cleaned := path.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." {
		return "", fmt.Errorf("%w: path '%s' escapes the store root", ErrPathInvalid, relPath)
	}

	return cleaned, nil
}
