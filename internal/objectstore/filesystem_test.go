package objectstore_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) objectstore.Store {
	store, err := objectstore.NewFilesystemStore(t.TempDir())
	require.Nil(t, err)
	return store
}

func putObject(t *testing.T, store objectstore.Store, url objectstore.EntryURL, policy objectstore.OverwritePolicy, content string) objectstore.PutStatus {
	_, status, writer, err := store.Put(url, policy)
	require.Nil(t, err)

	copied, err := objectstore.Copy(writer, strings.NewReader(content))
	require.Nil(t, err)
	require.Equal(t, int64(len(content)), copied)
	require.Nil(t, writer.Close())

	return status
}

func readObject(t *testing.T, store objectstore.Store, url objectstore.EntryURL) string {
	_, reader, err := store.Get(url)
	require.Nil(t, err)
	defer reader.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, reader)
	require.Nil(t, err)
	return buf.String()
}

func Test_Put_ThenGet_RoundTrips(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, err := store.URL("covers/a.png")
	require.Nil(t, err)

	status := putObject(t, store, url, objectstore.Fail, "payload")
	assert.Equal(t, objectstore.Created, status)
	assert.Equal(t, "payload", readObject(t, store, url))
}

func Test_Put_FailPolicy_RejectsExistingWithoutMutation(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("a.bin")
	putObject(t, store, url, objectstore.Fail, "original")

	_, _, _, err := store.Put(url, objectstore.Fail)
	assert.ErrorIs(t, err, objectstore.ErrConflict)
	assert.Equal(t, "original", readObject(t, store, url))
}

func Test_Put_OverwritePolicy_ReplacesExisting(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("a.bin")
	putObject(t, store, url, objectstore.Fail, "original")

	status := putObject(t, store, url, objectstore.Overwrite, "replacement")
	assert.Equal(t, objectstore.Existing, status)
	assert.Equal(t, "replacement", readObject(t, store, url))
}

// An open Put handle must not make partial bytes visible; the existing
// object is readable unchanged until the new write is closed.
func Test_Put_Overwrite_IsInvisibleUntilClose(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("a.bin")
	putObject(t, store, url, objectstore.Fail, "original")

	_, _, writer, err := store.Put(url, objectstore.Overwrite)
	require.Nil(t, err)
	_, err = writer.Write([]byte("partial"))
	require.Nil(t, err)

	assert.Equal(t, "original", readObject(t, store, url))

	require.Nil(t, writer.Close())
	assert.Equal(t, "partial", readObject(t, store, url))
}

func Test_Put_Abort_DiscardsWrittenBytes(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("a.bin")
	_, _, writer, err := store.Put(url, objectstore.Fail)
	require.Nil(t, err)
	_, err = writer.Write([]byte("partial"))
	require.Nil(t, err)

	require.Nil(t, writer.Abort())
	_, _, err = store.Get(url)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	// A closed-after-abort handle stays discarded.
	assert.Nil(t, writer.Close())
	_, _, err = store.Get(url)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func Test_Put_Abort_LeavesExistingObjectUntouched(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("a.bin")
	putObject(t, store, url, objectstore.Fail, "original")

	_, _, writer, err := store.Put(url, objectstore.Overwrite)
	require.Nil(t, err)
	_, err = writer.Write([]byte("partial"))
	require.Nil(t, err)
	require.Nil(t, writer.Abort())

	assert.Equal(t, "original", readObject(t, store, url))
}

func Test_Get_MissingObject_FailsWithNotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("missing.bin")
	_, _, err := store.Get(url)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func Test_Get_RejectsForeignScheme(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, err := objectstore.NewEntryURL("s3", "a.bin")
	require.Nil(t, err)

	_, _, err = store.Get(url)
	assert.ErrorIs(t, err, objectstore.ErrURLInvalid)
}

func Test_Delete_RemovesObject(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	url, _ := store.URL("a.bin")
	putObject(t, store, url, objectstore.Fail, "payload")

	count, err := store.Delete(url)
	assert.Nil(t, err)
	assert.Equal(t, 1, count)

	_, _, err = store.Get(url)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	_, err = store.Delete(url)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func Test_Delete_Container_CountsNestedObjects(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	first, _ := store.URL("replicas/a/original.png")
	second, _ := store.URL("replicas/a/sizes/small.png")
	third, _ := store.URL("replicas/a/sizes/large.png")
	putObject(t, store, first, objectstore.Fail, "a")
	putObject(t, store, second, objectstore.Fail, "b")
	putObject(t, store, third, objectstore.Fail, "c")

	prefix, _ := store.URL("replicas/a")
	count, err := store.Delete(prefix)
	require.Nil(t, err)
	assert.Equal(t, 3, count)

	_, _, err = store.Get(first)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func Test_List_ReturnsEntriesBeneathPrefix(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	first, _ := store.URL("covers/a.png")
	second, _ := store.URL("covers/nested/b.png")
	putObject(t, store, first, objectstore.Fail, "a")
	putObject(t, store, second, objectstore.Fail, "b")

	prefix, _ := store.URL("covers")
	entries, err := store.List(prefix)
	require.Nil(t, err)

	paths := make(map[string]objectstore.EntryKind, len(entries))
	for _, entry := range entries {
		paths[entry.Path] = entry.Kind
	}

	assert.Equal(t, objectstore.Object, paths["covers/a.png"])
	assert.Equal(t, objectstore.Object, paths["covers/nested/b.png"])
	assert.Equal(t, objectstore.Container, paths["covers/nested"])
}
