// Tests for the replica ingestion pipeline. The object store and image
// processor are the real implementations (backed by a temp dir); only the
// persistence layer is substituted with an in-memory fake so the full
// register -> process -> terminal-status flow can be exercised without a
// database.
package ingest_test

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/arlogue/archivist/internal/database"
	"github.com/arlogue/archivist/internal/event"
	"github.com/arlogue/archivist/internal/image"
	"github.com/arlogue/archivist/internal/ingest"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

// fakeDataStore is an in-memory stand-in for the media store which honors
// the same sparse-patch and duplicate-url semantics.
type fakeDataStore struct {
	*sync.Mutex
	media    map[uuid.UUID]*media.Medium
	replicas map[uuid.UUID]*media.Replica
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		Mutex:    &sync.Mutex{},
		media:    make(map[uuid.UUID]*media.Medium),
		replicas: make(map[uuid.UUID]*media.Replica),
	}
}

func (store *fakeDataStore) CreateMedium(medium *media.Medium) error {
	store.Lock()
	defer store.Unlock()

	medium.CreatedAt = time.Now()
	medium.UpdatedAt = medium.CreatedAt
	store.media[medium.ID] = medium
	return nil
}

func (store *fakeDataStore) CreateReplica(replica *media.Replica) error {
	store.Lock()
	defer store.Unlock()

	for _, existing := range store.replicas {
		if existing.OriginalURL == replica.OriginalURL {
			return fmt.Errorf("%w: %s", media.ErrReplicaURLDuplicate, replica.OriginalURL)
		}
	}

	replica.CreatedAt = time.Now()
	replica.UpdatedAt = replica.CreatedAt
	copied := *replica
	store.replicas[replica.ID] = &copied
	return nil
}

func (store *fakeDataStore) GetReplica(replicaID uuid.UUID) (*media.Replica, error) {
	store.Lock()
	defer store.Unlock()

	replica, ok := store.replicas[replicaID]
	if !ok {
		return nil, media.ErrReplicaNotFound
	}

	copied := *replica
	return &copied, nil
}

func (store *fakeDataStore) PatchReplica(replicaID uuid.UUID, patch media.ReplicaPatch) (*media.Replica, error) {
	store.Lock()
	defer store.Unlock()

	replica, ok := store.replicas[replicaID]
	if !ok {
		return nil, media.ErrReplicaNotFound
	}

	if patch.DisplayOrder != nil {
		replica.DisplayOrder = *patch.DisplayOrder
	}
	if patch.OriginalURL != nil {
		replica.OriginalURL = *patch.OriginalURL
	}
	if patch.Status != nil {
		replica.Status = *patch.Status
	}
	if patch.ResetDerived {
		replica.MimeType = nil
		replica.Size = nil
		replica.ThumbnailURL = nil
		replica.Metadata = database.JsonColumn[media.ReplicaMetadata]{}
	} else {
		if patch.MimeType != nil {
			replica.MimeType = patch.MimeType
		}
		if patch.Size != nil {
			replica.Size = patch.Size
		}
		if patch.ThumbnailURL != nil {
			replica.ThumbnailURL = patch.ThumbnailURL
		}
		if patch.Metadata != nil {
			replica.Metadata = database.NewJsonColumn(patch.Metadata)
		}
	}
	replica.UpdatedAt = time.Now()

	copied := *replica
	return &copied, nil
}

func (store *fakeDataStore) DeleteReplica(replicaID uuid.UUID) (int, error) {
	store.Lock()
	defer store.Unlock()

	if _, ok := store.replicas[replicaID]; !ok {
		return 0, media.ErrReplicaNotFound
	}

	delete(store.replicas, replicaID)
	return 1, nil
}

func startService(t *testing.T, bus event.EventCoordinator) (*fakeDataStore, objectstore.Store, ingestOps) {
	objects, err := objectstore.NewFilesystemStore(t.TempDir())
	require.Nil(t, err)

	data := newFakeDataStore()
	processor := image.NewProcessor(100, 100)

	srv, err := ingest.New(ingest.Config{ProcessingParallelism: 2}, objects, processor, data, bus)
	require.Nil(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return data, objects, srv
}

// ingestOps is the surface of the ingest service under test.
type ingestOps interface {
	CreateReplicaFromContent(mediumID uuid.UUID, content io.Reader) (*media.Replica, error)
	CreateReplicaFromURL(mediumID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error)
	UpdateReplicaFromContent(replicaID uuid.UUID, content io.Reader) (*media.Replica, error)
	UpdateReplicaFromURL(replicaID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error)
	DeleteReplica(replicaID uuid.UUID) error
}

// encodePNG renders a solid PNG of the requested size in memory.
func encodePNG(t *testing.T, width int, height int) []byte {
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 100, B: 50, A: 255})
		}
	}

	var buf bytes.Buffer
	require.Nil(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// waitForTerminal polls the data store until the replica reaches a
// terminal status.
func waitForTerminal(t *testing.T, data *fakeDataStore, replicaID uuid.UUID) *media.Replica {
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		replica, err := data.GetReplica(replicaID)
		require.Nil(t, err)
		if replica.Status.Terminal() {
			return replica
		}

		time.Sleep(time.Millisecond * 10)
	}

	t.Fatalf("replica %s did not reach a terminal status in time", replicaID)
	return nil
}

func Test_CreateReplicaFromContent_ValidImage_ReachesReady(t *testing.T) {
	t.Parallel()
	bus := event.New()
	updates := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(updates, event.MEDIUM_UPDATE)

	data, objects, srv := startService(t, bus)
	mediumID := uuid.New()

	replica, err := srv.CreateReplicaFromContent(mediumID, bytes.NewReader(encodePNG(t, 10, 10)))
	require.Nil(t, err)
	assert.Equal(t, media.ProcessingStatus, replica.Status)
	assert.Equal(t, mediumID, replica.MediumID)
	assert.Nil(t, replica.MimeType)
	assert.Nil(t, replica.Size)
	assert.Nil(t, replica.ThumbnailURL)

	terminal := waitForTerminal(t, data, replica.ID)
	require.Equal(t, media.ReadyStatus, terminal.Status)
	require.NotNil(t, terminal.MimeType)
	require.NotNil(t, terminal.Size)
	require.NotNil(t, terminal.ThumbnailURL)
	assert.Equal(t, "image/png", *terminal.MimeType)
	assert.Greater(t, *terminal.Size, int64(0))
	require.NotNil(t, terminal.Metadata.Get())
	assert.Equal(t, media.ReplicaMetadata{Width: 10, Height: 10}, *terminal.Metadata.Get())

	// The thumbnail object exists in the store.
	_, reader, err := objects.Get(*terminal.ThumbnailURL)
	require.Nil(t, err)
	reader.Close()

	// Exactly one medium-changed publish for the terminal transition.
	select {
	case handlerEvent := <-updates:
		assert.Equal(t, mediumID, handlerEvent.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected a MEDIUM_UPDATE dispatch")
	}
	select {
	case <-updates:
		t.Fatal("expected exactly one MEDIUM_UPDATE dispatch")
	case <-time.After(time.Millisecond * 100):
	}
}

func Test_CreateReplicaFromContent_UndecodableBytes_ReachesError(t *testing.T) {
	t.Parallel()
	data, _, srv := startService(t, event.New())

	replica, err := srv.CreateReplicaFromContent(uuid.New(), bytes.NewReader([]byte("not an image")))
	require.Nil(t, err)

	terminal := waitForTerminal(t, data, replica.ID)
	assert.Equal(t, media.ErrorStatus, terminal.Status)
	assert.Nil(t, terminal.MimeType)
	assert.Nil(t, terminal.Size)
	assert.Nil(t, terminal.ThumbnailURL)
	assert.Nil(t, terminal.Metadata.Get())
}

func Test_CreateReplicaFromURL_MissingObject_FailsRegistration(t *testing.T) {
	t.Parallel()
	_, objects, srv := startService(t, event.New())

	url, err := objects.URL("nowhere/missing.png")
	require.Nil(t, err)

	_, err = srv.CreateReplicaFromURL(uuid.New(), url)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func Test_CreateReplicaFromURL_DuplicateURL_FailsWithConflict(t *testing.T) {
	t.Parallel()
	data, objects, srv := startService(t, event.New())

	// Seed an object and a first replica pointing at it.
	url, err := objects.URL("shared/a.png")
	require.Nil(t, err)
	_, _, writer, err := objects.Put(url, objectstore.Fail)
	require.Nil(t, err)
	_, err = writer.Write(encodePNG(t, 10, 10))
	require.Nil(t, err)
	require.Nil(t, writer.Close())

	first, err := srv.CreateReplicaFromURL(uuid.New(), url)
	require.Nil(t, err)
	waitForTerminal(t, data, first.ID)

	_, err = srv.CreateReplicaFromURL(uuid.New(), url)
	assert.ErrorIs(t, err, media.ErrReplicaURLDuplicate)
}

func Test_UpdateReplicaFromContent_ResetsAndReprocesses(t *testing.T) {
	t.Parallel()
	data, _, srv := startService(t, event.New())

	replica, err := srv.CreateReplicaFromContent(uuid.New(), bytes.NewReader(encodePNG(t, 10, 10)))
	require.Nil(t, err)
	firstPass := waitForTerminal(t, data, replica.ID)
	require.Equal(t, media.ReadyStatus, firstPass.Status)

	// Reingest with a larger image; the replica immediately re-enters
	// PROCESSING with derived fields cleared.
	updated, err := srv.UpdateReplicaFromContent(replica.ID, bytes.NewReader(encodePNG(t, 40, 40)))
	require.Nil(t, err)
	assert.Equal(t, media.ProcessingStatus, updated.Status)
	assert.Nil(t, updated.MimeType)
	assert.Nil(t, updated.Size)
	assert.Nil(t, updated.ThumbnailURL)
	assert.Nil(t, updated.Metadata.Get())
	assert.Equal(t, firstPass.OriginalURL, updated.OriginalURL)

	secondPass := waitForTerminal(t, data, replica.ID)
	require.Equal(t, media.ReadyStatus, secondPass.Status)
	assert.Greater(t, *secondPass.Size, *firstPass.Size)
	require.NotNil(t, secondPass.Metadata.Get())
	assert.Equal(t, 40, secondPass.Metadata.Get().Width)
}

func Test_DeleteReplica_RemovesRowAndObjects(t *testing.T) {
	t.Parallel()
	data, objects, srv := startService(t, event.New())

	replica, err := srv.CreateReplicaFromContent(uuid.New(), bytes.NewReader(encodePNG(t, 10, 10)))
	require.Nil(t, err)
	terminal := waitForTerminal(t, data, replica.ID)

	require.Nil(t, srv.DeleteReplica(replica.ID))

	_, err = data.GetReplica(replica.ID)
	assert.ErrorIs(t, err, media.ErrReplicaNotFound)

	_, _, err = objects.Get(terminal.OriginalURL)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
	_, _, err = objects.Get(*terminal.ThumbnailURL)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

// flakyReader yields its payload and then fails, simulating an upload
// stream which dies mid-transfer.
type flakyReader struct {
	data []byte
	err  error
}

func (reader *flakyReader) Read(p []byte) (int, error) {
	return copy(p, reader.data), reader.err
}

func Test_UpdateReplicaFromContent_FailedStream_PreservesExistingObject(t *testing.T) {
	t.Parallel()
	data, objects, srv := startService(t, event.New())

	original := encodePNG(t, 10, 10)
	replica, err := srv.CreateReplicaFromContent(uuid.New(), bytes.NewReader(original))
	require.Nil(t, err)
	firstPass := waitForTerminal(t, data, replica.ID)
	require.Equal(t, media.ReadyStatus, firstPass.Status)

	_, err = srv.UpdateReplicaFromContent(replica.ID, &flakyReader{data: []byte("PARTIAL"), err: io.ErrUnexpectedEOF})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// The stored object still holds the original bytes, and the replica
	// row was never disturbed.
	_, reader, err := objects.Get(firstPass.OriginalURL)
	require.Nil(t, err)
	defer reader.Close()
	stored, err := io.ReadAll(reader)
	require.Nil(t, err)
	assert.Equal(t, original, stored)

	current, err := data.GetReplica(replica.ID)
	require.Nil(t, err)
	assert.Equal(t, media.ReadyStatus, current.Status)
}

func Test_CreateReplicaFromContent_FailedStream_LeavesNoObjectBehind(t *testing.T) {
	t.Parallel()
	_, objects, srv := startService(t, event.New())

	_, err := srv.CreateReplicaFromContent(uuid.New(), &flakyReader{data: []byte("PARTIAL"), err: io.ErrUnexpectedEOF})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// No object was published; only the (empty) parent container may
	// remain from the aborted write.
	prefix, err := objects.URL("replicas")
	require.Nil(t, err)
	entries, err := objects.List(prefix)
	require.Nil(t, err)
	for _, entry := range entries {
		assert.NotEqual(t, objectstore.Object, entry.Kind, "object '%s' left behind by failed stream", entry.Path)
	}
}

func Test_SiblingFailure_DoesNotAffectOtherReplicas(t *testing.T) {
	t.Parallel()
	data, _, srv := startService(t, event.New())
	mediumID := uuid.New()

	good, err := srv.CreateReplicaFromContent(mediumID, bytes.NewReader(encodePNG(t, 10, 10)))
	require.Nil(t, err)
	bad, err := srv.CreateReplicaFromContent(mediumID, bytes.NewReader([]byte("garbage")))
	require.Nil(t, err)

	assert.Equal(t, media.ReadyStatus, waitForTerminal(t, data, good.ID).Status)
	assert.Equal(t, media.ErrorStatus, waitForTerminal(t, data, bad.ID).Status)
}
