package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/arlogue/archivist/internal/event"
	"github.com/arlogue/archivist/internal/image"
	"github.com/arlogue/archivist/internal/ingest"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/arlogue/archivist/tests/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startImportingService runs the ingest service with the import directory
// watcher enabled against the provided path. The modtime threshold is zeroed
// so dropped files are picked up immediately.
func startImportingService(t *testing.T, importPath string) *fakeDataStore {
	objects, err := objectstore.NewFilesystemStore(t.TempDir())
	require.Nil(t, err)

	data := newFakeDataStore()
	srv, err := ingest.New(ingest.Config{
		ProcessingParallelism:     2,
		ImportPath:                importPath,
		ForceSyncSeconds:          1,
		RequiredModTimeAgeSeconds: 0,
	}, objects, image.NewProcessor(100, 100), data, event.New())
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

	return data
}

// waitForImport polls the data store until a medium with the given title
// exists and it's replica has reached a terminal status.
func waitForImport(t *testing.T, data *fakeDataStore, title string) (*media.Medium, *media.Replica) {
	deadline := time.Now().Add(time.Second * 10)
	for time.Now().Before(deadline) {
		if medium, replica := findImport(data, title); replica != nil && replica.Status.Terminal() {
			return medium, replica
		}

		time.Sleep(time.Millisecond * 25)
	}

	t.Fatalf("no terminal replica appeared for imported medium %q in time", title)
	return nil, nil
}

func findImport(data *fakeDataStore, title string) (*media.Medium, *media.Replica) {
	data.Lock()
	defer data.Unlock()

	for _, medium := range data.media {
		if medium.Title != title {
			continue
		}

		for _, replica := range data.replicas {
			if replica.MediumID == medium.ID {
				copiedMedium, copiedReplica := *medium, *replica
				return &copiedMedium, &copiedReplica
			}
		}
	}

	return nil, nil
}

func Test_ImportDirectory_DroppedImage_IngestedAndRemoved(t *testing.T) {
	importPath := t.TempDir()
	data := startImportingService(t, importPath)

	droppedPath := filepath.Join(importPath, "sunset.png")
	require.Nil(t, os.WriteFile(droppedPath, helpers.EncodePNG(t, 10, 10), 0o644))

	medium, replica := waitForImport(t, data, "sunset")
	assert.Equal(t, "sunset", medium.Title)
	assert.Equal(t, media.ReadyStatus, replica.Status)
	require.NotNil(t, replica.MimeType)
	assert.Equal(t, "image/png", *replica.MimeType)

	// The source file is removed once it's bytes are safely stored.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(droppedPath)
		return os.IsNotExist(err)
	}, time.Second*5, time.Millisecond*25)
}

func Test_ImportDirectory_PreexistingUndecodableFile_LandsInError(t *testing.T) {
	// An (empty, undecodable) file already present before the watcher
	// starts is discovered by the initial scan; the medium is still
	// created, with it's replica parking in ERROR.
	importPath, _ := helpers.TempDirWithFiles(t, []string{"corrupt.dat"})
	data := startImportingService(t, importPath)

	_, replica := waitForImport(t, data, "corrupt")
	assert.Equal(t, media.ErrorStatus, replica.Status)
	assert.Nil(t, replica.MimeType)
	assert.Nil(t, replica.ThumbnailURL)
}
