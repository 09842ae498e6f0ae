package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
	"github.com/rjeczalik/notify"
)

// watchImportDirectory monitors the configured import path and ingests any
// file dropped in to it as a replica of a freshly created medium. The OS
// file system watcher is supplemented by a periodic forced sync in case
// the watcher fails. Files are removed from the import directory once
// their bytes have been safely registered in the object store.
func (service *ingestService) watchImportDirectory(ctx context.Context) error {
	if info, err := os.Stat(service.config.ImportPath); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("import path '%s' is not a directory", service.config.ImportPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		os.MkdirAll(service.config.ImportPath, os.ModeDir|os.ModePerm)
	} else {
		return fmt.Errorf("import path '%s' could not be accessed: %w", service.config.ImportPath, err)
	}

	fsNotifyChannel := make(chan notify.EventInfo, 8)
	if err := notify.Watch(filepath.Join(service.config.ImportPath, "..."), fsNotifyChannel, notify.Create, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch import path '%s': %w", service.config.ImportPath, err)
	}
	defer notify.Stop(fsNotifyChannel)

	forceSyncChannel := time.NewTicker(time.Second * time.Duration(service.config.ForceSyncSeconds))
	defer forceSyncChannel.Stop()

	inflight := make(map[string]bool)
	service.discoverImportableFiles(inflight)

	for {
		select {
		case <-fsNotifyChannel:
			service.discoverImportableFiles(inflight)
		case <-forceSyncChannel.C:
			service.discoverImportableFiles(inflight)
		case <-ctx.Done():
			return nil
		}
	}
}

// discoverImportableFiles scans the import path and ingests any file which
// is not already being handled and whose modtime is old enough that we can
// assume the copy in to the directory has finished.
func (service *ingestService) discoverImportableFiles(inflight map[string]bool) {
	minModtimeAge := service.config.RequiredModTimeAgeDuration()

	err := filepath.WalkDir(service.config.ImportPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil || dir.IsDir() || inflight[path] {
			return err
		}

		info, err := dir.Info()
		if err != nil {
			return err
		}
		if time.Since(info.ModTime()) < minModtimeAge {
			// Likely still being written; the forced sync will retry.
			return nil
		}

		inflight[path] = true
		if err := service.importFile(path); err != nil {
			log.Emit(logger.ERROR, "Failed to import '%s': %v\n", path, err)
			delete(inflight, path)
			return nil
		}

		if err := os.Remove(path); err != nil {
			log.Emit(logger.WARNING, "Imported file '%s' could not be removed: %v\n", path, err)
		}
		delete(inflight, path)
		return nil
	})
	if err != nil {
		log.Emit(logger.ERROR, "Import directory scan failed: %v\n", err)
	}
}

// importFile creates a new medium titled after the file and registers the
// file's content as it's first replica.
func (service *ingestService) importFile(path string) error {
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	medium := &media.Medium{ID: uuid.New(), Title: title}
	if err := service.data.CreateMedium(medium); err != nil {
		return fmt.Errorf("failed to create medium for import: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	if _, err := service.CreateReplicaFromContent(medium.ID, file); err != nil {
		return err
	}

	log.Emit(logger.NEW, "Imported '%s' as medium %s\n", path, medium.ID)
	return nil
}
