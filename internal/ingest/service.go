package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/arlogue/archivist/internal/event"
	"github.com/arlogue/archivist/internal/image"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/arlogue/archivist/pkg/worker"
	"github.com/google/uuid"
)

var log = logger.Get("IngestServ")

type (
	processor interface {
		Process(source io.ReadSeeker) (*image.OriginalImage, *image.ThumbnailImage, error)
	}

	// DataStore is the persistence surface the ingest service needs:
	// replica rows with sparse patching, plus medium creation for the
	// import directory watcher.
	DataStore interface {
		CreateMedium(medium *media.Medium) error
		CreateReplica(replica *media.Replica) error
		GetReplica(replicaID uuid.UUID) (*media.Replica, error)
		PatchReplica(replicaID uuid.UUID, patch media.ReplicaPatch) (*media.Replica, error)
		DeleteReplica(replicaID uuid.UUID) (int, error)
	}

	// ingestService drives replicas from registration through processing
	// to a terminal status. Registration (object write + row insert) is
	// performed synchronously on the callers goroutine; everything after
	// that point runs on the services bounded worker pool and fails in
	// to the replica's own state rather than the original request.
	ingestService struct {
		*sync.Mutex

		store     objectstore.Store
		processor processor
		data      DataStore
		eventBus  event.EventCoordinator

		config     Config
		queue      []*processingTask
		workerPool *worker.WorkerPool
	}

	// processingTask captures everything the async half of the pipeline
	// needs by value. The task is owned by whichever worker claims it,
	// so no two terminal updates can race for the same replica.
	processingTask struct {
		replicaID uuid.UUID
		mediumID  uuid.UUID
		url       objectstore.EntryURL
		claimed   bool
	}
)

// New creates a new ingest service. The worker pool is populated here but
// not started; see Run.
func New(config Config, store objectstore.Store, proc processor, data DataStore, eventBus event.EventCoordinator) (*ingestService, error) {
	if config.ProcessingParallelism < 1 {
		return nil, fmt.Errorf("ingest processing parallelism must be at least 1, got %d", config.ProcessingParallelism)
	}

	service := &ingestService{
		Mutex:      &sync.Mutex{},
		store:      store,
		processor:  proc,
		data:       data,
		eventBus:   eventBus,
		config:     config,
		queue:      make([]*processingTask, 0),
		workerPool: worker.NewWorkerPool(),
	}

	for i := 0; i < config.ProcessingParallelism; i++ {
		label := fmt.Sprintf("replica-processor-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.PerformReplicaProcessing))
	}

	return service, nil
}

// Run is the main entry point of this service: it starts the processing
// worker pool and (if configured) the import directory watcher, and blocks
// until the provided context is cancelled.
func (service *ingestService) Run(ctx context.Context) error {
	if err := service.workerPool.Start(); err != nil {
		return err
	}
	defer service.workerPool.Close()

	if service.config.ImportPath != "" {
		if err := service.watchImportDirectory(ctx); err != nil {
			return err
		}
	} else {
		<-ctx.Done()
	}

	return nil
}

// CreateReplicaFromContent registers a new replica for the given medium by
// streaming the provided content in to a freshly allocated object URL. The
// returned replica is in PROCESSING status; metadata extraction and
// thumbnail generation complete asynchronously and are observable via
// fetch or watch.
//
// Only a failure of this registration step is surfaced to the caller.
func (service *ingestService) CreateReplicaFromContent(mediumID uuid.UUID, content io.Reader) (*media.Replica, error) {
	replicaID := uuid.New()
	url, err := service.store.URL(fmt.Sprintf("replicas/%s/original", replicaID))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate object url for new replica: %w", err)
	}

	// A freshly allocated URL must never silently replace an unrelated
	// object, hence Fail semantics.
	if err := service.writeObject(url, objectstore.Fail, content); err != nil {
		return nil, err
	}

	replica := &media.Replica{
		ID:          replicaID,
		MediumID:    mediumID,
		OriginalURL: url,
		Status:      media.ProcessingStatus,
	}
	if err := service.data.CreateReplica(replica); err != nil {
		if _, deleteErr := service.store.Delete(url); deleteErr != nil {
			log.Emit(logger.WARNING, "Failed to clean up object %s after registration failure: %v\n", url, deleteErr)
		}
		return nil, err
	}

	log.Emit(logger.NEW, "Registered replica %s for medium %s\n", replica, mediumID)
	service.enqueue(replica)
	return replica, nil
}

// CreateReplicaFromURL registers a new replica pointing at content which
// already exists in the object store. The object is fetched up-front so a
// dangling URL fails registration rather than the async pipeline.
func (service *ingestService) CreateReplicaFromURL(mediumID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error) {
	_, reader, err := service.store.Get(url)
	if err != nil {
		return nil, err
	}
	reader.Close()

	replica := &media.Replica{
		ID:          uuid.New(),
		MediumID:    mediumID,
		OriginalURL: url,
		Status:      media.ProcessingStatus,
	}
	if err := service.data.CreateReplica(replica); err != nil {
		return nil, err
	}

	log.Emit(logger.NEW, "Registered replica %s for medium %s (existing object)\n", replica, mediumID)
	service.enqueue(replica)
	return replica, nil
}

// UpdateReplicaFromContent overwrites the object owned by an existing
// replica with new content and re-runs the processing pipeline. The replica
// re-enters PROCESSING with it's derived fields cleared.
func (service *ingestService) UpdateReplicaFromContent(replicaID uuid.UUID, content io.Reader) (*media.Replica, error) {
	replica, err := service.data.GetReplica(replicaID)
	if err != nil {
		return nil, err
	}

	// The URL is already owned by this replica, so replacement is legal.
	if err := service.writeObject(replica.OriginalURL, objectstore.Overwrite, content); err != nil {
		return nil, err
	}

	return service.reprocess(replica, media.ReplicaPatch{
		Status:       statusPtr(media.ProcessingStatus),
		ResetDerived: true,
	})
}

// UpdateReplicaFromURL re-points an existing replica at already-stored
// content and re-runs the processing pipeline.
func (service *ingestService) UpdateReplicaFromURL(replicaID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error) {
	replica, err := service.data.GetReplica(replicaID)
	if err != nil {
		return nil, err
	}

	_, reader, err := service.store.Get(url)
	if err != nil {
		return nil, err
	}
	reader.Close()

	return service.reprocess(replica, media.ReplicaPatch{
		OriginalURL:  &url,
		Status:       statusPtr(media.ProcessingStatus),
		ResetDerived: true,
	})
}

// DeleteReplica removes the replica row first, then best-effort deletes the
// backing objects. A failed object deletion leaves the row deleted - a
// storage leak is preferred over a dangling, inaccessible replica.
func (service *ingestService) DeleteReplica(replicaID uuid.UUID) error {
	replica, err := service.data.GetReplica(replicaID)
	if err != nil {
		return err
	}

	if _, err := service.data.DeleteReplica(replicaID); err != nil {
		return err
	}

	if _, err := service.store.Delete(replica.OriginalURL); err != nil {
		log.Emit(logger.WARNING, "Failed to delete object %s backing replica %s: %v\n", replica.OriginalURL, replicaID, err)
	}
	if replica.ThumbnailURL != nil {
		if _, err := service.store.Delete(*replica.ThumbnailURL); err != nil {
			log.Emit(logger.WARNING, "Failed to delete thumbnail %s of replica %s: %v\n", *replica.ThumbnailURL, replicaID, err)
		}
	}

	service.eventBus.Dispatch(event.MEDIUM_UPDATE, replica.MediumID)
	return nil
}

// PerformReplicaProcessing is the worker function for the ingest service,
// called by the services worker pool. It claims the first unclaimed task
// it finds and runs the decode/resize pipeline against it.
func (service *ingestService) PerformReplicaProcessing(w worker.Worker) (bool, error) {
	task := service.claimTask()
	if task == nil {
		return false, nil
	}

	service.processTask(task)
	return true, nil
}

// processTask runs the async half of the pipeline for one replica. Any
// failure is recovered locally in to an ERROR status on the replica; it is
// never surfaced to the request which initiated the ingestion. Exactly one
// MEDIUM_UPDATE is dispatched per terminal transition.
func (service *ingestService) processTask(task *processingTask) {
	patch, err := service.deriveReplicaPatch(task)
	if err != nil {
		log.Emit(logger.ERROR, "Processing of replica %s failed: %v\n", task.replicaID, err)
		patch = media.ReplicaPatch{Status: statusPtr(media.ErrorStatus)}
	}

	if _, err := service.data.PatchReplica(task.replicaID, patch); err != nil {
		// The replica may have been deleted mid-flight; there is nothing
		// left to transition in that case.
		if errors.Is(err, media.ErrReplicaNotFound) {
			log.Emit(logger.REMOVE, "Replica %s disappeared during processing\n", task.replicaID)
			return
		}

		log.Emit(logger.ERROR, "Failed to commit terminal status for replica %s: %v\n", task.replicaID, err)
		return
	}

	log.Emit(logger.SUCCESS, "Replica %s transitioned to %s\n", task.replicaID, *patch.Status)
	service.eventBus.Dispatch(event.REPLICA_COMPLETE, task.replicaID)
	service.eventBus.Dispatch(event.MEDIUM_UPDATE, task.mediumID)
}

// deriveReplicaPatch reads the stored object and produces the READY patch
// (mime type, size, thumbnail) for the replica, storing the generated
// thumbnail alongside the original.
func (service *ingestService) deriveReplicaPatch(task *processingTask) (media.ReplicaPatch, error) {
	_, reader, err := service.store.Get(task.url)
	if err != nil {
		return media.ReplicaPatch{}, fmt.Errorf("failed to open stored object: %w", err)
	}
	defer reader.Close()

	size, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return media.ReplicaPatch{}, fmt.Errorf("failed to size stored object: %w", err)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return media.ReplicaPatch{}, fmt.Errorf("failed to rewind stored object: %w", err)
	}

	original, thumbnail, err := service.processor.Process(reader)
	if err != nil {
		return media.ReplicaPatch{}, err
	}

	thumbURL, err := service.store.URL(fmt.Sprintf("replicas/%s/thumbnail.png", task.replicaID))
	if err != nil {
		return media.ReplicaPatch{}, err
	}

	// Reprocessing legitimately replaces a previous thumbnail.
	if err := service.writeObject(thumbURL, objectstore.Overwrite, bytes.NewReader(thumbnail.Bytes)); err != nil {
		return media.ReplicaPatch{}, fmt.Errorf("failed to store thumbnail: %w", err)
	}

	return media.ReplicaPatch{
		Status:       statusPtr(media.ReadyStatus),
		MimeType:     &original.MimeType,
		Size:         &size,
		ThumbnailURL: &thumbURL,
		Metadata:     &media.ReplicaMetadata{Width: original.Width, Height: original.Height},
	}, nil
}

// writeObject streams content in to the store at the given URL under the
// given policy, closing the handle (which is what publishes the bytes). A
// stream which fails mid-copy aborts the put, so a partial upload can
// never replace (or appear as) a stored object.
func (service *ingestService) writeObject(url objectstore.EntryURL, policy objectstore.OverwritePolicy, content io.Reader) error {
	_, _, writer, err := service.store.Put(url, policy)
	if err != nil {
		return err
	}

	if _, err := objectstore.Copy(writer, content); err != nil {
		writer.Abort()
		return fmt.Errorf("failed to stream content to %s: %w", url, err)
	}

	return writer.Close()
}

// reprocess commits the PROCESSING patch and enqueues the replica for the
// worker pool.
func (service *ingestService) reprocess(replica *media.Replica, patch media.ReplicaPatch) (*media.Replica, error) {
	patched, err := service.data.PatchReplica(replica.ID, patch)
	if err != nil {
		return nil, err
	}

	log.Emit(logger.INFO, "Replica %s re-entered processing\n", patched)
	service.enqueue(patched)
	return patched, nil
}

// enqueue appends a processing task for the replica and wakes the pool.
//
// Note: this function takes ownership of the mutex, and releases it when
// returning.
func (service *ingestService) enqueue(replica *media.Replica) {
	service.Lock()
	service.queue = append(service.queue, &processingTask{
		replicaID: replica.ID,
		mediumID:  replica.MediumID,
		url:       replica.OriginalURL,
	})
	service.Unlock()

	service.workerPool.WakeupWorkers()
}

// claimTask will try and find an unclaimed task in the queue and mark it
// claimed to prevent another worker from picking it up once the mutex lock
// is released.
//
// Note: this function takes ownership of the mutex, and releases it when
// returning.
func (service *ingestService) claimTask() *processingTask {
	service.Lock()
	defer service.Unlock()

	for idx, task := range service.queue {
		if !task.claimed {
			task.claimed = true
			service.queue = append(service.queue[:idx], service.queue[idx+1:]...)
			return task
		}
	}

	return nil
}

func statusPtr(status media.ReplicaStatus) *media.ReplicaStatus {
	return &status
}
