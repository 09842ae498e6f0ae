package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/arlogue/archivist/internal/api"
	"github.com/arlogue/archivist/internal/database"
	"github.com/arlogue/archivist/internal/event"
	"github.com/arlogue/archivist/internal/image"
	"github.com/arlogue/archivist/internal/ingest"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/notifier"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// IngestService is the surface of the replica pipeline the gateway
	// and the core consume.
	IngestService interface {
		RunnableService
		CreateReplicaFromContent(mediumID uuid.UUID, content io.Reader) (*media.Replica, error)
		CreateReplicaFromURL(mediumID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error)
		UpdateReplicaFromContent(replicaID uuid.UUID, content io.Reader) (*media.Replica, error)
		UpdateReplicaFromURL(replicaID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error)
		DeleteReplica(replicaID uuid.UUID) error
	}
)

// archivistImpl is the top-level object for the server, responsible for
// initialising the stores, services, event handling, et cetera...
type archivistImpl struct {
	eventBus event.EventCoordinator
	config   ArchivistConfig
	registry *notifier.Notifier
}

func New(config ArchivistConfig) *archivistImpl {
	return &archivistImpl{
		eventBus: event.New(),
		config:   config,
		registry: notifier.New(),
	}
}

// Run brings up the database connection, stores and services, and does not
// return until the provided context is cancelled or a service suffers an
// unrecoverable failure.
func (archivist *archivistImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(archivist.config.Database); err != nil {
		return err
	}

	dataStore := newMediaDataStore(db.GetSqlxDb(), media.NewStore(), archivist.eventBus)

	storePath, err := archivist.config.ObjectStorePath()
	if err != nil {
		return err
	}
	objectStore, err := objectstore.NewFilesystemStore(storePath)
	if err != nil {
		return fmt.Errorf("failed to open object store at %s: %w", storePath, err)
	}

	processor := image.NewProcessor(archivist.config.Store.ThumbnailWidth, archivist.config.Store.ThumbnailHeight)
	ingestService, err := ingest.New(archivist.config.Ingest, objectStore, processor, dataStore, archivist.eventBus)
	if err != nil {
		return fmt.Errorf("failed to construct ingest service: %w", err)
	}

	watchService := notifier.NewWatchService(archivist.registry, dataStore)
	relay := notifier.NewPostgresRelay(archivist.config.Database.DSN(), archivist.registry)
	restGateway := api.NewRestGateway(&archivist.config.Rest, dataStore, ingestService, watchService)

	archivist.bridgeEvents(dataStore, restGateway)

	wg := &sync.WaitGroup{}
	archivist.spawnAsyncService(ctx, wg, ingestService, "ingest-service", crashHandler)
	archivist.spawnAsyncService(ctx, wg, restGateway, "rest-gateway", crashHandler)
	archivist.spawnAsyncService(ctx, wg, runnable(relay.Run), "notification-relay", crashHandler)
	log.Emit(logger.SUCCESS, "Archivist services spawned!\n")

	wg.Wait()
	return nil
}

// bridgeEvents connects the in-process event bus to the change notifier and
// the activity socket: every committed medium change wakes local watchers
// directly, is relayed to peer nodes through postgres, and is broadcast to
// connected activity clients.
func (archivist *archivistImpl) bridgeEvents(dataStore *mediaDataStore, gateway *api.RestGateway) {
	archivist.eventBus.RegisterAsyncHandlerFunction(event.MEDIUM_UPDATE, func(_ event.Event, payload event.Payload) {
		mediumID := payload.(uuid.UUID)
		archivist.registry.Publish(mediumID)
		if err := notifier.NotifyMediumChange(dataStore.db, mediumID); err != nil {
			log.Emit(logger.WARNING, "Failed to relay change of medium %s to peers: %v\n", mediumID, err)
		}
		if err := gateway.BroadcastMediumUpdate(mediumID); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast update of medium %s: %v\n", mediumID, err)
		}
	})

	archivist.eventBus.RegisterAsyncHandlerFunction(event.MEDIUM_DELETE, func(_ event.Event, payload event.Payload) {
		mediumID := payload.(uuid.UUID)
		if err := gateway.BroadcastMediumDelete(mediumID); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast deletion of medium %s: %v\n", mediumID, err)
		}
	})

	archivist.eventBus.RegisterAsyncHandlerFunction(event.REPLICA_COMPLETE, func(_ event.Event, payload event.Payload) {
		replicaID := payload.(uuid.UUID)
		replica, err := dataStore.GetReplica(replicaID)
		if err != nil {
			if !errors.Is(err, media.ErrReplicaNotFound) {
				log.Emit(logger.WARNING, "Failed to load completed replica %s for broadcast: %v\n", replicaID, err)
			}
			return
		}

		if err := gateway.BroadcastReplicaComplete(replica); err != nil {
			log.Emit(logger.WARNING, "Failed to broadcast completion of replica %s: %v\n", replicaID, err)
		}
	})
}

// spawnAsyncService runs the provided service as it's own goroutine,
// ensuring the service waitgroup is updated correctly and that a panic or
// error from the service trips the crash handler.
func (archivist *archivistImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// runnable adapts a bare Run function to the RunnableService interface.
type runnable func(context.Context) error

func (fn runnable) Run(ctx context.Context) error {
	return fn(ctx)
}
