package internal

import (
	"github.com/arlogue/archivist/internal/event"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// mediaDataStore binds the stateless media store to a live database handle,
// presenting the plain method surface the services and controllers consume.
// Medium deletion additionally announces itself on the event bus so watch
// streams and activity sockets observe it.
type mediaDataStore struct {
	db       *sqlx.DB
	store    *media.Store
	eventBus event.EventDispatcher
}

func newMediaDataStore(db *sqlx.DB, store *media.Store, eventBus event.EventDispatcher) *mediaDataStore {
	return &mediaDataStore{db: db, store: store, eventBus: eventBus}
}

func (data *mediaDataStore) CreateMedium(medium *media.Medium) error {
	return data.store.CreateMedium(data.db, medium)
}

func (data *mediaDataStore) GetMedium(mediumID uuid.UUID, relations media.Relations) (*media.Medium, error) {
	return data.store.GetMedium(data.db, mediumID, relations)
}

func (data *mediaDataStore) DeleteMedium(mediumID uuid.UUID) error {
	if _, err := data.store.DeleteMedium(data.db, mediumID); err != nil {
		return err
	}

	data.eventBus.Dispatch(event.MEDIUM_DELETE, mediumID)
	data.eventBus.Dispatch(event.MEDIUM_UPDATE, mediumID)
	return nil
}

func (data *mediaDataStore) CreateReplica(replica *media.Replica) error {
	return data.store.CreateReplica(data.db, replica)
}

func (data *mediaDataStore) GetReplica(replicaID uuid.UUID) (*media.Replica, error) {
	return data.store.GetReplica(data.db, replicaID)
}

func (data *mediaDataStore) GetReplicaByURL(url objectstore.EntryURL) (*media.Replica, error) {
	return data.store.GetReplicaByURL(data.db, url)
}

func (data *mediaDataStore) GetReplicasForMedium(mediumID uuid.UUID) ([]*media.Replica, error) {
	return data.store.GetReplicasForMedium(data.db, mediumID)
}

func (data *mediaDataStore) PatchReplica(replicaID uuid.UUID, patch media.ReplicaPatch) (*media.Replica, error) {
	return data.store.PatchReplica(data.db, replicaID, patch)
}

func (data *mediaDataStore) DeleteReplica(replicaID uuid.UUID) (int, error) {
	return data.store.DeleteReplica(data.db, replicaID)
}
