package api

import (
	"errors"

	"github.com/arlogue/archivist/internal/api/medias"
	"github.com/arlogue/archivist/internal/http/websocket"
	"github.com/arlogue/archivist/internal/media"
	"github.com/google/uuid"
)

const (
	TITLE_MEDIUM_UPDATE    = "MEDIUM_UPDATE"
	TITLE_MEDIUM_DELETE    = "MEDIUM_DELETE"
	TITLE_REPLICA_COMPLETE = "REPLICA_COMPLETE"
)

type (
	MediumUpdate struct {
		MediumId uuid.UUID         `json:"medium_id"`
		Medium   *medias.MediumDto `json:"medium"`
	}

	MediumDelete struct {
		MediumId uuid.UUID `json:"medium_id"`
	}

	ReplicaComplete struct {
		ReplicaId uuid.UUID          `json:"replica_id"`
		Replica   *medias.ReplicaDto `json:"replica"`
	}

	// broadcaster pushes catalog activity to every client connected to
	// the activity socket.
	broadcaster struct {
		socketHub  *websocket.SocketHub
		mediaStore medias.Store
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, mediaStore medias.Store) *broadcaster {
	return &broadcaster{socketHub, mediaStore}
}

// BroadcastMediumUpdate pushes a fresh snapshot of the medium to all
// connected clients. A medium deleted between the triggering change and this
// read is announced as a deletion instead.
func (hub *broadcaster) BroadcastMediumUpdate(id uuid.UUID) error {
	medium, err := hub.mediaStore.GetMedium(id, media.AllRelations)
	if err != nil {
		if errors.Is(err, media.ErrMediumNotFound) {
			return hub.BroadcastMediumDelete(id)
		}

		return err
	}

	dto := medias.NewMediumDto(medium)
	hub.broadcast(TITLE_MEDIUM_UPDATE, MediumUpdate{MediumId: id, Medium: &dto})
	return nil
}

func (hub *broadcaster) BroadcastMediumDelete(id uuid.UUID) error {
	hub.broadcast(TITLE_MEDIUM_DELETE, MediumDelete{MediumId: id})
	return nil
}

func (hub *broadcaster) BroadcastReplicaComplete(replica *media.Replica) error {
	dto := medias.NewReplicaDto(replica)
	hub.broadcast(TITLE_REPLICA_COMPLETE, ReplicaComplete{ReplicaId: replica.ID, Replica: &dto})
	return nil
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
