package media

import (
	"fmt"
	"time"

	"github.com/arlogue/archivist/internal/database"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/google/uuid"
)

type (
	ReplicaStatus string

	// ReplicaMetadata carries the image properties extracted during
	// processing, stored as a JSON document alongside the scalar derived
	// fields.
	ReplicaMetadata struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}

	// Replica is one physical stored copy of a mediums content, with
	// it's own processing lifecycle. MimeType, Size and ThumbnailURL are
	// unset while the replica is PROCESSING, all set once READY, and
	// left holding their last-known values when the replica lands in
	// ERROR (partial diagnostic state is deliberately preserved).
	//
	// ID and MediumID are immutable once the replica is created; a
	// replica belongs to exactly one medium for it's whole lifetime.
	Replica struct {
		ID           uuid.UUID             `db:"id"`
		MediumID     uuid.UUID             `db:"medium_id"`
		DisplayOrder int                   `db:"display_order"`
		OriginalURL  objectstore.EntryURL  `db:"original_url"`
		MimeType     *string               `db:"mime_type"`
		Size         *int64                `db:"size"`
		ThumbnailURL *objectstore.EntryURL `db:"thumbnail_url"`

		// Metadata is present exactly when the derived fields are.
		Metadata database.JsonColumn[ReplicaMetadata] `db:"metadata"`

		Status    ReplicaStatus `db:"status"`
		CreatedAt time.Time     `db:"created_at"`
		UpdatedAt time.Time     `db:"updated_at"`
	}

	// ReplicaPatch is a sparse update against a replica row: only the
	// fields which are non-nil are written, which lets the pipeline
	// transition status without clobbering unrelated fields (such as a
	// display order edited by a user while processing was in flight).
	// ResetDerived clears the processing-derived fields back to NULL,
	// used when a replica re-enters PROCESSING.
	ReplicaPatch struct {
		DisplayOrder *int
		OriginalURL  *objectstore.EntryURL
		MimeType     *string
		Size         *int64
		ThumbnailURL *objectstore.EntryURL
		Metadata     *ReplicaMetadata
		Status       *ReplicaStatus
		ResetDerived bool
	}
)

const (
	ProcessingStatus ReplicaStatus = "PROCESSING"
	ReadyStatus      ReplicaStatus = "READY"
	ErrorStatus      ReplicaStatus = "ERROR"
)

// Terminal reports whether the status is one from which no further
// automatic transition occurs (an explicit re-ingestion is required).
func (status ReplicaStatus) Terminal() bool {
	return status == ReadyStatus || status == ErrorStatus
}

func (replica *Replica) String() string {
	return fmt.Sprintf("Replica{ID=%s medium=%s status=%s}", replica.ID, replica.MediumID, replica.Status)
}
