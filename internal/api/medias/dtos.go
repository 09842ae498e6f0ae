package medias

import (
	"time"

	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/google/uuid"
)

type (
	// ReplicaDto is the wire representation of a replica. The derived
	// fields (mimeType, size, thumbnailUrl) are null while the replica is
	// processing, and remain at their last known values after an errored
	// reingestion.
	ReplicaDto struct {
		Id           uuid.UUID              `json:"id"`
		MediumId     uuid.UUID              `json:"mediumId"`
		DisplayOrder int                    `json:"displayOrder"`
		OriginalUrl  objectstore.EntryURL   `json:"originalUrl"`
		MimeType     *string                `json:"mimeType"`
		Size         *int64                 `json:"size"`
		ThumbnailUrl *objectstore.EntryURL  `json:"thumbnailUrl"`
		Metadata     *media.ReplicaMetadata `json:"metadata"`
		Status       media.ReplicaStatus    `json:"status"`
		CreatedAt    time.Time              `json:"createdAt"`
		UpdatedAt    time.Time              `json:"updatedAt"`
	}

	SourceDto struct {
		Id   uuid.UUID `json:"id"`
		Name string    `json:"name"`
		Url  string    `json:"url"`
	}

	TagDto struct {
		Id       uuid.UUID  `json:"id"`
		ParentId *uuid.UUID `json:"parentId"`
		Label    string     `json:"label"`
	}

	MediumDto struct {
		Id        uuid.UUID    `json:"id"`
		Title     string       `json:"title"`
		CreatedAt time.Time    `json:"createdAt"`
		UpdatedAt time.Time    `json:"updatedAt"`
		Replicas  []ReplicaDto `json:"replicas,omitempty"`
		Sources   []SourceDto  `json:"sources,omitempty"`
		Tags      []TagDto     `json:"tags,omitempty"`
	}
)

func NewReplicaDto(replica *media.Replica) ReplicaDto {
	return ReplicaDto{
		Id:           replica.ID,
		MediumId:     replica.MediumID,
		DisplayOrder: replica.DisplayOrder,
		OriginalUrl:  replica.OriginalURL,
		MimeType:     replica.MimeType,
		Size:         replica.Size,
		ThumbnailUrl: replica.ThumbnailURL,
		Metadata:     replica.Metadata.Get(),
		Status:       replica.Status,
		CreatedAt:    replica.CreatedAt,
		UpdatedAt:    replica.UpdatedAt,
	}
}

func NewReplicaDtos(replicas []*media.Replica) []ReplicaDto {
	dtos := make([]ReplicaDto, len(replicas))
	for k, v := range replicas {
		dtos[k] = NewReplicaDto(v)
	}

	return dtos
}

func NewMediumDto(medium *media.Medium) MediumDto {
	dto := MediumDto{
		Id:        medium.ID,
		Title:     medium.Title,
		CreatedAt: medium.CreatedAt,
		UpdatedAt: medium.UpdatedAt,
		Replicas:  NewReplicaDtos(medium.Replicas),
	}

	for _, source := range medium.Sources {
		dto.Sources = append(dto.Sources, SourceDto{Id: source.ID, Name: source.Name, Url: source.URL})
	}
	for _, tag := range medium.Tags {
		dto.Tags = append(dto.Tags, TagDto{Id: tag.ID, ParentId: tag.ParentID, Label: tag.Label})
	}

	return dto
}
