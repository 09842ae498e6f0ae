package media

import (
	"time"

	"github.com/google/uuid"
)

type (
	// Relations selects which related collections should be hydrated
	// when fetching a medium. Watch subscriptions pass through the
	// relations the original request asked for so refreshing a snapshot
	// only performs the joins the caller cares about.
	Relations uint8

	// Medium is the logical catalog entry an end user sees. It owns an
	// ordered collection of replicas; deleting a medium deletes them.
	// Related rows are stored flat and keyed by id - parent/child tag
	// links are id references resolved on read.
	Medium struct {
		ID        uuid.UUID `db:"id"`
		Title     string    `db:"title"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`

		// Hydrated on demand, see Relations.
		Replicas []*Replica `db:"-"`
		Sources  []*Source  `db:"-"`
		Tags     []*Tag     `db:"-"`
	}

	// Source records where a mediums content was contributed from.
	Source struct {
		ID       uuid.UUID `db:"id"`
		MediumID uuid.UUID `db:"medium_id"`
		Name     string    `db:"name"`
		URL      string    `db:"url"`
	}

	// Tag is a flat taxonomy row; the tree shape is expressed through
	// ParentID references rather than nested ownership.
	Tag struct {
		ID       uuid.UUID  `db:"id"`
		ParentID *uuid.UUID `db:"parent_id"`
		Label    string     `db:"label"`
	}
)

const (
	RelationReplicas Relations = 1 << iota
	RelationSources
	RelationTags

	AllRelations = RelationReplicas | RelationSources | RelationTags
)

func (relations Relations) Has(relation Relations) bool {
	return relations&relation != 0
}

// Freshness is the mediums externally visible modification time: the
// maximum updated_at across the medium itself and it's hydrated replicas.
func (medium *Medium) Freshness() time.Time {
	freshness := medium.UpdatedAt
	for _, replica := range medium.Replicas {
		if replica.UpdatedAt.After(freshness) {
			freshness = replica.UpdatedAt
		}
	}

	return freshness
}
