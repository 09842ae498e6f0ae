package media

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/arlogue/archivist/internal/database"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrMediumNotFound      = errors.New("medium does not exist")
	ErrReplicaNotFound     = errors.New("replica does not exist")
	ErrReplicaURLNotFound  = errors.New("no replica exists for the given original url")
	ErrReplicaURLDuplicate = errors.New("a replica with the given original url already exists")
)

var log = logger.Get("MediaStore")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// Store persists media and replica rows. All methods accept a Queryable
// so they compose inside transactions where callers need them to.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (store *Store) CreateMedium(db database.Queryable, medium *Medium) error {
	err := db.Get(medium, `
		INSERT INTO media(id, title, created_at, updated_at)
		VALUES ($1, $2, current_timestamp, current_timestamp)
		RETURNING id, title, created_at, updated_at
	`, medium.ID, medium.Title)
	if err != nil {
		return fmt.Errorf("failed to insert new medium: %w", err)
	}

	return nil
}

// GetMedium fetches a medium row, hydrating only the relations requested.
func (store *Store) GetMedium(db database.Queryable, mediumID uuid.UUID, relations Relations) (*Medium, error) {
	var medium Medium
	if err := db.Get(&medium, `SELECT * FROM media WHERE id=$1`, mediumID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediumNotFound
		}
		return nil, fmt.Errorf("failed to fetch medium %s: %w", mediumID, err)
	}

	if relations.Has(RelationReplicas) {
		replicas, err := store.GetReplicasForMedium(db, mediumID)
		if err != nil {
			return nil, err
		}
		medium.Replicas = replicas
	}

	if relations.Has(RelationSources) {
		var sources []*Source
		if err := db.Select(&sources, `SELECT * FROM sources WHERE medium_id=$1 ORDER BY name`, mediumID); err != nil {
			return nil, fmt.Errorf("failed to fetch sources for medium %s: %w", mediumID, err)
		}
		medium.Sources = sources
	}

	if relations.Has(RelationTags) {
		var tags []*Tag
		err := db.Select(&tags, `
			SELECT tags.* FROM tags
			INNER JOIN media_tags ON media_tags.tag_id = tags.id
			WHERE media_tags.medium_id=$1
			ORDER BY tags.label
		`, mediumID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tags for medium %s: %w", mediumID, err)
		}
		medium.Tags = tags
	}

	return &medium, nil
}

// DeleteMedium removes a medium row. Owned replicas (and source/tag links)
// cascade at the schema level.
func (store *Store) DeleteMedium(db database.Queryable, mediumID uuid.UUID) (int, error) {
	result, err := db.Exec(`DELETE FROM media WHERE id=$1`, mediumID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete medium %s: %w", mediumID, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return 0, ErrMediumNotFound
	}

	return int(affected), nil
}

// CreateReplica inserts a replica row. A duplicate original_url fails with
// ErrReplicaURLDuplicate - uniqueness is enforced here by the schema, not
// by the pipeline.
func (store *Store) CreateReplica(db database.Queryable, replica *Replica) error {
	err := db.Get(replica, `
		INSERT INTO replicas(id, medium_id, display_order, original_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, current_timestamp, current_timestamp)
		RETURNING *
	`, replica.ID, replica.MediumID, replica.DisplayOrder, replica.OriginalURL, replica.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pqUniqueViolation:
				return fmt.Errorf("%w: %s", ErrReplicaURLDuplicate, replica.OriginalURL)
			case pqForeignKeyViolation:
				return fmt.Errorf("%w: replica insert for medium %s rejected", ErrMediumNotFound, replica.MediumID)
			}
		}

		return fmt.Errorf("failed to insert new replica: %w", err)
	}

	return nil
}

func (store *Store) GetReplica(db database.Queryable, replicaID uuid.UUID) (*Replica, error) {
	var replica Replica
	if err := db.Get(&replica, `SELECT * FROM replicas WHERE id=$1`, replicaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReplicaNotFound
		}
		return nil, fmt.Errorf("failed to fetch replica %s: %w", replicaID, err)
	}

	return &replica, nil
}

func (store *Store) GetReplicaByURL(db database.Queryable, url objectstore.EntryURL) (*Replica, error) {
	var replica Replica
	if err := db.Get(&replica, `SELECT * FROM replicas WHERE original_url=$1`, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReplicaURLNotFound
		}
		return nil, fmt.Errorf("failed to fetch replica by url %s: %w", url, err)
	}

	return &replica, nil
}

func (store *Store) GetReplicasForMedium(db database.Queryable, mediumID uuid.UUID) ([]*Replica, error) {
	var replicas []*Replica
	err := db.Select(&replicas, `
		SELECT * FROM replicas WHERE medium_id=$1 ORDER BY display_order, created_at
	`, mediumID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch replicas for medium %s: %w", mediumID, err)
	}

	return replicas, nil
}

// PatchReplica applies a sparse patch to a replica row, bumping updated_at,
// and returns the refreshed row. Fields left nil on the patch are untouched.
func (store *Store) PatchReplica(db database.Queryable, replicaID uuid.UUID, patch ReplicaPatch) (*Replica, error) {
	builder := squirrel.
		Update("replicas").
		Set("updated_at", squirrel.Expr("current_timestamp")).
		Where("id=?", replicaID).
		Suffix("RETURNING *")

	if patch.DisplayOrder != nil {
		builder = builder.Set("display_order", *patch.DisplayOrder)
	}
	if patch.OriginalURL != nil {
		builder = builder.Set("original_url", *patch.OriginalURL)
	}
	if patch.Status != nil {
		builder = builder.Set("status", *patch.Status)
	}
	if patch.ResetDerived {
		builder = builder.
			Set("mime_type", nil).
			Set("size", nil).
			Set("thumbnail_url", nil).
			Set("metadata", nil)
	} else {
		if patch.MimeType != nil {
			builder = builder.Set("mime_type", *patch.MimeType)
		}
		if patch.Size != nil {
			builder = builder.Set("size", *patch.Size)
		}
		if patch.ThumbnailURL != nil {
			builder = builder.Set("thumbnail_url", *patch.ThumbnailURL)
		}
		if patch.Metadata != nil {
			builder = builder.Set("metadata", database.NewJsonColumn(patch.Metadata))
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct replica patch query: %w", err)
	}

	var replica Replica
	if err := db.Get(&replica, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReplicaNotFound
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, fmt.Errorf("%w: patch of replica %s rejected", ErrReplicaURLDuplicate, replicaID)
		}

		return nil, fmt.Errorf("failed to patch replica %s: %w", replicaID, err)
	}

	return &replica, nil
}

// DeleteReplica removes the replica row, returning how many rows were
// affected. The backing object is NOT touched here - see the ingest
// service, which owns the best-effort object cleanup.
func (store *Store) DeleteReplica(db database.Queryable, replicaID uuid.UUID) (int, error) {
	result, err := db.Exec(`DELETE FROM replicas WHERE id=$1`, replicaID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete replica %s: %w", replicaID, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return 0, ErrReplicaNotFound
	}

	log.Emit(logger.REMOVE, "Deleted replica %s\n", replicaID)
	return int(affected), nil
}
