package replicas

import (
	"errors"
	"io"
	"net/http"

	"github.com/arlogue/archivist/internal/api/medias"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	// Store serves replica reads for this controller.
	Store interface {
		GetReplica(replicaID uuid.UUID) (*media.Replica, error)
		GetReplicaByURL(url objectstore.EntryURL) (*media.Replica, error)
	}

	// IngestService performs the replica mutations; reingestion always
	// routes through it so the processing pipeline re-runs.
	IngestService interface {
		UpdateReplicaFromContent(replicaID uuid.UUID, content io.Reader) (*media.Replica, error)
		UpdateReplicaFromURL(replicaID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error)
		DeleteReplica(replicaID uuid.UUID) error
	}

	UpdateReplicaRequest struct {
		Url string `json:"url" validate:"required"`
	}

	ReplicaController struct {
		store    Store
		ingest   IngestService
		validate *validator.Validate
	}
)

func New(store Store, ingest IngestService) *ReplicaController {
	return &ReplicaController{store: store, ingest: ingest, validate: validator.New()}
}

func (controller *ReplicaController) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.getByURL)
	eg.GET("/:id/", controller.get)
	eg.PUT("/:id/content/", controller.updateContent)
	eg.PUT("/:id/url/", controller.updateURL)
	eg.DELETE("/:id/", controller.delete)
}

func (controller *ReplicaController) get(ec echo.Context) error {
	id, err := parseReplicaID(ec)
	if err != nil {
		return err
	}

	replica, err := controller.store.GetReplica(id)
	if err != nil {
		return mapError(err)
	}

	return ec.JSON(http.StatusOK, medias.NewReplicaDto(replica))
}

// getByURL resolves a replica from the object URL it owns, allowing callers
// which know only the storage location to find the catalog entry.
func (controller *ReplicaController) getByURL(ec echo.Context) error {
	url := ec.QueryParam("url")
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'url' is required")
	}

	replica, err := controller.store.GetReplicaByURL(objectstore.EntryURL(url))
	if err != nil {
		return mapError(err)
	}

	return ec.JSON(http.StatusOK, medias.NewReplicaDto(replica))
}

// updateContent replaces the replicas stored content with the uploaded
// multipart file field 'content' and reprocesses it.
func (controller *ReplicaController) updateContent(ec echo.Context) error {
	id, err := parseReplicaID(ec)
	if err != nil {
		return err
	}

	file, err := ec.FormFile("content")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request must carry a 'content' file")
	}

	source, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer source.Close()

	replica, err := controller.ingest.UpdateReplicaFromContent(id, source)
	if err != nil {
		return mapError(err)
	}

	return ec.JSON(http.StatusOK, medias.NewReplicaDto(replica))
}

// updateURL re-points the replica at already-stored content and reprocesses.
func (controller *ReplicaController) updateURL(ec echo.Context) error {
	id, err := parseReplicaID(ec)
	if err != nil {
		return err
	}

	var request UpdateReplicaRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	replica, err := controller.ingest.UpdateReplicaFromURL(id, objectstore.EntryURL(request.Url))
	if err != nil {
		return mapError(err)
	}

	return ec.JSON(http.StatusOK, medias.NewReplicaDto(replica))
}

func (controller *ReplicaController) delete(ec echo.Context) error {
	id, err := parseReplicaID(ec)
	if err != nil {
		return err
	}

	if err := controller.ingest.DeleteReplica(id); err != nil {
		return mapError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func parseReplicaID(ec echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Replica ID is not a valid UUID")
	}

	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, media.ErrReplicaNotFound) || errors.Is(err, media.ErrReplicaURLNotFound) || errors.Is(err, objectstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, media.ErrReplicaURLDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, objectstore.ErrPathInvalid) || errors.Is(err, objectstore.ErrURLInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
