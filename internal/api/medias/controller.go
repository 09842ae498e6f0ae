package medias

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/internal/objectstore"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var log = logger.Get("MediaAPI")

type (
	// Store is where this controller reads catalog state from; this is
	// typically the database-bound media store.
	Store interface {
		CreateMedium(medium *media.Medium) error
		GetMedium(mediumID uuid.UUID, relations media.Relations) (*media.Medium, error)
		DeleteMedium(mediumID uuid.UUID) error
		GetReplicasForMedium(mediumID uuid.UUID) ([]*media.Replica, error)
	}

	// IngestService accepts new replica content on behalf of a medium.
	IngestService interface {
		CreateReplicaFromContent(mediumID uuid.UUID, content io.Reader) (*media.Replica, error)
		CreateReplicaFromURL(mediumID uuid.UUID, url objectstore.EntryURL) (*media.Replica, error)
	}

	// WatchService serves live snapshot streams for a medium.
	WatchService interface {
		WatchMediumByID(ctx context.Context, mediumID uuid.UUID, relations media.Relations) (<-chan *media.Medium, error)
	}

	CreateMediumRequest struct {
		Title string `json:"title" validate:"required"`
	}

	CreateReplicaRequest struct {
		Url string `json:"url" validate:"required"`
	}

	MediaController struct {
		store    Store
		ingest   IngestService
		watcher  WatchService
		validate *validator.Validate
	}
)

var watchUpgrader = &websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New(store Store, ingest IngestService, watcher WatchService) *MediaController {
	return &MediaController{
		store:    store,
		ingest:   ingest,
		watcher:  watcher,
		validate: validator.New(),
	}
}

func (controller *MediaController) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.GET("/:id/replicas/", controller.listReplicas)
	eg.POST("/:id/replicas/", controller.createReplica)
	eg.GET("/:id/watch/", controller.watch)
}

// create registers a new (empty) medium in the catalog.
func (controller *MediaController) create(ec echo.Context) error {
	var request CreateMediumRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	medium := &media.Medium{ID: uuid.New(), Title: request.Title}
	if err := controller.store.CreateMedium(medium); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusCreated, NewMediumDto(medium))
}

// get returns the medium with the relations selected by the 'include' query
// parameter (defaulting to everything) hydrated.
func (controller *MediaController) get(ec echo.Context) error {
	id, err := parseMediumID(ec)
	if err != nil {
		return err
	}

	relations, err := parseRelations(ec)
	if err != nil {
		return err
	}

	medium, err := controller.store.GetMedium(id, relations)
	if err != nil {
		return mapStoreError(err)
	}

	return ec.JSON(http.StatusOK, NewMediumDto(medium))
}

func (controller *MediaController) delete(ec echo.Context) error {
	id, err := parseMediumID(ec)
	if err != nil {
		return err
	}

	if err := controller.store.DeleteMedium(id); err != nil {
		return mapStoreError(err)
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *MediaController) listReplicas(ec echo.Context) error {
	id, err := parseMediumID(ec)
	if err != nil {
		return err
	}

	replicas, err := controller.store.GetReplicasForMedium(id)
	if err != nil {
		return mapStoreError(err)
	}

	return ec.JSON(http.StatusOK, NewReplicaDtos(replicas))
}

// createReplica attaches new replica content to a medium. Content is either
// uploaded directly as the multipart file field 'content', or referenced by
// an already-stored object URL in a JSON body. The replica is returned in
// it's PROCESSING state; processing failures land on the replica itself.
func (controller *MediaController) createReplica(ec echo.Context) error {
	id, err := parseMediumID(ec)
	if err != nil {
		return err
	}

	if file, err := ec.FormFile("content"); err == nil {
		source, err := file.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer source.Close()

		replica, err := controller.ingest.CreateReplicaFromContent(id, source)
		if err != nil {
			return mapStoreError(err)
		}

		return ec.JSON(http.StatusCreated, NewReplicaDto(replica))
	}

	var request CreateReplicaRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request must carry a 'content' file or a JSON body with a 'url'")
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	replica, err := controller.ingest.CreateReplicaFromURL(id, objectstore.EntryURL(request.Url))
	if err != nil {
		return mapStoreError(err)
	}

	return ec.JSON(http.StatusCreated, NewReplicaDto(replica))
}

// watch upgrades the request to a websocket and streams medium snapshots on
// it until the medium is deleted or the client disconnects. Each message is
// a full MediumDto; bursts of change are coalesced server-side.
func (controller *MediaController) watch(ec echo.Context) error {
	id, err := parseMediumID(ec)
	if err != nil {
		return err
	}

	relations, err := parseRelations(ec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ec.Request().Context())
	defer cancel()

	stream, err := controller.watcher.WatchMediumByID(ctx, id, relations)
	if err != nil {
		return mapStoreError(err)
	}

	sock, err := watchUpgrader.Upgrade(ec.Response(), ec.Request(), nil)
	if err != nil {
		return err
	}
	defer sock.Close()

	// Drain the client side so disconnects are noticed promptly; watch
	// sockets are one-way and inbound frames are discarded.
	go func() {
		defer cancel()
		for {
			if _, _, err := sock.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snapshot := range stream {
		if err := sock.WriteJSON(NewMediumDto(snapshot)); err != nil {
			log.Emit(logger.WARNING, "Failed to push snapshot of medium %s to watcher: %v\n", id, err)
			return nil
		}
	}

	// Stream closed server-side: the medium was deleted (or the watch was
	// cancelled); either way the last snapshot was the final state.
	closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "medium watch ended")
	sock.WriteMessage(websocket.CloseMessage, closeFrame)
	return nil
}

func parseMediumID(ec echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Medium ID is not a valid UUID")
	}

	return id, nil
}

// parseRelations maps the comma-separated 'include' query parameter to the
// relation set to hydrate; an absent parameter selects everything.
func parseRelations(ec echo.Context) (media.Relations, error) {
	raw := ec.QueryParam("include")
	if raw == "" {
		return media.AllRelations, nil
	}

	var relations media.Relations
	for _, part := range strings.Split(raw, ",") {
		switch part {
		case "replicas":
			relations |= media.RelationReplicas
		case "sources":
			relations |= media.RelationSources
		case "tags":
			relations |= media.RelationTags
		default:
			return 0, echo.NewHTTPError(http.StatusBadRequest, "include '"+part+"' is not recognized")
		}
	}

	return relations, nil
}

// mapStoreError translates domain sentinel errors to their HTTP equivalent.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, media.ErrMediumNotFound) || errors.Is(err, media.ErrReplicaNotFound) || errors.Is(err, objectstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, media.ErrReplicaURLDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, objectstore.ErrPathInvalid) || errors.Is(err, objectstore.ErrURLInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
