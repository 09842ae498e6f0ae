package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/arlogue/archivist/internal/api/medias"
	"github.com/arlogue/archivist/internal/api/replicas"
	"github.com/arlogue/archivist/internal/http/websocket"
	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// dataStore is the union of the controller store requirements.
	dataStore interface {
		medias.Store
		replicas.Store
	}

	ingestService interface {
		medias.IngestService
		replicas.IngestService
	}

	// RestGateway is a thin wrapper around the Echo HTTP router. It's sole
	// responsibility is to create the routes Archivist exposes and to
	// manage ongoing websocket connections for the activity stream.
	RestGateway struct {
		*broadcaster
		config            *RestConfig
		ec                *echo.Echo
		socket            *websocket.SocketHub
		mediaController   controller
		replicaController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the controllers. Each controller requires access to a
// data store and the relevant services, provided as arguments.
func NewRestGateway(config *RestConfig, store dataStore, ingest ingestService, watcher medias.WatchService) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:       newBroadcaster(socket, store),
		config:            config,
		ec:                ec,
		socket:            socket,
		mediaController:   medias.New(store, ingest, watcher),
		replicaController: replicas.New(store, ingest),
	}

	socket.BindCommand("MEDIUM_GET", gateway.wsMediumGet)

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/archivist/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	mediaGroup := ec.Group("/api/archivist/v1/media")
	gateway.mediaController.SetRoutes(mediaGroup)

	replicaGroup := ec.Group("/api/archivist/v1/replicas")
	gateway.replicaController.SetRoutes(replicaGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Report the cancellation cause if any; parent context cancellation is
	// a normal shutdown, not an error.
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, ctx.Err()) {
		return cause
	}

	return nil
}

// wsMediumGet serves the MEDIUM_GET activity socket command, replying with a
// full snapshot of the requested medium.
func (gateway *RestGateway) wsMediumGet(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	if err := message.ValidateArguments(map[string]string{"id": "string"}); err != nil {
		return err
	}

	id, err := uuid.Parse(message.Body["id"].(string))
	if err != nil {
		return errors.New("medium id is not a valid UUID")
	}

	medium, err := gateway.mediaStore.GetMedium(id, media.AllRelations)
	if err != nil {
		return err
	}

	hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{"payload": medias.NewMediumDto(medium)}, websocket.Response))
	return nil
}
