package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/arlogue/archivist/internal/database"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// mediumChangeChannel is the single pg notification channel all medium
// change signals travel over; the payload is the medium id.
const mediumChangeChannel = "archivist_medium_change"

const (
	relayMinReconnectInterval = time.Second
	relayMaxReconnectInterval = time.Minute
	relayPingInterval         = time.Second * 90
)

// PostgresRelay bridges cross-process change notifications in to the local
// notifier. Each process publishes via pg_notify and runs a relay, so a
// watch stream served by one node observes changes committed by another.
type PostgresRelay struct {
	notifier *Notifier
	listener *pq.Listener
}

func NewPostgresRelay(dsn string, notifier *Notifier) *PostgresRelay {
	listener := pq.NewListener(dsn, relayMinReconnectInterval, relayMaxReconnectInterval, func(event pq.ListenerEventType, err error) {
		if err != nil {
			log.Emit(logger.WARNING, "Postgres listener event %d: %v\n", event, err)
		}
	})

	return &PostgresRelay{notifier: notifier, listener: listener}
}

// Run subscribes to the notification channel and fans incoming payloads in
// to the local notifier until the context is cancelled. Notifications which
// raced a dropped connection are lost; subscribers tolerate this because a
// watch re-reads state on every wake rather than consuming payloads.
func (relay *PostgresRelay) Run(ctx context.Context) error {
	if err := relay.listener.Listen(mediumChangeChannel); err != nil {
		return fmt.Errorf("failed to listen on channel %s: %w", mediumChangeChannel, err)
	}
	defer relay.listener.Close()

	log.Emit(logger.NEW, "Relaying postgres notifications from channel %s\n", mediumChangeChannel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-relay.listener.Notify:
			if notification == nil {
				// Connection re-established; anything missed in the gap
				// is unknowable, so wake nobody and carry on.
				continue
			}

			mediumID, err := uuid.Parse(notification.Extra)
			if err != nil {
				log.Emit(logger.WARNING, "Discarding notification with malformed payload %q: %v\n", notification.Extra, err)
				continue
			}

			relay.notifier.Publish(mediumID)
		case <-time.After(relayPingInterval):
			if err := relay.listener.Ping(); err != nil {
				log.Emit(logger.WARNING, "Postgres listener ping failed: %v\n", err)
			}
		}
	}
}

// NotifyMediumChange publishes a medium change to every relay listening on
// the shared channel. When called inside a transaction the notification is
// only delivered once that transaction commits.
func NotifyMediumChange(db database.Queryable, mediumID uuid.UUID) error {
	if _, err := db.Exec("SELECT pg_notify($1, $2)", mediumChangeChannel, mediumID.String()); err != nil {
		return fmt.Errorf("failed to notify change of medium %s: %w", mediumID, err)
	}

	return nil
}
