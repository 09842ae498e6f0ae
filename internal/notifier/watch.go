package notifier

import (
	"context"
	"errors"

	"github.com/arlogue/archivist/internal/media"
	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
)

type (
	// MediumGetter is the read surface a watch needs to build snapshots.
	MediumGetter interface {
		GetMedium(mediumID uuid.UUID, relations media.Relations) (*media.Medium, error)
	}

	// WatchService serves live medium snapshots on top of the notifier:
	// a watch subscribes to the medium's topic and re-reads the medium
	// whenever woken, so consumers see refreshed state without polling.
	WatchService struct {
		notifier *Notifier
		data     MediumGetter
	}
)

func NewWatchService(notifier *Notifier, data MediumGetter) *WatchService {
	return &WatchService{notifier: notifier, data: data}
}

// WatchMediumByID returns a stream of snapshots of the given medium. The
// stream opens with the mediums current state and then carries one refreshed
// snapshot per coalesced burst of changes. Snapshots never regress: a
// re-read which raced an older state than one already emitted is dropped.
//
// ErrMediumNotFound is only ever returned here, at subscribe time. Once the
// stream is live, deletion of the medium closes it - the last snapshot
// emitted was the mediums final state. Cancelling the context also closes
// the stream and deregisters the underlying subscription.
func (service *WatchService) WatchMediumByID(ctx context.Context, mediumID uuid.UUID, relations media.Relations) (<-chan *media.Medium, error) {
	// Subscribe before the initial read so a change landing between the
	// two leaves a pending signal rather than being missed.
	subscription := service.notifier.Subscribe(mediumID)

	initial, err := service.data.GetMedium(mediumID, relations)
	if err != nil {
		subscription.Cancel()
		return nil, err
	}

	stream := make(chan *media.Medium)
	go func() {
		defer close(stream)
		defer subscription.Cancel()

		select {
		case stream <- initial:
		case <-ctx.Done():
			return
		}

		lastFreshness := initial.Freshness()
		for {
			select {
			case <-ctx.Done():
				return
			case <-subscription.Signal():
				current, err := service.data.GetMedium(mediumID, relations)
				if err != nil {
					if errors.Is(err, media.ErrMediumNotFound) {
						log.Emit(logger.REMOVE, "Medium %s deleted, closing watch stream\n", mediumID)
						return
					}

					log.Emit(logger.WARNING, "Failed to refresh watched medium %s: %v\n", mediumID, err)
					continue
				}

				// A wake can race a read which predates an already
				// emitted snapshot; never deliver regressed state.
				freshness := current.Freshness()
				if freshness.Before(lastFreshness) {
					continue
				}
				lastFreshness = freshness

				select {
				case stream <- current:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return stream, nil
}
