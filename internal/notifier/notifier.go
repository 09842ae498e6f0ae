// Package notifier implements medium-keyed change signalling. Publishers
// fire-and-forget a "something about this medium changed" signal; subscribers
// receive at-least-one wakeup for any burst of publishes and re-read the
// current state themselves. Signals carry no payload beyond the topic, so a
// slow subscriber can never build an unbounded backlog - bursts coalesce in
// to a single pending wakeup.
package notifier

import (
	"sync"

	"github.com/arlogue/archivist/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Notifier")

type (
	// Subscription is a single listeners handle on a topic. Signal never
	// closes while the subscription is live; Cancel deregisters it from
	// the notifier after which no further signals arrive.
	Subscription struct {
		topic  uuid.UUID
		signal chan struct{}

		notifier *Notifier
		once     sync.Once
	}

	// Notifier is the in-process signal registry. It is safe for
	// concurrent use and is the delivery end of both local publishes and
	// those relayed from other processes (see PostgresRelay).
	Notifier struct {
		*sync.Mutex
		subscriptions map[uuid.UUID][]*Subscription
	}
)

func New() *Notifier {
	return &Notifier{
		Mutex:         &sync.Mutex{},
		subscriptions: make(map[uuid.UUID][]*Subscription),
	}
}

// Publish wakes every subscription registered against the topic. The send is
// non-blocking: a subscription which already holds a pending signal absorbs
// this publish in to it.
func (notifier *Notifier) Publish(topic uuid.UUID) {
	notifier.Lock()
	defer notifier.Unlock()

	for _, subscription := range notifier.subscriptions[topic] {
		select {
		case subscription.signal <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a new listener against the topic. The caller must
// Cancel the subscription when done with it.
func (notifier *Notifier) Subscribe(topic uuid.UUID) *Subscription {
	subscription := &Subscription{
		topic:    topic,
		signal:   make(chan struct{}, 1),
		notifier: notifier,
	}

	notifier.Lock()
	defer notifier.Unlock()
	notifier.subscriptions[topic] = append(notifier.subscriptions[topic], subscription)
	return subscription
}

// ListenerCount reports how many live subscriptions the topic has.
func (notifier *Notifier) ListenerCount(topic uuid.UUID) int {
	notifier.Lock()
	defer notifier.Unlock()
	return len(notifier.subscriptions[topic])
}

// Signal returns the channel a pending wakeup is delivered on. The channel
// holds at most one pending signal regardless of how many publishes occurred
// since the subscriber last drained it.
func (subscription *Subscription) Signal() <-chan struct{} {
	return subscription.signal
}

// Cancel deregisters the subscription. It is idempotent, and once it returns
// no further signals will be delivered.
func (subscription *Subscription) Cancel() {
	subscription.once.Do(func() {
		notifier := subscription.notifier
		notifier.Lock()
		defer notifier.Unlock()

		remaining := notifier.subscriptions[subscription.topic]
		for idx, candidate := range remaining {
			if candidate == subscription {
				notifier.subscriptions[subscription.topic] = append(remaining[:idx], remaining[idx+1:]...)
				break
			}
		}

		if len(notifier.subscriptions[subscription.topic]) == 0 {
			delete(notifier.subscriptions, subscription.topic)
		}
	})
}
