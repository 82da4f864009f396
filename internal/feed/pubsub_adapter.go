package feed

import (
	"context"
	"sync"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/pubsub"
)

// PubSubAdapter reads a room's live feed from the event bus, where an
// ingester publishes it on pubsub.LiveToRelayChannel(roomID).
type PubSubAdapter struct {
	roomID  string
	channel string
	bus     pubsub.Subscriber

	mu         sync.Mutex
	subscribed bool
	stopped    bool
}

func NewPubSubAdapter(roomID string, bus pubsub.Subscriber) *PubSubAdapter {
	return &PubSubAdapter{
		roomID:  roomID,
		channel: pubsub.LiveToRelayChannel(roomID),
		bus:     bus,
	}
}

func (a *PubSubAdapter) Run(ctx context.Context, handle func(domain.Event)) error {
	if a.isStopped() {
		return ErrStopped
	}

	events, err := a.bus.Subscribe(ctx, a.channel)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	a.mu.Lock()
	a.subscribed = true
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		a.unsubscribe()
		return ErrStopped
	}

	l := pkglog.Ctx(ctx)
	handle(domain.ConnectEvent{RoomID: a.roomID})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				switch {
				case ctx.Err() != nil:
					return ctx.Err()
				case a.isStopped():
					return ErrStopped
				default:
					return nil
				}
			}

			evt, err := decodeEvent(a.roomID, e.Type, e.Payload)
			if err != nil {
				l.Warn().Err(err).Str("channel", a.channel).Msg("dropping bus event")
				continue
			}
			handle(evt)
		}
	}
}

// Stop unsubscribes; force has no meaning for the bus.
func (a *PubSubAdapter) Stop(force bool) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	subscribed := a.subscribed
	a.mu.Unlock()

	if !subscribed {
		return nil
	}
	return a.unsubscribe()
}

func (a *PubSubAdapter) unsubscribe() error {
	return a.bus.Unsubscribe(context.Background(), a.channel)
}

func (a *PubSubAdapter) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}
