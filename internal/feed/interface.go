package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/pubsub"
)

// Feed drivers.
const (
	DriverWebSocket = "websocket"
	DriverPubSub    = "pubsub"
)

var (
	// ErrStopped is returned by Run when Stop ended the feed.
	ErrStopped       = errors.New("feed stopped")
	ErrUnknownDriver = errors.New("unknown feed driver")
)

// Adapter is the upstream live feed of one room.
type Adapter interface {
	// Run connects and calls handle for every event, in order, until the feed
	// ends (nil), fails, ctx is cancelled (ctx.Err()) or Stop is called
	// (ErrStopped). An Adapter runs at most once.
	Run(ctx context.Context, handle func(domain.Event)) error

	// Stop ends the feed. force skips the close handshake. Safe to call more
	// than once and concurrently with Run.
	Stop(force bool) error
}

// Factory builds the Adapter for a room.
type Factory func(roomID string) (Adapter, error)

// NewFactory returns the Factory for cfg.Driver. bus is required by the
// pubsub driver only.
func NewFactory(cfg config.FeedConfig, bus pubsub.Subscriber) (Factory, error) {
	switch cfg.Driver {
	case DriverWebSocket, "":
		if cfg.URL == "" {
			return nil, errors.New("feed.url is required for the websocket driver")
		}
		return func(roomID string) (Adapter, error) {
			return NewWSAdapter(roomID, cfg), nil
		}, nil

	case DriverPubSub:
		if bus == nil {
			return nil, errors.New("pubsub feed driver needs an event bus")
		}
		return func(roomID string) (Adapter, error) {
			return NewPubSubAdapter(roomID, bus), nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
