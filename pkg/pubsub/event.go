package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingType is returned by DecodeEvent for messages without a type.
var ErrMissingType = errors.New("event has no type")

// Event is one message on the bus. Payload is decoded by the consumer
// according to Type.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into a timestamped Event.
func NewEvent(eventType, roomID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// DecodeEvent parses a raw bus message.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Type == "" {
		return nil, ErrMissingType
	}
	return &e, nil
}

// UnmarshalPayload decodes the payload into v.
func (e *Event) UnmarshalPayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber delivers the events of one channel in publish order.
// The returned channel is closed when ctx is cancelled, the subscription is
// removed with Unsubscribe, or the underlying connection fails.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub is a bus driver: redis or kafka.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
