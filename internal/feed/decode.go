package feed

import (
	"encoding/json"
	"fmt"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/pubsub"
)

// envelope is the frame shape shared by every driver:
//
//	{"type": "chat", "payload": {"msg_id": "...", "user_id": "...", ...}}
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeFrame(roomID string, data []byte) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return decodeEvent(roomID, env.Type, env.Payload)
}

func decodeEvent(roomID, eventType string, payload json.RawMessage) (domain.Event, error) {
	switch eventType {
	case pubsub.EventLiveConnect:
		return domain.ConnectEvent{RoomID: roomID}, nil

	case pubsub.EventLiveControl:
		var p pubsub.LiveControlPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid control payload: %w", err)
		}
		return domain.ControlEvent{Status: domain.LiveStatus(p.Status)}, nil

	case pubsub.EventLiveChat:
		var p pubsub.LiveChatPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid chat payload: %w", err)
		}
		if p.RoomID == "" {
			p.RoomID = roomID
		}
		return domain.ContentEvent{
			MsgID:    p.MsgID,
			RoomID:   p.RoomID,
			UserID:   p.UserID,
			UserName: p.UserName,
			Content:  p.Content,
		}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
