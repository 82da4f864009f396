package pubsub

import "fmt"

// Channel naming conventions for live feeds published onto the bus.
const (
	// Live feed -> relay channel, one per room.
	ChannelLiveToRelay = "live:room:%s:to_relay"
)

// Event types carried on live feed channels.
const (
	EventLiveConnect = "connect"
	EventLiveControl = "control"
	EventLiveChat    = "chat"
)

// LiveToRelayChannel returns the channel name for a room's live feed.
func LiveToRelayChannel(roomID string) string {
	return fmt.Sprintf(ChannelLiveToRelay, roomID)
}

// LiveControlPayload is published when the live session changes state.
type LiveControlPayload struct {
	Status string `json:"status"` // "paused", "resumed", "ended"
}

// LiveChatPayload is published for every chat (danmu) message in the room.
type LiveChatPayload struct {
	MsgID    string `json:"msg_id"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Content  string `json:"content"`
}
