package hub

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
)

// renderContent turns a chat event into the enriched JSON frame. Non-ASCII
// and HTML characters are written as-is.
func (h *Hub) renderContent(ctx context.Context, e domain.ContentEvent) (string, error) {
	msg := domain.DanmuMessage{
		MsgID:         h.newMsgID(),
		DyMsgID:       e.MsgID,
		DanmuUserID:   e.UserID,
		DanmuUserName: e.UserName,
		DanmuContent:  e.Content,
		DyRoomID:      e.RoomID,
	}
	h.enricher.Enrich(ctx, e.RoomID, e.UserID).Apply(&msg)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
