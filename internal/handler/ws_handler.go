package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler serves subscriber WebSocket connections.
type WSHandler struct {
	hub   *hub.Hub
	wsCfg config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:   h,
		wsCfg: wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/:room_id", h.HandleWebSocket)
}

// HandleWebSocket subscribes the connection to its room for as long as it
// stays open.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	roomID := c.Param("room_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conn, h.wsCfg)

	l := log.Ctx(c.Request.Context())
	ctx := log.WithLogger(context.WithoutCancel(c.Request.Context()),
		l.With().Str(log.FieldClientID, client.ID()).Logger())

	go client.WritePump()

	if err := h.hub.Join(ctx, client, roomID); err != nil {
		l.Warn().Err(err).Str(log.FieldClientID, client.ID()).Msg("failed to join room")
		client.Close()
		return
	}

	err = client.ReadPump(func(text string) {
		if text == domain.FramePing {
			client.Send(domain.FramePong)
		}
	})
	if err != nil {
		l.Debug().Err(err).Str(log.FieldClientID, client.ID()).Msg("websocket closed unexpectedly")
	}

	h.hub.Leave(ctx, client, roomID)
	client.Close()
}
