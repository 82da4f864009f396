package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/response"
)

// RoomLocator finds the relay instance holding a room's upstream session.
type RoomLocator interface {
	Lookup(ctx context.Context, roomID string) (string, error)
}

// Handler serves health and room inspection endpoints.
type Handler struct {
	hub     *hub.Hub
	locator RoomLocator
}

// NewHandler creates a new HTTP handler. locator may be nil.
func NewHandler(h *hub.Hub, locator RoomLocator) *Handler {
	return &Handler{
		hub:     h,
		locator: locator,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/rooms", h.ListRooms)
	r.GET("/rooms/:room_id", h.GetRoom)
}

func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// ListRooms lists every room with subscribers or a running session.
func (h *Handler) ListRooms(c *gin.Context) {
	response.Success(c, gin.H{"rooms": h.hub.Stats()})
}

type roomView struct {
	hub.RoomStats
	Owner string `json:"owner,omitempty"`
}

// GetRoom describes one room, including the owning instance when a
// registry is configured.
func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("room_id")

	view := roomView{RoomStats: hub.RoomStats{RoomID: roomID}}
	st, local := h.hub.Room(roomID)
	if local {
		view.RoomStats = st
	}

	if h.locator != nil {
		owner, err := h.locator.Lookup(ctx, roomID)
		if err != nil {
			l := log.Ctx(ctx)
			l.Debug().Err(err).Msg("room owner lookup failed")
		} else {
			view.Owner = owner
		}
	}

	if !local && view.Owner == "" {
		response.NotFound(c, "room not found")
		return
	}
	response.Success(c, view)
}
