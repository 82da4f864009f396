package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

// WSAdapter reads a room's live feed from an upstream WebSocket.
type WSAdapter struct {
	roomID      string
	url         string
	dialer      websocket.Dialer
	readTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

// NewWSAdapter builds the adapter for roomID. "{room_id}" in cfg.URL is
// replaced with the escaped room id.
func NewWSAdapter(roomID string, cfg config.FeedConfig) *WSAdapter {
	return &WSAdapter{
		roomID: roomID,
		url:    strings.ReplaceAll(cfg.URL, "{room_id}", url.PathEscape(roomID)),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		readTimeout: cfg.ReadTimeout,
	}
}

func (a *WSAdapter) Run(ctx context.Context, handle func(domain.Event)) error {
	if a.isStopped() {
		return ErrStopped
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := a.dialer.DialContext(ctx, a.url, header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to dial upstream feed: %w", err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	a.conn = conn
	a.mu.Unlock()

	// Unblock ReadMessage on cancellation.
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	conn.SetPongHandler(func(string) error {
		a.extendDeadline(conn)
		return nil
	})

	l := pkglog.Ctx(ctx)
	l.Debug().Str("url", a.url).Msg("upstream feed connected")
	handle(domain.ConnectEvent{RoomID: a.roomID})

	for {
		a.extendDeadline(conn)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return a.readError(ctx, err)
		}

		evt, err := decodeFrame(a.roomID, data)
		if err != nil {
			l.Warn().Err(err).Msg("dropping upstream frame")
			continue
		}
		handle(evt)
	}
}

func (a *WSAdapter) readError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case a.isStopped():
		return ErrStopped
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return nil
	default:
		return fmt.Errorf("upstream feed read failed: %w", err)
	}
}

func (a *WSAdapter) extendDeadline(conn *websocket.Conn) {
	if a.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(a.readTimeout))
	}
}

func (a *WSAdapter) Stop(force bool) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}

	if !force {
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			l := pkglog.L()
			l.Debug().Err(err).Str(pkglog.FieldRoomID, a.roomID).Msg("upstream close handshake failed")
		}
	}
	return conn.Close()
}

func (a *WSAdapter) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}
