package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/enrich"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/feed"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

// ErrHubClosed is returned by Join after Close.
var ErrHubClosed = errors.New("hub closed")

// Subscriber is a downstream text channel. Implementations must be
// comparable; membership is by identity.
type Subscriber interface {
	ID() string
	// Send queues text for delivery. An error means the subscriber is gone.
	Send(text string) error
	Close() error
}

// Enricher attaches side-channel data to chat messages.
type Enricher interface {
	Enrich(ctx context.Context, roomID, userID string) enrich.Enrichment
}

// SessionObserver is told when a room's upstream feed opens and closes.
// Calls are made from the session goroutine, never under the hub lock.
type SessionObserver interface {
	SessionStarted(ctx context.Context, roomID string, generation uint64)
	SessionEnded(ctx context.Context, roomID string, generation uint64, outcome Outcome)
}

// Options are the optional collaborators of a Hub.
type Options struct {
	Enricher Enricher
	Observer SessionObserver
	// NewMsgID generates msgId values; defaults to random UUIDs.
	NewMsgID func() string
}

// Hub multiplexes one upstream feed per room onto that room's subscribers.
// A room's feed is opened by its first Join and closed by its last Leave.
type Hub struct {
	factory  feed.Factory
	enricher Enricher
	observer SessionObserver
	newMsgID func() string

	mu          sync.Mutex
	sessions    map[string]*roomSession            // current session per room
	retiring    map[string]*roomSession            // detached, still shutting down
	subscribers map[string]map[Subscriber]struct{} // roomID -> set
	memberships map[Subscriber]string              // subscriber -> roomID
	generation  uint64
	closed      bool

	// async teardowns started by Broadcast
	pending sync.WaitGroup
}

func NewHub(factory feed.Factory, opts Options) *Hub {
	h := &Hub{
		factory:     factory,
		enricher:    opts.Enricher,
		observer:    opts.Observer,
		newMsgID:    opts.NewMsgID,
		sessions:    make(map[string]*roomSession),
		retiring:    make(map[string]*roomSession),
		subscribers: make(map[string]map[Subscriber]struct{}),
		memberships: make(map[Subscriber]string),
	}
	if h.enricher == nil {
		h.enricher = enrich.NewEnricher(nil, 0)
	}
	if h.newMsgID == nil {
		h.newMsgID = func() string { return uuid.New().String() }
	}
	return h
}

// Join adds sub to roomID, opening the room's feed if it has none or its
// feed has already finished, and then greets sub with LIVING. A subscriber
// already in another room is moved.
func (h *Hub) Join(ctx context.Context, sub Subscriber, roomID string) error {
	l := pkglog.Ctx(ctx)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}

	var detached []*roomSession
	if prev, ok := h.memberships[sub]; ok && prev != roomID {
		if s := h.removeLocked(sub, prev); s != nil {
			detached = append(detached, s)
		}
	}

	set, ok := h.subscribers[roomID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subscribers[roomID] = set
	}

	var started *roomSession
	if cur, ok := h.sessions[roomID]; !ok || cur.exited.Load() {
		if ok {
			delete(h.sessions, roomID)
			h.retiring[roomID] = cur
			detached = append(detached, cur)
		}
		started = h.startLocked(roomID)
	}

	set[sub] = struct{}{}
	h.memberships[sub] = roomID
	count := len(set)
	h.mu.Unlock()

	for _, s := range detached {
		h.teardown(s)
	}

	evt := l.Info().Str(pkglog.FieldClientID, sub.ID()).Str(pkglog.FieldRoomID, roomID).Int("subscribers", count)
	if started != nil {
		evt = evt.Uint64(pkglog.FieldGeneration, started.generation)
	}
	evt.Msg("subscriber joined room")

	if err := sub.Send(domain.FrameLiving); err != nil {
		h.Leave(ctx, sub, roomID)
		sub.Close()
		return fmt.Errorf("failed to greet subscriber: %w", err)
	}
	return nil
}

// Leave removes sub from roomID. When the room becomes empty its feed is
// closed and Leave waits for the session to finish. Unknown subscribers and
// rooms are ignored.
func (h *Hub) Leave(ctx context.Context, sub Subscriber, roomID string) {
	h.mu.Lock()
	s := h.removeLocked(sub, roomID)
	h.mu.Unlock()

	if s == nil {
		return
	}
	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldRoomID, roomID).Uint64(pkglog.FieldGeneration, s.generation).Msg("last subscriber left, closing room session")
	h.teardown(s)
}

// Broadcast sends text to every subscriber of roomID. Subscribers whose send
// fails are removed and closed; the rest still receive text.
func (h *Hub) Broadcast(ctx context.Context, roomID, text string) {
	h.mu.Lock()
	targets := lo.Keys(h.subscribers[roomID])
	h.mu.Unlock()

	for _, sub := range targets {
		if err := sub.Send(text); err != nil {
			l := pkglog.Ctx(ctx)
			l.Debug().Err(err).Str(pkglog.FieldClientID, sub.ID()).Msg("dropping subscriber after failed send")
			h.leaveAsync(sub, roomID)
			sub.Close()
		}
	}
}

// leaveAsync is Leave for callers running on a session goroutine, which
// cannot wait for their own session to finish.
func (h *Hub) leaveAsync(sub Subscriber, roomID string) {
	h.mu.Lock()
	s := h.removeLocked(sub, roomID)
	if s != nil {
		h.pending.Add(1)
	}
	h.mu.Unlock()

	if s == nil {
		return
	}
	go func() {
		defer h.pending.Done()
		h.teardown(s)
	}()
}

// Close tears down every session and closes every subscriber.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*roomSession, 0, len(h.sessions))
	for roomID, s := range h.sessions {
		sessions = append(sessions, s)
		h.retiring[roomID] = s
	}
	subs := lo.Keys(h.memberships)
	h.sessions = make(map[string]*roomSession)
	h.subscribers = make(map[string]map[Subscriber]struct{})
	h.memberships = make(map[Subscriber]string)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	for _, s := range sessions {
		h.teardown(s)
	}

	done := make(chan struct{})
	go func() {
		h.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoomStats describes one room.
type RoomStats struct {
	RoomID      string    `json:"room_id"`
	Subscribers int       `json:"subscribers"`
	Live        bool      `json:"live"`
	Generation  uint64    `json:"generation,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Stats lists every known room ordered by id.
func (h *Hub) Stats() []RoomStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make(map[string]struct{}, len(h.subscribers)+len(h.sessions))
	for roomID := range h.subscribers {
		rooms[roomID] = struct{}{}
	}
	for roomID := range h.sessions {
		rooms[roomID] = struct{}{}
	}

	out := make([]RoomStats, 0, len(rooms))
	for roomID := range rooms {
		out = append(out, h.roomStatsLocked(roomID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Room reports the state of one room; ok is false if the hub does not know it.
func (h *Hub) Room(roomID string) (stats RoomStats, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, hasSubs := h.subscribers[roomID]
	_, hasSession := h.sessions[roomID]
	if !hasSubs && !hasSession {
		return RoomStats{}, false
	}
	return h.roomStatsLocked(roomID), true
}

func (h *Hub) roomStatsLocked(roomID string) RoomStats {
	st := RoomStats{RoomID: roomID, Subscribers: len(h.subscribers[roomID])}
	if s, ok := h.sessions[roomID]; ok {
		st.Live = !s.exited.Load()
		st.Generation = s.generation
		st.StartedAt = s.startedAt
	}
	return st
}

func (h *Hub) startLocked(roomID string) *roomSession {
	h.generation++
	s := &roomSession{
		roomID:     roomID,
		generation: h.generation,
		startedAt:  time.Now(),
		prev:       h.retiring[roomID],
		done:       make(chan struct{}),
	}

	ctx := pkglog.WithRoom(context.Background(), roomID)
	l := pkglog.Ctx(ctx)
	ctx = pkglog.WithLogger(ctx, l.With().Uint64(pkglog.FieldGeneration, s.generation).Logger())
	ctx, s.cancel = context.WithCancel(ctx)

	h.sessions[roomID] = s
	go h.runSession(ctx, s)
	return s
}

// removeLocked drops sub from roomID and, if that empties the room, detaches
// and returns the room's session for the caller to tear down.
func (h *Hub) removeLocked(sub Subscriber, roomID string) *roomSession {
	set, ok := h.subscribers[roomID]
	if !ok {
		return nil
	}
	if _, ok := set[sub]; !ok {
		return nil
	}
	delete(set, sub)
	if h.memberships[sub] == roomID {
		delete(h.memberships, sub)
	}
	if len(set) > 0 {
		return nil
	}

	delete(h.subscribers, roomID)
	s, ok := h.sessions[roomID]
	if !ok {
		return nil
	}
	delete(h.sessions, roomID)
	h.retiring[roomID] = s
	return s
}

// teardown stops a detached session and waits for its goroutine. Must not be
// called with h.mu held or from the session's own goroutine.
func (h *Hub) teardown(s *roomSession) Outcome {
	if err := s.stopAdapter(false); err != nil {
		l := pkglog.L()
		l.Debug().Err(err).Str(pkglog.FieldRoomID, s.roomID).Msg("stopping upstream feed")
	}
	s.cancel()
	return s.wait()
}
