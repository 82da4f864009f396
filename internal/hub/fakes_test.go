package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/enrich"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/feed"
)

// fakeFeed builds fakeAdapters and tracks how many run per room.
type fakeFeed struct {
	mu         sync.Mutex
	adapters   []*fakeAdapter
	running    map[string]int
	maxRunning int
	createErr  error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{running: make(map[string]int)}
}

func (f *fakeFeed) factory(roomID string) (feed.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	a := &fakeAdapter{
		roomID:  roomID,
		feed:    f,
		events:  make(chan domain.Event, 16),
		end:     make(chan error, 1),
		stopped: make(chan struct{}),
		started: make(chan struct{}),
	}
	f.adapters = append(f.adapters, a)
	return a, nil
}

func (f *fakeFeed) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters)
}

func (f *fakeFeed) adapter(i int) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.adapters) {
		return nil
	}
	return f.adapters[i]
}

func (f *fakeFeed) runningIn(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[roomID]
}

func (f *fakeFeed) max() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

func (f *fakeFeed) enter(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[roomID]++
	if f.running[roomID] > f.maxRunning {
		f.maxRunning = f.running[roomID]
	}
}

func (f *fakeFeed) exit(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[roomID]--
}

type fakeAdapter struct {
	roomID   string
	feed     *fakeFeed
	events   chan domain.Event
	end      chan error
	stopOnce sync.Once
	stopped  chan struct{}
	started  chan struct{}
	forced   atomic.Bool
}

func (a *fakeAdapter) Run(ctx context.Context, handle func(domain.Event)) error {
	a.feed.enter(a.roomID)
	defer a.feed.exit(a.roomID)
	close(a.started)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopped:
			return feed.ErrStopped
		case err := <-a.end:
			return err
		case evt := <-a.events:
			handle(evt)
		}
	}
}

func (a *fakeAdapter) Stop(force bool) error {
	if force {
		a.forced.Store(true)
	}
	a.stopOnce.Do(func() { close(a.stopped) })
	return nil
}

func (a *fakeAdapter) isStopped() bool {
	select {
	case <-a.stopped:
		return true
	default:
		return false
	}
}

// fakeSub records frames it receives.
type fakeSub struct {
	id     string
	mu     sync.Mutex
	frames []string
	fail   bool
	closed bool
}

func newFakeSub(id string) *fakeSub {
	return &fakeSub{id: id}
}

func (s *fakeSub) ID() string { return s.id }

func (s *fakeSub) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.closed {
		return ErrSubscriberClosed
	}
	s.frames = append(s.frames, text)
	return nil
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *fakeSub) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeEnricher struct {
	mu    sync.Mutex
	calls [][2]string
	out   enrich.Enrichment
}

func (e *fakeEnricher) Enrich(ctx context.Context, roomID, userID string) enrich.Enrichment {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, [2]string{roomID, userID})
	return e.out
}

type sessionEvent struct {
	started    bool
	roomID     string
	generation uint64
	outcome    Outcome
}

type fakeObserver struct {
	mu     sync.Mutex
	events []sessionEvent
}

func (o *fakeObserver) SessionStarted(ctx context.Context, roomID string, generation uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, sessionEvent{started: true, roomID: roomID, generation: generation})
}

func (o *fakeObserver) SessionEnded(ctx context.Context, roomID string, generation uint64, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, sessionEvent{roomID: roomID, generation: generation, outcome: outcome})
}

func (o *fakeObserver) snapshot() []sessionEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sessionEvent(nil), o.events...)
}
