package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/enrich"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestHub(f *fakeFeed, opts Options) *Hub {
	if opts.NewMsgID == nil {
		opts.NewMsgID = func() string { return "msg-1" }
	}
	return NewHub(f.factory, opts)
}

func waitAdapter(t *testing.T, f *fakeFeed, i int) *fakeAdapter {
	t.Helper()
	require.Eventually(t, func() bool { return f.adapter(i) != nil }, waitFor, tick)
	a := f.adapter(i)
	select {
	case <-a.started:
	case <-time.After(waitFor):
		t.Fatalf("adapter %d never started", i)
	}
	return a
}

func hasFrame(sub *fakeSub, frame string) func() bool {
	return func() bool {
		for _, got := range sub.received() {
			if got == frame {
				return true
			}
		}
		return false
	}
}

func TestHub_RoomScenario(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	a := newFakeSub("a")
	require.NoError(t, h.Join(ctx, a, "room-A"))
	require.Equal(t, []string{domain.FrameLiving}, a.received())
	adapter := waitAdapter(t, f, 0)

	adapter.events <- domain.ControlEvent{Status: domain.LiveStatusPaused}
	require.Eventually(t, hasFrame(a, "1"), waitFor, tick)

	b := newFakeSub("b")
	require.NoError(t, h.Join(ctx, b, "room-A"))
	require.Equal(t, []string{domain.FrameLiving}, b.received())
	require.Equal(t, 1, f.created(), "second subscriber must share the session")

	adapter.events <- domain.ContentEvent{MsgID: "dy-1", RoomID: "room-A", UserID: "u1", UserName: "n1", Content: "hello"}
	want := `{"msgId":"msg-1","dyMsgId":"dy-1","danmuUserId":"u1","danmuUserName":"n1","danmuContent":"hello","dyRoomId":"room-A","orderNumber":"","blackLevel":"0","createdUsers":"[]"}`
	require.Eventually(t, hasFrame(a, want), waitFor, tick)
	require.Eventually(t, hasFrame(b, want), waitFor, tick)

	h.Leave(ctx, a, "room-A")
	require.False(t, adapter.isStopped())
	st, ok := h.Room("room-A")
	require.True(t, ok)
	require.Equal(t, 1, st.Subscribers)
	require.True(t, st.Live)

	h.Leave(ctx, b, "room-A")
	require.True(t, adapter.isStopped())
	require.Equal(t, 0, f.runningIn("room-A"))
	_, ok = h.Room("room-A")
	require.False(t, ok)
	require.Empty(t, h.Stats())
}

func TestHub_StatusMapping(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	sub := newFakeSub("s")
	require.NoError(t, h.Join(ctx, sub, "r"))
	adapter := waitAdapter(t, f, 0)

	for _, st := range []domain.LiveStatus{"paused", "resumed", "ended", "weird"} {
		adapter.events <- domain.ControlEvent{Status: st}
	}
	require.Eventually(t, func() bool { return len(sub.received()) == 5 }, waitFor, tick)
	require.Equal(t, []string{domain.FrameLiving, "1", "2", "3", "0"}, sub.received())

	// "3" does not end the session by itself
	require.False(t, adapter.isStopped())
	h.Leave(ctx, sub, "r")
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	sub := newFakeSub("s")
	h.Leave(ctx, sub, "nowhere")

	require.NoError(t, h.Join(ctx, sub, "r"))
	waitAdapter(t, f, 0)

	h.Leave(ctx, sub, "other")
	st, ok := h.Room("r")
	require.True(t, ok)
	require.Equal(t, 1, st.Subscribers)

	h.Leave(ctx, sub, "r")
	h.Leave(ctx, sub, "r")
	require.Empty(t, h.Stats())
	require.Equal(t, 1, f.created())
}

func TestHub_BroadcastIsolatesFailingSubscriber(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	good := newFakeSub("good")
	bad := newFakeSub("bad")
	require.NoError(t, h.Join(ctx, good, "r"))
	require.NoError(t, h.Join(ctx, bad, "r"))
	adapter := waitAdapter(t, f, 0)

	bad.setFail(true)
	adapter.events <- domain.ControlEvent{Status: domain.LiveStatusResumed}
	require.Eventually(t, hasFrame(good, "2"), waitFor, tick)
	require.Eventually(t, func() bool {
		st, _ := h.Room("r")
		return st.Subscribers == 1
	}, waitFor, tick)

	adapter.events <- domain.ControlEvent{Status: domain.LiveStatusPaused}
	require.Eventually(t, hasFrame(good, "1"), waitFor, tick)
	require.False(t, adapter.isStopped())

	h.Leave(ctx, good, "r")
}

func TestHub_DroppedSubscriberIsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	a := newFakeSub("a")
	b := newFakeSub("b")
	require.NoError(t, h.Join(ctx, a, "r"))
	require.NoError(t, h.Join(ctx, b, "r"))
	adapter := waitAdapter(t, f, 0)

	// one failed send, then the connection would be healthy again
	b.setFail(true)
	adapter.events <- domain.ControlEvent{Status: domain.LiveStatusPaused}
	require.Eventually(t, hasFrame(a, "1"), waitFor, tick)
	require.Eventually(t, b.isClosed, waitFor, tick)
	b.setFail(false)

	adapter.events <- domain.ControlEvent{Status: domain.LiveStatusResumed}
	require.Eventually(t, hasFrame(a, "2"), waitFor, tick)

	st, ok := h.Room("r")
	require.True(t, ok)
	require.Equal(t, 1, st.Subscribers)
	require.Equal(t, []string{domain.FrameLiving}, b.received())

	h.Leave(ctx, a, "r")
}

func TestHub_LastFailingSubscriberEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	obs := &fakeObserver{}
	h := newTestHub(f, Options{Observer: obs})

	sub := newFakeSub("s")
	require.NoError(t, h.Join(ctx, sub, "r"))
	adapter := waitAdapter(t, f, 0)

	sub.setFail(true)
	adapter.events <- domain.ControlEvent{Status: domain.LiveStatusPaused}

	require.Eventually(t, adapter.isStopped, waitFor, tick)
	require.Eventually(t, func() bool { return f.runningIn("r") == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.Stats()) == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(obs.snapshot()) == 2 }, waitFor, tick)
	require.Equal(t, OutcomeCancelled, obs.snapshot()[1].outcome.Kind)
	require.True(t, sub.isClosed())

	require.NoError(t, h.Close(ctx))
}

func TestHub_GreetingFailureLeaves(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	sub := newFakeSub("s")
	sub.setFail(true)
	err := h.Join(ctx, sub, "r")
	require.ErrorIs(t, err, ErrSubscriberClosed)
	require.True(t, sub.isClosed())
	require.Empty(t, h.Stats())
	require.Equal(t, 0, f.runningIn("r"))
}

func TestHub_ConcurrentJoinLeaveKeepsOneSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	const workers = 32
	const rounds = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sub := newFakeSub(fmt.Sprintf("sub-%d", w))
			for i := 0; i < rounds; i++ {
				assert.NoError(t, h.Join(ctx, sub, "hot"))
				h.Leave(ctx, sub, "hot")
			}
		}(w)
	}
	wg.Wait()

	require.LessOrEqual(t, f.max(), 1)
	require.Equal(t, 0, f.runningIn("hot"))
	require.Empty(t, h.Stats())
	require.GreaterOrEqual(t, f.created(), 1)
}

func TestHub_RestartsAfterFeedEnds(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	obs := &fakeObserver{}
	h := newTestHub(f, Options{Observer: obs})

	a := newFakeSub("a")
	require.NoError(t, h.Join(ctx, a, "r"))
	first := waitAdapter(t, f, 0)

	first.end <- nil
	require.Eventually(t, func() bool { return len(obs.snapshot()) == 2 }, waitFor, tick)
	st, ok := h.Room("r")
	require.True(t, ok)
	require.False(t, st.Live)

	b := newFakeSub("b")
	require.NoError(t, h.Join(ctx, b, "r"))
	second := waitAdapter(t, f, 1)
	require.Equal(t, 2, f.created())

	second.events <- domain.ControlEvent{Status: domain.LiveStatusResumed}
	require.Eventually(t, hasFrame(a, "2"), waitFor, tick)
	require.Eventually(t, hasFrame(b, "2"), waitFor, tick)

	events := obs.snapshot()
	require.GreaterOrEqual(t, len(events), 3)
	require.Equal(t, OutcomeEnded, events[1].outcome.Kind)
	require.Less(t, events[0].generation, events[2].generation)

	h.Leave(ctx, a, "r")
	h.Leave(ctx, b, "r")
	require.True(t, second.isStopped())
}

func TestHub_FailedFeedReportsError(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	obs := &fakeObserver{}
	h := newTestHub(f, Options{Observer: obs})

	sub := newFakeSub("s")
	require.NoError(t, h.Join(ctx, sub, "r"))
	adapter := waitAdapter(t, f, 0)

	boom := errors.New("upstream reset")
	adapter.end <- boom
	require.Eventually(t, func() bool { return len(obs.snapshot()) == 2 }, waitFor, tick)

	ended := obs.snapshot()[1]
	require.Equal(t, OutcomeFailed, ended.outcome.Kind)
	require.ErrorIs(t, ended.outcome.Err, boom)

	h.Leave(ctx, sub, "r")
}

func TestHub_FactoryErrorEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	f.createErr = errors.New("no upstream")
	obs := &fakeObserver{}
	h := newTestHub(f, Options{Observer: obs})

	sub := newFakeSub("s")
	require.NoError(t, h.Join(ctx, sub, "r"))
	require.Eventually(t, func() bool {
		st, ok := h.Room("r")
		return ok && !st.Live
	}, waitFor, tick)

	// never opened, so never reported
	require.Empty(t, obs.snapshot())
	h.Leave(ctx, sub, "r")
}

func TestHub_JoinMovesSubscriber(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	sub := newFakeSub("s")
	require.NoError(t, h.Join(ctx, sub, "r1"))
	first := waitAdapter(t, f, 0)

	require.NoError(t, h.Join(ctx, sub, "r2"))
	require.True(t, first.isStopped())
	require.Equal(t, 0, f.runningIn("r1"))

	stats := h.Stats()
	require.Len(t, stats, 1)
	require.Equal(t, "r2", stats[0].RoomID)

	h.Leave(ctx, sub, "r2")
}

func TestHub_RenderContentEnriches(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	en := &fakeEnricher{out: enrich.Enrichment{OrderNumber: "7", BlackLevel: "2", CreatedUsers: `["u9"]`}}
	h := newTestHub(f, Options{Enricher: en})

	text, err := h.renderContent(ctx, domain.ContentEvent{
		MsgID:    "dy-1",
		RoomID:   "up-1",
		UserID:   "u1",
		UserName: "小明",
		Content:  "<b>hi</b> & 你好",
	})
	require.NoError(t, err)
	require.Equal(t,
		`{"msgId":"msg-1","dyMsgId":"dy-1","danmuUserId":"u1","danmuUserName":"小明","danmuContent":"<b>hi</b> & 你好","dyRoomId":"up-1","orderNumber":"7","blackLevel":"2","createdUsers":"[\"u9\"]"}`,
		text)
	require.Equal(t, [][2]string{{"up-1", "u1"}}, en.calls)
}

func TestHub_CloseTearsDownEverything(t *testing.T) {
	ctx := context.Background()
	f := newFakeFeed()
	h := newTestHub(f, Options{})

	a := newFakeSub("a")
	b := newFakeSub("b")
	require.NoError(t, h.Join(ctx, a, "r1"))
	require.NoError(t, h.Join(ctx, b, "r2"))
	waitAdapter(t, f, 0)
	waitAdapter(t, f, 1)

	require.NoError(t, h.Close(ctx))
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
	require.Equal(t, 0, f.runningIn("r1"))
	require.Equal(t, 0, f.runningIn("r2"))
	require.Empty(t, h.Stats())

	require.ErrorIs(t, h.Join(ctx, newFakeSub("c"), "r1"), ErrHubClosed)
	require.NoError(t, h.Close(ctx))
}

func TestOutcomeOf(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	require.Equal(t, OutcomeEnded, outcomeOf(live, nil).Kind)
	require.Equal(t, OutcomeCancelled, outcomeOf(cancelled, nil).Kind)
	require.Equal(t, OutcomeCancelled, outcomeOf(live, context.Canceled).Kind)

	boom := errors.New("boom")
	out := outcomeOf(live, boom)
	require.Equal(t, OutcomeFailed, out.Kind)
	require.Equal(t, boom, out.Err)
	require.Equal(t, "failed", out.Kind.String())
}
