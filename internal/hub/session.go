package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/danmu-relay/internal/feed"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

// OutcomeKind says how a room session ended.
type OutcomeKind int

const (
	// OutcomeEnded: the upstream feed finished on its own.
	OutcomeEnded OutcomeKind = iota
	// OutcomeCancelled: the session was torn down by the hub.
	OutcomeCancelled
	// OutcomeFailed: the feed could not be started or broke.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeEnded:
		return "ended"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a room session. Err is set for OutcomeFailed only.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func outcomeOf(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, feed.ErrStopped):
		return Outcome{Kind: OutcomeCancelled}
	case err == nil:
		return Outcome{Kind: OutcomeEnded}
	default:
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
}

// roomSession is one upstream feed plus the goroutine driving it.
type roomSession struct {
	roomID     string
	generation uint64
	startedAt  time.Time
	cancel     context.CancelFunc

	// prev is the session this one replaced; it must be gone before this
	// one opens its own feed.
	prev *roomSession

	// exited is set once the feed has returned; the session can no longer
	// deliver events and must not be reused.
	exited atomic.Bool
	done   chan struct{}
	// outcome is written before done is closed.
	outcome Outcome

	mu      sync.Mutex
	adapter feed.Adapter
	stopped bool
}

// setAdapter records the running adapter. It reports false when the session
// was already stopped, in which case the caller owns stopping a.
func (s *roomSession) setAdapter(a feed.Adapter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.adapter = a
	return true
}

func (s *roomSession) stopAdapter(force bool) error {
	s.mu.Lock()
	s.stopped = true
	a := s.adapter
	s.mu.Unlock()

	if a == nil {
		return nil
	}
	return a.Stop(force)
}

// wait blocks until the session is finished and returns its outcome.
func (s *roomSession) wait() Outcome {
	<-s.done
	return s.outcome
}

// runSession is the driver goroutine of s.
func (h *Hub) runSession(ctx context.Context, s *roomSession) {
	defer close(s.done)
	l := pkglog.Ctx(ctx)

	if s.prev != nil {
		s.prev.wait()
	}

	started, err := h.drive(ctx, s)
	s.exited.Store(true)
	if stopErr := s.stopAdapter(true); stopErr != nil {
		l.Debug().Err(stopErr).Msg("stopping upstream feed")
	}

	h.mu.Lock()
	if cur, ok := h.sessions[s.roomID]; ok && cur.generation == s.generation {
		delete(h.sessions, s.roomID)
	}
	if cur, ok := h.retiring[s.roomID]; ok && cur.generation == s.generation {
		delete(h.retiring, s.roomID)
	}
	h.mu.Unlock()

	s.outcome = outcomeOf(ctx, err)
	evt := l.Info()
	switch s.outcome.Kind {
	case OutcomeCancelled:
		evt = l.Debug()
	case OutcomeFailed:
		evt = l.Warn().Err(s.outcome.Err)
	}
	evt.Str(pkglog.FieldOutcome, s.outcome.Kind.String()).
		Dur("lifetime", time.Since(s.startedAt)).
		Msg("room session finished")

	if started && h.observer != nil {
		h.observer.SessionEnded(ctx, s.roomID, s.generation, s.outcome)
	}
}

// drive opens the feed and pumps it until it returns. started reports
// whether the feed was opened at all.
func (h *Hub) drive(ctx context.Context, s *roomSession) (started bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	adapter, err := h.factory(s.roomID)
	if err != nil {
		return false, fmt.Errorf("failed to create feed adapter: %w", err)
	}
	if !s.setAdapter(adapter) {
		adapter.Stop(true)
		return false, feed.ErrStopped
	}

	if h.observer != nil {
		h.observer.SessionStarted(ctx, s.roomID, s.generation)
	}

	return true, adapter.Run(ctx, func(evt domain.Event) {
		h.dispatch(ctx, s, evt)
	})
}

// dispatch handles one feed event. Events arriving after the session was
// cancelled are dropped so a retiring feed never talks over its successor.
func (h *Hub) dispatch(ctx context.Context, s *roomSession, evt domain.Event) {
	if ctx.Err() != nil {
		return
	}
	l := pkglog.Ctx(ctx)

	switch e := evt.(type) {
	case domain.ConnectEvent:
		l.Info().Msg("upstream feed connected")

	case domain.ControlEvent:
		code := e.Status.Code()
		l.Info().Str("status", string(e.Status)).Int("code", int(code)).Msg("live status changed")
		h.Broadcast(ctx, s.roomID, code.Frame())

	case domain.ContentEvent:
		text, err := h.renderContent(ctx, e)
		if err != nil {
			l.Error().Err(err).Str("dy_msg_id", e.MsgID).Msg("failed to encode danmu message")
			return
		}
		h.Broadcast(ctx, s.roomID, text)

	default:
		l.Warn().Str("event", fmt.Sprintf("%T", evt)).Msg("unhandled feed event")
	}
}
