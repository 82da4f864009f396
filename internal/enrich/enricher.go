package enrich

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/domain"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
)

const (
	defaultOrderNumber  = ""
	defaultBlackLevel   = "0"
	defaultCreatedUsers = "[]"
)

// Lookup is a synchronous key-value store holding JSON records.
type Lookup interface {
	// Get returns found == false, with a nil error, when key has no value.
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

// OrderUserKey is the order-tag key for a user in a room.
func OrderUserKey(roomID, userID string) string {
	return fmt.Sprintf("orderUser:dy_room_id_user:%s:%s", roomID, userID)
}

// BlackKey is the blacklist key for a user.
func BlackKey(userID string) string {
	return fmt.Sprintf("black:%s", userID)
}

// Enrichment holds the fields attached to an outgoing danmu message.
type Enrichment struct {
	OrderNumber  string
	BlackLevel   string
	CreatedUsers string
}

// Defaults is the enrichment of a user with no records.
func Defaults() Enrichment {
	return Enrichment{
		OrderNumber:  defaultOrderNumber,
		BlackLevel:   defaultBlackLevel,
		CreatedUsers: defaultCreatedUsers,
	}
}

// Apply copies the enrichment fields onto msg.
func (e Enrichment) Apply(msg *domain.DanmuMessage) {
	msg.OrderNumber = e.OrderNumber
	msg.BlackLevel = e.BlackLevel
	msg.CreatedUsers = e.CreatedUsers
}

// Enricher attaches order-tag and blacklist data to messages.
type Enricher struct {
	lookup  Lookup
	timeout time.Duration
}

// NewEnricher creates an Enricher. A zero timeout leaves lookups bounded only
// by the caller's context.
func NewEnricher(lookup Lookup, timeout time.Duration) *Enricher {
	return &Enricher{lookup: lookup, timeout: timeout}
}

// Enrich never fails: missing records, lookup errors and malformed values all
// fall back to Defaults field by field.
func (e *Enricher) Enrich(ctx context.Context, roomID, userID string) Enrichment {
	out := Defaults()
	if e == nil || e.lookup == nil {
		return out
	}

	if raw, ok := e.get(ctx, OrderUserKey(roomID, userID)); ok {
		if tag, ok := ParseTagUser(raw); ok {
			out.OrderNumber = tag.OrderNumber
		} else {
			e.logMalformed(ctx, OrderUserKey(roomID, userID))
		}
	}

	if raw, ok := e.get(ctx, BlackKey(userID)); ok {
		if rec, ok := ParseBlackRecord(raw); ok {
			out.BlackLevel = strconv.Itoa(rec.BlackLevel)
			out.CreatedUsers = rec.CreatedUsers
		} else {
			e.logMalformed(ctx, BlackKey(userID))
		}
	}

	return out
}

func (e *Enricher) get(ctx context.Context, key string) (value string, found bool) {
	l := pkglog.Ctx(ctx)
	defer func() {
		if r := recover(); r != nil {
			l.Error().Str(pkglog.FieldKey, key).Interface("panic", r).Msg("enrichment lookup panicked")
			value, found = "", false
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	value, found, err := e.lookup.Get(ctx, key)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldKey, key).Msg("enrichment lookup failed")
		return "", false
	}
	return value, found
}

func (e *Enricher) logMalformed(ctx context.Context, key string) {
	l := pkglog.Ctx(ctx)
	l.Warn().Str(pkglog.FieldKey, key).Msg("malformed enrichment record")
}
