// livectl publishes live feed events onto the event bus, for driving a relay
// that runs with the pubsub feed driver.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/weiawesome/wes-io-live/danmu-relay/internal/config"
	pkglog "github.com/weiawesome/wes-io-live/danmu-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/danmu-relay/pkg/pubsub"
)

func main() {
	var (
		roomID   = pflag.StringP("room", "r", "", "room id (required)")
		kind     = pflag.StringP("type", "t", pubsub.EventLiveChat, "event type: connect, control or chat")
		status   = pflag.String("status", "", "control status: paused, resumed or ended")
		userID   = pflag.String("user", "", "chat user id")
		userName = pflag.String("name", "", "chat user name")
		content  = pflag.String("content", "", "chat content")
		upstream = pflag.String("upstream-room", "", "upstream room id carried by chat events (defaults to --room)")
	)
	pflag.Parse()

	pkglog.Init(pkglog.Config{Level: "info", Pretty: true, ServiceName: "livectl"})
	l := pkglog.L()

	if *roomID == "" {
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		l.Fatal().Err(err).Msg("failed to load config")
	}

	var payload any
	switch *kind {
	case pubsub.EventLiveConnect:
		payload = struct{}{}
	case pubsub.EventLiveControl:
		payload = pubsub.LiveControlPayload{Status: *status}
	case pubsub.EventLiveChat:
		dyRoom := *upstream
		if dyRoom == "" {
			dyRoom = *roomID
		}
		payload = pubsub.LiveChatPayload{
			MsgID:    uuid.New().String(),
			RoomID:   dyRoom,
			UserID:   *userID,
			UserName: *userName,
			Content:  *content,
		}
	default:
		l.Fatal().Str("type", *kind).Msg("unknown event type")
	}

	evt, err := pubsub.NewEvent(*kind, *roomID, payload)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to build event")
	}

	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		l.Fatal().Err(err).Str(pkglog.FieldDriver, cfg.PubSub.Driver).Msg("failed to connect event bus")
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := pubsub.LiveToRelayChannel(*roomID)
	if err := bus.Publish(ctx, channel, evt); err != nil {
		l.Fatal().Err(err).Str("channel", channel).Msg("failed to publish event")
	}
	fmt.Printf("published %s event to %s\n", *kind, channel)
}
