package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)

	req.Equal(zerolog.DebugLevel, ParseLevel("DEBUG"))
	req.Equal(zerolog.WarnLevel, ParseLevel(" warning "))
	req.Equal(zerolog.InfoLevel, ParseLevel(""))
	req.Equal(zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestWithRoom_AddsRoomField(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", ServiceName: "danmu-relay", Output: &buf})

	ctx := WithRoom(WithLogger(context.Background(), logger), "room-A")
	l := Ctx(ctx)
	l.Info().Msg("hello")

	var entry map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &entry))
	req.Equal("room-A", entry[FieldRoomID])
	req.Equal("danmu-relay", entry[FieldService])
	req.Equal("hello", entry["message"])
}
