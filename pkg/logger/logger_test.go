package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillAdapter(zerolog.New(&buf))

	adapter.With(watermill.LogFields{"topic": "workflow.events"}).
		Error("publish failed", errors.New("closed"), watermill.LogFields{"uuid": "1"})

	out := buf.String()
	assert.Contains(t, out, `"topic":"workflow.events"`)
	assert.Contains(t, out, `"uuid":"1"`)
	assert.Contains(t, out, `"error":"closed"`)
	assert.Contains(t, out, `"component":"watermill"`)
}
