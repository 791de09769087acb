package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", false)
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("transaction_id", "t1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "t1", entry["transaction_id"])

	_, err = New(&buf, "loud", false)
	assert.Error(t, err)
}

func TestWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", false)
	require.NoError(t, err)

	wl := NewWatermillLogger(log).With(watermill.LogFields{"topic": "pushauth.notification"})
	wl.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "publish failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "pushauth.notification", entry["topic"])
	assert.Equal(t, "watermill", entry["component"])
	assert.EqualValues(t, 2, entry["attempt"])

	buf.Reset()
	wl.Trace("below level", nil)
	assert.Empty(t, buf.String())
}
