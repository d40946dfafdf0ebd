package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "prod").Info("chat session opened", "session_id", "s1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "chat session opened", record["msg"])
	assert.Equal(t, "s1", record["session_id"])
}

func TestNewLogger_TintInDev(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "dev").Debug("realtime channel opened", "conversation_id", "c1")

	assert.Contains(t, buf.String(), "realtime channel opened")
	assert.Contains(t, buf.String(), "conversation_id")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("dropped") })
}
