package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goaccess/pkg/access"
)

func TestLogger_WritesFields(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output))

	logger.Info("subscription expired",
		access.Field{Key: "subscription_id", Value: "sub_1"},
		access.Field{Key: "claimed", Value: 2},
		access.Field{Key: "error", Value: errors.New("boom")},
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "subscription expired", entry["message"])
	assert.Equal(t, "sub_1", entry["subscription_id"])
	assert.Equal(t, float64(2), entry["claimed"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_Levels(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, output.Len())

	logger.Warn("shown")
	assert.Contains(t, output.String(), `"level":"warn"`)

	output.Reset()
	logger.Error("shown")
	assert.Contains(t, output.String(), `"level":"error"`)
}

func TestLogger_ImplementsInterface(t *testing.T) {
	var _ access.Logger = NewLogger(zerolog.Nop())
}
