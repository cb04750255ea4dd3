package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logging.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logging.Error(nil).Equal(slog.Attr{}))
}

func TestUserKey(t *testing.T) {
	attr := logging.UserKey("u1")
	require.Equal(t, "user_key", attr.Key)
	assert.Equal(t, "u1", attr.Value.String())

	assert.True(t, logging.UserKey("").Equal(slog.Attr{}))
}

func TestBatchID(t *testing.T) {
	assert.Equal(t, "batch_id", logging.BatchID("b1").Key)
	assert.True(t, logging.BatchID(nil).Equal(slog.Attr{}))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, logging.FormatJSON, slog.LevelInfo, logging.Component("test"))
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hello", logging.FlagKey("f"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"flag_key":"f"`)
	assert.Contains(t, out, `"component":"test"`)
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := logging.New(nil, logging.Format("xml"), slog.LevelInfo)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := logging.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}
