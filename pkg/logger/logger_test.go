package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: slog.LevelInfo, Format: FormatJSON, Service: "bot", Version: "1.2"})

	l.Debug("hidden")
	l.Info("hello", Job("broadcast"), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "bot", rec["service"])
	assert.Equal(t, "1.2", rec["version"])
	assert.Equal(t, "broadcast", rec["job"])
	assert.Equal(t, "boom", rec["error"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: slog.LevelDebug, Format: FormatText})
	l.Debug("visible", UserID(42))
	assert.Contains(t, buf.String(), "user_id=42")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" TEXT ")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	l := New(DefaultOptions())
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
