package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		Token:         "TOKEN",
		BaseURL:       srv.URL,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Send(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"message_id": 1, "chat": map[string]any{"id": 42}}})
	})

	require.NoError(t, c.Send(context.Background(), 42, "привет"))
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "привет", got["text"])
}

func TestClient_Send_Blocked(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user"})
	})

	err := c.Send(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrDeliveryFailed)
	assert.ErrorIs(t, err, ErrRecipientBlocked)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, map[string]any{"ok": false, "error_code": 502, "description": "Bad Gateway"})
			return
		}
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"id": 7, "is_bot": true, "first_name": "bot"}})
	})

	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), me.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_StartPolling(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if polls.Add(1) == 1 {
			assert.Nil(t, body["offset"])
			writeJSON(w, map[string]any{"ok": true, "result": []map[string]any{
				{"update_id": 10, "message": map[string]any{"message_id": 1, "text": "a", "chat": map[string]any{"id": 1, "type": "private"}}},
				{"update_id": 11, "message": map[string]any{"message_id": 2, "text": "b", "chat": map[string]any{"id": 1, "type": "private"}}},
			}})
			return
		}
		assert.Equal(t, float64(12), body["offset"])
		writeJSON(w, map[string]any{"ok": true, "result": []any{}})
	})

	ctx, cancel := context.WithCancel(context.Background())
	var texts []string
	err := c.StartPolling(ctx, func(_ context.Context, u *Update) error {
		texts = append(texts, u.Message.Text)
		if len(texts) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts)
}

func TestExtractCommand(t *testing.T) {
	msg := &Message{
		Text:     "/Report@engagement_bot 2024_P3",
		Entities: []MessageEntity{{Type: "bot_command", Offset: 0, Length: 22}},
	}
	assert.Equal(t, "report", ExtractCommand(msg))
	assert.Equal(t, "2024_P3", ExtractCommandArgs(msg))

	assert.Empty(t, ExtractCommand(&Message{Text: "hello"}))
	assert.Empty(t, ExtractCommand(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&APIError{Code: 429}))
	assert.True(t, isRetryableError(&APIError{Code: 500}))
	assert.False(t, isRetryableError(&APIError{Code: 400}))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(nil))
}
