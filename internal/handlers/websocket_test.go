package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/models"
)

func newHub(t *testing.T) (*WebSocketHandler, string) {
	t.Helper()
	handler := NewWebSocketHandler(common.NotifyConfig{Throttle: "1ms", Burst: 10}, arbor.NewLogger())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	return handler, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, handler *WebSocketHandler, url string, owner int64) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?owner_id="+strconv.FormatInt(owner, 10), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// registration happens after the upgrade returns
	deadline := time.Now().Add(2 * time.Second)
	for handler.Subscribers(owner) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, handler.Subscribers(owner))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_NotifyReachesOnlyOwner(t *testing.T) {
	handler, url := newHub(t)
	mine := dial(t, handler, url, 1001)
	other := dial(t, handler, url, 2002)

	err := handler.Notify(context.Background(), models.Notification{
		Kind:    models.NotifyQueued,
		OwnerID: 1001,
		ItemID:  "item-1",
		Text:    "Document queued: essay.pdf",
	})
	require.NoError(t, err)

	msg := readMessage(t, mine)
	assert.Equal(t, "queued", msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "item-1", payload["item_id"])

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "other owners receive nothing")
}

func TestWebSocket_NotifyWithoutSubscriberIsSilent(t *testing.T) {
	handler, _ := newHub(t)
	assert.NoError(t, handler.Notify(context.Background(), models.Notification{Kind: models.NotifyProcessing, OwnerID: 7}))
}

func TestWebSocket_SendFile(t *testing.T) {
	handler, url := newHub(t)
	conn := dial(t, handler, url, 1001)

	path := filepath.Join(t.TempDir(), "1001_20250307_140900_similarity.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF similarity"), 0644))

	require.NoError(t, handler.SendFile(context.Background(), 1001, path, "Similarity Report"))

	msg := readMessage(t, conn)
	assert.Equal(t, "file", msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "Similarity Report", payload["caption"])
	data, err := base64.StdEncoding.DecodeString(payload["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, "%PDF similarity", string(data))

	assert.ErrorIs(t, handler.SendFile(context.Background(), 9999, path, "Similarity Report"), ErrNoSubscriber)
}

func TestWebSocket_RequiresOwner(t *testing.T) {
	handler := NewWebSocketHandler(common.NotifyConfig{}, arbor.NewLogger())
	rec := httptest.NewRecorder()
	handler.HandleWebSocket(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
