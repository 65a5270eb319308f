package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go-chat-relay/internal/model"
	"go-chat-relay/internal/repository"
	"go-chat-relay/internal/service"
	"go-chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopHub struct{}

func (noopHub) BroadcastEvent(*model.Event) error { return nil }

func setupRouter(t *testing.T) (*gin.Engine, *repository.MessageStore) {
	t.Helper()
	if logger.L == nil {
		require.NoError(t, logger.InitLogger("error", false))
	}
	gin.SetMode(gin.TestMode)

	store := repository.NewMessageStore(t.TempDir())
	require.NoError(t, store.EnsureDataDirectory())

	chatService := service.NewChatService(store, noopHub{})
	handler := NewMessageHandler(chatService)

	r := gin.New()
	r.GET("/api/messages", handler.GetMessages)
	r.POST("/api/messages", handler.SendMessage)
	r.DELETE("/api/messages/:id", handler.DeleteMessage)
	return r, store
}

func TestMessageHandler_SendAndGet(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/messages",
		strings.NewReader(`{"text":"hello","sender":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "hello", created.Text)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listed []model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
}

func TestMessageHandler_SendMessageValidation(t *testing.T) {
	r, store := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/messages",
		strings.NewReader(`{"text":"no sender"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	messages, err := store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMessageHandler_RejectsOversizedText(t *testing.T) {
	r, store := setupRouter(t)

	body, err := json.Marshal(gin.H{
		"text":   strings.Repeat("x", service.MaxTextBytes+1),
		"sender": "alice",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	messages, err := store.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMessageHandler_DeleteMessage(t *testing.T) {
	r, store := setupRouter(t)

	msg := &model.Message{
		ID: "id-1", Text: "bye", Timestamp: "2024-01-02T03:04:05Z",
		Type: model.MessageTypeText, Sender: "bob",
	}
	require.NoError(t, store.Append(msg))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/messages/id-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/messages/id-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
