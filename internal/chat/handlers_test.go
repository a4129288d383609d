package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pravoai/pravo-api/internal/auth"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, userID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _, _ := newTestService(t)
	h := NewHandler(svc, logger.Discard())

	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(string(auth.UserIDKey), userID)
		}
		c.Next()
	})
	api.GET("/chats", h.ListChats)
	api.POST("/chats/messages", h.SendMessage)
	api.GET("/chats/:chatId", h.GetChat)
	api.DELETE("/chats/:chatId", h.DeleteChat)
	api.GET("/workspace", h.Workspace)
	api.PUT("/workspace/active", h.SelectChat)
	api.DELETE("/workspace/active", h.NewChat)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSendMessageHandlerLifecycle(t *testing.T) {
	router := newTestRouter(t, "u1")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chats/messages", SendMessageRequest{Content: "Нужна консультация"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[SendMessageResponse](t, rec)
	assert.True(t, first.Created)
	require.Len(t, first.Chat.Messages, 2)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/chats/messages", SendMessageRequest{ChatID: first.Chat.ID, Content: "Ещё вопрос"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[SendMessageResponse](t, rec)
	assert.False(t, second.Created)
	assert.Len(t, second.Chat.Messages, 3)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/chats/"+first.Chat.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.Chat.ID, decode[Chat](t, rec).ID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/workspace", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ws := decode[Workspace](t, rec)
	require.NotNil(t, ws.ActiveChatID)
	assert.Equal(t, first.Chat.ID, *ws.ActiveChatID)

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/chats/"+first.Chat.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[ActiveChatResponse](t, rec).ActiveChatID)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ChatsResponse](t, rec).Chats)
}

func TestSelectAndNewChatHandlers(t *testing.T) {
	router := newTestRouter(t, "u1")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/chats/messages", SendMessageRequest{Content: "first"})
	require.Equal(t, http.StatusCreated, rec.Code)
	chat := decode[SendMessageResponse](t, rec).Chat

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/workspace/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activeChatId":null}`, rec.Body.String())

	rec = doJSON(t, router, http.MethodPut, "/api/v1/workspace/active", SelectChatRequest{ChatID: chat.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[ActiveChatResponse](t, rec).ActiveChatID
	require.NotNil(t, active)
	assert.Equal(t, chat.ID, *active)

	rec = doJSON(t, router, http.MethodPut, "/api/v1/workspace/active", SelectChatRequest{ChatID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Чат не найден"}`, rec.Body.String())
}

func TestChatHandlerErrors(t *testing.T) {
	router := newTestRouter(t, "u1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing content", http.MethodPost, "/api/v1/chats/messages", map[string]string{}, http.StatusBadRequest},
		{"blank content", http.MethodPost, "/api/v1/chats/messages", SendMessageRequest{Content: "  "}, http.StatusBadRequest},
		{"unknown chat message", http.MethodPost, "/api/v1/chats/messages", SendMessageRequest{ChatID: "1", Content: "hi"}, http.StatusNotFound},
		{"unknown chat get", http.MethodGet, "/api/v1/chats/1", nil, http.StatusNotFound},
		{"unknown chat delete", http.MethodDelete, "/api/v1/chats/1", nil, http.StatusNotFound},
		{"select without id", http.MethodPut, "/api/v1/workspace/active", map[string]string{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestChatHandlersRequireUser(t *testing.T) {
	router := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/chats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
