package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pravoai/pravo-api/internal/auth"
	"github.com/pravoai/pravo-api/internal/chat"
	"github.com/pravoai/pravo-api/internal/config"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.FromEnv()
	cfg.StorageDriver = config.StorageDriverMemory
	cfg.ValidatorType = config.ValidatorTypeLocal
	cfg.JWTSecret = "test-secret"
	cfg.NatsURL = ""
	cfg.BcryptCost = 4
	cfg.CORSAllowedOrigins = "https://app.pravo.test"
	cfg.Assistant.ReplyDelay = 10 * time.Millisecond
	cfg.Assistant.Responses = []string{"canned answer"}
	return cfg
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, err := newApp(context.Background(), testConfig(), logger.Discard())
	require.NoError(t, err)

	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		srv.Close()
		a.shutdown()
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, _ = call(t, srv, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, http.MethodPost, "/register", "", auth.RegisterRequest{Email: "anna@example.com", Password: "secret1", Name: "Анна"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var registered auth.AuthResponse
	require.NoError(t, json.Unmarshal(body, &registered))
	require.NotEmpty(t, registered.Token)
	assert.NotEmpty(t, resp.Header.Get(logger.RequestIDHeader))

	resp, body = call(t, srv, http.MethodPost, "/login", "", auth.LoginRequest{Email: "anna@example.com", Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Неверный email или пароль"}`, string(body))

	resp, body = call(t, srv, http.MethodPost, "/login", "", auth.LoginRequest{Email: "anna@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session auth.AuthResponse
	require.NoError(t, json.Unmarshal(body, &session))
	token := session.Token

	resp, body = call(t, srv, http.MethodPost, "/api/v1/chats/messages", token, chat.SendMessageRequest{Content: "Как оформить наследство?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var sent chat.SendMessageResponse
	require.NoError(t, json.Unmarshal(body, &sent))
	chatID := sent.Chat.ID

	var replied chat.Chat
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := call(t, srv, http.MethodGet, "/api/v1/chats/"+chatID, token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &replied))
		if len(replied.Messages) == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Len(t, replied.Messages, 3, "assistant reply arrives after the delay")
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: "canned answer"}, replied.Messages[2])

	resp, _ = call(t, srv, http.MethodPost, "/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/api/v1/workspace", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "logged out tokens are rejected")

	resp, body = call(t, srv, http.MethodPost, "/login", "", auth.LoginRequest{Email: "anna@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &session))

	resp, body = call(t, srv, http.MethodGet, "/api/v1/workspace", session.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"chats":[],"activeChatId":null}`, string(body), "logout clears chat sessions")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/me", "/api/v1/chats", "/api/v1/workspace"} {
		resp, _ := call(t, srv, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.pravo.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://app.pravo.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}
