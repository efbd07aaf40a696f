package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-watch-server/internal/middleware"
)

func TestHealthAndRoot(t *testing.T) {
	e := newTestEnv(t)

	w, resp := e.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])

	w, resp = e.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", resp["status"])
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)

	w, resp := e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": "+1 555 123 4567"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	key := resp["session_key"].(string)
	require.NotEmpty(t, key)

	w, resp = e.do(t, http.MethodGet, "/api/v1/auth/status?session_key="+key, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["is_authorized"])
	assert.Equal(t, "created", resp["state"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": "00000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": testCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, resp["access_token"])
	assert.NotEmpty(t, resp["expires_at"])

	w, resp = e.do(t, http.MethodGet, "/api/v1/auth/status?session_key="+key, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["is_authorized"])
	assert.Equal(t, "authorized", resp["state"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": testCode})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{"session_key": key})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{"session_key": key})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendCode_Errors(t *testing.T) {
	e := newTestEnv(t)

	w, _ := e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": "+1234567890"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.net.Throttle(testPhone, 42*time.Second)
	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": testPhone})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))

	assert.Empty(t, e.sessions.Keys())
}

func TestSendCode_LocalRateLimit(t *testing.T) {
	e := newTestEnv(t)
	e.router = NewRouter(Deps{
		Config:          e.cfg,
		Sessions:        e.sessions,
		Monitors:        e.monitors,
		Hub:             e.hub,
		SendCodeLimiter: middleware.NewRateLimiter(1, time.Minute),
	})

	w, _ := e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": testPhone})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": testPhone})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestSignIn_SecondFactor(t *testing.T) {
	e := newTestEnv(t)

	w, resp := e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": twoFAPhone})
	require.Equal(t, http.StatusOK, w.Code)
	key := resp["session_key"].(string)

	w, resp = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": testCode})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, true, resp["password_required"])

	w, resp = e.do(t, http.MethodGet, "/api/v1/auth/status?session_key="+key, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "awaiting_2fa", resp["state"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": testCode, "password": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": testCode, "password": twoFAPasswd})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, resp["access_token"])
}

func TestSignIn_UnknownSession(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": "missing", "code": testCode})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProtectedRoutes(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.login(t)

	w, _ := e.do(t, http.MethodGet, "/api/v1/user/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := e.do(t, http.MethodGet, "/api/v1/user/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", resp["username"])

	w, resp = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "News", resp["title"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/channels/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.net.Publish(testChannel, "one")
	e.net.Publish(testChannel, "two")
	w, resp = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := resp["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].(map[string]any)["text"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages?limit=500", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageAndCommentRoutes(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.login(t)

	msg := e.net.Publish(testChannel, "post")
	_, ok := e.net.AddComment(testChannel, msg.ID, "u7", "nice")
	require.True(t, ok)

	w, resp := e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages/"+msg.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "post", resp["text"])
	assert.EqualValues(t, 1, resp["comments_count"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages/m999", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages/"+msg.ID+"/comments", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	comments := resp["comments"].([]any)
	require.Len(t, comments, 1)
	assert.Equal(t, "nice", comments[0].(map[string]any)["text"])
	assert.Equal(t, "u7", comments[0].(map[string]any)["user_id"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages/"+msg.ID+"/comments?limit=501", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodGet, "/api/v1/channels/"+testChannel+"/messages/"+msg.ID+"/comments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChannelSearchRoute(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.login(t)

	w, resp := e.do(t, http.MethodGet, "/api/v1/channels?q=spo", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	found := resp["channels"].([]any)
	require.Len(t, found, 1)
	assert.Equal(t, otherChannel, found[0].(map[string]any)["channel_id"])

	w, resp = e.do(t, http.MethodGet, "/api/v1/channels?q=weather", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp["channels"])

	w, _ = e.do(t, http.MethodGet, "/api/v1/channels", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMonitoringRoutes(t *testing.T) {
	e := newTestEnv(t)
	key, token := e.login(t)
	e.net.FailResolve(otherChannel, assert.AnError)

	w, resp := e.do(t, http.MethodPost, "/api/v1/monitoring/start", token, map[string]any{"channels": []string{testChannel, otherChannel}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{testChannel: true, otherChannel: false}, resp["results"])
	assert.Equal(t, 1, e.monitors.Count(key))

	w, resp = e.do(t, http.MethodGet, "/api/v1/monitoring", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["watches"], 1)

	w, resp = e.do(t, http.MethodPost, "/api/v1/monitoring/stop", token, map[string]any{"channels": []string{testChannel, otherChannel}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{testChannel: true, otherChannel: false}, resp["results"])
	assert.Zero(t, e.monitors.Count(key))

	w, _ = e.do(t, http.MethodPost, "/api/v1/monitoring/start", token, map[string]any{"channels": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_RevokesToken(t *testing.T) {
	e := newTestEnv(t)
	key, token := e.login(t)

	w, _ := e.do(t, http.MethodPost, "/api/v1/monitoring/start", token, map[string]any{"channels": []string{testChannel}})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{"session_key": key})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, e.monitors.Count(key))
	assert.Zero(t, e.net.Subscriptions(testChannel))

	w, _ = e.do(t, http.MethodGet, "/api/v1/user/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
