package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"channel-watch-server/internal/auth"
	"channel-watch-server/internal/config"
	"channel-watch-server/internal/hub"
	"channel-watch-server/internal/lifecycle"
	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/monitor"
	"channel-watch-server/internal/remote/memory"
	"channel-watch-server/internal/session"
	"channel-watch-server/internal/store"
)

const (
	testPhone    = "+15551234567"
	testCode     = "12345"
	twoFAPhone   = "+15557654321"
	twoFAPasswd  = "hunter2"
	testChannel  = "100"
	otherChannel = "200"
)

type testEnv struct {
	net      *memory.Network
	sessions *session.Manager
	monitors *monitor.Registry
	hub      *hub.Hub
	router   *gin.Engine
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		APIPrefix:          "/api/v1",
		MasterSecret:       "secret",
		SendCodeRateLimit:  100,
		SendCodeRateWindow: time.Minute,
		WSPingInterval:     54 * time.Second,
		WSPongWait:         60 * time.Second,
		WSWriteTimeout:     time.Second,
		WSMaxMessageSize:   1 << 20,
		EventQueueSize:     16,
	}

	net := memory.NewNetwork(memory.Options{})
	net.AddAccount(memory.Account{Phone: testPhone, Code: testCode, User: model.User{Username: "alice"}})
	net.AddAccount(memory.Account{Phone: twoFAPhone, Code: testCode, Password: twoFAPasswd})
	net.AddChannel(model.Channel{ID: testChannel, Title: "News"})
	net.AddChannel(model.Channel{ID: otherChannel, Title: "Sports"})

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	// Handlers of hijacked connections can outlive the test, so no test logger.
	log := zap.NewNop()
	sessions := session.NewManager(net.Dialer(), st, log, session.Options{TTL: time.Hour, EnforceExpiry: true})
	h := hub.New(log, cfg.EventQueueSize)
	monitors := monitor.New(sessions, h, log, monitor.Options{})
	lc := lifecycle.New(sessions, monitors, h, log)

	router := NewRouter(Deps{
		Config:          cfg,
		TokenConfig:     auth.DefaultTokenConfig(cfg.MasterSecret),
		Sessions:        sessions,
		Monitors:        monitors,
		Hub:             h,
		Lifecycle:       lc,
		SendCodeLimiter: middleware.NewRateLimiter(cfg.SendCodeRateLimit, cfg.SendCodeRateWindow),
		Log:             log,
	})
	t.Cleanup(func() {
		_ = lc.Shutdown(context.Background())
	})
	return &testEnv{net: net, sessions: sessions, monitors: monitors, hub: h, router: router, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

// login runs send_code and sign_in and returns the session key and token.
func (e *testEnv) login(t *testing.T) (string, string) {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/v1/auth/send_code", "", map[string]any{"phone": testPhone})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	key := resp["session_key"].(string)

	w, resp = e.do(t, http.MethodPost, "/api/v1/auth/sign_in", "", map[string]any{"session_key": key, "code": testCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return key, resp["access_token"].(string)
}
