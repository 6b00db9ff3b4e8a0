package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/fg-server/internal/auth"
	"github.com/annel0/fg-server/internal/protocol"
	"github.com/annel0/fg-server/internal/session"
)

type fixedStatus Status

func (f fixedStatus) Status() Status { return Status(f) }

type fakeKicker struct {
	online map[protocol.PID]bool
	kicked []protocol.PID
}

func (k *fakeKicker) Kick(_ context.Context, pid protocol.PID) error {
	if !k.online[pid] {
		return session.ErrNotActive
	}
	k.kicked = append(k.kicked, pid)
	return nil
}

func newTestServer(t *testing.T, adminKey string) (*Server, *auth.TokenIssuer, *fakeKicker) {
	t.Helper()
	tokens, err := auth.NewTokenIssuer("", time.Minute)
	require.NoError(t, err)

	var hash string
	if adminKey != "" {
		hash, err = auth.HashAdminKey(adminKey)
		require.NoError(t, err)
	}
	kicker := &fakeKicker{online: map[protocol.PID]bool{5: true}}
	s := NewServer(Config{
		AdminKeyHash: hash,
		Status:       fixedStatus{Tick: 12, TickRate: 20, Session: session.Stats{Players: 3}},
		Tokens:       tokens,
		Kicker:       kicker,
		Registry:     prometheus.NewRegistry(),
	})
	return s, tokens, kicker
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndStatus(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))

	w = do(s, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool   `json:"success"`
		Data    Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(12), resp.Data.Tick)
	assert.Equal(t, 3, resp.Data.Session.Players)

	w = do(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fg_api_http_request_duration_seconds")
}

func TestIssueToken(t *testing.T) {
	s, tokens, _ := newTestServer(t, "")

	w := do(s, http.MethodPost, "/api/tokens", `{"pid": 42}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	pid, err := tokens.Verify(resp.Data.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, pid)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/tokens", `{"pid": 0}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/tokens", `not json`, nil).Code)
}

func TestAdminKey(t *testing.T) {
	s, _, _ := newTestServer(t, "s3cret-admin-key")

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/api/tokens", `{"pid": 1}`, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/api/tokens", `{"pid": 1}`,
		map[string]string{AdminKeyHeader: "wrong"}).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/tokens", `{"pid": 1}`,
		map[string]string{AdminKeyHeader: "s3cret-admin-key"}).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/status", "", nil).Code, "статус открыт без ключа")

	w := do(s, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, w.Body.String(), `fg_api_http_requests_denied_total{route="/api/tokens"} 2`)
}

func TestKick(t *testing.T) {
	s, _, kicker := newTestServer(t, "")

	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/players/5/kick", "", nil).Code)
	assert.Equal(t, []protocol.PID{5}, kicker.kicked)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/api/players/6/kick", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/players/abc/kick", "", nil).Code)
}
