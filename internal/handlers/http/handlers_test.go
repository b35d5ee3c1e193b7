package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"koma/internal/core/domain"
	"koma/internal/core/services"
	"koma/internal/infrastructure/middleware"
	"koma/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	return router
}

func do(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInviteHandler_CreateAndGet(t *testing.T) {
	router := newRouter()
	NewInviteHandler(services.NewInviteService("secret", time.Hour, "http://localhost/video.html")).SetupRoutes(router)

	w := do(router, http.MethodPost, "/api/v1/invites", CreateInviteRequest{Provider: "Dr Smith", Autostart: true})
	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.Invite
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, domain.RoomID("consult:dr-smith"), created.Room)
	assert.Equal(t, domain.RoleResponder, created.Role)
	assert.True(t, created.Autostart)

	w = do(router, http.MethodGet, "/api/v1/invites/"+created.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var decoded domain.Invite
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	assert.Equal(t, created.Room, decoded.Room)
	assert.Equal(t, created.Link, decoded.Link)
}

func TestInviteHandler_RoleAliases(t *testing.T) {
	router := newRouter()
	NewInviteHandler(services.NewInviteService("secret", time.Hour, "")).SetupRoutes(router)

	w := do(router, http.MethodPost, "/api/v1/invites", CreateInviteRequest{Provider: "Dr Smith", Role: "consultant"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"initiator"`)

	w = do(router, http.MethodPost, "/api/v1/invites", CreateInviteRequest{Provider: "Dr Smith", Role: "observer"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/invites", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
}

func TestInviteHandler_RejectsBadToken(t *testing.T) {
	router := newRouter()
	NewInviteHandler(services.NewInviteService("secret", time.Hour, "")).SetupRoutes(router)

	w := do(router, http.MethodGet, "/api/v1/invites/not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

type stubHub struct {
	err error
}

func (s stubHub) Stats(context.Context) (domain.HubStats, error) {
	if s.err != nil {
		return domain.HubStats{}, s.err
	}
	return domain.HubStats{
		Connections: 2,
		Rooms:       []domain.RoomStats{{Room: "consult:1", Class: domain.RoomClassCall, Members: 2}},
	}, nil
}

func TestSignalHandler_Routes(t *testing.T) {
	health := monitoring.NewHealthChecker(nil)
	health.AddHubCheck(stubHub{}, time.Second, time.Second)

	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	router := newRouter()
	NewSignalHandler(ws, stubHub{}, health).SetupRoutes(router)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusTeapot, do(router, http.MethodGet, "/ws", nil).Code)

	w := do(router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.HubStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Connections)
	require.Len(t, stats.Rooms, 1)
}

func TestSignalHandler_NotReady(t *testing.T) {
	broken := stubHub{err: errors.New("stopped")}
	health := monitoring.NewHealthChecker(nil)
	health.AddHubCheck(broken, time.Second, time.Second)

	router := newRouter()
	NewSignalHandler(http.NotFoundHandler(), broken, health).SetupRoutes(router)

	w := do(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")

	assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/api/v1/stats", nil).Code)
}
