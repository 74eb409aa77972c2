package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaia-relay/backend/internal/auth"
	"github.com/gaia-relay/backend/internal/db"
	"github.com/gaia-relay/backend/internal/model"
	"github.com/gaia-relay/backend/internal/repository"
	"github.com/gaia-relay/backend/internal/session"
	"github.com/gaia-relay/backend/internal/ws"
)

type testAPI struct {
	server      *httptest.Server
	registry    *ws.Registry
	resolver    *auth.Resolver
	connections *repository.ConnectionRepository
	devices     *repository.DeviceRepository
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	users := repository.NewUserRepository(database)
	devices := repository.NewDeviceRepository(database)
	connections := repository.NewConnectionRepository(database)

	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1", Email: "u1@example.com", AccessToken: "U1"}))
	require.NoError(t, devices.Create(ctx, &model.Device{ID: "d1", Name: "thermometer", AccessToken: "D1", CreatedAt: created}))
	require.NoError(t, devices.Create(ctx, &model.Device{ID: "d2", Name: "barometer", AccessToken: "D2", CreatedAt: created}))
	require.NoError(t, devices.Create(ctx, &model.Device{ID: "d3", Name: "unpaired", AccessToken: "D3", CreatedAt: created}))
	require.NoError(t, connections.Create(ctx, &model.Connection{ID: "c1", Topic: "R1", UserID: "u1", DeviceID: "d1"}))
	require.NoError(t, connections.Create(ctx, &model.Connection{ID: "c2", Topic: "R2", UserID: "u1", DeviceID: "d2"}))

	reg := prometheus.NewRegistry()
	metrics := ws.NewMetrics(reg)
	registry := ws.NewRegistry(zerolog.Nop(), metrics)
	resolver := auth.NewResolver(users, devices, connections)
	supervisor := session.NewSupervisor(registry, resolver, resolver, metrics, zerolog.Nop(), session.Config{})

	engine := NewEngine(RouterConfig{Mode: "test", RelayPath: "/ws"}, Router{
		Relay:    NewRelayHandler(supervisor),
		Devices:  NewDeviceHandler(resolver, connections, devices, zerolog.Nop()),
		Stats:    registry,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})

	server := httptest.NewServer(engine)
	t.Cleanup(func() {
		_ = registry.Shutdown()
		server.Close()
	})

	return &testAPI{
		server:      server,
		registry:    registry,
		resolver:    resolver,
		connections: connections,
		devices:     devices,
	}
}

func get(t *testing.T, url, token string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Cookie", "access_token="+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestDeviceHandler_List(t *testing.T) {
	api := setupTestAPI(t)

	t.Run("user sees paired devices", func(t *testing.T) {
		resp, body := get(t, api.server.URL+"/api/devices", "U1")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out ListDevicesResponse
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out.Devices, 2)
		assert.Equal(t, "d1", out.Devices[0].ID)
		assert.Equal(t, "thermometer", out.Devices[0].Name)
		assert.Equal(t, "2024-03-01T12:00:00Z", out.Devices[0].CreatedAt)
		assert.Equal(t, "d2", out.Devices[1].ID)
	})

	tests := []struct {
		name  string
		token string
	}{
		{"no cookie", ""},
		{"unknown token", "nobody"},
		{"device token", "D1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, api.server.URL+"/api/devices", tt.token)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var out ErrorResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, "UNAUTHORIZED", out.Error.Code)
		})
	}
}

type failingLister struct{}

func (failingLister) ListByIDs(context.Context, []string) ([]*model.Device, error) {
	return nil, errors.New("connection refused")
}

func TestDeviceHandler_StoreFailure(t *testing.T) {
	api := setupTestAPI(t)

	engine := gin.New()
	NewDeviceHandler(api.resolver, api.connections, failingLister{}, zerolog.Nop()).RegisterRoutes(engine.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("Cookie", "access_token=U1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestRelayRoute(t *testing.T) {
	api := setupTestAPI(t)
	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/ws"

	t.Run("rejects without token", func(t *testing.T) {
		resp, body := get(t, api.server.URL+"/ws", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "No Token Provided!", string(body))
	})

	header := http.Header{}
	header.Set("Cookie", "access_token=U1")
	user, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer user.Close()

	header.Set("Cookie", "access_token=D1")
	device, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer device.Close()

	require.Eventually(t, func() bool {
		return api.registry.HasDevice("R1") && api.registry.UserCount("R1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, device.WriteMessage(websocket.TextMessage, []byte("data:21.0")))
	require.NoError(t, user.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := user.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "21.0", string(data))

	t.Run("health reports registry size", func(t *testing.T) {
		resp, body := get(t, api.server.URL+"/health", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out map[string]any
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, "ok", out["status"])
		assert.EqualValues(t, 2, out["rooms"])
		assert.EqualValues(t, 1, out["devices"])
		assert.EqualValues(t, 2, out["users"])
	})

	t.Run("metrics are exposed", func(t *testing.T) {
		resp, body := get(t, api.server.URL+"/metrics", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "relay_device_connections 1")
		assert.Contains(t, string(body), "relay_frames_relayed_total 1")
		assert.Contains(t, string(body), `relay_rejected_connections_total{reason="no_token"} 1`)
	})
}

func TestCORS(t *testing.T) {
	api := setupTestAPI(t)

	t.Run("echoes origin for credentialed requests", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, api.server.URL+"/api/devices", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Cookie", "access_token=U1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, resp.Header.Values("Vary"), "Origin")
	})

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, api.server.URL+"/api/devices", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origin, no cors headers", func(t *testing.T) {
		resp, _ := get(t, api.server.URL+"/health", "")
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
