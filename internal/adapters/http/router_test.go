package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpulse/internal/app"
	"chatpulse/internal/app/orch"
	"chatpulse/internal/config"
)

func testRouterConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Mode:          "release",
		Secret:        "test-secret",
		StaticPath:    t.TempDir(),
		STUNServers:   []string{"stun:stun.example.org:3478"},
		EventLimit:    10,
		EventInterval: time.Second,
	}
}

func TestICEEndpointServesConfiguredServers(t *testing.T) {
	cfg := testRouterConfig(t)
	reg := app.NewRegistry()
	o := orch.New(reg, app.NewRooms(), app.NewTypingTracker(time.Second), app.NewCoordinator(reg), app.SimplePolicy{}, nil)
	r := SetupRouter(context.Background(), cfg, o)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/ice", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var body struct {
		STUNServers []string `json:"stunServers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, cfg.STUNServers, body.STUNServers)
}
