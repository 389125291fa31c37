package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/app"
	"github.com/ternarybob/vetter/internal/common"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = ""
	cfg.Paths.Uploads = filepath.Join(dir, "uploads")
	cfg.Paths.Downloads = filepath.Join(dir, "downloads")
	cfg.Admin.Token = "s3cret"

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	return New(application)
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/api/version", http.StatusOK},
		{"GET", "/api/queue", http.StatusOK},
		{"GET", "/api/items/unknown", http.StatusNotFound},
		{"GET", "/api/owners/1001/items", http.StatusOK},
		{"GET", "/api/owners/1001/other", http.StatusNotFound},
		{"GET", "/api/cooldowns/1001", http.StatusOK},
		{"PUT", "/api/cooldowns/1001", http.StatusMethodNotAllowed},
		{"DELETE", "/api/cooldowns/1001", http.StatusUnauthorized},
		{"GET", "/api/submissions", http.StatusMethodNotAllowed},
		{"GET", "/ws", http.StatusBadRequest},
		{"GET", "/nowhere", http.StatusNotFound},
		{"OPTIONS", "/api/submissions", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := serve(s, tc.method, tc.path)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRoutes_QueueReportsIdlePool(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, "GET", "/api/queue")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["depth"])
	assert.Equal(t, false, body["running"])
	assert.Equal(t, false, body["login_in_progress"])
}
