package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, 2*time.Second, zap.NewNop())
}

func TestFetchJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assets/meta", r.URL.Path)
		assert.Equal(t, "oak_tree", r.URL.Query().Get("name"))
		_ = json.NewEncoder(w).Encode(map[string]string{"uri": "assets/meshes/oak.glb"})
	})

	var out struct {
		URI string `json:"uri"`
	}
	err := c.FetchJSON(context.Background(), "assets/meta", url.Values{"name": {"oak_tree"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "assets/meshes/oak.glb", out.URI)
}

func TestFetchJSONStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	err := c.FetchJSON(context.Background(), "assets/meta", nil, &struct{}{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestPostJSONSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "e1", in["id"])
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.PostJSON(context.Background(), "entities", map[string]string{"id": "e1"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestDeleteResource(t *testing.T) {
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteResource(context.Background(), "entities/e1"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/entities/e1", path)
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.FetchJSON(ctx, "slow", nil, &struct{}{})
	assert.Error(t, err)
}

func TestStatusOfNonTransportError(t *testing.T) {
	assert.Zero(t, StatusOf(context.Canceled))
	assert.Zero(t, StatusOf(nil))
}
