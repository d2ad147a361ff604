package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/config"
	"github.com/dreamware/shardsync/internal/replication"
	"github.com/dreamware/shardsync/internal/search"
	"github.com/dreamware/shardsync/internal/search/searchtest"
	"github.com/dreamware/shardsync/internal/storage"
)

type testEnv struct {
	srv     *server
	handler http.Handler
	stores  *storage.MemoryConnector
	engine  *searchtest.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = storage.DriverMemory
	cfg.Search.Attempts = 2
	cfg.Search.Delay = time.Millisecond

	stores := storage.NewMemoryConnector("shard1", "shard2", "replica1", "replica2")
	engine := searchtest.NewEngine()
	t.Cleanup(engine.Close)

	srv, err := newServer(cfg, stores, search.NewClient(engine.URL, "", time.Second), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.propagator.Close(context.Background()) })

	return &testEnv{srv: srv, handler: srv.routes(), stores: stores, engine: engine}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleWrite(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		down       []string
		wantStatus int
		want       cluster.WriteResult
		wantError  string
	}{
		{
			name:       "GET generates data",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			want:       cluster.WriteResult{WrittenTo: "shard1", ID: 1, Data: "data-1"},
		},
		{
			name:       "POST with data",
			method:     http.MethodPost,
			body:       `{"data":"hello"}`,
			wantStatus: http.StatusOK,
			want:       cluster.WriteResult{WrittenTo: "shard1", ID: 1, Data: "hello"},
		},
		{
			name:       "POST without body",
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
			want:       cluster.WriteResult{WrittenTo: "shard1", ID: 1, Data: "data-1"},
		},
		{
			name:       "POST bad json",
			method:     http.MethodPost,
			body:       `{"data":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "bad json",
		},
		{
			name:       "failover",
			method:     http.MethodGet,
			down:       []string{"shard1"},
			wantStatus: http.StatusOK,
			want:       cluster.WriteResult{WrittenTo: "shard2", ID: 1, Data: "data-1"},
		},
		{
			name:       "both shards down",
			method:     http.MethodGet,
			down:       []string{"shard1", "shard2"},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "Both shards unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			for _, name := range tt.down {
				env.stores.Store(name).SetAvailable(false)
			}

			rec := env.do(tt.method, "/write", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.wantError != "" {
				var resp cluster.ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.wantError, resp.Error)
				return
			}
			var got cluster.WriteResult
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleWriteMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodDelete, "/write", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReplicateThenRead(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 6; i++ {
		require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/write", "").Code)
	}

	// Nothing is readable before replication runs.
	rec := env.do(http.MethodGet, "/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(http.MethodPost, "/replicate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report replication.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 6, report.Copied())

	rec = env.do(http.MethodGet, "/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []cluster.RecordView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 6)
	assert.Equal(t, cluster.RecordView{ID: 1, Data: "data-1", Source: "shard1", Replica: "replica1"}, views[0])
	assert.Equal(t, cluster.RecordView{ID: 1, Data: "data-6", Source: "shard2", Replica: "replica2"}, views[1])
	assert.Equal(t, int64(5), views[5].ID)

	env.stores.Store("replica2").SetAvailable(false)
	rec = env.do(http.MethodGet, "/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	assert.Len(t, views, 5)
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/write", `{"data":"hello world"}`).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/write", `{"data":"goodbye"}`).Code)
	require.NoError(t, env.srv.propagator.Close(context.Background()))

	rec := env.do(http.MethodGet, "/search?q=hello", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []cluster.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&docs))
	assert.Equal(t, []cluster.Document{{ID: 1, Data: "hello world", Source: "shard1"}}, docs)

	rec = env.do(http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.engine.SetDown(true)
	rec = env.do(http.MethodGet, "/search?q=hello", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp cluster.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Error)
}

func TestHandleTopology(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/topology", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp topologyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "networked", string(resp.Mode))
	require.Len(t, resp.Targets, 4)
	assert.Equal(t, "replica1", resp.Targets[0].Name)
	assert.Equal(t, "replica1-db", resp.Targets[0].Host)
	assert.Len(t, resp.Pairs, 2)
	assert.Equal(t, []string{"shard1", "shard2"}, resp.Shards)
	assert.Equal(t, []string{"replica1", "replica2"}, resp.Replicas)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/write", "").Code)
	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shardsync_router_writes_total{shard="shard1"} 1`)
}
