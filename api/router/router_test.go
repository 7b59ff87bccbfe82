package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netcomm/internal/config"
	"github.com/sshcollectorpro/netcomm/internal/service"
)

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newEngine(t *testing.T) (*gin.Engine, *service.JobService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Session: config.SessionConfig{Protocol: "mock"},
		Pool:    config.PoolConfig{Size: 4, MaxBatch: 3},
		Jobs:    config.JobsConfig{Retention: time.Minute, CleanupInterval: time.Hour},
	}
	svc := service.NewJobService(cfg, nil, nil)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return SetupRouter(svc), svc
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHealthAndRequestID(t *testing.T) {
	r, _ := newEngine(t)
	w, env := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCESS", env.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"), "透传调用方的请求ID")
}

func TestHealthStoppedService(t *testing.T) {
	r, svc := newEngine(t)
	require.NoError(t, svc.Stop())
	w, env := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Code)
}

func TestExecute(t *testing.T) {
	r, _ := newEngine(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/execute", gin.H{
		"endpoint": "sw1",
		"commands": []string{"show version", "! skipped"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc struct {
		Host     string `json:"host"`
		Status   string `json:"status"`
		Commands []struct {
			Command string `json:"command"`
			Status  string `json:"status"`
		} `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, "sw1", doc.Host)
	assert.Equal(t, "ok", doc.Status)
	require.Len(t, doc.Commands, 1)
	assert.Equal(t, "show version", doc.Commands[0].Command)
}

func TestExecuteErrors(t *testing.T) {
	r, _ := newEngine(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/execute", gin.H{"endpoint": "sw1.invalid", "commands": []string{"show version"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "ConnectFailed", env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/execute", gin.H{"endpoint": "sw1", "password": "bad", "commands": []string{"show version"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "AuthenticationFailed", env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/execute", gin.H{"endpoints": []string{"a", "b"}, "commands": []string{"show version"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/execute", gin.H{"endpoint": "sw1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", env.Code, "没有命令")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_PARAMS")
}

func TestConfigure(t *testing.T) {
	r, _ := newEngine(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/configure", gin.H{
		"endpoint": "sw1",
		"commands": []string{"hostname sw1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var doc struct {
		Commands []struct {
			Command string `json:"command"`
		} `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	require.Len(t, doc.Commands, 3)
	assert.Equal(t, "configure", doc.Commands[0].Command)
	assert.Equal(t, "end", doc.Commands[2].Command)
}

func TestBatch(t *testing.T) {
	r, _ := newEngine(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/batch", gin.H{
		"endpoints": []string{"h1", "h2.invalid"},
		"commands":  []string{"show version"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var docs []struct {
		Host   string `json:"host"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	require.Len(t, docs, 2)
	statuses := map[string]string{}
	for _, d := range docs {
		statuses[d.Host] = d.Status
	}
	assert.Equal(t, "ok", statuses["h1"])
	assert.Equal(t, "failed", statuses["h2.invalid"])

	w, env = do(t, r, http.MethodPost, "/api/v1/batch", gin.H{
		"endpoints": []string{"a", "b", "c", "d"},
		"commands":  []string{"show version"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", env.Code)
}

func TestJobLifecycle(t *testing.T) {
	r, svc := newEngine(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/jobs", gin.H{
		"endpoints": []string{"h1", "h2"},
		"commands":  []string{"show clock"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var view struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.NotEmpty(t, view.ID)

	job, err := svc.Get(view.ID)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("任务未结束")
	}

	w, env = do(t, r, http.MethodGet, "/api/v1/jobs/"+view.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"status":"success"`)

	w, env = do(t, r, http.MethodGet, "/api/v1/jobs/"+view.ID+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var results struct {
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.Len(t, results.Results, 2)

	w, env = do(t, r, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), view.ID)

	w, env = do(t, r, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"max_batch":3`)
}

func TestKillJob(t *testing.T) {
	r, svc := newEngine(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/jobs", gin.H{
		"endpoints": []string{"h1"},
		"commands":  []string{"sleep 10s"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var view struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))

	w, _ = do(t, r, http.MethodPost, "/api/v1/jobs/"+view.ID+"/kill", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	job, err := svc.Get(view.ID)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("终止后任务未结束")
	}

	w, env = do(t, r, http.MethodPost, "/api/v1/jobs/missing/kill", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", env.Code)
}

func TestNoRouteAndCORS(t *testing.T) {
	r, _ := newEngine(t)
	w, env := do(t, r, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/execute", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
