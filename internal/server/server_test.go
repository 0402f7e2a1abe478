package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngbi/ijbatch/internal/handler"
	"github.com/ngbi/ijbatch/internal/logging"
	"github.com/ngbi/ijbatch/internal/macros"
	"github.com/ngbi/ijbatch/internal/middleware"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/service"
	"github.com/ngbi/ijbatch/internal/store"
	"github.com/ngbi/ijbatch/internal/validation"
	ws "github.com/ngbi/ijbatch/internal/websocket"
)

const testJWTSecret = "test-secret"

type nopQueue struct{ n int }

func (q *nopQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.n++
	return &asynq.TaskInfo{}, nil
}

type testApp struct {
	t     *testing.T
	deps  Deps
	store store.Store
	queue *nopQueue
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weka.ijm"), nil, 0o644))

	s := store.NewMemoryStore()
	q := &nopQueue{}
	svc := service.NewBatchService(s, q, macros.NewCatalog(dir))
	return &testApp{
		t: t,
		deps: Deps{
			Batches: handler.NewBatchHandler(svc, validation.New()),
			Auth:    middleware.NewAuthMiddleware(testJWTSecret, time.Hour),
			Hub:     ws.NewHub(logging.Discard()),
		},
		store: s,
		queue: q,
	}
}

func (a *testApp) do(method, path, body, user string) (*http.Response, map[string]interface{}) {
	a.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(a.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		token, err := a.deps.Auth.GenerateToken(user, "")
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := NewApp(a.deps).Test(req, -1)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	var parsed map[string]interface{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &parsed)
	}
	return resp, parsed
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

const validBatch = `{"selection":{"dataType":"Dataset","ids":[51]},"macro":"weka.ijm","wallTime":"1:00:00","privateMemory":"8GB"}`

func TestHealth(t *testing.T) {
	a := setupApp(t)
	resp, body := a.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RequiresAuth(t *testing.T) {
	a := setupApp(t)
	resp, body := a.do(http.MethodPost, "/api/batches", validBatch, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
	assert.Equal(t, 0, a.queue.n)
}

func TestStartBatch(t *testing.T) {
	a := setupApp(t)

	resp, body := a.do(http.MethodPost, "/api/batches", validBatch, "jcorrea")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, 1, a.queue.n)

	batchID := body["batchId"].(string)
	batch, err := a.store.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, "jcorrea", batch.Owner)
	assert.Equal(t, "8GB", batch.Request.PrivateMemory)
}

func TestStartBatch_Validation(t *testing.T) {
	a := setupApp(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad data type", `{"selection":{"dataType":"Plate","ids":[1]},"macro":"weka"}`, "Selection.DataType"},
		{"no ids", `{"selection":{"dataType":"Image","ids":[]},"macro":"weka"}`, "Selection.IDs"},
		{"negative id", `{"selection":{"dataType":"Image","ids":[-4]},"macro":"weka"}`, "Selection.IDs[0]"},
		{"missing macro", `{"selection":{"dataType":"Image","ids":[1]}}`, "Macro"},
		{"bad wall time", `{"selection":{"dataType":"Image","ids":[1]},"macro":"weka","wallTime":"30 minutes"}`, "WallTime"},
		{"bad memory", `{"selection":{"dataType":"Image","ids":[1]},"macro":"weka","privateMemory":"lots"}`, "PrivateMemory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := a.do(http.MethodPost, "/api/batches", tt.body, "jcorrea")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
			details := body["error"].(map[string]interface{})["details"].(map[string]interface{})
			assert.Contains(t, details, tt.field)
		})
	}

	resp, body := a.do(http.MethodPost, "/api/batches", `not json`, "jcorrea")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
	assert.Equal(t, 0, a.queue.n)
}

func TestStartBatch_UnknownMacro(t *testing.T) {
	a := setupApp(t)
	resp, body := a.do(http.MethodPost, "/api/batches", `{"selection":{"dataType":"Image","ids":[1]},"macro":"rm -rf"}`, "jcorrea")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_MACRO", errorCode(body))
}

func TestBatchStatusAndRuns(t *testing.T) {
	a := setupApp(t)
	_, started := a.do(http.MethodPost, "/api/batches", validBatch, "jcorrea")
	batchID := started["batchId"].(string)

	run := &model.Run{ID: "run-1", BatchID: batchID, ImageID: 9, State: model.RunStateSubmitted, Nodes: 3}
	require.NoError(t, a.store.SaveRun(context.Background(), run))

	resp, body := a.do(http.MethodGet, "/api/batches/"+batchID, "", "jcorrea")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := body["runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, "SUBMITTED", runs[0].(map[string]interface{})["state"])

	resp, body = a.do(http.MethodGet, "/api/runs/run-1", "", "jcorrea")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["nodes"])

	resp, body = a.do(http.MethodGet, "/api/batches/"+batchID, "", "someone-else")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	resp, _ = a.do(http.MethodGet, "/api/runs/run-1", "", "someone-else")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = a.do(http.MethodGet, "/api/batches/unknown", "", "jcorrea")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestMacros(t *testing.T) {
	a := setupApp(t)
	resp, body := a.do(http.MethodGet, "/api/macros", "", "jcorrea")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["macros"].([]interface{})
	require.Len(t, list, 1)
	assert.True(t, strings.HasSuffix(list[0].(string), "/weka.ijm"))
}

func TestWatch_RequiresUpgrade(t *testing.T) {
	a := setupApp(t)
	_, started := a.do(http.MethodPost, "/api/batches", validBatch, "jcorrea")

	resp, _ := a.do(http.MethodGet, "/ws/batches/"+started["batchId"].(string), "", "jcorrea")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
